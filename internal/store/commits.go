// internal/store/commits.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
)

const commitColumns = `id, repository_id, external_id, sha, author_name, author_email,
	message, committed_at, additions, deletions, files_changed, synced_at, created_at`

// RecordCommitParams captures the metadata of a commit about to be synced.
type RecordCommitParams struct {
	RepositoryID int64
	ExternalID   string
	SHA          string
	AuthorName   string
	AuthorEmail  string
	Message      string
	CommittedAt  time.Time
	Additions    int
	Deletions    int
	FilesChanged int
}

func scanCommit(row pgx.Row) (model.Commit, error) {
	var c model.Commit
	err := row.Scan(&c.ID, &c.RepositoryID, &c.ExternalID, &c.SHA, &c.AuthorName, &c.AuthorEmail,
		&c.Message, &c.CommittedAt, &c.Additions, &c.Deletions, &c.FilesChanged, &c.SyncedAt, &c.CreatedAt)
	return c, err
}

// RecordCommit inserts a commit row. A second record of the same
// (repository, sha) returns DuplicateCommitError; this is the guard
// against re-diffing a commit that was already processed.
func (s *Store) RecordCommit(ctx context.Context, arg RecordCommitParams) (model.Commit, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO commits (repository_id, external_id, sha, author_name, author_email,
			message, committed_at, additions, deletions, files_changed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+commitColumns,
		arg.RepositoryID, arg.ExternalID, arg.SHA, arg.AuthorName, arg.AuthorEmail,
		arg.Message, arg.CommittedAt, arg.Additions, arg.Deletions, arg.FilesChanged)
	commit, err := scanCommit(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Commit{}, &custom_errors.DuplicateCommitError{
				RepositoryID: arg.RepositoryID,
				SHA:          arg.SHA,
			}
		}
		return model.Commit{}, err
	}
	return commit, nil
}

// GetCommit returns one commit by id.
func (s *Store) GetCommit(ctx context.Context, id int64) (model.Commit, error) {
	row := s.db.QueryRow(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = $1`, id)
	return scanCommit(row)
}

// GetCommitBySHA returns one commit by its (repository, sha) identity.
func (s *Store) GetCommitBySHA(ctx context.Context, repoID int64, sha string) (model.Commit, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+commitColumns+` FROM commits WHERE repository_id = $1 AND sha = $2`,
		repoID, sha)
	return scanCommit(row)
}

// LatestSyncedCommit returns the diff baseline for a repository, or nil
// when no commit has ever been synced (which forces a full sync).
func (s *Store) LatestSyncedCommit(ctx context.Context, repoID int64) (*model.Commit, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE repository_id = $1 AND synced_at IS NOT NULL
		ORDER BY synced_at DESC, id DESC
		LIMIT 1`,
		repoID)
	commit, err := scanCommit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// MarkCommitSynced stamps synced_at once the commit's files have drained.
func (s *Store) MarkCommitSynced(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE commits SET synced_at = now() WHERE id = $1`, id)
	return err
}
