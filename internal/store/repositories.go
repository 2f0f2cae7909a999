// internal/store/repositories.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kb-syncer/internal/model"
)

const repositoryColumns = `id, connection_id, external_id, name, default_branch,
	sync_status, last_synced_at, is_active, created_at, updated_at`

// CreateRepositoryParams identifies a repository once per
// (connection, external id) pair.
type CreateRepositoryParams struct {
	ConnectionID  int64
	ExternalID    string
	Name          string
	DefaultBranch string
}

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.ConnectionID, &r.ExternalID, &r.Name, &r.DefaultBranch,
		&r.SyncStatus, &r.LastSyncedAt, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateRepository registers a repository for tracking.
func (s *Store) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error) {
	branch := arg.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO repositories (connection_id, external_id, name, default_branch)
		VALUES ($1, $2, $3, $4)
		RETURNING `+repositoryColumns,
		arg.ConnectionID, arg.ExternalID, arg.Name, branch)
	repo, err := scanRepository(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Repository{}, fmt.Errorf("repository %s/%s already registered", arg.Name, arg.ExternalID)
		}
		return model.Repository{}, err
	}
	return repo, nil
}

// GetRepository returns one repository by id.
func (s *Store) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	row := s.db.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id)
	return scanRepository(row)
}

// ListActiveRepositories returns every repository eligible for scheduled sync.
func (s *Store) ListActiveRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+repositoryColumns+`
		FROM repositories
		WHERE is_active
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// BeginSync claims the syncing state for a repository. Exactly one
// caller wins; everyone else observes false until the claim is released.
func (s *Store) BeginSync(ctx context.Context, repoID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE repositories
		SET sync_status = 'syncing', updated_at = now()
		WHERE id = $1 AND is_active AND sync_status <> 'syncing'`,
		repoID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinishSync releases the syncing claim, mirroring the session outcome.
func (s *Store) FinishSync(ctx context.Context, repoID int64, status model.RepoSyncStatus, lastSyncedAt *time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE repositories
		SET sync_status = $2,
		    last_synced_at = COALESCE($3, last_synced_at),
		    updated_at = now()
		WHERE id = $1`,
		repoID, status, lastSyncedAt)
	return err
}

// DeactivateRepository soft-deletes a repository; its rows stay for audit.
func (s *Store) DeactivateRepository(ctx context.Context, repoID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE repositories SET is_active = FALSE, updated_at = now() WHERE id = $1`,
		repoID)
	return err
}

// StaleSyncingRepositories returns repositories whose syncing claim
// outlived the staleness threshold, meaning the claiming worker died
// between claim and close.
func (s *Store) StaleSyncingRepositories(ctx context.Context, staleAfter time.Duration) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+repositoryColumns+`
		FROM repositories
		WHERE sync_status = 'syncing' AND updated_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}
