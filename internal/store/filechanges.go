// internal/store/filechanges.go
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"kb-syncer/internal/backoff"
	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
)

const fileChangeColumns = `id, repository_id, commit_id, sync_session_id, file_path,
	change_type, old_path, additions, deletions, file_size, sync_status, retry_count,
	last_retry_at, next_retry_at, error_type, error_message, process_time_ms, synced_at, created_at`

// RecordFileChangeParams describes one file mutation observed in a diff.
type RecordFileChangeParams struct {
	RepositoryID  int64
	CommitID      int64
	SyncSessionID int64
	FilePath      string
	ChangeType    model.ChangeType
	OldPath       *string
	Additions     int
	Deletions     int
	FileSize      int
}

func scanFileChange(row pgx.Row) (model.FileChange, error) {
	var f model.FileChange
	err := row.Scan(&f.ID, &f.RepositoryID, &f.CommitID, &f.SyncSessionID, &f.FilePath,
		&f.ChangeType, &f.OldPath, &f.Additions, &f.Deletions, &f.FileSize, &f.SyncStatus, &f.RetryCount,
		&f.LastRetryAt, &f.NextRetryAt, &f.ErrorType, &f.ErrorMessage, &f.ProcessTimeMS, &f.SyncedAt, &f.CreatedAt)
	return f, err
}

// RecordFileChange inserts the audit row for a file mutation, status pending.
func (s *Store) RecordFileChange(ctx context.Context, arg RecordFileChangeParams) (model.FileChange, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO file_change_history (repository_id, commit_id, sync_session_id, file_path,
			change_type, old_path, additions, deletions, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+fileChangeColumns,
		arg.RepositoryID, arg.CommitID, arg.SyncSessionID, arg.FilePath,
		arg.ChangeType, arg.OldPath, arg.Additions, arg.Deletions, arg.FileSize)
	return scanFileChange(row)
}

// GetFileChange returns one audit row by id.
func (s *Store) GetFileChange(ctx context.Context, id int64) (model.FileChange, error) {
	row := s.db.QueryRow(ctx, `SELECT `+fileChangeColumns+` FROM file_change_history WHERE id = $1`, id)
	return scanFileChange(row)
}

// MarkFileSynced records a successful re-embed with its timing.
func (s *Store) MarkFileSynced(ctx context.Context, id int64, processTimeMS int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE file_change_history
		SET sync_status = 'synced', synced_at = now(), process_time_ms = $2,
		    error_type = '', error_message = ''
		WHERE id = $1`,
		id, processTimeMS)
	return err
}

// MarkFileSkipped records a file the chunker produced nothing for
// (empty or binary content).
func (s *Store) MarkFileSkipped(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE file_change_history
		SET sync_status = 'skipped', synced_at = now()
		WHERE id = $1`,
		id)
	return err
}

// MarkFileFailed records a failed attempt and schedules the next one on
// the shared exponential-backoff clock. The stored message is already
// expected to be sanitized; it is bounded again here regardless.
func (s *Store) MarkFileFailed(ctx context.Context, id int64, errorType, errorMessage string, baseDelay time.Duration) error {
	var retryCount int
	err := s.db.QueryRow(ctx, `SELECT retry_count FROM file_change_history WHERE id = $1`, id).Scan(&retryCount)
	if err != nil {
		return err
	}

	retryCount++
	next := backoff.NextRetryAt(time.Now(), retryCount, baseDelay)
	_, err = s.db.Exec(ctx, `
		UPDATE file_change_history
		SET sync_status = 'failed', retry_count = $2, last_retry_at = now(),
		    next_retry_at = $3, error_type = $4, error_message = $5
		WHERE id = $1`,
		id, retryCount, next, errorType,
		custom_errors.Truncate(errorMessage, custom_errors.MaxErrorLength))
	return err
}

// FileRetryCandidates returns failed entries whose backoff has elapsed,
// oldest due first. Entries still inside their backoff window are
// invisible here, so nothing polls ineligible rows.
func (s *Store) FileRetryCandidates(ctx context.Context, limit int) ([]model.FileChange, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+fileChangeColumns+`
		FROM file_change_history
		WHERE sync_status = 'failed' AND next_retry_at <= now()
		ORDER BY next_retry_at
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFileChanges(rows)
}

// FileHistory is the read projection used by the API: the change record
// of one file in one repository, newest first.
func (s *Store) FileHistory(ctx context.Context, repoID int64, filePath string, limit int) ([]model.FileChange, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+fileChangeColumns+`
		FROM file_change_history
		WHERE repository_id = $1 AND file_path = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		repoID, filePath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFileChanges(rows)
}

// PurgeFileHistory is the retention sweep: terminal rows older than the
// cutoff are removed. Pending and failed-but-retryable rows stay.
func (s *Store) PurgeFileHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM file_change_history
		WHERE sync_status IN ('synced', 'skipped')
		  AND created_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectFileChanges(rows pgx.Rows) ([]model.FileChange, error) {
	var changes []model.FileChange
	for rows.Next() {
		f, err := scanFileChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, f)
	}
	return changes, rows.Err()
}
