// internal/store/sessions.go
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
)

const sessionColumns = `id, repository_id, sync_type, triggered_by, user_id, from_sha, to_sha,
	parent_sync_id, status, error_message, started_at, completed_at, duration_seconds,
	files_queued, files_processed, files_succeeded, files_failed, files_skipped,
	embeddings_created, embeddings_deleted, batches_total, batches_completed,
	api_calls_made, retry_count, total_process_time_ms, avg_file_process_time_ms`

// OpenSessionParams starts the ledger row for one sync run.
type OpenSessionParams struct {
	RepositoryID int64
	SyncType     model.SyncType
	TriggeredBy  model.Trigger
	UserID       *int64
	FromSHA      string
	ToSHA        string
	ParentSyncID *int64
}

func scanSession(row pgx.Row) (model.SyncSession, error) {
	var s model.SyncSession
	err := row.Scan(&s.ID, &s.RepositoryID, &s.SyncType, &s.TriggeredBy, &s.UserID, &s.FromSHA, &s.ToSHA,
		&s.ParentSyncID, &s.Status, &s.ErrorMessage, &s.StartedAt, &s.CompletedAt, &s.DurationSeconds,
		&s.FilesQueued, &s.FilesProcessed, &s.FilesSucceeded, &s.FilesFailed, &s.FilesSkipped,
		&s.EmbeddingsCreated, &s.EmbeddingsDeleted, &s.BatchesTotal, &s.BatchesCompleted,
		&s.APICallsMade, &s.RetryCount, &s.TotalProcessTimeMS, &s.AvgFileProcessTimeMS)
	return s, err
}

// OpenSession creates a running session.
func (s *Store) OpenSession(ctx context.Context, arg OpenSessionParams) (model.SyncSession, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sync_sessions (repository_id, sync_type, triggered_by, user_id, from_sha, to_sha, parent_sync_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		arg.RepositoryID, arg.SyncType, arg.TriggeredBy, arg.UserID, arg.FromSHA, arg.ToSHA, arg.ParentSyncID)
	return scanSession(row)
}

// UpdateSessionDiff fills in what was learned from the provider diff:
// the head sha and how many files were queued.
func (s *Store) UpdateSessionDiff(ctx context.Context, id int64, toSHA string, filesQueued int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_sessions SET to_sha = $2, files_queued = $3 WHERE id = $1`,
		id, toSHA, filesQueued)
	return err
}

// IncrementSession adds a batch's deltas to the running totals. Purely
// additive, so repeated calls from the drain loop accumulate correctly.
func (s *Store) IncrementSession(ctx context.Context, id int64, d model.SessionDelta) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_sessions SET
			files_processed       = files_processed + $2,
			files_succeeded       = files_succeeded + $3,
			files_failed          = files_failed + $4,
			files_skipped         = files_skipped + $5,
			embeddings_created    = embeddings_created + $6,
			embeddings_deleted    = embeddings_deleted + $7,
			batches_total         = batches_total + $8,
			batches_completed     = batches_completed + $9,
			api_calls_made        = api_calls_made + $10,
			retry_count           = retry_count + $11,
			total_process_time_ms = total_process_time_ms + $12
		WHERE id = $1`,
		id, d.FilesProcessed, d.FilesSucceeded, d.FilesFailed, d.FilesSkipped,
		d.EmbeddingsCreated, d.EmbeddingsDeleted, d.BatchesTotal, d.BatchesCompleted,
		d.APICallsMade, d.RetryCount, d.TotalProcessTimeMS)
	return err
}

// CloseSession finalizes the session exactly once: a second close is a
// no-op because the completed_at guard no longer matches.
func (s *Store) CloseSession(ctx context.Context, id int64, status model.SessionStatus, errorMessage string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_sessions SET
			status = $2,
			error_message = $3,
			completed_at = now(),
			duration_seconds = EXTRACT(EPOCH FROM (now() - started_at)),
			avg_file_process_time_ms = CASE
				WHEN files_processed > 0 THEN total_process_time_ms / files_processed
				ELSE 0
			END
		WHERE id = $1 AND completed_at IS NULL`,
		id, status, custom_errors.Truncate(errorMessage, custom_errors.MaxErrorLength))
	return err
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (model.SyncSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sync_sessions WHERE id = $1`, id)
	return scanSession(row)
}
