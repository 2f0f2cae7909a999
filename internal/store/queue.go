// internal/store/queue.go
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"kb-syncer/internal/backoff"
	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
)

const queueColumns = `id, repository_id, commit_id, file_change_id, file_path, change_type,
	priority, status, retry_count, max_retries, last_error, created_at, started_at, completed_at, next_retry_at`

// EnqueueParams describes one unit of work to add to the queue.
type EnqueueParams struct {
	RepositoryID int64
	CommitID     int64
	FileChangeID int64
	FilePath     string
	ChangeType   model.ChangeType
	Priority     int
	MaxRetries   int
}

func scanQueueEntry(row pgx.Row) (model.QueueEntry, error) {
	var e model.QueueEntry
	err := row.Scan(&e.ID, &e.RepositoryID, &e.CommitID, &e.FileChangeID, &e.FilePath, &e.ChangeType,
		&e.Priority, &e.Status, &e.RetryCount, &e.MaxRetries, &e.LastError, &e.CreatedAt, &e.StartedAt, &e.CompletedAt, &e.NextRetryAt)
	return e, err
}

// Enqueue inserts one pending entry. A second enqueue of the same
// (commit, file path) returns DuplicateQueueEntryError and leaves the
// existing row untouched; this is the at-most-once-per-file-per-commit
// guarantee.
func (s *Store) Enqueue(ctx context.Context, arg EnqueueParams) (model.QueueEntry, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sync_queue (repository_id, commit_id, file_change_id, file_path, change_type, priority, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+queueColumns,
		arg.RepositoryID, arg.CommitID, arg.FileChangeID, arg.FilePath, arg.ChangeType, arg.Priority, arg.MaxRetries)
	entry, err := scanQueueEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.QueueEntry{}, &custom_errors.DuplicateQueueEntryError{
				CommitID: arg.CommitID,
				FilePath: arg.FilePath,
			}
		}
		return model.QueueEntry{}, err
	}
	return entry, nil
}

// EnqueueBatch enqueues each item, continuing past duplicates rather
// than aborting, and reports how many rows were actually inserted.
func (s *Store) EnqueueBatch(ctx context.Context, args []EnqueueParams) (int, error) {
	inserted := 0
	for _, arg := range args {
		_, err := s.Enqueue(ctx, arg)
		if err != nil {
			var dup *custom_errors.DuplicateQueueEntryError
			if errors.As(err, &dup) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// ClaimBatch atomically moves up to limit pending entries to processing
// and returns them, highest priority first and FIFO within a priority
// tier. FOR UPDATE SKIP LOCKED makes concurrent claims disjoint: two
// callers can never receive the same row.
func (s *Store) ClaimBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE sync_queue
		SET status = 'processing', started_at = now()
		WHERE id IN (
			SELECT id FROM sync_queue
			WHERE status = 'pending'
			  AND ($1::bigint IS NULL OR repository_id = $1)
			ORDER BY priority DESC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns,
		repoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := collectQueueEntries(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not preserve the subquery's order.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// ClaimRetryBatch claims failed entries whose backoff has elapsed and
// whose retry budget is not exhausted, oldest due first. Same atomic
// claim contract as ClaimBatch.
func (s *Store) ClaimRetryBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE sync_queue
		SET status = 'processing', started_at = now()
		WHERE id IN (
			SELECT id FROM sync_queue
			WHERE status = 'failed'
			  AND retry_count < max_retries
			  AND (next_retry_at IS NULL OR next_retry_at <= now())
			  AND ($1::bigint IS NULL OR repository_id = $1)
			ORDER BY next_retry_at ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns,
		repoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := collectQueueEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ni, nj := entries[i].NextRetryAt, entries[j].NextRetryAt
		if ni == nil || nj == nil {
			return nj != nil
		}
		return ni.Before(*nj)
	})
	return entries, nil
}

// CompleteEntry marks an entry terminally successful. The row stays
// until the retention sweep purges it.
func (s *Store) CompleteEntry(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'completed', completed_at = now()
		WHERE id = $1`,
		id)
	return err
}

// FailEntry records a failed attempt and schedules the retry on the
// shared backoff clock. It reports whether the entry is now terminal
// (retry budget exhausted).
func (s *Store) FailEntry(ctx context.Context, id int64, lastError string, baseDelay time.Duration) (bool, error) {
	var retryCount, maxRetries int
	err := s.db.QueryRow(ctx, `SELECT retry_count, max_retries FROM sync_queue WHERE id = $1`, id).
		Scan(&retryCount, &maxRetries)
	if err != nil {
		return false, err
	}

	retryCount++
	next := backoff.NextRetryAt(time.Now(), retryCount, baseDelay)
	_, err = s.db.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'failed', retry_count = $2, last_error = $3, next_retry_at = $4
		WHERE id = $1`,
		id, retryCount, custom_errors.Truncate(lastError, custom_errors.MaxErrorLength), next)
	if err != nil {
		return false, err
	}
	return retryCount >= maxRetries, nil
}

// ResetStuckEntries recovers from worker crashes: entries stuck in
// processing past the staleness threshold go back to pending with a
// cleared claim stamp. Safe alongside live claiming since it only
// touches rows already stale.
func (s *Store) ResetStuckEntries(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing'
		  AND started_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// QueueStatusCounts is the observability aggregate over queue entries.
func (s *Store) QueueStatusCounts(ctx context.Context, repoID *int64) (model.QueueCounts, error) {
	var c model.QueueCounts
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM sync_queue
		WHERE $1::bigint IS NULL OR repository_id = $1`,
		repoID).Scan(&c.Pending, &c.Processing, &c.Completed, &c.Failed)
	return c, err
}

// NextRetryDue returns the earliest moment a currently ineligible failed
// entry becomes claimable, or nil when no retryable work is scheduled.
// The drain loop sleeps on this instead of polling.
func (s *Store) NextRetryDue(ctx context.Context, repoID *int64) (*time.Time, error) {
	var due *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT MIN(next_retry_at)
		FROM sync_queue
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND ($1::bigint IS NULL OR repository_id = $1)`,
		repoID).Scan(&due)
	if err != nil {
		return nil, err
	}
	return due, nil
}

// PurgeCompletedEntries removes completed work items older than the
// cutoff. Completion is recorded on the file-change history; the queue
// row is only ephemeral work state.
func (s *Store) PurgeCompletedEntries(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE status = 'completed'
		  AND completed_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectQueueEntries(rows pgx.Rows) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
