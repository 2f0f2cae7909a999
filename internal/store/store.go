// internal/store/store.go

// Package store is the durable state layer of the sync pipeline: the
// repository registry, commit ledger, file-change history, sync queue and
// session ledger, all backed by Postgres via pgx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"kb-syncer/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so queries can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements Querier against a Postgres database.
type Store struct {
	db DBTX
}

// New creates a Store bound to the given connection source.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Querier is the full data-access contract consumed by the orchestrator
// and the API layer. Tests mock it.
type Querier interface {
	// repository registry
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error)
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	ListActiveRepositories(ctx context.Context) ([]model.Repository, error)
	BeginSync(ctx context.Context, repoID int64) (bool, error)
	FinishSync(ctx context.Context, repoID int64, status model.RepoSyncStatus, lastSyncedAt *time.Time) error
	DeactivateRepository(ctx context.Context, repoID int64) error
	StaleSyncingRepositories(ctx context.Context, staleAfter time.Duration) ([]model.Repository, error)

	// commit ledger
	RecordCommit(ctx context.Context, arg RecordCommitParams) (model.Commit, error)
	GetCommit(ctx context.Context, id int64) (model.Commit, error)
	GetCommitBySHA(ctx context.Context, repoID int64, sha string) (model.Commit, error)
	LatestSyncedCommit(ctx context.Context, repoID int64) (*model.Commit, error)
	MarkCommitSynced(ctx context.Context, id int64) error

	// file change history
	RecordFileChange(ctx context.Context, arg RecordFileChangeParams) (model.FileChange, error)
	GetFileChange(ctx context.Context, id int64) (model.FileChange, error)
	MarkFileSynced(ctx context.Context, id int64, processTimeMS int64) error
	MarkFileSkipped(ctx context.Context, id int64) error
	MarkFileFailed(ctx context.Context, id int64, errorType, errorMessage string, baseDelay time.Duration) error
	FileRetryCandidates(ctx context.Context, limit int) ([]model.FileChange, error)
	FileHistory(ctx context.Context, repoID int64, filePath string, limit int) ([]model.FileChange, error)
	PurgeFileHistory(ctx context.Context, olderThan time.Duration) (int64, error)

	// sync queue
	Enqueue(ctx context.Context, arg EnqueueParams) (model.QueueEntry, error)
	EnqueueBatch(ctx context.Context, args []EnqueueParams) (int, error)
	ClaimBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error)
	ClaimRetryBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error)
	CompleteEntry(ctx context.Context, id int64) error
	FailEntry(ctx context.Context, id int64, lastError string, baseDelay time.Duration) (bool, error)
	ResetStuckEntries(ctx context.Context, staleAfter time.Duration) (int64, error)
	QueueStatusCounts(ctx context.Context, repoID *int64) (model.QueueCounts, error)
	NextRetryDue(ctx context.Context, repoID *int64) (*time.Time, error)
	PurgeCompletedEntries(ctx context.Context, olderThan time.Duration) (int64, error)

	// session ledger
	OpenSession(ctx context.Context, arg OpenSessionParams) (model.SyncSession, error)
	UpdateSessionDiff(ctx context.Context, id int64, toSHA string, filesQueued int) error
	IncrementSession(ctx context.Context, id int64, delta model.SessionDelta) error
	CloseSession(ctx context.Context, id int64, status model.SessionStatus, errorMessage string) error
	GetSession(ctx context.Context, id int64) (model.SyncSession, error)
}

var _ Querier = (*Store)(nil)

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
