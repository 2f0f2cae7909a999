// internal/model/models.go
package model

import "time"

// RepoSyncStatus is the registry-level sync state of a repository.
type RepoSyncStatus string

const (
	RepoSyncPending   RepoSyncStatus = "pending"
	RepoSyncSyncing   RepoSyncStatus = "syncing"
	RepoSyncCompleted RepoSyncStatus = "completed"
	RepoSyncFailed    RepoSyncStatus = "failed"
)

// ChangeType describes what happened to a file in a commit.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// FileSyncStatus is the per-file audit state in the change history.
type FileSyncStatus string

const (
	FileSyncPending FileSyncStatus = "pending"
	FileSyncSynced  FileSyncStatus = "synced"
	FileSyncFailed  FileSyncStatus = "failed"
	FileSyncSkipped FileSyncStatus = "skipped"
)

// QueueStatus is the lifecycle state of a sync queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// SessionStatus is the outcome of a sync session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionPartial   SessionStatus = "partial"
	SessionRetrying  SessionStatus = "retrying"
)

// SyncType distinguishes a full tree sync from a commit-range diff.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// Trigger records what started a session.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Repository is a tracked source repository.
type Repository struct {
	ID            int64          `json:"id"`
	ConnectionID  int64          `json:"connection_id"`
	ExternalID    string         `json:"external_id"`
	Name          string         `json:"name"` // "owner/repo"
	DefaultBranch string         `json:"default_branch"`
	SyncStatus    RepoSyncStatus `json:"sync_status"`
	LastSyncedAt  *time.Time     `json:"last_synced_at,omitempty"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Commit is one processed commit of a repository. At most one row
// exists per (repository_id, sha).
type Commit struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository_id"`
	ExternalID   string     `json:"external_id"`
	SHA          string     `json:"sha"`
	AuthorName   string     `json:"author_name"`
	AuthorEmail  string     `json:"author_email"`
	Message      string     `json:"message"`
	CommittedAt  time.Time  `json:"committed_at"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	FilesChanged int        `json:"files_changed"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FileChange is the durable audit record of one file mutation within a
// commit, including its own retry clock.
type FileChange struct {
	ID            int64          `json:"id"`
	RepositoryID  int64          `json:"repository_id"`
	CommitID      int64          `json:"commit_id"`
	SyncSessionID int64          `json:"sync_session_id"`
	FilePath      string         `json:"file_path"`
	ChangeType    ChangeType     `json:"change_type"`
	OldPath       *string        `json:"old_path,omitempty"`
	Additions     int            `json:"additions"`
	Deletions     int            `json:"deletions"`
	FileSize      int            `json:"file_size"`
	SyncStatus    FileSyncStatus `json:"sync_status"`
	RetryCount    int            `json:"retry_count"`
	LastRetryAt   *time.Time     `json:"last_retry_at,omitempty"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ProcessTimeMS int64          `json:"process_time_ms"`
	SyncedAt      *time.Time     `json:"synced_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// QueueEntry is one unit of work: a single file of a single commit.
// At most one row exists per (commit_id, file_path).
type QueueEntry struct {
	ID           int64       `json:"id"`
	RepositoryID int64       `json:"repository_id"`
	CommitID     int64       `json:"commit_id"`
	FileChangeID int64       `json:"file_change_id"`
	FilePath     string      `json:"file_path"`
	ChangeType   ChangeType  `json:"change_type"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	LastError    string      `json:"last_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time  `json:"next_retry_at,omitempty"`
}

// SyncSession is the ledger row for one sync run.
type SyncSession struct {
	ID              int64         `json:"id"`
	RepositoryID    int64         `json:"repository_id"`
	SyncType        SyncType      `json:"sync_type"`
	TriggeredBy     Trigger       `json:"triggered_by"`
	UserID          *int64        `json:"user_id,omitempty"`
	FromSHA         string        `json:"from_sha,omitempty"`
	ToSHA           string        `json:"to_sha,omitempty"`
	ParentSyncID    *int64        `json:"parent_sync_id,omitempty"`
	Status          SessionStatus `json:"status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`

	FilesQueued          int   `json:"files_queued"`
	FilesProcessed       int   `json:"files_processed"`
	FilesSucceeded       int   `json:"files_succeeded"`
	FilesFailed          int   `json:"files_failed"`
	FilesSkipped         int   `json:"files_skipped"`
	EmbeddingsCreated    int   `json:"embeddings_created"`
	EmbeddingsDeleted    int   `json:"embeddings_deleted"`
	BatchesTotal         int   `json:"batches_total"`
	BatchesCompleted     int   `json:"batches_completed"`
	APICallsMade         int   `json:"api_calls_made"`
	RetryCount           int   `json:"retry_count"`
	TotalProcessTimeMS   int64 `json:"-"`
	AvgFileProcessTimeMS int64 `json:"avg_file_process_time_ms"`
}

// SessionDelta is one additive update to a session's counters,
// accumulated per drained batch.
type SessionDelta struct {
	FilesProcessed     int
	FilesSucceeded     int
	FilesFailed        int
	FilesSkipped       int
	EmbeddingsCreated  int
	EmbeddingsDeleted  int
	BatchesTotal       int
	BatchesCompleted   int
	APICallsMade       int
	RetryCount         int
	TotalProcessTimeMS int64
}

// Add merges another delta into this one.
func (d *SessionDelta) Add(o SessionDelta) {
	d.FilesProcessed += o.FilesProcessed
	d.FilesSucceeded += o.FilesSucceeded
	d.FilesFailed += o.FilesFailed
	d.FilesSkipped += o.FilesSkipped
	d.EmbeddingsCreated += o.EmbeddingsCreated
	d.EmbeddingsDeleted += o.EmbeddingsDeleted
	d.BatchesTotal += o.BatchesTotal
	d.BatchesCompleted += o.BatchesCompleted
	d.APICallsMade += o.APICallsMade
	d.RetryCount += o.RetryCount
	d.TotalProcessTimeMS += o.TotalProcessTimeMS
}

// QueueCounts is the per-status aggregate over queue entries.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
