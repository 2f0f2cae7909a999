// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRepoBusy is returned when a sync is requested for a repository that
// already holds the syncing claim.
var ErrRepoBusy = errors.New("repository sync already in progress")

// ErrRetriesExhausted marks a queue entry that hit max_retries. It is
// recorded in counters, never propagated past the orchestrator.
var ErrRetriesExhausted = errors.New("retries exhausted")

// DuplicateCommitError is the idempotency guard against processing the
// same (repository, sha) twice.
type DuplicateCommitError struct {
	RepositoryID int64
	SHA          string
}

func (e *DuplicateCommitError) Error() string {
	return fmt.Sprintf("commit %s already recorded for repository %d", e.SHA, e.RepositoryID)
}

// DuplicateQueueEntryError is the at-most-once guard on (commit, file).
type DuplicateQueueEntryError struct {
	CommitID int64
	FilePath string
}

func (e *DuplicateQueueEntryError) Error() string {
	return fmt.Sprintf("queue entry for %q already exists under commit %d", e.FilePath, e.CommitID)
}

// InvalidRepoNameError is returned when a repository name is not in
// 'owner/name' format.
type InvalidRepoNameError struct {
	Name string
}

func (e *InvalidRepoNameError) Error() string {
	return fmt.Sprintf("invalid repository name: %q, expected 'owner/name'", e.Name)
}

// DiffUnavailableError means the source provider could not produce a
// change list. It is fatal to the session that requested it.
type DiffUnavailableError struct {
	Repo string
	Err  error
}

func (e *DiffUnavailableError) Error() string {
	return fmt.Sprintf("cannot obtain diff for %s: %v", e.Repo, e.Err)
}

func (e *DiffUnavailableError) Unwrap() error { return e.Err }

// MaxErrorLength bounds every error message before it is persisted.
const MaxErrorLength = 500

// Sanitize reduces an error to a single bounded line suitable for
// storage. Stack traces and multi-line detail never reach the database.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	return Truncate(strings.TrimSpace(msg), MaxErrorLength)
}

// Truncate cuts s to at most max bytes, marking the cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
