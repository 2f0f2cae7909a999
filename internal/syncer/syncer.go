// internal/syncer/syncer.go

// Package syncer is the sync orchestrator: it opens a session, diffs the
// repository against its baseline commit, turns the diff into queue
// entries, drains them through the chunker/embedder/knowledge base, and
// closes the session with an auditable outcome.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kb-syncer/internal/chunker"
	"kb-syncer/internal/embed"
	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/kb"
	"kb-syncer/internal/model"
	"kb-syncer/internal/source"
	"kb-syncer/internal/store"
)

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	SyncInterval      time.Duration
	SweepInterval     time.Duration
	RetentionInterval time.Duration
	RetentionAge      time.Duration

	RepoConcurrency int
	WorkerCount     int
	BatchSize       int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	StuckAfter      time.Duration
	DrainMaxWait    time.Duration
}

func (o *Options) withDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = 15 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.RetentionInterval <= 0 {
		o.RetentionInterval = time.Hour
	}
	if o.RetentionAge <= 0 {
		o.RetentionAge = 30 * 24 * time.Hour
	}
	if o.RepoConcurrency <= 0 {
		o.RepoConcurrency = 5
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 5 * time.Second
	}
	if o.StuckAfter <= 0 {
		o.StuckAfter = 10 * time.Minute
	}
	if o.DrainMaxWait <= 0 {
		o.DrainMaxWait = 30 * time.Second
	}
}

// Syncer orchestrates change detection and knowledge-base updates.
type Syncer struct {
	db       store.Querier
	provider source.Provider
	chunks   chunker.Chunker
	embedder embed.Embedder
	kb       kb.Store
	logger   *slog.Logger
	opts     Options
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(db store.Querier, provider source.Provider, chunks chunker.Chunker, embedder embed.Embedder, kbStore kb.Store, logger *slog.Logger, opts Options) *Syncer {
	opts.withDefaults()
	return &Syncer{
		db:       db,
		provider: provider,
		chunks:   chunks,
		embedder: embedder,
		kb:       kbStore,
		logger:   logger,
		opts:     opts,
	}
}

// Start runs the service loops: scheduled sync cycles, the stuck-work
// sweep, and the retention purge, until the context is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer",
		"sync_interval", s.opts.SyncInterval.String(),
		"repo_concurrency", s.opts.RepoConcurrency,
		"workers", s.opts.WorkerCount)

	syncTicker := time.NewTicker(s.opts.SyncInterval)
	defer syncTicker.Stop()
	sweepTicker := time.NewTicker(s.opts.SweepInterval)
	defer sweepTicker.Stop()
	retentionTicker := time.NewTicker(s.opts.RetentionInterval)
	defer retentionTicker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-syncTicker.C:
			s.runSyncCycle(ctx)
		case <-sweepTicker.C:
			s.RunSweep(ctx)
		case <-retentionTicker.C:
			s.RunRetention(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle syncs every active repository concurrently.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	repos, err := s.db.ListActiveRepositories(ctx)
	if err != nil {
		s.logger.Error("Failed to list repositories for sync cycle", "error", err)
		return
	}
	if len(repos) == 0 {
		return
	}

	s.logger.Info("Starting new sync cycle", "repositories", len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.RepoConcurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.SyncRepo(gctx, repo.ID, model.TriggerScheduled, nil)
			switch {
			case errors.Is(err, custom_errors.ErrRepoBusy):
				s.logger.Debug("Repository already syncing, skipped", "repo", repo.Name)
			case err != nil && !errors.Is(err, context.Canceled):
				s.logger.Error("Failed to sync repository", "repo", repo.Name, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	s.logger.Info("Sync cycle finished")
}

// SyncRepo runs one full sync session for a repository. It returns
// ErrRepoBusy without side effects when another session holds the
// repository's syncing claim.
func (s *Syncer) SyncRepo(ctx context.Context, repoID int64, trigger model.Trigger, userID *int64) error {
	repo, err := s.db.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}
	if !repo.IsActive {
		s.logger.Debug("Repository inactive, not syncing", "repo", repo.Name)
		return nil
	}

	claimed, err := s.db.BeginSync(ctx, repo.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return custom_errors.ErrRepoBusy
	}

	logger := s.logger.With("repo", repo.Name, "repo_id", repo.ID)
	logger.Info("Syncing repository", "trigger", trigger)

	owner, name, err := splitRepoName(repo.Name)
	if err != nil {
		_ = s.db.FinishSync(ctx, repo.ID, model.RepoSyncFailed, nil)
		return err
	}

	baseline, err := s.db.LatestSyncedCommit(ctx, repo.ID)
	if err != nil {
		_ = s.db.FinishSync(ctx, repo.ID, model.RepoSyncFailed, nil)
		return err
	}

	syncType := model.SyncFull
	fromSHA := ""
	if baseline != nil {
		syncType = model.SyncIncremental
		fromSHA = baseline.SHA
	}

	session, err := s.db.OpenSession(ctx, store.OpenSessionParams{
		RepositoryID: repo.ID,
		SyncType:     syncType,
		TriggeredBy:  trigger,
		UserID:       userID,
		FromSHA:      fromSHA,
	})
	if err != nil {
		_ = s.db.FinishSync(ctx, repo.ID, model.RepoSyncFailed, nil)
		return err
	}
	logger = logger.With("session_id", session.ID)

	head, err := s.provider.Head(ctx, owner, name, repo.DefaultBranch)
	if err != nil {
		return s.failSession(ctx, logger, repo.ID, session.ID,
			&custom_errors.DiffUnavailableError{Repo: repo.Name, Err: err})
	}

	if baseline != nil && head == baseline.SHA {
		logger.Info("Repository already at head, nothing to sync", "sha", head)
		return s.closeNoop(ctx, repo.ID, session.ID)
	}

	logger.Info("Fetching diff", "from", fromSHA, "to", head, "sync_type", syncType)
	diff, err := s.provider.Diff(ctx, owner, name, fromSHA, head)
	if err != nil {
		return s.failSession(ctx, logger, repo.ID, session.ID,
			&custom_errors.DiffUnavailableError{Repo: repo.Name, Err: err})
	}

	commit, err := s.db.RecordCommit(ctx, store.RecordCommitParams{
		RepositoryID: repo.ID,
		ExternalID:   diff.Commit.ExternalID,
		SHA:          diff.Commit.SHA,
		AuthorName:   diff.Commit.AuthorName,
		AuthorEmail:  diff.Commit.AuthorEmail,
		Message:      diff.Commit.Message,
		CommittedAt:  diff.Commit.CommittedAt,
		Additions:    diff.Commit.Additions,
		Deletions:    diff.Commit.Deletions,
		FilesChanged: diff.Commit.FilesChanged,
	})
	if err != nil {
		var dup *custom_errors.DuplicateCommitError
		if errors.As(err, &dup) {
			// The commit is recorded but not marked synced, which means an
			// earlier session aborted mid-drain. Pick its queue back up
			// instead of re-enqueueing.
			logger.Info("Commit already recorded, resuming its queue", "sha", diff.Commit.SHA)
			commit, err = s.db.GetCommitBySHA(ctx, repo.ID, diff.Commit.SHA)
			if err != nil {
				return s.failSession(ctx, logger, repo.ID, session.ID, err)
			}
		} else {
			return s.failSession(ctx, logger, repo.ID, session.ID, err)
		}
	} else {
		queued := s.enqueueDiff(ctx, logger, repo.ID, commit.ID, session.ID, diff.Files)
		if err := s.db.UpdateSessionDiff(ctx, session.ID, head, queued); err != nil {
			return s.failSession(ctx, logger, repo.ID, session.ID, err)
		}
		logger.Info("Queued changed files", "count", queued)
	}

	if err := s.drain(ctx, logger, repo.ID, session.ID, owner, name); err != nil {
		return s.abortSession(ctx, logger, repo.ID, session.ID, err)
	}

	final, err := s.db.GetSession(ctx, session.ID)
	if err != nil {
		return s.failSession(ctx, logger, repo.ID, session.ID, err)
	}
	status := finalStatus(final)
	if err := s.db.CloseSession(ctx, session.ID, status, ""); err != nil {
		logger.Error("Failed to close session", "error", err)
	}

	if status == model.SessionFailed {
		_ = s.db.FinishSync(ctx, repo.ID, model.RepoSyncFailed, nil)
	} else {
		now := time.Now()
		_ = s.db.FinishSync(ctx, repo.ID, model.RepoSyncCompleted, &now)
		if err := s.db.MarkCommitSynced(ctx, commit.ID); err != nil {
			logger.Error("Failed to mark commit synced", "error", err)
		}
	}

	logger.Info("Sync session closed",
		"status", status,
		"succeeded", final.FilesSucceeded,
		"failed", final.FilesFailed,
		"skipped", final.FilesSkipped)
	return nil
}

// enqueueDiff writes one history row plus one queue entry per changed
// file. Duplicate enqueues are logged and skipped, never fatal.
func (s *Syncer) enqueueDiff(ctx context.Context, logger *slog.Logger, repoID, commitID, sessionID int64, files []source.FileChange) int {
	queued := 0
	for _, f := range files {
		var oldPath *string
		if f.OldPath != "" {
			op := f.OldPath
			oldPath = &op
		}
		fc, err := s.db.RecordFileChange(ctx, store.RecordFileChangeParams{
			RepositoryID:  repoID,
			CommitID:      commitID,
			SyncSessionID: sessionID,
			FilePath:      f.Path,
			ChangeType:    f.ChangeType,
			OldPath:       oldPath,
			Additions:     f.Additions,
			Deletions:     f.Deletions,
			FileSize:      f.Size,
		})
		if err != nil {
			logger.Error("Failed to record file change", "path", f.Path, "error", err)
			continue
		}

		_, err = s.db.Enqueue(ctx, store.EnqueueParams{
			RepositoryID: repoID,
			CommitID:     commitID,
			FileChangeID: fc.ID,
			FilePath:     f.Path,
			ChangeType:   f.ChangeType,
			Priority:     priorityFor(f.ChangeType),
			MaxRetries:   s.opts.MaxRetries,
		})
		if err != nil {
			var dup *custom_errors.DuplicateQueueEntryError
			if errors.As(err, &dup) {
				logger.Warn("File already queued under this commit, skipping", "path", f.Path)
				_ = s.db.MarkFileSkipped(ctx, fc.ID)
				continue
			}
			logger.Error("Failed to enqueue file", "path", f.Path, "error", err)
			continue
		}
		queued++
	}
	return queued
}

// priorityFor orders deletions ahead of re-embeds so stale vectors do
// not linger while a large batch processes.
func priorityFor(ct model.ChangeType) int {
	if ct == model.ChangeDeleted {
		return 1
	}
	return 0
}

// finalStatus applies the session outcome rule: completed when nothing
// terminally failed, partial when progress was mixed, failed when no
// file made it through at all.
func finalStatus(s model.SyncSession) model.SessionStatus {
	switch {
	case s.FilesFailed == 0:
		return model.SessionCompleted
	case s.FilesSucceeded > 0 || s.FilesSkipped > 0:
		return model.SessionPartial
	default:
		return model.SessionFailed
	}
}

// closeNoop finishes a session that had nothing to do.
func (s *Syncer) closeNoop(ctx context.Context, repoID, sessionID int64) error {
	if err := s.db.CloseSession(ctx, sessionID, model.SessionCompleted, ""); err != nil {
		return err
	}
	now := time.Now()
	return s.db.FinishSync(ctx, repoID, model.RepoSyncCompleted, &now)
}

// failSession closes the session as failed with a sanitized message and
// releases the repository claim. Used only for session-fatal errors:
// per-file failures never travel this path.
func (s *Syncer) failSession(ctx context.Context, logger *slog.Logger, repoID, sessionID int64, cause error) error {
	logger.Error("Sync session failed", "error", cause)
	if err := s.db.CloseSession(ctx, sessionID, model.SessionFailed, custom_errors.Sanitize(cause)); err != nil {
		logger.Error("Failed to close session", "error", err)
	}
	if err := s.db.FinishSync(ctx, repoID, model.RepoSyncFailed, nil); err != nil {
		logger.Error("Failed to update repository status", "error", err)
	}
	return cause
}

// abortSession closes a session whose drain could not finish. Files that
// already reached a terminal state keep the partial outcome; the commit
// baseline does not advance, so a later session re-enters the duplicate
// path and resumes the leftover queue.
func (s *Syncer) abortSession(ctx context.Context, logger *slog.Logger, repoID, sessionID int64, cause error) error {
	status := model.SessionFailed
	if final, err := s.db.GetSession(ctx, sessionID); err == nil && (final.FilesSucceeded > 0 || final.FilesSkipped > 0) {
		status = model.SessionPartial
	}
	logger.Error("Sync session aborted mid-drain", "error", cause, "status", status)
	if err := s.db.CloseSession(ctx, sessionID, status, custom_errors.Sanitize(cause)); err != nil {
		logger.Error("Failed to close session", "error", err)
	}
	if err := s.db.FinishSync(ctx, repoID, model.RepoSyncFailed, nil); err != nil {
		logger.Error("Failed to update repository status", "error", err)
	}
	return cause
}

// RunSweep recovers abandoned work: queue entries stuck in processing
// and repositories whose syncing claim outlived its holder.
func (s *Syncer) RunSweep(ctx context.Context) {
	n, err := s.db.ResetStuckEntries(ctx, s.opts.StuckAfter)
	if err != nil {
		s.logger.Error("Stuck-entry sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("Reset stuck queue entries", "count", n)
	}

	repos, err := s.db.StaleSyncingRepositories(ctx, s.opts.StuckAfter)
	if err != nil {
		s.logger.Error("Stale-repository sweep failed", "error", err)
		return
	}
	for _, repo := range repos {
		s.logger.Warn("Releasing stale syncing claim", "repo", repo.Name)
		if err := s.db.FinishSync(ctx, repo.ID, model.RepoSyncFailed, nil); err != nil {
			s.logger.Error("Failed to release stale claim", "repo", repo.Name, "error", err)
		}
	}
}

// RunRetention purges aged completed queue entries and terminal history.
func (s *Syncer) RunRetention(ctx context.Context) {
	if n, err := s.db.PurgeCompletedEntries(ctx, s.opts.RetentionAge); err != nil {
		s.logger.Error("Queue retention sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("Purged completed queue entries", "count", n)
	}

	if n, err := s.db.PurgeFileHistory(ctx, s.opts.RetentionAge); err != nil {
		s.logger.Error("History retention sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("Purged aged file history", "count", n)
	}
}

// splitRepoName parses "owner/name".
func splitRepoName(full string) (string, string, error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &custom_errors.InvalidRepoNameError{Name: full}
	}
	return parts[0], parts[1], nil
}
