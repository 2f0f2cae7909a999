// internal/syncer/drain.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
)

// Error-type labels recorded on failed history rows.
const (
	errTypeSource    = "source"
	errTypeEmbedding = "embedding"
	errTypeStore     = "store"
)

// drain pulls batches off the queue until no pending work remains and no
// retry is scheduled. When retryable work is still backing off, it
// sleeps until the earliest next_retry_at rather than polling. A non-nil
// error means the queue was NOT fully drained and the session must not
// close as completed.
func (s *Syncer) drain(ctx context.Context, logger *slog.Logger, repoID, sessionID int64, owner, name string) error {
	shas := newCommitSHACache(s, repoID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		isRetry := false
		batch, err := s.db.ClaimBatch(ctx, &repoID, s.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			isRetry = true
			batch, err = s.db.ClaimRetryBatch(ctx, &repoID, s.opts.BatchSize)
			if err != nil {
				return fmt.Errorf("claim retry batch: %w", err)
			}
		}

		if len(batch) == 0 {
			due, err := s.db.NextRetryDue(ctx, &repoID)
			if err != nil {
				return fmt.Errorf("query retry schedule: %w", err)
			}
			if due == nil {
				return nil // drained
			}
			wait := time.Until(*due)
			if wait < 0 {
				wait = 0
			}
			if wait > s.opts.DrainMaxWait {
				wait = s.opts.DrainMaxWait
			}
			logger.Debug("Waiting for retry-eligible work", "wait", wait.String())
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		delta := s.processBatch(ctx, logger, repoID, owner, name, batch, isRetry, shas)
		delta.BatchesTotal = 1
		delta.BatchesCompleted = 1
		if err := s.db.IncrementSession(ctx, sessionID, delta); err != nil {
			logger.Error("Failed to update session counters", "error", err)
		}
	}
}

// processBatch fans the claimed entries out over the worker pool and
// accumulates their counter deltas.
func (s *Syncer) processBatch(ctx context.Context, logger *slog.Logger, repoID int64, owner, name string, batch []model.QueueEntry, isRetry bool, shas *commitSHACache) model.SessionDelta {
	var (
		mu    sync.Mutex
		total model.SessionDelta
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WorkerCount)

	for _, entry := range batch {
		entry := entry
		g.Go(func() error {
			d := s.processEntry(gctx, logger, repoID, owner, name, entry, isRetry, shas)
			mu.Lock()
			total.Add(d)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return total
}

// processEntry runs one queue entry to a terminal or retryable state.
// Errors are converted into queue/history state here and never escape.
func (s *Syncer) processEntry(ctx context.Context, logger *slog.Logger, repoID int64, owner, name string, entry model.QueueEntry, isRetry bool, shas *commitSHACache) model.SessionDelta {
	var delta model.SessionDelta
	if isRetry {
		delta.RetryCount = 1
	}

	start := time.Now()
	skipped, errType, err := s.processFile(ctx, repoID, owner, name, entry, &delta, shas)
	elapsedMS := time.Since(start).Milliseconds()

	if err != nil {
		msg := custom_errors.Sanitize(err)
		terminal, failErr := s.db.FailEntry(ctx, entry.ID, msg, s.opts.RetryBaseDelay)
		if failErr != nil {
			logger.Error("Failed to record queue failure", "path", entry.FilePath, "error", failErr)
		}
		if histErr := s.db.MarkFileFailed(ctx, entry.FileChangeID, errType, msg, s.opts.RetryBaseDelay); histErr != nil {
			logger.Error("Failed to record history failure", "path", entry.FilePath, "error", histErr)
		}
		if terminal {
			logger.Warn("File failed terminally", "path", entry.FilePath, "error", msg, "retries", entry.RetryCount+1)
			delta.FilesProcessed = 1
			delta.FilesFailed = 1
		} else {
			logger.Debug("File failed, retry scheduled", "path", entry.FilePath, "error", msg)
		}
		return delta
	}

	if err := s.db.CompleteEntry(ctx, entry.ID); err != nil {
		logger.Error("Failed to complete queue entry", "path", entry.FilePath, "error", err)
	}

	delta.FilesProcessed = 1
	if skipped {
		if err := s.db.MarkFileSkipped(ctx, entry.FileChangeID); err != nil {
			logger.Error("Failed to mark history skipped", "path", entry.FilePath, "error", err)
		}
		delta.FilesSkipped = 1
		return delta
	}

	if err := s.db.MarkFileSynced(ctx, entry.FileChangeID, elapsedMS); err != nil {
		logger.Error("Failed to mark history synced", "path", entry.FilePath, "error", err)
	}
	delta.FilesSucceeded = 1
	delta.TotalProcessTimeMS = elapsedMS
	return delta
}

// processFile performs the actual knowledge-base mutation for one entry.
// It reports skipped=true when the chunker produced nothing to embed.
func (s *Syncer) processFile(ctx context.Context, repoID int64, owner, name string, entry model.QueueEntry, delta *model.SessionDelta, shas *commitSHACache) (skipped bool, errType string, err error) {
	if entry.ChangeType == model.ChangeDeleted {
		n, err := s.kb.DeleteFile(ctx, repoID, entry.FilePath)
		if err != nil {
			return false, errTypeStore, err
		}
		delta.EmbeddingsDeleted += n
		return false, "", nil
	}

	// A rename abandons the vectors stored under the old path.
	if entry.ChangeType == model.ChangeRenamed {
		fc, err := s.db.GetFileChange(ctx, entry.FileChangeID)
		if err != nil {
			return false, errTypeStore, err
		}
		if fc.OldPath != nil && *fc.OldPath != "" {
			n, err := s.kb.DeleteFile(ctx, repoID, *fc.OldPath)
			if err != nil {
				return false, errTypeStore, err
			}
			delta.EmbeddingsDeleted += n
		}
	}

	sha, err := shas.get(ctx, entry.CommitID)
	if err != nil {
		return false, errTypeStore, err
	}

	delta.APICallsMade++
	content, err := s.provider.FileContent(ctx, owner, name, sha, entry.FilePath)
	if err != nil {
		return false, errTypeSource, fmt.Errorf("download %s: %w", entry.FilePath, err)
	}

	chunks := s.chunks.Chunk(content, entry.FilePath)
	if len(chunks) == 0 {
		return true, "", nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	delta.APICallsMade++
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return false, errTypeEmbedding, fmt.Errorf("embed %s: %w", entry.FilePath, err)
	}

	n, err := s.kb.UpsertChunks(ctx, repoID, entry.FilePath, chunks, vectors)
	if err != nil {
		return false, errTypeStore, fmt.Errorf("upsert %s: %w", entry.FilePath, err)
	}
	delta.EmbeddingsCreated += n
	return false, "", nil
}

// commitSHACache resolves commit ids to shas once per drain. Retried
// entries may reference commits from earlier sessions, so this cannot
// assume a single sha per drain.
type commitSHACache struct {
	s      *Syncer
	repoID int64

	mu   sync.Mutex
	shas map[int64]string
}

func newCommitSHACache(s *Syncer, repoID int64) *commitSHACache {
	return &commitSHACache{s: s, repoID: repoID, shas: make(map[int64]string)}
}

func (c *commitSHACache) get(ctx context.Context, commitID int64) (string, error) {
	c.mu.Lock()
	if sha, ok := c.shas[commitID]; ok {
		c.mu.Unlock()
		return sha, nil
	}
	c.mu.Unlock()

	commit, err := c.s.db.GetCommit(ctx, commitID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.shas[commitID] = commit.SHA
	c.mu.Unlock()
	return commit.SHA, nil
}
