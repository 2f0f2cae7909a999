// internal/syncer/mocks_test.go
package syncer

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"kb-syncer/internal/chunker"
	"kb-syncer/internal/model"
	"kb-syncer/internal/source"
	"kb-syncer/internal/store"
)

// MockQuerier is a mock of the store.Querier interface.
type MockQuerier struct {
	mock.Mock
}

var _ store.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) CreateRepository(ctx context.Context, arg store.CreateRepositoryParams) (model.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Repository), args.Error(1)
}

func (m *MockQuerier) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Repository), args.Error(1)
}

func (m *MockQuerier) ListActiveRepositories(ctx context.Context) ([]model.Repository, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Repository), args.Error(1)
}

func (m *MockQuerier) BeginSync(ctx context.Context, repoID int64) (bool, error) {
	args := m.Called(ctx, repoID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQuerier) FinishSync(ctx context.Context, repoID int64, status model.RepoSyncStatus, lastSyncedAt *time.Time) error {
	args := m.Called(ctx, repoID, status, lastSyncedAt)
	return args.Error(0)
}

func (m *MockQuerier) DeactivateRepository(ctx context.Context, repoID int64) error {
	args := m.Called(ctx, repoID)
	return args.Error(0)
}

func (m *MockQuerier) StaleSyncingRepositories(ctx context.Context, staleAfter time.Duration) ([]model.Repository, error) {
	args := m.Called(ctx, staleAfter)
	return args.Get(0).([]model.Repository), args.Error(1)
}

func (m *MockQuerier) RecordCommit(ctx context.Context, arg store.RecordCommitParams) (model.Commit, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Commit), args.Error(1)
}

func (m *MockQuerier) GetCommit(ctx context.Context, id int64) (model.Commit, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Commit), args.Error(1)
}

func (m *MockQuerier) GetCommitBySHA(ctx context.Context, repoID int64, sha string) (model.Commit, error) {
	args := m.Called(ctx, repoID, sha)
	return args.Get(0).(model.Commit), args.Error(1)
}

func (m *MockQuerier) LatestSyncedCommit(ctx context.Context, repoID int64) (*model.Commit, error) {
	args := m.Called(ctx, repoID)
	var c *model.Commit
	if v := args.Get(0); v != nil {
		c = v.(*model.Commit)
	}
	return c, args.Error(1)
}

func (m *MockQuerier) MarkCommitSynced(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) RecordFileChange(ctx context.Context, arg store.RecordFileChangeParams) (model.FileChange, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.FileChange), args.Error(1)
}

func (m *MockQuerier) GetFileChange(ctx context.Context, id int64) (model.FileChange, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.FileChange), args.Error(1)
}

func (m *MockQuerier) MarkFileSynced(ctx context.Context, id int64, processTimeMS int64) error {
	args := m.Called(ctx, id, processTimeMS)
	return args.Error(0)
}

func (m *MockQuerier) MarkFileSkipped(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) MarkFileFailed(ctx context.Context, id int64, errorType, errorMessage string, baseDelay time.Duration) error {
	args := m.Called(ctx, id, errorType, errorMessage, baseDelay)
	return args.Error(0)
}

func (m *MockQuerier) FileRetryCandidates(ctx context.Context, limit int) ([]model.FileChange, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.FileChange), args.Error(1)
}

func (m *MockQuerier) FileHistory(ctx context.Context, repoID int64, filePath string, limit int) ([]model.FileChange, error) {
	args := m.Called(ctx, repoID, filePath, limit)
	return args.Get(0).([]model.FileChange), args.Error(1)
}

func (m *MockQuerier) PurgeFileHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) Enqueue(ctx context.Context, arg store.EnqueueParams) (model.QueueEntry, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.QueueEntry), args.Error(1)
}

func (m *MockQuerier) EnqueueBatch(ctx context.Context, params []store.EnqueueParams) (int, error) {
	args := m.Called(ctx, params)
	return args.Int(0), args.Error(1)
}

func (m *MockQuerier) ClaimBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, repoID, limit)
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *MockQuerier) ClaimRetryBatch(ctx context.Context, repoID *int64, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, repoID, limit)
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *MockQuerier) CompleteEntry(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) FailEntry(ctx context.Context, id int64, lastError string, baseDelay time.Duration) (bool, error) {
	args := m.Called(ctx, id, lastError, baseDelay)
	return args.Bool(0), args.Error(1)
}

func (m *MockQuerier) ResetStuckEntries(ctx context.Context, staleAfter time.Duration) (int64, error) {
	args := m.Called(ctx, staleAfter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) QueueStatusCounts(ctx context.Context, repoID *int64) (model.QueueCounts, error) {
	args := m.Called(ctx, repoID)
	return args.Get(0).(model.QueueCounts), args.Error(1)
}

func (m *MockQuerier) NextRetryDue(ctx context.Context, repoID *int64) (*time.Time, error) {
	args := m.Called(ctx, repoID)
	var due *time.Time
	if v := args.Get(0); v != nil {
		due = v.(*time.Time)
	}
	return due, args.Error(1)
}

func (m *MockQuerier) PurgeCompletedEntries(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) OpenSession(ctx context.Context, arg store.OpenSessionParams) (model.SyncSession, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.SyncSession), args.Error(1)
}

func (m *MockQuerier) UpdateSessionDiff(ctx context.Context, id int64, toSHA string, filesQueued int) error {
	args := m.Called(ctx, id, toSHA, filesQueued)
	return args.Error(0)
}

func (m *MockQuerier) IncrementSession(ctx context.Context, id int64, delta model.SessionDelta) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

func (m *MockQuerier) CloseSession(ctx context.Context, id int64, status model.SessionStatus, errorMessage string) error {
	args := m.Called(ctx, id, status, errorMessage)
	return args.Error(0)
}

func (m *MockQuerier) GetSession(ctx context.Context, id int64) (model.SyncSession, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.SyncSession), args.Error(1)
}

// MockProvider is a mock of the source.Provider interface.
type MockProvider struct {
	mock.Mock
}

var _ source.Provider = (*MockProvider)(nil)

func (m *MockProvider) Head(ctx context.Context, owner, name, branch string) (string, error) {
	args := m.Called(ctx, owner, name, branch)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Diff(ctx context.Context, owner, name, fromSHA, headSHA string) (*source.Diff, error) {
	args := m.Called(ctx, owner, name, fromSHA, headSHA)
	var d *source.Diff
	if v := args.Get(0); v != nil {
		d = v.(*source.Diff)
	}
	return d, args.Error(1)
}

func (m *MockProvider) FileContent(ctx context.Context, owner, name, ref, path string) ([]byte, error) {
	args := m.Called(ctx, owner, name, ref, path)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

// MockEmbedder is a mock of the embed.Embedder interface.
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	var v [][]float32
	if got := args.Get(0); got != nil {
		v = got.([][]float32)
	}
	return v, args.Error(1)
}

// MockKB is a mock of the kb.Store interface.
type MockKB struct {
	mock.Mock
}

func (m *MockKB) UpsertChunks(ctx context.Context, repoID int64, path string, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	args := m.Called(ctx, repoID, path, chunks, vectors)
	return args.Int(0), args.Error(1)
}

func (m *MockKB) DeleteFile(ctx context.Context, repoID int64, path string) (int, error) {
	args := m.Called(ctx, repoID, path)
	return args.Int(0), args.Error(1)
}
