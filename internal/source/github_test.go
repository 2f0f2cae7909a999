// internal/source/github_test.go
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-syncer/internal/model"
)

// setupTestProvider creates a httptest server and a provider pointing to it.
func setupTestProvider(t *testing.T, handler http.Handler) (*GitHubProvider, *httptest.Server) {
	server := httptest.NewServer(handler)

	// We can pass an empty token because we are not authenticating to the real GitHub.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := NewGitHubProvider("", logger)

	// Override the provider's internal client to point to our test server.
	testClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	testClient.BaseURL = baseURL
	testClient.UploadURL = baseURL
	provider.gh = testClient

	return provider, server
}

func TestGitHubProvider_Head_Retry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "/repos/test/repo/commits/main", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "headsha123")
		})
		provider, server := setupTestProvider(t, handler)
		defer server.Close()

		sha, err := provider.Head(context.Background(), "test", "repo", "main")

		require.NoError(t, err)
		assert.Equal(t, "headsha123", sha)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("retries on 503 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			w.WriteHeader(http.StatusOK) // Succeed second time
			fmt.Fprint(w, "headsha123")
		})
		provider, server := setupTestProvider(t, handler)
		defer server.Close()

		_, err := provider.Head(context.Background(), "test", "repo", "main")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("handles rate limit error", func(t *testing.T) {
		var requestCount int32
		resetTime := time.Now().Add(50 * time.Millisecond) // Short wait time for test
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))
				w.WriteHeader(http.StatusForbidden) // RateLimitError is a 403
				fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "headsha123")
		})
		provider, server := setupTestProvider(t, handler)
		defer server.Close()

		_, err := provider.Head(context.Background(), "test", "repo", "main")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		provider, server := setupTestProvider(t, handler)
		defer server.Close()

		_, err := provider.Head(context.Background(), "test", "repo", "main")

		require.Error(t, err)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})
}

func TestGitHubProvider_Diff_Incremental(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/test/repo/commits/head1":
			fmt.Fprintln(w, `{
				"sha": "head1", "node_id": "C_head1",
				"commit": {"author": {"name": "tester", "email": "t@t.com", "date": "2024-03-01T12:00:00Z"}, "message": "feat: change things"},
				"stats": {"additions": 12, "deletions": 3}
			}`)
		case "/repos/test/repo/compare/base1...head1":
			fmt.Fprintln(w, `{
				"files": [
					{"filename": "new.go", "status": "added", "additions": 10},
					{"filename": "pkg/util.go", "status": "modified", "additions": 2, "deletions": 1},
					{"filename": "old.go", "status": "removed", "deletions": 2},
					{"filename": "moved.go", "status": "renamed", "previous_filename": "orig.go"},
					{"filename": "same.go", "status": "unchanged"}
				]
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	provider, server := setupTestProvider(t, handler)
	defer server.Close()

	diff, err := provider.Diff(context.Background(), "test", "repo", "base1", "head1")
	require.NoError(t, err)

	assert.Equal(t, "head1", diff.Commit.SHA)
	assert.Equal(t, "tester", diff.Commit.AuthorName)
	assert.Equal(t, 12, diff.Commit.Additions)
	assert.Equal(t, 3, diff.Commit.Deletions)

	require.Len(t, diff.Files, 4, "unchanged files are dropped")
	assert.Equal(t, 4, diff.Commit.FilesChanged)

	assert.Equal(t, model.ChangeAdded, diff.Files[0].ChangeType)
	assert.Equal(t, "new.go", diff.Files[0].Path)
	assert.Equal(t, model.ChangeModified, diff.Files[1].ChangeType)
	assert.Equal(t, model.ChangeDeleted, diff.Files[2].ChangeType)
	assert.Equal(t, model.ChangeRenamed, diff.Files[3].ChangeType)
	assert.Equal(t, "orig.go", diff.Files[3].OldPath)
}

func TestGitHubProvider_Diff_FullSync(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/test/repo/commits/head1":
			fmt.Fprintln(w, `{"sha": "head1", "commit": {"author": {"name": "tester", "date": "2024-03-01T12:00:00Z"}, "message": "initial"}}`)
		case "/repos/test/repo/git/trees/head1":
			fmt.Fprintln(w, `{
				"sha": "tree1",
				"tree": [
					{"path": "main.go", "type": "blob", "size": 120},
					{"path": "internal", "type": "tree"},
					{"path": "internal/app.go", "type": "blob", "size": 340}
				]
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	provider, server := setupTestProvider(t, handler)
	defer server.Close()

	diff, err := provider.Diff(context.Background(), "test", "repo", "", "head1")
	require.NoError(t, err)

	require.Len(t, diff.Files, 2, "tree entries are not files")
	for _, f := range diff.Files {
		assert.Equal(t, model.ChangeAdded, f.ChangeType)
	}
	assert.Equal(t, "main.go", diff.Files[0].Path)
	assert.Equal(t, 120, diff.Files[0].Size)
	assert.Equal(t, "internal/app.go", diff.Files[1].Path)
}

func TestGitHubProvider_FileContent(t *testing.T) {
	var server *httptest.Server
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/test/repo/contents/pkg":
			fmt.Fprintf(w, `[{"type": "file", "name": "main.go", "path": "pkg/main.go", "download_url": "%s/raw/pkg/main.go"}]`, server.URL)
		case "/raw/pkg/main.go":
			fmt.Fprint(w, "package main\n")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	provider, srv := setupTestProvider(t, handler)
	server = srv
	defer server.Close()

	content, err := provider.FileContent(context.Background(), "test", "repo", "head1", "pkg/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
}
