// internal/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	t.Run("nil error yields empty string", func(t *testing.T) {
		assert.Equal(t, "", Sanitize(nil))
	})

	t.Run("keeps only the first line", func(t *testing.T) {
		err := errors.New("connection refused\ngoroutine 1 [running]:\nmain.main()")
		assert.Equal(t, "connection refused", Sanitize(err))
	})

	t.Run("bounds the message length", func(t *testing.T) {
		err := errors.New(strings.Repeat("x", 2*MaxErrorLength))
		got := Sanitize(err)
		assert.Len(t, got, MaxErrorLength)
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		err := errors.New("  failed \r\nrest")
		assert.Equal(t, "failed", Sanitize(err))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exa...", Truncate("exactly-longer", 6))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
}

func TestErrorTypes(t *testing.T) {
	t.Run("duplicate commit wraps repo and sha", func(t *testing.T) {
		var err error = &DuplicateCommitError{RepositoryID: 7, SHA: "abc123"}
		assert.Contains(t, err.Error(), "abc123")
		var dup *DuplicateCommitError
		assert.True(t, errors.As(err, &dup))
	})

	t.Run("diff unavailable unwraps its cause", func(t *testing.T) {
		cause := errors.New("dial tcp: timeout")
		err := fmt.Errorf("sync: %w", &DiffUnavailableError{Repo: "o/r", Err: cause})
		var diffErr *DiffUnavailableError
		assert.True(t, errors.As(err, &diffErr))
		assert.True(t, errors.Is(err, cause))
	})
}
