// internal/kb/kb_test.go
package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkID(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, ChunkID(1, "main.go", 0), ChunkID(1, "main.go", 0))
	})

	t.Run("differs across repo, path and index", func(t *testing.T) {
		base := ChunkID(1, "main.go", 0)
		assert.NotEqual(t, base, ChunkID(2, "main.go", 0))
		assert.NotEqual(t, base, ChunkID(1, "other.go", 0))
		assert.NotEqual(t, base, ChunkID(1, "main.go", 1))
	})

	t.Run("path separators do not collide with the key format", func(t *testing.T) {
		// "a:b" at index 1 vs "a" at index "b:1" style confusion.
		assert.NotEqual(t, ChunkID(1, "a:b", 1), ChunkID(1, "a", 1))
	})
}
