// internal/kb/kb.go

// Package kb is the knowledge-base vector store the pipeline writes to.
package kb

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kb-syncer/internal/chunker"
)

// Store is the capability contract the pipeline consumes: idempotent
// chunk upserts and file-level deletion. Chunk counts of a deleted file
// are not knowable at delete time, so deletion is keyed by file.
type Store interface {
	// UpsertChunks replaces the vectors of one file and returns how many
	// chunk rows were written.
	UpsertChunks(ctx context.Context, repoID int64, path string, chunks []chunker.Chunk, vectors [][]float32) (int, error)
	// DeleteFile removes every vector of one file and returns how many
	// were deleted.
	DeleteFile(ctx context.Context, repoID int64, path string) (int, error)
}

// chunkNamespace anchors the deterministic chunk id space.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kb-syncer"))

// ChunkID derives a stable id for a chunk of a file, so re-embedding the
// same file overwrites rather than duplicates.
func ChunkID(repoID int64, path string, index int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%d:%s:%d", repoID, path, index)))
}
