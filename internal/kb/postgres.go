// internal/kb/postgres.go
package kb

import (
	"context"
	"fmt"

	"kb-syncer/internal/chunker"
	"kb-syncer/internal/store"
)

// PostgresStore keeps one row per chunk with its embedding in the same
// database that backs the rest of the pipeline.
type PostgresStore struct {
	db store.DBTX
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore binds the store to a connection source.
func NewPostgresStore(db store.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertChunks writes the file's chunks under their deterministic ids,
// then drops rows beyond the new chunk count (the file shrank).
func (s *PostgresStore) UpsertChunks(ctx context.Context, repoID int64, path string, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	for i, c := range chunks {
		_, err := s.db.Exec(ctx, `
			INSERT INTO kb_chunks (chunk_id, repository_id, file_path, chunk_index, content, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (chunk_id) DO UPDATE
			SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, updated_at = now()`,
			ChunkID(repoID, path, c.Index), repoID, path, c.Index, c.Content, vectors[i])
		if err != nil {
			return 0, err
		}
	}

	_, err := s.db.Exec(ctx, `
		DELETE FROM kb_chunks
		WHERE repository_id = $1 AND file_path = $2 AND chunk_index >= $3`,
		repoID, path, len(chunks))
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// DeleteFile removes every chunk of one file.
func (s *PostgresStore) DeleteFile(ctx context.Context, repoID int64, path string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM kb_chunks WHERE repository_id = $1 AND file_path = $2`,
		repoID, path)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
