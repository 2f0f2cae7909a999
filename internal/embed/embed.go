// internal/embed/embed.go

// Package embed turns text into vectors. Failures are transient from the
// pipeline's point of view and surface as queue-entry failures.
package embed

import "context"

// Embedder is the batched embedding contract.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
