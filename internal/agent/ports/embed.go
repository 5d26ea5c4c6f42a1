package ports

import "context"

// Embedder turns text into a dense vector for similarity search across the
// memory tiers. Implementations must be deterministic for identical input.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name identifies the backing model or scheme.
	Name() string
}
