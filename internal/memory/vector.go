package memory

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"surf/internal/agent/ports"
)

// index is the similarity-search side of a store. Records live in badger;
// the index is rebuilt from them on open, so it never needs its own
// persistence and never diverges from the canonical rows.
type index struct {
	db  *chromem.DB
	col *chromem.Collection
}

func newIndex(name string, embedder ports.Embedder) (*index, error) {
	db := chromem.NewDB()
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return &index{db: db, col: col}, nil
}

func (ix *index) add(ctx context.Context, id, content string, meta map[string]string) error {
	return ix.col.AddDocument(ctx, chromem.Document{ID: id, Content: content, Metadata: meta})
}

func (ix *index) remove(ctx context.Context, id string) error {
	return ix.col.Delete(ctx, nil, nil, id)
}

func (ix *index) count() int { return ix.col.Count() }

type hit struct {
	ID         string
	Similarity float32
}

// search returns up to topK ids by cosine similarity. topK is clamped to the
// document count because the engine rejects oversized result requests.
// Attribute filters (success, tags) are the caller's job, post-retrieval:
// filtering inside the engine shrinks the candidate set unpredictably.
func (ix *index) search(ctx context.Context, query string, topK int) ([]hit, error) {
	if topK <= 0 {
		topK = 5
	}
	if n := ix.col.Count(); n == 0 {
		return nil, nil
	} else if topK > n {
		topK = n
	}
	results, err := ix.col.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{ID: r.ID, Similarity: r.Similarity})
	}
	return hits, nil
}
