package memory

import (
	"context"
	"testing"

	"surf/internal/logging"
	"surf/internal/storage"
)

func openSemantic(t *testing.T) *SemanticStore {
	t.Helper()
	kv, err := storage.OpenMemoryKV()
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	store, err := NewSemanticStore(kv, NewHashEmbedder(64), logging.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestSemanticUpsertCreatesAndMerges(t *testing.T) {
	store := openSemantic(t)
	ctx := context.Background()

	p := Pattern{Key: "tags:extraction", Statement: "extraction goals succeed", Sources: []string{"ep1", "ep2"}}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.Get("tags:extraction")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Strength != 2 || len(got.Sources) != 2 {
		t.Fatalf("initial pattern %+v", got)
	}

	// New source strengthens; known sources do not.
	p.Sources = []string{"ep2", "ep3"}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ = store.Get("tags:extraction")
	if got.Strength != 3 || len(got.Sources) != 3 {
		t.Fatalf("merged pattern %+v", got)
	}
}

func TestSemanticUpsertIdempotent(t *testing.T) {
	store := openSemantic(t)
	ctx := context.Background()
	p := Pattern{Key: "tags:navigation", Statement: "dismiss banners before interacting", Sources: []string{"ep1"}}

	for i := 0; i < 3; i++ {
		if err := store.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	got, err := store.Get("tags:navigation")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Strength != 1 || len(got.Sources) != 1 {
		t.Fatalf("repeated upsert must not inflate: %+v", got)
	}
	all, err := store.List()
	if err != nil || len(all) != 1 {
		t.Fatalf("duplicate rows created: %v %+v", err, all)
	}
}

func TestSemanticSearch(t *testing.T) {
	store := openSemantic(t)
	ctx := context.Background()
	patterns := []Pattern{
		{Key: "a", Statement: "cookie consent banners block clicks until dismissed", Sources: []string{"e1"}},
		{Key: "b", Statement: "login forms need the password field typed last", Sources: []string{"e2"}},
	}
	for _, p := range patterns {
		if err := store.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	// The hash embedder has no stemming, so the query must share literal
	// tokens with the pattern it is supposed to retrieve.
	got, err := store.Search(ctx, "do cookie consent banners block clicks", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Key != "a" {
		t.Fatalf("unexpected hit: %+v", got)
	}
}

func TestSemanticClear(t *testing.T) {
	store := openSemantic(t)
	ctx := context.Background()
	if err := store.Upsert(ctx, Pattern{Key: "k", Statement: "s", Sources: []string{"e"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if all, _ := store.List(); len(all) != 0 {
		t.Fatalf("rows survived clear")
	}
	if hits, _ := store.Search(ctx, "s", 1); len(hits) != 0 {
		t.Fatalf("index survived clear")
	}
}
