package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

type record struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

func TestKVPutGetRoundTrip(t *testing.T) {
	kv, err := OpenMemoryKV()
	if err != nil {
		t.Fatalf("OpenMemoryKV: %v", err)
	}
	defer kv.Close()

	want := record{ID: "abc", Score: 7}
	if err := kv.PutJSON("episode/abc", want); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var got record
	if err := kv.GetJSON("episode/abc", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestKVGetMissingKey(t *testing.T) {
	kv, err := OpenMemoryKV()
	if err != nil {
		t.Fatalf("OpenMemoryKV: %v", err)
	}
	defer kv.Close()

	var out record
	err = kv.GetJSON("episode/none", &out)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKVScanPrefix(t *testing.T) {
	kv, err := OpenMemoryKV()
	if err != nil {
		t.Fatalf("OpenMemoryKV: %v", err)
	}
	defer kv.Close()

	for _, r := range []record{{ID: "a", Score: 1}, {ID: "b", Score: 2}, {ID: "c", Score: 3}} {
		if err := kv.PutJSON("skill/"+r.ID, r); err != nil {
			t.Fatalf("PutJSON: %v", err)
		}
	}
	if err := kv.PutJSON("other/x", record{ID: "x"}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var seen []string
	err = ScanJSON(kv, "skill/", func(key string, r record) bool {
		seen = append(seen, r.ID)
		return true
	})
	if err != nil {
		t.Fatalf("ScanJSON: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 records under prefix, got %d (%v)", len(seen), seen)
	}

	n, err := kv.Count("skill/")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
}

func TestKVDelete(t *testing.T) {
	kv, err := OpenMemoryKV()
	if err != nil {
		t.Fatalf("OpenMemoryKV: %v", err)
	}
	defer kv.Close()

	if err := kv.PutJSON("k", record{ID: "k"}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err := kv.Has("k")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be gone after Delete")
	}
	// Deleting again must not error.
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("Delete of missing key: %v", err)
	}
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "episodic.db")

	kv, err := OpenKV(KVConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("OpenKV: %v", err)
	}
	if err := kv.PutJSON("episode/1", record{ID: "1", Score: 9}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv2, err := OpenKV(KVConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv2.Close()

	var got record
	if err := kv2.GetJSON("episode/1", &got); err != nil {
		t.Fatalf("GetJSON after reopen: %v", err)
	}
	if got.Score != 9 {
		t.Fatalf("persisted value mismatch: %+v", got)
	}
}
