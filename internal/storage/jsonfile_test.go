package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "working.json")

	type state struct {
		Goal  string `json:"goal"`
		Steps int    `json:"steps"`
	}
	want := state{Goal: "extract all links", Steps: 3}
	if err := WriteJSONFile(path, want); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}

	var got state
	if err := ReadJSONFile(path, &got); err != nil {
		t.Fatalf("ReadJSONFile: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestWriteJSONFileLeavesNoTempDebris(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "valence_state.json")
	if err := WriteJSONFile(path, map[string]float64{"state": 0.25}); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteJSONFileReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "working.json")
	if err := WriteJSONFile(path, map[string]int{"v": 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSONFile(path, map[string]int{"v": 2}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var got map[string]int
	if err := ReadJSONFile(path, &got); err != nil {
		t.Fatalf("ReadJSONFile: %v", err)
	}
	if got["v"] != 2 {
		t.Fatalf("expected replacement value 2, got %d", got["v"])
	}
}

func TestReadJSONFileMissingReportsNotExist(t *testing.T) {
	err := ReadJSONFile(filepath.Join(t.TempDir(), "absent.json"), &struct{}{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
