package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

const patternPrefix = "pattern/"

// Pattern is a distilled regularity across episodes, e.g. "goals tagged
// navigation+extraction succeed with navigate then extract_links". The Key
// is canonical: consolidation upserts by it and never duplicates.
type Pattern struct {
	Key       string    `json:"key"`
	Statement string    `json:"statement"`
	Sources   []string  `json:"sources,omitempty"`
	Strength  int       `json:"strength"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Pattern) searchText() string { return p.Statement }

// SemanticStore holds consolidated patterns with similarity retrieval.
type SemanticStore struct {
	mu     sync.RWMutex
	kv     *storage.KV
	index  *index
	logger logging.Logger
}

// NewSemanticStore opens the store over kv and indexes existing patterns.
func NewSemanticStore(kv *storage.KV, embedder ports.Embedder, logger logging.Logger) (*SemanticStore, error) {
	ix, err := newIndex("patterns", embedder)
	if err != nil {
		return nil, err
	}
	s := &SemanticStore{kv: kv, index: ix, logger: logging.OrNop(logger)}
	var indexErr error
	err = storage.ScanJSON(kv, patternPrefix, func(_ string, p Pattern) bool {
		if err := ix.add(context.Background(), p.Key, p.searchText(), nil); err != nil {
			indexErr = err
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("reindex patterns: %w", err)
	}
	if indexErr != nil {
		return nil, fmt.Errorf("reindex patterns: %w", indexErr)
	}
	return s, nil
}

// Upsert merges p into the stored pattern with the same Key. New sources
// increment strength; re-submitting the same sources is a no-op, which keeps
// consolidation idempotent.
func (s *SemanticStore) Upsert(ctx context.Context, p Pattern) error {
	if p.Key == "" {
		return errors.New("pattern key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Pattern
	err := s.kv.GetJSON(patternPrefix+p.Key, &existing)
	switch {
	case err == nil:
		added := 0
		for _, src := range p.Sources {
			if !containsString(existing.Sources, src) {
				existing.Sources = append(existing.Sources, src)
				added++
			}
		}
		if added == 0 && existing.Statement == p.Statement {
			return nil
		}
		existing.Statement = p.Statement
		existing.Strength += added
		existing.UpdatedAt = time.Now()
		p = existing
	case errors.Is(err, storage.ErrKeyNotFound):
		if p.Strength == 0 {
			p.Strength = len(p.Sources)
		}
		p.UpdatedAt = time.Now()
	default:
		return err
	}

	if err := s.kv.PutJSON(patternPrefix+p.Key, &p); err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	if err := s.index.remove(ctx, p.Key); err != nil {
		return err
	}
	if err := s.index.add(ctx, p.Key, p.searchText(), nil); err != nil {
		return fmt.Errorf("index pattern: %w", err)
	}
	s.logger.Debug("pattern %s strength=%d", p.Key, p.Strength)
	return nil
}

// Get fetches a pattern by canonical key.
func (s *SemanticStore) Get(key string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p Pattern
	if err := s.kv.GetJSON(patternPrefix+key, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Search returns up to topK patterns similar to query, best first.
func (s *SemanticStore) Search(ctx context.Context, query string, topK int) ([]*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]*Pattern, 0, len(hits))
	for _, h := range hits {
		var p Pattern
		if err := s.kv.GetJSON(patternPrefix+h.ID, &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// List returns every pattern, strongest first.
func (s *SemanticStore) List() ([]*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Pattern
	err := storage.ScanJSON(s.kv, patternPrefix, func(_ string, p Pattern) bool {
		q := p
		all = append(all, &q)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Strength > all[j].Strength })
	return all, nil
}

// Clear removes every pattern and its index entries.
func (s *SemanticStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	err := storage.ScanJSON(s.kv, patternPrefix, func(_ string, p Pattern) bool {
		keys = append(keys, p.Key)
		return true
	})
	if err != nil {
		return err
	}
	if err := s.kv.DropPrefix(patternPrefix); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.index.remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
