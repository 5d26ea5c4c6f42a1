package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

const episodePrefix = "episode/"

// EpisodicStore persists finished episodes and retrieves them by similarity
// to a new goal. Rows live in badger; the vector index is rebuilt from the
// rows on open.
type EpisodicStore struct {
	mu     sync.RWMutex
	kv     *storage.KV
	index  *index
	logger logging.Logger
}

// NewEpisodicStore opens the store over kv and indexes every existing row.
func NewEpisodicStore(kv *storage.KV, embedder ports.Embedder, logger logging.Logger) (*EpisodicStore, error) {
	ix, err := newIndex("episodes", embedder)
	if err != nil {
		return nil, err
	}
	s := &EpisodicStore{kv: kv, index: ix, logger: logging.OrNop(logger)}
	if err := s.reindex(context.Background()); err != nil {
		return nil, fmt.Errorf("reindex episodes: %w", err)
	}
	return s, nil
}

func (s *EpisodicStore) reindex(ctx context.Context) error {
	var indexErr error
	err := storage.ScanJSON(s.kv, episodePrefix, func(_ string, ep Episode) bool {
		if err := s.index.add(ctx, ep.ID, ep.searchText(), nil); err != nil {
			indexErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return indexErr
}

// Save persists an episode, assigning ID and timestamp when absent.
func (s *EpisodicStore) Save(ctx context.Context, ep *Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	if err := s.kv.PutJSON(episodePrefix+ep.ID, ep); err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	if err := s.index.add(ctx, ep.ID, ep.searchText(), nil); err != nil {
		return fmt.Errorf("index episode: %w", err)
	}
	s.logger.Debug("saved episode %s outcome=%s tags=%v", ep.ID, ep.Outcome, ep.Tags)
	return nil
}

// Get fetches one episode by id.
func (s *EpisodicStore) Get(id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ep Episode
	if err := s.kv.GetJSON(episodePrefix+id, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// EpisodeFilter narrows a similarity search after retrieval.
type EpisodeFilter struct {
	SuccessOnly bool
	Tags        []string
}

func (f EpisodeFilter) admits(ep *Episode) bool {
	if f.SuccessOnly && !ep.Success() {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range ep.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search returns up to topK episodes similar to query, best first. Filters
// apply after retrieval, so the engine is over-queried to compensate.
func (s *EpisodicStore) Search(ctx context.Context, query string, topK int, filter EpisodeFilter) ([]*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 3
	}
	hits, err := s.index.search(ctx, query, topK*3)
	if err != nil {
		return nil, err
	}
	out := make([]*Episode, 0, topK)
	for _, h := range hits {
		var ep Episode
		if err := s.kv.GetJSON(episodePrefix+h.ID, &ep); err != nil {
			s.logger.Warn("episode %s indexed but missing: %v", h.ID, err)
			continue
		}
		if !filter.admits(&ep) {
			continue
		}
		out = append(out, &ep)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// List returns episodes newest first, up to limit (all when limit <= 0).
func (s *EpisodicStore) List(limit int) ([]*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Episode
	err := storage.ScanJSON(s.kv, episodePrefix, func(_ string, ep Episode) bool {
		e := ep
		all = append(all, &e)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the stored episode count.
func (s *EpisodicStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kv.Count(episodePrefix)
}

// Clear removes every episode and its index entries.
func (s *EpisodicStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	err := storage.ScanJSON(s.kv, episodePrefix, func(_ string, ep Episode) bool {
		ids = append(ids, ep.ID)
		return true
	})
	if err != nil {
		return err
	}
	if err := s.kv.DropPrefix(episodePrefix); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.index.remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
