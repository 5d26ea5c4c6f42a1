package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

const skillPrefix = "skill/"

// ReliableSkillRate is the success rate at or above which a matched skill is
// preferred over planning from scratch.
const ReliableSkillRate = 0.7

// skillMatchSimilarity is the cosine floor below which a goal and a skill are
// considered unrelated, however reliable the skill is.
const skillMatchSimilarity = 0.6

// SkillCall is one replayable action of a skill.
type SkillCall struct {
	Tool string `json:"tool"`
	Args string `json:"args,omitempty"`
}

// Skill is a named, reusable action sequence with execution stats. Its ID is
// the canonical signature of the sequence, so the same plan promoted twice
// lands on the same row.
type Skill struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Calls       []SkillCall   `json:"calls"`
	ExecCount   int           `json:"exec_count"`
	SuccessN    int           `json:"success_count"`
	AvgDuration time.Duration `json:"avg_duration"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SuccessRate is successes over executions, 0 for a never-run skill.
func (s *Skill) SuccessRate() float64 {
	if s.ExecCount == 0 {
		return 0
	}
	return float64(s.SuccessN) / float64(s.ExecCount)
}

// Reliable reports whether the skill earned preference over planning.
func (s *Skill) Reliable() bool {
	return s.ExecCount > 0 && s.SuccessRate() >= ReliableSkillRate
}

func (s *Skill) searchText() string {
	return s.Name + "\n" + s.Description
}

// SkillSignature is the canonical ID of an action sequence.
func SkillSignature(calls []SkillCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Tool
	}
	return strings.Join(names, ">")
}

// SkillStore persists skills and matches them against new goals.
type SkillStore struct {
	mu     sync.RWMutex
	kv     *storage.KV
	index  *index
	logger logging.Logger
}

// NewSkillStore opens the store over kv and indexes existing skills.
func NewSkillStore(kv *storage.KV, embedder ports.Embedder, logger logging.Logger) (*SkillStore, error) {
	ix, err := newIndex("skills", embedder)
	if err != nil {
		return nil, err
	}
	s := &SkillStore{kv: kv, index: ix, logger: logging.OrNop(logger)}
	var indexErr error
	err = storage.ScanJSON(kv, skillPrefix, func(_ string, sk Skill) bool {
		if err := ix.add(context.Background(), sk.ID, sk.searchText(), nil); err != nil {
			indexErr = err
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("reindex skills: %w", err)
	}
	if indexErr != nil {
		return nil, fmt.Errorf("reindex skills: %w", indexErr)
	}
	return s, nil
}

// SaveOrUpdate upserts by sequence signature. A sequence seen before keeps
// its stats and gains one successful execution; a new one starts at 1/1.
func (s *SkillStore) SaveOrUpdate(ctx context.Context, name, description string, calls []SkillCall, duration time.Duration) (*Skill, error) {
	if len(calls) == 0 {
		return nil, errors.New("skill needs at least one call")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := SkillSignature(calls)
	var sk Skill
	err := s.kv.GetJSON(skillPrefix+id, &sk)
	switch {
	case err == nil:
		sk.record(true, duration)
	case errors.Is(err, storage.ErrKeyNotFound):
		sk = Skill{ID: id, Name: name, Description: description, Calls: calls, ExecCount: 1, SuccessN: 1, AvgDuration: duration}
	default:
		return nil, err
	}
	sk.UpdatedAt = time.Now()
	if err := s.persistLocked(ctx, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// promoteIfNew creates a skill for a consolidated sequence. An existing
// skill keeps its live stats untouched, which is what makes consolidation
// idempotent.
func (s *SkillStore) promoteIfNew(ctx context.Context, id, name, description string, calls []SkillCall, avg time.Duration, runs int) (*Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing Skill
	err := s.kv.GetJSON(skillPrefix+id, &existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	sk := Skill{ID: id, Name: name, Description: description, Calls: calls, ExecCount: runs, SuccessN: runs, AvgDuration: avg, UpdatedAt: time.Now()}
	if err := s.persistLocked(ctx, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// RecordExecution folds one replay outcome into the skill's stats.
func (s *SkillStore) RecordExecution(ctx context.Context, id string, success bool, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sk Skill
	if err := s.kv.GetJSON(skillPrefix+id, &sk); err != nil {
		return err
	}
	sk.record(success, duration)
	sk.UpdatedAt = time.Now()
	return s.persistLocked(ctx, &sk)
}

func (sk *Skill) record(success bool, duration time.Duration) {
	total := sk.AvgDuration*time.Duration(sk.ExecCount) + duration
	sk.ExecCount++
	if success {
		sk.SuccessN++
	}
	sk.AvgDuration = total / time.Duration(sk.ExecCount)
}

func (s *SkillStore) persistLocked(ctx context.Context, sk *Skill) error {
	if err := s.kv.PutJSON(skillPrefix+sk.ID, sk); err != nil {
		return fmt.Errorf("save skill: %w", err)
	}
	if err := s.index.remove(ctx, sk.ID); err != nil {
		return err
	}
	if err := s.index.add(ctx, sk.ID, sk.searchText(), nil); err != nil {
		return fmt.Errorf("index skill: %w", err)
	}
	return nil
}

// Get fetches a skill by signature.
func (s *SkillStore) Get(id string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sk Skill
	if err := s.kv.GetJSON(skillPrefix+id, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// Match returns the best reliable skill for the goal, or false when nothing
// above the reliability bar is similar enough.
func (s *SkillStore) Match(ctx context.Context, goal string) (*Skill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.search(ctx, goal, 3)
	if err != nil {
		s.logger.Warn("skill match failed: %v", err)
		return nil, false
	}
	for _, h := range hits {
		if h.Similarity < skillMatchSimilarity {
			continue
		}
		var sk Skill
		if err := s.kv.GetJSON(skillPrefix+h.ID, &sk); err != nil {
			continue
		}
		if sk.Reliable() {
			return &sk, true
		}
	}
	return nil, false
}

// Search returns up to topK skills similar to query regardless of stats.
func (s *SkillStore) Search(ctx context.Context, query string, topK int) ([]*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]*Skill, 0, len(hits))
	for _, h := range hits {
		var sk Skill
		if err := s.kv.GetJSON(skillPrefix+h.ID, &sk); err != nil {
			continue
		}
		out = append(out, &sk)
	}
	return out, nil
}

// List returns every skill, most reliable first.
func (s *SkillStore) List() ([]*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Skill
	err := storage.ScanJSON(s.kv, skillPrefix, func(_ string, sk Skill) bool {
		c := sk
		all = append(all, &c)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SuccessRate() > all[j].SuccessRate() })
	return all, nil
}

// Clear removes every skill and its index entries.
func (s *SkillStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	err := storage.ScanJSON(s.kv, skillPrefix, func(_ string, sk Skill) bool {
		ids = append(ids, sk.ID)
		return true
	})
	if err != nil {
		return err
	}
	if err := s.kv.DropPrefix(skillPrefix); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.index.remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
