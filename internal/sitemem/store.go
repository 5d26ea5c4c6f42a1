package sitemem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

const (
	// ConsultThreshold is the confidence below which a memory stops being
	// consulted (it is retained for re-learning).
	ConsultThreshold = 0.5
	// DeleteThreshold is the confidence below which a memory is removed.
	DeleteThreshold = 0.1
	// successDelta and failureDelta are the only confidence adjustments.
	successDelta = 0.05
	failureDelta = 0.10
	// ValidationTolerance is how far (px) a candidate's center may sit from
	// the vision-supplied center and still count as the same element.
	ValidationTolerance = 50.0

	// Initial confidence: full for a memory with at least one live-validated
	// candidate, reduced when every candidate had to be stored on faith.
	confidenceValidated   = 1.0
	confidenceUnvalidated = 0.7
)

const sitePrefix = "site/"

// ErrNoCandidates means synthesis produced nothing selectable, typically an
// element with no id, classes, attributes, or text.
var ErrNoCandidates = errors.New("sitemem: no selector candidates for element")

// Store persists SiteMemory entries in badger.
type Store struct {
	mu     sync.RWMutex
	kv     *storage.KV
	logger logging.Logger
}

// NewStore opens the store over kv.
func NewStore(kv *storage.KV, logger logging.Logger) *Store {
	return &Store{kv: kv, logger: logging.OrNop(logger)}
}

func key(pattern, description string) string {
	return sitePrefix + pattern + "|" + normalizeDescription(description)
}

func normalizeDescription(d string) string {
	return strings.Join(strings.Fields(strings.ToLower(d)), " ")
}

// FindMemory returns the consultable memory for (url, description). A stored
// memory whose confidence decayed below the consult threshold is invisible
// here until re-learning restores it.
func (s *Store) FindMemory(url, description string) (*SiteMemory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, err := s.lookup(Canonicalize(url), description)
	if err != nil || !mem.Consultable() {
		return nil, false
	}
	return mem, true
}

func (s *Store) lookup(pattern, description string) (*SiteMemory, error) {
	var mem SiteMemory
	if err := s.kv.GetJSON(key(pattern, description), &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// SynthesizeAndSave derives selectors for a vision-identified element,
// validates them against the live page, and persists the result. visionX and
// visionY are the center the vision model reported; a candidate resolving
// within the tolerance of that point is marked validated.
func (s *Store) SynthesizeAndSave(ctx context.Context, driver ports.PageDriver, url, description string, el ports.NodeInfo, visionX, visionY float64) (*SiteMemory, error) {
	candidates := Synthesize(el)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	anyValidated := false
	for i := range candidates {
		if s.validate(ctx, driver, &candidates[i], visionX, visionY) {
			candidates[i].Validated = true
			anyValidated = true
		}
	}

	mem := &SiteMemory{
		Pattern:     Canonicalize(url),
		Description: normalizeDescription(description),
		Candidates:  candidates,
		Confidence:  confidenceUnvalidated,
		CreatedAt:   time.Now(),
	}
	if anyValidated {
		mem.Confidence = confidenceValidated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.PutJSON(key(mem.Pattern, mem.Description), mem); err != nil {
		return nil, fmt.Errorf("save site memory: %w", err)
	}
	s.logger.Debug("learned %q on %s: %d candidates, validated=%v", mem.Description, mem.Pattern, len(candidates), anyValidated)
	return mem, nil
}

// validate tries one candidate on the live page and compares centers.
func (s *Store) validate(ctx context.Context, driver ports.PageDriver, c *SelectorCandidate, visionX, visionY float64) bool {
	if c.Kind == KindTagClass {
		// Accept-when for this strategy is "at most one match".
		ids, err := driver.QuerySelectorAll(ctx, c.Value)
		if err != nil || len(ids) > 1 {
			return false
		}
	}
	nodeID, err := c.Resolve(ctx, driver)
	if err != nil || nodeID == "" {
		return false
	}
	info, err := driver.DescribeNode(ctx, nodeID)
	if err != nil {
		return false
	}
	cx, cy := info.Box.Center()
	return math.Abs(cx-visionX) <= ValidationTolerance && math.Abs(cy-visionY) <= ValidationTolerance
}

// TryCandidates walks the memory's candidates in descending priority and
// returns the first that resolves on the live page. A miss means the caller
// must fall back to vision and record the failure.
func (s *Store) TryCandidates(ctx context.Context, driver ports.PageDriver, mem *SiteMemory) (nodeID string, used *SelectorCandidate, ok bool) {
	sorted := append([]SelectorCandidate(nil), mem.Candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	for i := range sorted {
		id, err := sorted[i].Resolve(ctx, driver)
		if err != nil || id == "" {
			continue
		}
		return id, &sorted[i], true
	}
	return "", nil, false
}

// RecordUse folds one reuse outcome into the memory's ledger: +0.05 on
// success saturating at 1, -0.10 on failure with a floor of 0. A memory
// decayed below the delete threshold is removed entirely.
func (s *Store) RecordUse(mem *SiteMemory, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem.UseCount++
	mem.LastUsed = time.Now()
	if success {
		mem.SuccessN++
		mem.Confidence = math.Min(1, mem.Confidence+successDelta)
	} else {
		mem.FailureN++
		mem.Confidence = math.Max(0, mem.Confidence-failureDelta)
	}

	k := key(mem.Pattern, mem.Description)
	if mem.Confidence < DeleteThreshold {
		s.logger.Debug("forgetting %q on %s: confidence %.2f", mem.Description, mem.Pattern, mem.Confidence)
		return s.kv.Delete(k)
	}
	return s.kv.PutJSON(k, mem)
}

// List returns every stored memory, most recently used first.
func (s *Store) List() ([]*SiteMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*SiteMemory
	err := storage.ScanJSON(s.kv, sitePrefix, func(_ string, m SiteMemory) bool {
		c := m
		all = append(all, &c)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastUsed.After(all[j].LastUsed) })
	return all, nil
}

// Clear removes every stored memory.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.DropPrefix(sitePrefix)
}
