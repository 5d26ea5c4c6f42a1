package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

// ManagerConfig wires the memory tiers together.
type ManagerConfig struct {
	// Dir is the persistence root. Empty means fully in-memory (tests).
	Dir      string
	Working  WorkingConfig
	Embedder ports.Embedder
	Clock    ports.Clock
	Logger   logging.Logger
	// ConsolidateEvery triggers consolidation after N saved episodes
	// (default 5); ConsolidateAfter triggers it by elapsed time regardless
	// (default 5 min).
	ConsolidateEvery int
	ConsolidateAfter time.Duration
}

// SearchResults is one parallel retrieval across the long-term tiers.
type SearchResults struct {
	Episodes []*Episode
	Patterns []*Pattern
	Skills   []*Skill
}

// Manager owns the memory stack: the working memory of the current run and
// the three long-term stores. The orchestrator reads EnrichedContext before
// each model call and calls SaveEpisode once per goal.
type Manager struct {
	Working *WorkingMemory

	episodic *EpisodicStore
	semantic *SemanticStore
	skills   *SkillStore

	kvs    []*storage.KV
	dir    string
	clock  ports.Clock
	logger logging.Logger

	mu               sync.Mutex
	consolidateEvery int
	consolidateAfter time.Duration
	sinceEpisodes    int
	lastConsolidate  time.Time
}

// NewManager opens the stores under cfg.Dir, or in memory when Dir is empty.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Embedder == nil {
		cfg.Embedder = NewHashEmbedder(0)
	}
	if cfg.ConsolidateEvery <= 0 {
		cfg.ConsolidateEvery = 5
	}
	if cfg.ConsolidateAfter <= 0 {
		cfg.ConsolidateAfter = 5 * time.Minute
	}
	logger := logging.OrNop(cfg.Logger)

	embedder, err := NewCachedEmbedder(cfg.Embedder, 0)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		Working:          NewWorking(cfg.Working, logger),
		dir:              cfg.Dir,
		clock:            ports.ClockOrSystem(cfg.Clock),
		logger:           logger,
		consolidateEvery: cfg.ConsolidateEvery,
		consolidateAfter: cfg.ConsolidateAfter,
	}
	m.lastConsolidate = m.clock.Now()

	open := func(name string) (*storage.KV, error) {
		if cfg.Dir == "" {
			return storage.OpenMemoryKV()
		}
		return storage.OpenKV(storage.KVConfig{Path: filepath.Join(cfg.Dir, name), Logger: logger})
	}

	for _, tier := range []struct {
		name string
		init func(*storage.KV) error
	}{
		{"episodic.db", func(kv *storage.KV) (err error) {
			m.episodic, err = NewEpisodicStore(kv, embedder, logger)
			return
		}},
		{"semantic.db", func(kv *storage.KV) (err error) {
			m.semantic, err = NewSemanticStore(kv, embedder, logger)
			return
		}},
		{"skills.db", func(kv *storage.KV) (err error) {
			m.skills, err = NewSkillStore(kv, embedder, logger)
			return
		}},
	} {
		kv, err := open(tier.name)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("open %s: %w", tier.name, err)
		}
		m.kvs = append(m.kvs, kv)
		if err := tier.init(kv); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// Episodic exposes the episode tier (CLI inspection, replay).
func (m *Manager) Episodic() *EpisodicStore { return m.episodic }

// Semantic exposes the pattern tier.
func (m *Manager) Semantic() *SemanticStore { return m.semantic }

// Skills exposes the skill tier.
func (m *Manager) Skills() *SkillStore { return m.skills }

// Close releases every store. Safe on a partially opened manager.
func (m *Manager) Close() error {
	var first error
	for _, kv := range m.kvs {
		if err := kv.Close(); err != nil && first == nil {
			first = err
		}
	}
	m.kvs = nil
	return first
}

// SearchAll fans a query out across the three long-term tiers in parallel.
func (m *Manager) SearchAll(ctx context.Context, query string) (SearchResults, error) {
	var res SearchResults
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.Episodes, err = m.episodic.Search(gctx, query, 3, EpisodeFilter{})
		return
	})
	g.Go(func() (err error) {
		res.Patterns, err = m.semantic.Search(gctx, query, 3)
		return
	})
	g.Go(func() (err error) {
		res.Skills, err = m.skills.Search(gctx, query, 3)
		return
	})
	if err := g.Wait(); err != nil {
		return SearchResults{}, err
	}
	return res, nil
}

// EnrichedContext returns the prompt context for the next model call: the
// compacted run trace plus what long-term memory knows about similar goals.
// Retrieval failures degrade to trace-only context; they never block a step.
func (m *Manager) EnrichedContext(ctx context.Context, query string, detailedTail int) string {
	var b strings.Builder
	b.WriteString(m.Working.GetContext(detailedTail))

	res, err := m.SearchAll(ctx, query)
	if err != nil {
		m.logger.Warn("memory retrieval failed, continuing with working memory only: %v", err)
		return b.String()
	}
	if len(res.Episodes) > 0 {
		b.WriteString("\nSimilar past runs:\n")
		for _, ep := range res.Episodes {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", ep.Outcome, firstLine(ep.Goal, 100), ep.Duration.Round(time.Second))
		}
	}
	if len(res.Patterns) > 0 {
		b.WriteString("\nLearned patterns:\n")
		for _, p := range res.Patterns {
			fmt.Fprintf(&b, "- %s\n", firstLine(p.Statement, 140))
		}
	}
	if len(res.Skills) > 0 {
		b.WriteString("\nKnown skills:\n")
		for _, sk := range res.Skills {
			fmt.Fprintf(&b, "- %s (%.0f%% over %d runs): %s\n",
				sk.Name, sk.SuccessRate()*100, sk.ExecCount, strings.Join(toolNames(sk.Calls), ", "))
		}
	}
	return b.String()
}

func toolNames(calls []SkillCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Tool
	}
	return names
}

// SaveEpisode persists a finished run and consolidates when the episode or
// time budget since the last pass is spent.
func (m *Manager) SaveEpisode(ctx context.Context, ep *Episode) error {
	if err := m.episodic.Save(ctx, ep); err != nil {
		return err
	}

	m.mu.Lock()
	m.sinceEpisodes++
	now := m.clock.Now()
	due := m.sinceEpisodes >= m.consolidateEvery || now.Sub(m.lastConsolidate) >= m.consolidateAfter
	if due {
		m.sinceEpisodes = 0
		m.lastConsolidate = now
	}
	m.mu.Unlock()

	if due {
		if err := m.Consolidate(ctx); err != nil {
			m.logger.Warn("consolidation failed: %v", err)
		}
	}
	return nil
}

// PersistWorking writes the current run trace to working.json for crash
// recovery. No-op for in-memory managers.
func (m *Manager) PersistWorking() error {
	if m.dir == "" {
		return nil
	}
	return m.Working.Persist(filepath.Join(m.dir, "working.json"))
}
