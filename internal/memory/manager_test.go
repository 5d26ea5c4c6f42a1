package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"surf/internal/agent/ports/mocks"
	"surf/internal/logging"
)

func openManager(t *testing.T, clock *mocks.FakeClock) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Embedder: NewHashEmbedder(64),
		Logger:   logging.Nop(),
	}
	if clock != nil {
		cfg.Clock = clock
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerDefaultsNilClock(t *testing.T) {
	// A nil *FakeClock stored in the Clock interface is not == nil; the
	// manager must still fall back to the system clock instead of
	// dereferencing it.
	var clock *mocks.FakeClock
	m, err := NewManager(ManagerConfig{
		Embedder: NewHashEmbedder(64),
		Clock:    clock,
		Logger:   logging.Nop(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Close()

	if err := m.SaveEpisode(context.Background(), successEpisode("open the dashboard", "navigate")); err != nil {
		t.Fatalf("save episode: %v", err)
	}
}

func successEpisode(goal string, tools ...string) *Episode {
	steps := make([]Step, len(tools))
	for i, tool := range tools {
		steps[i] = Step{Index: i + 1, Tool: tool, Observation: "ok", Success: true}
	}
	return &Episode{
		Goal:     goal,
		Trace:    TraceOf(steps),
		Outcome:  OutcomeSuccess,
		Duration: 2 * time.Second,
		Tags:     InferTags(steps),
		ToolSeq:  ToolSequence(steps),
	}
}

func TestSearchAllFansOut(t *testing.T) {
	m := openManager(t, nil)
	ctx := context.Background()

	if err := m.Episodic().Save(ctx, successEpisode("extract links from docs", "navigate", "extract_links")); err != nil {
		t.Fatalf("save episode: %v", err)
	}
	if err := m.Semantic().Upsert(ctx, Pattern{Key: "k", Statement: "extraction after navigation works", Sources: []string{"e"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := m.Skills().SaveOrUpdate(ctx, "extract-links", "navigate and extract links",
		[]SkillCall{{Tool: "navigate"}, {Tool: "extract_links"}}, time.Second); err != nil {
		t.Fatalf("save skill: %v", err)
	}

	res, err := m.SearchAll(ctx, "extract the links")
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(res.Episodes) == 0 || len(res.Patterns) == 0 || len(res.Skills) == 0 {
		t.Fatalf("every tier must report: %+v", res)
	}
}

func TestEnrichedContextCombinesTiers(t *testing.T) {
	m := openManager(t, nil)
	ctx := context.Background()

	m.Working.Begin("system", "extract links from example.test")
	m.Working.AddStep(Step{Tool: "navigate", Observation: "loaded", Success: true})

	if err := m.Episodic().Save(ctx, successEpisode("extract links from docs", "navigate", "extract_links")); err != nil {
		t.Fatalf("save: %v", err)
	}

	text := m.EnrichedContext(ctx, "extract links", 5)
	if !strings.Contains(text, "Goal: extract links from example.test") {
		t.Fatalf("missing working trace: %q", text)
	}
	if !strings.Contains(text, "Similar past runs:") {
		t.Fatalf("missing episodic section: %q", text)
	}
}

func TestSaveEpisodeConsolidatesByCount(t *testing.T) {
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	m := openManager(t, clock)
	ctx := context.Background()

	// Five similar successes: count trigger fires on the fifth save.
	for i := 0; i < 5; i++ {
		if err := m.SaveEpisode(ctx, successEpisode("extract links from site", "navigate", "extract_links")); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	patterns, err := m.Semantic().List()
	if err != nil {
		t.Fatalf("list patterns: %v", err)
	}
	if len(patterns) == 0 {
		t.Fatalf("consolidation must have produced a pattern")
	}
	skills, err := m.Skills().List()
	if err != nil || len(skills) == 0 {
		t.Fatalf("consolidation must have promoted a skill: %v", err)
	}
	if skills[0].ID != "navigate>extract_links" {
		t.Fatalf("promoted skill %q", skills[0].ID)
	}
}

func TestSaveEpisodeConsolidatesByTime(t *testing.T) {
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	m := openManager(t, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.SaveEpisode(ctx, successEpisode("download the report", "navigate", "click")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if patterns, _ := m.Semantic().List(); len(patterns) != 0 {
		t.Fatalf("two episodes must not trigger the count threshold")
	}

	clock.Advance(6 * time.Minute)
	if err := m.SaveEpisode(ctx, successEpisode("download the report", "navigate", "click")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if patterns, _ := m.Semantic().List(); len(patterns) == 0 {
		t.Fatalf("elapsed time must trigger consolidation")
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	m := openManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Episodic().Save(ctx, successEpisode("fill the signup form", "navigate", "type", "click")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := m.Consolidate(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	patterns, _ := m.Semantic().List()
	skills, _ := m.Skills().List()

	if err := m.Consolidate(ctx); err != nil {
		t.Fatalf("second consolidate: %v", err)
	}
	patterns2, _ := m.Semantic().List()
	skills2, _ := m.Skills().List()

	if len(patterns2) != len(patterns) || len(skills2) != len(skills) {
		t.Fatalf("second pass changed the stores: %d/%d patterns, %d/%d skills",
			len(patterns), len(patterns2), len(skills), len(skills2))
	}
	if skills2[0].ExecCount != skills[0].ExecCount {
		t.Fatalf("second pass inflated skill stats: %d vs %d", skills[0].ExecCount, skills2[0].ExecCount)
	}
}

func TestConsolidateSkipsFailures(t *testing.T) {
	m := openManager(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ep := successEpisode("log into the portal", "navigate", "type", "click")
		ep.Outcome = OutcomeFailed
		if err := m.Episodic().Save(ctx, ep); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := m.Consolidate(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if patterns, _ := m.Semantic().List(); len(patterns) != 0 {
		t.Fatalf("failed episodes must not form patterns")
	}
	if skills, _ := m.Skills().List(); len(skills) != 0 {
		t.Fatalf("failed episodes must not become skills")
	}
}

func TestInferTags(t *testing.T) {
	steps := []Step{
		{Tool: "navigate", Success: true},
		{Tool: "extract_links", Success: true},
		{Tool: "click", Success: false, ErrorKind: "captcha"},
	}
	tags := InferTags(steps)
	want := []string{"captcha", "extraction", "interaction", "navigation"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", tags, want)
		}
	}
}
