package sitemem

import (
	"context"
	"math"
	"strings"
	"testing"

	"surf/internal/agent/ports"
	"surf/internal/agent/ports/mocks"
	"surf/internal/logging"
	"surf/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	kv, err := storage.OpenMemoryKV()
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv, logging.Nop())
}

// signinPage resolves #signin-btn to a node centered at (100, 50) and
// counts selector lookups.
type signinPage struct {
	mocks.MockPageDriver
	queries []string
}

func newSigninPage() *signinPage {
	p := &signinPage{}
	p.QuerySelectorFunc = func(_ context.Context, selector string) (string, error) {
		p.queries = append(p.queries, selector)
		if selector == "#signin-btn" {
			return "node-7", nil
		}
		return "", nil
	}
	p.QuerySelectorAllFunc = func(_ context.Context, selector string) ([]string, error) {
		if selector == "#signin-btn" {
			return []string{"node-7"}, nil
		}
		return nil, nil
	}
	p.DescribeNodeFunc = func(_ context.Context, nodeID string) (*ports.NodeInfo, error) {
		return &ports.NodeInfo{NodeID: nodeID, Tag: "a", Box: ports.Box{X: 80, Y: 40, Width: 40, Height: 20}, Visible: true, PointerEvents: true}, nil
	}
	return p
}

var signinElement = ports.NodeInfo{
	Tag:     "a",
	ID:      "signin-btn",
	Text:    "Sign in",
	Attrs:   map[string]string{"href": "/signin"},
	Box:     ports.Box{X: 80, Y: 40, Width: 40, Height: 20},
	Visible: true,
}

func TestSynthesizePriorityOrder(t *testing.T) {
	candidates := Synthesize(signinElement)
	if len(candidates) < 3 {
		t.Fatalf("too few candidates: %+v", candidates)
	}
	if candidates[0].Kind != KindID || candidates[0].Value != "#signin-btn" || candidates[0].Priority != 100 {
		t.Fatalf("id candidate must lead: %+v", candidates[0])
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Priority > candidates[i-1].Priority {
			t.Fatalf("candidates out of priority order: %+v", candidates)
		}
	}
	for _, c := range candidates {
		if c.Kind == KindExactText && !strings.Contains(c.Value, `"Sign in"`) {
			t.Fatalf("text xpath malformed: %q", c.Value)
		}
	}
}

func TestSynthesizeRejectsUnstableID(t *testing.T) {
	el := signinElement
	el.ID = "css-1a2b3c"
	for _, c := range Synthesize(el) {
		if c.Kind == KindID {
			t.Fatalf("auto-generated id must not become a candidate")
		}
	}
}

func TestSynthesizeEmptyElement(t *testing.T) {
	if got := Synthesize(ports.NodeInfo{Tag: "div"}); len(got) != 0 {
		t.Fatalf("bare div must yield no candidates, got %+v", got)
	}
}

func TestSynthesizeNameOnlyForFormControls(t *testing.T) {
	// Anchors carry name attributes too, but a[name=...] is legacy markup,
	// not a form-field identity.
	link := ports.NodeInfo{Tag: "a", Attrs: map[string]string{"name": "signin"}}
	for _, c := range Synthesize(link) {
		if c.Kind == KindName {
			t.Fatalf("anchor name must not become a candidate: %+v", c)
		}
	}

	field := ports.NodeInfo{Tag: "input", Attrs: map[string]string{"name": "email"}}
	var got string
	for _, c := range Synthesize(field) {
		if c.Kind == KindName {
			got = c.Value
		}
	}
	if got != `input[name="email"]` {
		t.Fatalf("input name candidate = %q", got)
	}
}

func TestSynthesizeAndSaveThenReuseAcrossSiblingPages(t *testing.T) {
	store := openStore(t)
	page := newSigninPage()
	ctx := context.Background()

	mem, err := store.SynthesizeAndSave(ctx, page, "https://shop.test/category/shoes", "the sign in link", signinElement, 100, 50)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if mem.Pattern != "shop.test/category/*" {
		t.Fatalf("pattern = %q", mem.Pattern)
	}
	if mem.Confidence != 1.0 {
		t.Fatalf("confidence with a validated candidate = %v, want 1.0", mem.Confidence)
	}
	if !mem.Candidates[0].Validated {
		t.Fatalf("id candidate must be validated: %+v", mem.Candidates[0])
	}

	// A sibling leaf canonicalizes to the same pattern.
	found, ok := store.FindMemory("https://shop.test/category/bags", "the sign in link")
	if !ok {
		t.Fatalf("memory must be found on the sibling page")
	}

	nodeID, used, ok := store.TryCandidates(ctx, page, found)
	if !ok || nodeID != "node-7" {
		t.Fatalf("reuse failed: %q %v", nodeID, ok)
	}
	if used.Kind != KindID {
		t.Fatalf("highest-priority candidate must be tried first, used %+v", used)
	}
	if page.queries[len(page.queries)-1] != "#signin-btn" {
		t.Fatalf("unexpected selector order: %v", page.queries)
	}

	// Success at 1.0 saturates.
	if err := store.RecordUse(found, true); err != nil {
		t.Fatalf("record use: %v", err)
	}
	if found.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want saturation at 1.0", found.Confidence)
	}
}

func TestSynthesizeAndSaveUnvalidatedConfidence(t *testing.T) {
	store := openStore(t)
	// A page where nothing resolves: every candidate stays unvalidated.
	page := &mocks.MockPageDriver{}

	mem, err := store.SynthesizeAndSave(context.Background(), page, "https://shop.test/category/shoes", "the sign in link", signinElement, 100, 50)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if mem.Confidence != 0.7 {
		t.Fatalf("unvalidated confidence = %v, want 0.7", mem.Confidence)
	}
	for _, c := range mem.Candidates {
		if c.Validated {
			t.Fatalf("nothing resolved, yet %+v is validated", c)
		}
	}
}

func TestValidationRejectsFarElement(t *testing.T) {
	store := openStore(t)
	page := newSigninPage()
	// Vision says the element is 300px away from where the selector lands.
	mem, err := store.SynthesizeAndSave(context.Background(), page, "https://shop.test/category/shoes", "the sign in link", signinElement, 400, 50)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if mem.Candidates[0].Validated {
		t.Fatalf("a candidate 300px off center must not validate")
	}
	if mem.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", mem.Confidence)
	}
}

func TestConfidenceLedger(t *testing.T) {
	store := openStore(t)
	page := newSigninPage()
	ctx := context.Background()
	mem, err := store.SynthesizeAndSave(ctx, page, "https://shop.test/category/shoes", "the sign in link", signinElement, 100, 50)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	// Decay below the consult threshold: memory goes invisible but stays.
	for i := 0; i < 6; i++ {
		if err := store.RecordUse(mem, false); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if math.Abs(mem.Confidence-0.4) > 1e-9 {
		t.Fatalf("confidence after 6 failures = %v, want 0.4", mem.Confidence)
	}
	if _, ok := store.FindMemory("https://shop.test/category/shoes", "the sign in link"); ok {
		t.Fatalf("memory below 0.5 must not be consulted")
	}
	all, err := store.List()
	if err != nil || len(all) != 1 {
		t.Fatalf("memory must be retained for re-learning: %v %+v", err, all)
	}

	// Recovery: successes climb it back above the threshold.
	for i := 0; i < 3; i++ {
		if err := store.RecordUse(mem, true); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, ok := store.FindMemory("https://shop.test/category/shoes", "the sign in link"); !ok {
		t.Fatalf("recovered memory must be consultable again")
	}
}

func TestConfidenceFloorAndDeletion(t *testing.T) {
	store := openStore(t)
	page := newSigninPage()
	ctx := context.Background()
	mem, err := store.SynthesizeAndSave(ctx, page, "https://shop.test/category/shoes", "the sign in link", signinElement, 100, 50)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	// 1.0 → 10 failures → 0.0, floored; below 0.1 the entry is deleted.
	for i := 0; i < 12; i++ {
		if err := store.RecordUse(mem, false); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if mem.Confidence != 0 {
		t.Fatalf("confidence floored at %v, want 0", mem.Confidence)
	}
	all, err := store.List()
	if err != nil || len(all) != 0 {
		t.Fatalf("memory below the delete threshold must be removed: %+v", all)
	}
	// Failure at the floor keeps it at the floor.
	if err := store.RecordUse(mem, false); err != nil {
		t.Fatalf("record at floor: %v", err)
	}
	if mem.Confidence != 0 {
		t.Fatalf("confidence must stay at 0, got %v", mem.Confidence)
	}
}

func TestFindMemoryMissingEntry(t *testing.T) {
	store := openStore(t)
	if _, ok := store.FindMemory("https://nowhere.test/a/b", "anything"); ok {
		t.Fatalf("empty store must not report a memory")
	}
}

func TestDescriptionNormalization(t *testing.T) {
	store := openStore(t)
	page := newSigninPage()
	ctx := context.Background()
	if _, err := store.SynthesizeAndSave(ctx, page, "https://shop.test/category/shoes", "  The   Sign In  Link ", signinElement, 100, 50); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, ok := store.FindMemory("https://shop.test/category/bags", "the sign in link"); !ok {
		t.Fatalf("description matching must be case and whitespace insensitive")
	}
}
