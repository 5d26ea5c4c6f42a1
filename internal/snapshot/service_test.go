package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"surf/internal/agent/ports"
	"surf/internal/agent/ports/mocks"
	"surf/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buttonTree(names ...string) *ports.AXNode {
	root := &ports.AXNode{NodeID: "root", Role: "RootWebArea"}
	for i, name := range names {
		root.Children = append(root.Children, &ports.AXNode{
			NodeID: "node-" + name,
			Role:   "button",
			Name:   name,
			Box:    ports.Box{X: float64(i * 10), Y: 10, Width: 80, Height: 20},
		})
	}
	return root
}

func newTestService(tree **ports.AXNode, url *string, clock ports.Clock) *Service {
	driver := &mocks.MockPageDriver{
		AXTreeFunc: func(ctx context.Context) (*ports.AXNode, error) { return *tree, nil },
		URLFunc:    func(ctx context.Context) (string, error) { return *url, nil },
		TitleFunc:  func(ctx context.Context) (string, error) { return "Test Page", nil },
	}
	return New(driver, clock, logging.Nop(), Config{})
}

func TestCaptureAssignsRefsAndRenders(t *testing.T) {
	tree := buttonTree("Sign in", "Register")
	url := "https://example.test/"
	svc := newTestService(&tree, &url, mocks.NewFakeClock(time.Unix(0, 0)))

	res, err := svc.Capture(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Snapshot == nil || res.Diff != nil {
		t.Fatalf("expected a full snapshot result")
	}
	snap := res.Snapshot
	if len(snap.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(snap.Elements))
	}
	if snap.Elements[0].Ref != "e1" || snap.Elements[1].Ref != "e2" {
		t.Fatalf("unexpected refs %q %q", snap.Elements[0].Ref, snap.Elements[1].Ref)
	}

	rendered := snap.Render()
	if !strings.Contains(rendered, `[e1] button "Sign in"`) {
		t.Fatalf("unexpected wire format:\n%s", rendered)
	}
}

func TestCaptureCacheHitReturnsSameSnapshot(t *testing.T) {
	tree := buttonTree("One")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	first, err := svc.Capture(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	clock.Advance(500 * time.Millisecond)
	second, err := svc.Capture(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if first.Snapshot != second.Snapshot {
		t.Fatalf("expected cache hit to return the identical snapshot")
	}
}

func TestCaptureTTLExpiryRefreshes(t *testing.T) {
	tree := buttonTree("One")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	first, _ := svc.Capture(context.Background(), Options{})
	clock.Advance(3 * time.Second)
	second, _ := svc.Capture(context.Background(), Options{})
	if first.Snapshot == second.Snapshot {
		t.Fatalf("expected a fresh snapshot after TTL expiry")
	}
	if second.Snapshot.ID == first.Snapshot.ID {
		t.Fatalf("fresh snapshot should carry a new id")
	}
}

func TestCaptureForceBypassesCache(t *testing.T) {
	tree := buttonTree("One")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	first, _ := svc.Capture(context.Background(), Options{})
	second, _ := svc.Capture(context.Background(), Options{Force: true})
	if first.Snapshot == second.Snapshot {
		t.Fatalf("force should bypass the cache")
	}
}

func TestDiffCoherentAcrossCacheWindow(t *testing.T) {
	// Full snapshot at t=0, page changes at t=0.5s, diff at t=0.8s (inside
	// the 2s TTL). The diff must report the new button, not "no changes".
	tree := buttonTree("One", "Two", "Three")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	if _, err := svc.Capture(context.Background(), Options{}); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	clock.Advance(500 * time.Millisecond)
	tree = buttonTree("One", "Two", "Three", "Four")

	clock.Advance(300 * time.Millisecond)
	res, err := svc.Capture(context.Background(), Options{Diff: true})
	if err != nil {
		t.Fatalf("Capture diff: %v", err)
	}
	if res.Diff == nil || res.Snapshot != nil {
		t.Fatalf("diff=true must return a SnapshotDiff")
	}
	if len(res.Diff.Added) != 1 || res.Diff.Added[0].Name != "Four" {
		t.Fatalf("expected exactly the new button in added, got %+v", res.Diff)
	}
	if len(res.Diff.Removed) != 0 || len(res.Diff.Changed) != 0 {
		t.Fatalf("expected no removals or changes, got %+v", res.Diff)
	}

	// With no further page change the next diff is empty: the anchor was
	// refreshed together with the cache.
	res2, err := svc.Capture(context.Background(), Options{Diff: true})
	if err != nil {
		t.Fatalf("Capture diff: %v", err)
	}
	if !res2.Diff.Empty() {
		t.Fatalf("expected empty diff after no change, got %+v", res2.Diff)
	}
}

func TestDiffFirstCallReportsAllAdded(t *testing.T) {
	tree := buttonTree("One", "Two")
	url := "https://example.test/"
	svc := newTestService(&tree, &url, mocks.NewFakeClock(time.Unix(0, 0)))

	res, err := svc.Capture(context.Background(), Options{Diff: true})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Diff == nil {
		t.Fatalf("diff=true must return a SnapshotDiff even without an anchor")
	}
	if len(res.Diff.Added) != 2 {
		t.Fatalf("expected both elements reported as added, got %d", len(res.Diff.Added))
	}
}

func TestRefsStableWithinNavigation(t *testing.T) {
	tree := buttonTree("One", "Two")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	first, _ := svc.Capture(context.Background(), Options{})
	oneRef := first.Snapshot.Elements[0].Ref

	clock.Advance(3 * time.Second)
	tree = buttonTree("One", "Two", "Three")
	second, _ := svc.Capture(context.Background(), Options{})

	got, ok := second.Snapshot.Lookup(oneRef)
	if !ok || got.Name != "One" {
		t.Fatalf("element should keep its ref across captures of the same page")
	}
	if _, ok := second.Snapshot.Lookup("e3"); !ok {
		t.Fatalf("new element should get the next monotonic ref")
	}
}

func TestNavigationNeverReusesRefs(t *testing.T) {
	tree := buttonTree("One", "Two")
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	first, _ := svc.Capture(context.Background(), Options{})
	staleRef := first.Snapshot.Elements[0].Ref

	url = "https://example.test/other"
	tree = buttonTree("Alpha")
	clock.Advance(3 * time.Second)
	second, _ := svc.Capture(context.Background(), Options{})

	for _, el := range second.Snapshot.Elements {
		if el.Ref == staleRef {
			t.Fatalf("ref %s reused across navigations", staleRef)
		}
	}
	if second.Snapshot.Generation == first.Snapshot.Generation {
		t.Fatalf("navigation should bump the generation")
	}

	if _, err := svc.Resolve(staleRef); !errors.Is(err, ErrStaleRef) {
		t.Fatalf("expected ErrStaleRef for pre-navigation ref, got %v", err)
	}
	if _, err := svc.Resolve("e999"); !errors.Is(err, ErrUnknownRef) {
		t.Fatalf("expected ErrUnknownRef for never-issued ref, got %v", err)
	}
	if _, err := svc.Resolve(second.Snapshot.Elements[0].Ref); err != nil {
		t.Fatalf("current ref should resolve, got %v", err)
	}
}

func TestFlattenCollapsesNoise(t *testing.T) {
	tree := &ports.AXNode{
		NodeID: "root", Role: "RootWebArea",
		Children: []*ports.AXNode{
			{
				NodeID: "wrapper", Role: "generic",
				Children: []*ports.AXNode{
					{NodeID: "btn", Role: "button", Name: "Go"},
					{NodeID: "empty", Role: "", Name: ""},
				},
			},
			{NodeID: "heading", Role: "heading", Name: "Title"},
		},
	}
	url := "https://example.test/"
	svc := newTestService(&tree, &url, mocks.NewFakeClock(time.Unix(0, 0)))

	res, _ := svc.Capture(context.Background(), Options{})
	if len(res.Snapshot.Elements) != 2 {
		t.Fatalf("expected wrapper and empty node collapsed, got %d elements", len(res.Snapshot.Elements))
	}
	// The button sits under a collapsed wrapper, so it renders at depth 0.
	if res.Snapshot.Elements[0].Depth != 0 {
		t.Fatalf("collapsed parents must not add depth, got %d", res.Snapshot.Elements[0].Depth)
	}
}

func TestCaptureTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 500)
	tree := buttonTree(long)
	url := "https://example.test/"
	svc := newTestService(&tree, &url, mocks.NewFakeClock(time.Unix(0, 0)))

	res, _ := svc.Capture(context.Background(), Options{})
	name := res.Snapshot.Elements[0].Name
	if len([]rune(name)) != 203 { // 200 + "..."
		t.Fatalf("expected truncation to 200 runes plus ellipsis, got %d", len([]rune(name)))
	}
	if !strings.HasSuffix(name, "...") {
		t.Fatalf("expected ellipsis suffix")
	}
}

func TestChangedAttrsShowUpInDiff(t *testing.T) {
	tree := buttonTree("One")
	tree.Children[0].Disabled = true
	url := "https://example.test/"
	clock := mocks.NewFakeClock(time.Unix(0, 0))
	svc := newTestService(&tree, &url, clock)

	if _, err := svc.Capture(context.Background(), Options{}); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	next := buttonTree("One")
	tree = next // same node id, no longer disabled
	res, err := svc.Capture(context.Background(), Options{Diff: true})
	if err != nil {
		t.Fatalf("Capture diff: %v", err)
	}
	if len(res.Diff.Changed) != 1 || res.Diff.Changed[0].Field != "attr.disabled" {
		t.Fatalf("expected disabled attr change, got %+v", res.Diff.Changed)
	}
}

func TestSweeperEvictsExpiredEntries(t *testing.T) {
	tree := buttonTree("One")
	url := "https://example.test/"
	driver := &mocks.MockPageDriver{
		AXTreeFunc: func(ctx context.Context) (*ports.AXNode, error) { return tree, nil },
		URLFunc:    func(ctx context.Context) (string, error) { return url, nil },
	}
	svc := New(driver, ports.SystemClock{}, logging.Nop(), Config{TTL: 20 * time.Millisecond})
	svc.StartSweeper()
	defer svc.Close()

	if _, err := svc.Capture(context.Background(), Options{}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	svc.mu.Lock()
	n := svc.cache.Len()
	svc.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected sweeper to evict expired entries, %d left", n)
	}
}
