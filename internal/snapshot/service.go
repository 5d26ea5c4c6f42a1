package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

const (
	defaultTTL        = 2 * time.Second
	defaultMaxEntries = 10
	defaultMaxTextLen = 200
)

// Options select what Capture returns.
type Options struct {
	// Scope limits the tree to the subtree matching this CSS selector.
	Scope string
	// Exclude drops subtrees matching these CSS selectors.
	Exclude []string
	// Diff returns a delta against the previous snapshot for the same key.
	// The return shape is decided by this flag alone.
	Diff bool
	// Force bypasses the cache and refreshes the diff anchor.
	Force bool
}

// Config tunes the service.
type Config struct {
	// TTL is how long a cached snapshot stays valid. Default 2s.
	TTL time.Duration
	// MaxEntries caps the LRU cache. Default 10.
	MaxEntries int
	// MaxTextLen truncates element names and values. Default 200 runes.
	MaxTextLen int
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.MaxTextLen <= 0 {
		c.MaxTextLen = defaultMaxTextLen
	}
}

type cacheEntry struct {
	snapshot *Snapshot
	storedAt time.Time
}

// Service captures, caches and diffs snapshots for one page. All methods are
// safe for concurrent use; the cache and the diff anchor are updated inside
// the same critical section so callers never observe them out of sync.
type Service struct {
	driver ports.PageDriver
	clock  ports.Clock
	logger logging.Logger
	cfg    Config

	mu       sync.Mutex
	cache    *lru.Cache[string, cacheEntry]
	anchors  map[string]*Snapshot // diff anchor per cache key
	nodeRefs map[string]string    // driver node id → ref, reset on navigation
	current  map[string]string    // ref → driver node id, latest snapshot only
	issued   map[string]uint64    // every ref handed out, by navigation generation
	latest   *Snapshot
	refSeq   uint64
	snapSeq  uint64
	navGen   uint64
	navURL   string

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New builds a Service around one PageDriver.
func New(driver ports.PageDriver, clock ports.Clock, logger logging.Logger, cfg Config) *Service {
	cfg.applyDefaults()
	cache, _ := lru.New[string, cacheEntry](cfg.MaxEntries)
	return &Service{
		driver:   driver,
		clock:    clock,
		logger:   logging.OrNop(logger),
		cfg:      cfg,
		cache:    cache,
		anchors:  make(map[string]*Snapshot),
		nodeRefs: make(map[string]string),
		current:  make(map[string]string),
		issued:   make(map[string]uint64),
	}
}

// Capture returns the current page view. With Diff set it always returns a
// Diff (all-added on the first call); otherwise always a full Snapshot.
//
// Diff mode bypasses the cache: serving a cached snapshot as the "fresh" side
// of a diff would report no changes across a real page change whenever the
// change landed inside the TTL window. Full-snapshot mode uses the cache and
// still refreshes the anchor on a hit, so a later diff compares against what
// the caller last saw.
func (s *Service) Capture(ctx context.Context, opts Options) (*Result, error) {
	url, err := s.driver.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page url: %w", err)
	}
	key := cacheKey(url, opts.Scope, opts.Exclude)

	if !opts.Diff && !opts.Force {
		s.mu.Lock()
		if entry, ok := s.cache.Get(key); ok {
			if s.clock.Now().Sub(entry.storedAt) < s.cfg.TTL {
				s.anchors[key] = entry.snapshot
				s.mu.Unlock()
				return &Result{Snapshot: entry.snapshot}, nil
			}
			s.cache.Remove(key)
		}
		s.mu.Unlock()
	}

	fresh, err := s.capture(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Add(key, cacheEntry{snapshot: fresh, storedAt: s.clock.Now()})
	prev := s.anchors[key]
	s.anchors[key] = fresh

	if opts.Diff {
		return &Result{Diff: computeDiff(prev, fresh)}, nil
	}
	return &Result{Snapshot: fresh}, nil
}

// Resolve maps a ref to its driver node id. Refs issued earlier but absent
// from the latest snapshot report ErrStaleRef; refs never issued report
// ErrUnknownRef.
func (s *Service) Resolve(ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nodeID, ok := s.current[ref]; ok {
		return nodeID, nil
	}
	if _, ok := s.issued[ref]; ok {
		return "", fmt.Errorf("%w: %s", ErrStaleRef, ref)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
}

// Current returns the most recent snapshot, or nil before the first capture.
func (s *Service) Current() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// StartSweeper launches the periodic TTL sweep. Close stops it.
func (s *Service) StartSweeper() {
	s.mu.Lock()
	if s.sweepStop != nil {
		s.mu.Unlock()
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	stop, done := s.sweepStop, s.sweepDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-s.clock.After(s.cfg.TTL):
				s.sweep()
			}
		}
	}()
}

// Close stops the sweeper if it is running.
func (s *Service) Close() {
	s.mu.Lock()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop, s.sweepDone = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (s *Service) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, key := range s.cache.Keys() {
		if entry, ok := s.cache.Peek(key); ok && now.Sub(entry.storedAt) >= s.cfg.TTL {
			s.cache.Remove(key)
		}
	}
}

// capture does the driver round-trips and assembles a fresh snapshot.
func (s *Service) capture(ctx context.Context, url string, opts Options) (*Snapshot, error) {
	root, err := s.driver.AXTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch accessibility tree: %w", err)
	}
	title, err := s.driver.Title(ctx)
	if err != nil {
		title = ""
	}

	if opts.Scope != "" {
		if scoped := s.scopeSubtree(ctx, root, opts.Scope); scoped != nil {
			root = scoped
		}
	}
	excluded := s.excludedNodes(ctx, opts.Exclude)

	s.mu.Lock()
	defer s.mu.Unlock()

	if url != s.navURL {
		// Navigation event: refs from the previous page must never be
		// reused, so the identity table resets while the counter keeps
		// climbing.
		s.navGen++
		s.navURL = url
		s.nodeRefs = make(map[string]string)
	}

	flat := flatten(root, excluded, s.cfg.MaxTextLen)
	elements := make([]Element, 0, len(flat))
	current := make(map[string]string, len(flat))
	for _, el := range flat {
		ref, ok := s.nodeRefs[el.NodeID]
		if !ok {
			s.refSeq++
			ref = fmt.Sprintf("e%d", s.refSeq)
			s.nodeRefs[el.NodeID] = ref
		}
		el.Ref = ref
		s.issued[ref] = s.navGen
		current[ref] = el.NodeID
		elements = append(elements, el)
	}

	s.snapSeq++
	snap := &Snapshot{
		ID:         fmt.Sprintf("s%d", s.snapSeq),
		URL:        url,
		Title:      title,
		Elements:   elements,
		CapturedAt: s.clock.Now(),
		Generation: s.navGen,
		Hash:       contentHash(elements),
	}
	s.current = current
	s.latest = snap
	s.logger.Debug("captured snapshot %s: %d elements on %s", snap.ID, len(elements), url)
	return snap, nil
}

func (s *Service) scopeSubtree(ctx context.Context, root *ports.AXNode, scope string) *ports.AXNode {
	nodeID, err := s.driver.QuerySelector(ctx, scope)
	if err != nil || nodeID == "" {
		s.logger.Warn("scope selector %q matched nothing, using full tree", scope)
		return nil
	}
	return findNode(root, nodeID)
}

func (s *Service) excludedNodes(ctx context.Context, selectors []string) map[string]bool {
	if len(selectors) == 0 {
		return nil
	}
	excluded := make(map[string]bool)
	for _, sel := range selectors {
		ids, err := s.driver.QuerySelectorAll(ctx, sel)
		if err != nil {
			s.logger.Warn("exclude selector %q failed: %v", sel, err)
			continue
		}
		for _, id := range ids {
			excluded[id] = true
		}
	}
	return excluded
}

func findNode(node *ports.AXNode, nodeID string) *ports.AXNode {
	if node == nil {
		return nil
	}
	if node.NodeID == nodeID {
		return node
	}
	for _, child := range node.Children {
		if found := findNode(child, nodeID); found != nil {
			return found
		}
	}
	return nil
}

// interactiveRoles are kept even without an accessible name.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "searchbox": true,
	"checkbox": true, "radio": true, "combobox": true, "listbox": true,
	"option": true, "menuitem": true, "menuitemcheckbox": true,
	"menuitemradio": true, "tab": true, "switch": true, "slider": true,
	"spinbutton": true,
}

// flatten walks the tree in document order, collapsing nodes that carry no
// information (no name, no role, not interactive). Children of a collapsed
// node inherit its depth so the rendered indentation stays meaningful.
func flatten(root *ports.AXNode, excluded map[string]bool, maxText int) []Element {
	var out []Element
	var walk func(node *ports.AXNode, depth int)
	walk = func(node *ports.AXNode, depth int) {
		if node == nil || excluded[node.NodeID] {
			return
		}
		keep := keepNode(node)
		if keep {
			out = append(out, toElement(node, depth, maxText))
		}
		childDepth := depth
		if keep {
			childDepth++
		}
		for _, child := range node.Children {
			walk(child, childDepth)
		}
	}
	// The root itself is structural; only its subtree is interesting.
	if root != nil {
		for _, child := range root.Children {
			walk(child, 0)
		}
		if len(out) == 0 && keepNode(root) {
			out = append(out, toElement(root, 0, maxText))
		}
	}
	return out
}

func keepNode(node *ports.AXNode) bool {
	if interactiveRoles[node.Role] || node.Editable {
		return true
	}
	if node.Role == "" || node.Role == "generic" || node.Role == "none" || node.Role == "presentation" {
		return false
	}
	return strings.TrimSpace(node.Name) != ""
}

func toElement(node *ports.AXNode, depth, maxText int) Element {
	el := Element{
		NodeID:      node.NodeID,
		Role:        node.Role,
		Name:        truncate(node.Name, maxText),
		Value:       truncate(node.Value, maxText),
		Box:         node.Box,
		Depth:       depth,
		Interactive: interactiveRoles[node.Role] || node.Editable,
	}
	if node.Disabled {
		if el.Attrs == nil {
			el.Attrs = map[string]string{}
		}
		el.Attrs["disabled"] = "true"
	}
	for k, v := range node.Attrs {
		if el.Attrs == nil {
			el.Attrs = map[string]string{}
		}
		el.Attrs[k] = truncate(v, maxText)
	}
	return el
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func cacheKey(url, scope string, exclude []string) string {
	if scope == "" && len(exclude) == 0 {
		return url
	}
	ex := append([]string(nil), exclude...)
	sort.Strings(ex)
	return url + "\x00" + scope + "\x00" + strings.Join(ex, ",")
}
