// Package snapshot produces token-efficient accessibility views of the
// current page. The model reasons over element refs assigned here; refs
// resolve back to driver node ids only through this package, which is how
// stale references get caught before they hit the browser.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"surf/internal/agent/ports"
)

// Sentinel errors surfaced by Resolve. The reliability fabric maps these to
// its error kinds.
var (
	// ErrStaleRef marks a ref that was issued earlier but is absent from the
	// latest snapshot.
	ErrStaleRef = errors.New("snapshot: stale element ref")
	// ErrUnknownRef marks a ref that was never issued.
	ErrUnknownRef = errors.New("snapshot: unknown element ref")
)

// Element is one addressable node inside a Snapshot. Ref is what the model
// sees; NodeID is the driver-native handle behind it.
type Element struct {
	Ref         string            `json:"ref"`
	NodeID      string            `json:"-"`
	Role        string            `json:"role"`
	Name        string            `json:"name"`
	Value       string            `json:"value,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Box         ports.Box         `json:"box"`
	Depth       int               `json:"depth"`
	Interactive bool              `json:"interactive"`
}

// Snapshot is the accessibility view of a page at one instant. Refs are
// unique within the snapshot and are never reused across navigations.
type Snapshot struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Elements   []Element `json:"elements"`
	CapturedAt time.Time `json:"captured_at"`
	Generation uint64    `json:"generation"`
	Hash       string    `json:"hash"`
}

// Lookup finds an element by ref.
func (s *Snapshot) Lookup(ref string) (Element, bool) {
	for _, el := range s.Elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return Element{}, false
}

// Render returns the wire representation the model sees: one line per
// element, `[ref] role "name" [attrs]`, children indented by two spaces.
func (s *Snapshot) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s — %s\n", s.Title, s.URL)
	for _, el := range s.Elements {
		b.WriteString(strings.Repeat("  ", el.Depth))
		b.WriteString(renderElement(el))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderElement(el Element) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %q", el.Ref, el.Role, el.Name)
	attrs := renderAttrs(el)
	if attrs != "" {
		fmt.Fprintf(&b, " [%s]", attrs)
	}
	return b.String()
}

func renderAttrs(el Element) string {
	parts := make([]string, 0, len(el.Attrs)+1)
	if el.Value != "" {
		parts = append(parts, "value="+el.Value)
	}
	keys := make([]string, 0, len(el.Attrs))
	for k := range el.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := el.Attrs[k]
		if v == "true" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// contentHash fingerprints the rendered view; equal hashes mean the model
// would see an identical page.
func contentHash(elements []Element) string {
	h := sha256.New()
	for _, el := range elements {
		fmt.Fprintf(h, "%s|%s|%s|%s|%v\n", el.Ref, el.Role, el.Name, el.Value, el.Attrs)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Diff is the delta between the previous snapshot (the anchor) and a fresh
// capture of the same key.
type Diff struct {
	FromID  string       `json:"from_id,omitempty"`
	ToID    string       `json:"to_id"`
	URL     string       `json:"url"`
	Added   []Element    `json:"added,omitempty"`
	Removed []string     `json:"removed,omitempty"`
	Changed []AttrChange `json:"changed,omitempty"`
}

// AttrChange records one field change on a surviving ref.
type AttrChange struct {
	Ref   string `json:"ref"`
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Empty reports whether nothing changed between the two snapshots.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Render returns a compact textual delta for the model.
func (d *Diff) Render() string {
	if d.Empty() {
		return "No changes since previous snapshot.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Changes on %s:\n", d.URL)
	for _, el := range d.Added {
		b.WriteString("+ ")
		b.WriteString(renderElement(el))
		b.WriteByte('\n')
	}
	for _, ref := range d.Removed {
		fmt.Fprintf(&b, "- [%s]\n", ref)
	}
	for _, ch := range d.Changed {
		fmt.Fprintf(&b, "~ [%s] %s: %q -> %q\n", ch.Ref, ch.Field, ch.From, ch.To)
	}
	return b.String()
}

// Result is the stable return shape of Capture: exactly one of Snapshot or
// Diff is set, decided by the Diff option alone.
type Result struct {
	Snapshot *Snapshot
	Diff     *Diff
}

// Render returns the wire representation of whichever side is populated.
func (r *Result) Render() string {
	if r.Diff != nil {
		return r.Diff.Render()
	}
	if r.Snapshot != nil {
		return r.Snapshot.Render()
	}
	return ""
}
