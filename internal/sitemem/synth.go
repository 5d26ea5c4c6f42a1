package sitemem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"surf/internal/agent/ports"
)

// CandidateKind names a selector strategy. Each kind carries a fixed
// priority; reuse tries candidates in descending priority order.
type CandidateKind string

const (
	KindID           CandidateKind = "id"
	KindAriaLabel    CandidateKind = "aria-label"
	KindTestID       CandidateKind = "test-id"
	KindName         CandidateKind = "name"
	KindTagClass     CandidateKind = "tag-class"
	KindExactText    CandidateKind = "text"
	KindTagAttr      CandidateKind = "tag-attr"
	KindClass        CandidateKind = "class"
	KindContainsText CandidateKind = "contains-text-xpath"
)

var kindPriority = map[CandidateKind]int{
	KindID:           100,
	KindAriaLabel:    90,
	KindTestID:       85,
	KindName:         80,
	KindTagClass:     70,
	KindExactText:    60,
	KindTagAttr:      50,
	KindClass:        40,
	KindContainsText: 30,
}

// SelectorCandidate is one way to re-find an element. Value is a CSS
// selector, or an XPath expression for the text kinds.
type SelectorCandidate struct {
	Kind      CandidateKind `json:"kind"`
	Value     string        `json:"value"`
	Priority  int           `json:"priority"`
	Validated bool          `json:"validated"`
}

// XPath reports whether Value must go through the XPath resolver.
func (c SelectorCandidate) XPath() bool {
	return c.Kind == KindExactText || c.Kind == KindContainsText
}

// Resolve finds the candidate's element on the live page.
func (c SelectorCandidate) Resolve(ctx context.Context, driver ports.PageDriver) (string, error) {
	if c.XPath() {
		return driver.QueryXPath(ctx, c.Value)
	}
	return driver.QuerySelector(ctx, c.Value)
}

// SiteMemory is the learned selector set for one (url pattern, description)
// pair.
type SiteMemory struct {
	Pattern     string              `json:"pattern"`
	Description string              `json:"description"`
	Candidates  []SelectorCandidate `json:"candidates"`
	UseCount    int                 `json:"use_count"`
	SuccessN    int                 `json:"success_count"`
	FailureN    int                 `json:"failure_count"`
	Confidence  float64             `json:"confidence"`
	LastUsed    time.Time           `json:"last_used"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Consultable reports whether the memory has earned the right to short-cut
// the vision path.
func (m *SiteMemory) Consultable() bool { return m.Confidence >= ConsultThreshold }

// formControlTags are the tags whose name attribute is a real form-field
// identity worth selecting on.
var formControlTags = map[string]bool{
	"input":    true,
	"select":   true,
	"textarea": true,
	"button":   true,
}

// Synthesize derives selector candidates from a vision-identified element,
// strongest strategy first. Candidates are unvalidated until tried against
// the live page.
func Synthesize(el ports.NodeInfo) []SelectorCandidate {
	var out []SelectorCandidate
	add := func(kind CandidateKind, value string) {
		out = append(out, SelectorCandidate{Kind: kind, Value: value, Priority: kindPriority[kind]})
	}

	if el.ID != "" && Stable(el.ID) {
		add(KindID, "#"+el.ID)
	}
	if label := el.Attrs["aria-label"]; label != "" {
		add(KindAriaLabel, fmt.Sprintf(`[aria-label=%q]`, label))
	}
	if testID := firstAttr(el.Attrs, "data-testid", "data-test-id", "data-test"); testID != "" {
		add(KindTestID, fmt.Sprintf(`[data-testid=%q]`, testID))
	}
	if name := el.Attrs["name"]; name != "" && formControlTags[el.Tag] {
		add(KindName, fmt.Sprintf(`%s[name=%q]`, el.Tag, name))
	}
	class, hasClass := stableClass(el.Classes)
	if hasClass && el.Tag != "" {
		add(KindTagClass, el.Tag+"."+class)
	}
	text := strings.TrimSpace(el.Text)
	if text != "" && len(text) <= 40 && !strings.Contains(text, "\n") {
		add(KindExactText, fmt.Sprintf(`//%s[normalize-space(.)=%q]`, xpathTag(el.Tag), text))
	}
	if attr, value := structuralAttr(el.Attrs); attr != "" && el.Tag != "" {
		add(KindTagAttr, fmt.Sprintf(`%s[%s=%q]`, el.Tag, attr, value))
	}
	if hasClass {
		add(KindClass, "."+class)
	}
	if len(text) >= 4 {
		partial := text
		if runes := []rune(partial); len(runes) > 20 {
			partial = string(runes[:20])
		}
		add(KindContainsText, fmt.Sprintf(`//%s[contains(normalize-space(.), %q)]`, xpathTag(el.Tag), partial))
	}
	return out
}

func xpathTag(tag string) string {
	if tag == "" {
		return "*"
	}
	return tag
}

func firstAttr(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}

// structuralAttr picks the first attribute stable enough to select on.
var structuralAttrOrder = []string{"type", "role", "placeholder", "title", "href"}

func structuralAttr(attrs map[string]string) (string, string) {
	for _, k := range structuralAttrOrder {
		if v := attrs[k]; v != "" {
			return k, v
		}
	}
	return "", ""
}
