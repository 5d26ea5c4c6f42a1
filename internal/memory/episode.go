package memory

import (
	"sort"
	"strings"
	"time"
)

// Outcome is the terminal state of a run. Exactly one is assigned when the
// episode closes.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeEscalated Outcome = "escalated"
)

// Episode is one finished goal: what was asked, the compacted trace of what
// happened, and how it ended.
type Episode struct {
	ID          string        `json:"id"`
	Goal        string        `json:"goal"`
	Trace       []string      `json:"trace"`
	FinalAnswer string        `json:"final_answer,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Duration    time.Duration `json:"duration"`
	Tags        []string      `json:"tags,omitempty"`
	Importance  float64       `json:"importance"`
	ToolSeq     []string      `json:"tool_seq,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Success reports whether the goal completed.
func (e *Episode) Success() bool { return e.Outcome == OutcomeSuccess }

// searchText is what gets embedded for similarity retrieval.
func (e *Episode) searchText() string {
	parts := []string{e.Goal}
	if len(e.Tags) > 0 {
		parts = append(parts, strings.Join(e.Tags, " "))
	}
	parts = append(parts, e.Trace...)
	return strings.Join(parts, "\n")
}

// TraceOf renders steps as the compacted one-line trace stored in episodes.
func TraceOf(steps []Step) []string {
	trace := make([]string, len(steps))
	for i, s := range steps {
		trace[i] = s.Summary()
	}
	return trace
}

// ToolSequence returns the ordered tool names of a run, one per acting step.
func ToolSequence(steps []Step) []string {
	var seq []string
	for _, s := range steps {
		if s.Tool != "" {
			seq = append(seq, s.Tool)
		}
	}
	return seq
}

// tagRules maps tool-name fragments to episode tags.
var tagRules = []struct {
	fragment string
	tag      string
}{
	{"navigate", "navigation"},
	{"extract_", "extraction"},
	{"detect_contact_form", "extraction"},
	{"inspect_html", "extraction"},
	{"click", "interaction"},
	{"type", "interaction"},
	{"hover", "interaction"},
	{"press", "interaction"},
	{"scroll", "interaction"},
	{"console_", "diagnostics"},
	{"failed_requests", "diagnostics"},
	{"screenshot", "vision"},
	{"attach_browser", "session"},
}

// InferTags derives a tag set from the tools a run invoked.
func InferTags(steps []Step) []string {
	set := make(map[string]bool)
	for _, s := range steps {
		for _, rule := range tagRules {
			if strings.Contains(s.Tool, rule.fragment) {
				set[rule.tag] = true
			}
		}
		if s.ErrorKind == "captcha" {
			set["captcha"] = true
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
