// Package memory is the agent's multi-tier memory: the working memory of the
// current run, the episodic record of past goals, the semantic patterns
// distilled from them, and the skill library of reusable action sequences.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Step is one ReAct iteration: the thought, the action taken, and what came
// back. Steps are immutable once appended to working memory; Success is
// always assigned before the next step begins.
type Step struct {
	Index       int           `json:"index"`
	Thought     string        `json:"thought,omitempty"`
	Tool        string        `json:"tool,omitempty"`
	Args        string        `json:"args,omitempty"`
	Observation string        `json:"observation,omitempty"`
	Success     bool          `json:"success"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Summary renders the one-line form used by compaction and episode traces:
// "Step N: tool — short outcome".
func (s Step) Summary() string {
	outcome := "ok"
	if !s.Success {
		outcome = "failed"
		if s.ErrorKind != "" {
			outcome = "failed: " + s.ErrorKind
		}
	} else if s.Observation != "" {
		outcome = firstLine(s.Observation, 80)
	}
	tool := s.Tool
	if tool == "" {
		tool = "(thought)"
	}
	return fmt.Sprintf("Step %d: %s — %s", s.Index, tool, outcome)
}

func firstLine(text string, limit int) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return truncate(strings.TrimSpace(text), limit)
}

// truncate cuts text to limit runes, appending an ellipsis when it does.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return string(runes)
}
