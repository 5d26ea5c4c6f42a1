package memory

import (
	"fmt"
	"strings"
	"sync"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

// WorkingConfig bounds the conversation held in memory during a run.
type WorkingConfig struct {
	// MessageCap is the hard ceiling on retained messages. Exceeding it
	// forces compaction before anything else happens.
	MessageCap int
	// CompactThreshold is the message count at which NeedsCompaction starts
	// reporting true, so the orchestrator can compact between iterations
	// instead of mid-prompt.
	CompactThreshold int
	// KeepLast is how many trailing messages survive compaction verbatim.
	KeepLast int
}

func (c WorkingConfig) withDefaults() WorkingConfig {
	if c.MessageCap <= 0 {
		c.MessageCap = 100
	}
	if c.CompactThreshold <= 0 || c.CompactThreshold > c.MessageCap {
		c.CompactThreshold = 80
	}
	if c.KeepLast <= 0 {
		c.KeepLast = 10
	}
	return c
}

// entry binds a conversation message to the step that produced it, so
// compaction can fold step-bound messages into step summaries.
type entry struct {
	Msg ports.Message `json:"msg"`
	// StepIndex is the 1-based step this message belongs to, 0 for messages
	// that are not step-bound (system prompt, user goal, summaries).
	StepIndex int `json:"step_index,omitempty"`
	// Folded marks a summary message produced by a previous compaction.
	Folded bool `json:"folded,omitempty"`
}

// WorkingMemory is the ordered trace of the current run: the conversation
// messages fed to the model and the Steps they came from. It never exceeds
// MessageCap; crossing the cap compacts in place.
type WorkingMemory struct {
	mu      sync.RWMutex
	cfg     WorkingConfig
	logger  logging.Logger
	goal    string
	entries []entry
	steps   []Step
}

// NewWorking creates an empty working memory.
func NewWorking(cfg WorkingConfig, logger logging.Logger) *WorkingMemory {
	return &WorkingMemory{cfg: cfg.withDefaults(), logger: logging.OrNop(logger)}
}

// Begin seeds the conversation with the system prompt and the user goal.
// These two messages are protected: compaction never rewrites them.
func (m *WorkingMemory) Begin(system, goal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goal = goal
	m.entries = m.entries[:0]
	m.steps = m.steps[:0]
	m.appendLocked(entry{Msg: ports.Message{Role: ports.RoleSystem, Content: system}})
	m.appendLocked(entry{Msg: ports.Message{Role: ports.RoleUser, Content: goal}})
}

// Goal returns the goal text this run was started with.
func (m *WorkingMemory) Goal() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.goal
}

// AddStep appends a completed step and the messages it produced. The step
// index is assigned here; steps are immutable afterwards.
func (m *WorkingMemory) AddStep(step Step, msgs ...ports.Message) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.Index = len(m.steps) + 1
	m.steps = append(m.steps, step)
	for _, msg := range msgs {
		m.appendLocked(entry{Msg: msg, StepIndex: step.Index})
	}
	return step
}

// AddMessage appends a message that belongs to no step.
func (m *WorkingMemory) AddMessage(msg ports.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(entry{Msg: msg})
}

func (m *WorkingMemory) appendLocked(e entry) {
	m.entries = append(m.entries, e)
	if len(m.entries) > m.cfg.MessageCap {
		m.compactLocked()
	}
}

// Len returns the retained message count.
func (m *WorkingMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StepCount returns how many steps have completed this run.
func (m *WorkingMemory) StepCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}

// Steps returns a copy of the run's steps in order.
func (m *WorkingMemory) Steps() []Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// Messages returns a copy of the retained conversation, ready to send.
func (m *WorkingMemory) Messages() []ports.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.Message, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Msg
	}
	return out
}

// NeedsCompaction reports whether the message count crossed the threshold.
func (m *WorkingMemory) NeedsCompaction() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries) >= m.cfg.CompactThreshold
}

// Compact folds the middle of the conversation into a single summary
// message. The system message, the first user message, and the last KeepLast
// messages survive verbatim; every middle step becomes one "Step N: tool —
// outcome" line. All image payloads are dropped except the most recent one.
// Compacting twice in a row is a no-op the second time.
func (m *WorkingMemory) Compact() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactLocked()
}

func (m *WorkingMemory) compactLocked() {
	protected := m.protectedHeadLocked()
	tail := len(m.entries) - m.cfg.KeepLast
	if tail < protected {
		tail = protected
	}
	middle := m.entries[protected:tail]
	if len(middle) > 0 {
		lines := make([]string, 0, len(middle))
		seen := make(map[int]bool)
		for _, e := range middle {
			switch {
			case e.Folded:
				// Re-folding an earlier summary: carry its lines through.
				lines = append(lines, strings.Split(strings.TrimPrefix(e.Msg.Content, summaryHeader+"\n"), "\n")...)
			case e.StepIndex > 0:
				if !seen[e.StepIndex] {
					seen[e.StepIndex] = true
					lines = append(lines, m.steps[e.StepIndex-1].Summary())
				}
			default:
				lines = append(lines, fmt.Sprintf("(%s) %s", e.Msg.Role, firstLine(e.Msg.Content, 80)))
			}
		}
		summary := entry{
			Msg:    ports.Message{Role: ports.RoleUser, Content: summaryHeader + "\n" + strings.Join(lines, "\n")},
			Folded: true,
		}
		kept := make([]entry, 0, protected+1+m.cfg.KeepLast)
		kept = append(kept, m.entries[:protected]...)
		kept = append(kept, summary)
		kept = append(kept, m.entries[tail:]...)
		removed := len(m.entries) - len(kept)
		m.entries = kept
		if removed > 0 {
			m.logger.Debug("compacted working memory: folded %d messages into %d summary lines", removed+1, len(lines))
		}
	}
	m.stripImagesLocked()
}

const summaryHeader = "Progress so far:"

// protectedHeadLocked counts the leading messages compaction may not touch:
// the system prompt and the first user message.
func (m *WorkingMemory) protectedHeadLocked() int {
	n := 0
	if n < len(m.entries) && m.entries[n].Msg.Role == ports.RoleSystem {
		n++
	}
	if n < len(m.entries) && m.entries[n].Msg.Role == ports.RoleUser && !m.entries[n].Folded {
		n++
	}
	return n
}

// stripImagesLocked drops every screenshot payload except the most recent.
func (m *WorkingMemory) stripImagesLocked() {
	latest := -1
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Msg.HasImages() {
			latest = i
			break
		}
	}
	for i := range m.entries {
		if i != latest {
			m.entries[i].Msg.Images = nil
		}
	}
}

// GetContext renders the run trace as prompt text: older steps as one-line
// summaries, the last detailedTail steps in full.
func (m *WorkingMemory) GetContext(detailedTail int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if detailedTail <= 0 {
		detailedTail = 5
	}
	var b strings.Builder
	if m.goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", m.goal)
	}
	cut := len(m.steps) - detailedTail
	if cut < 0 {
		cut = 0
	}
	for _, s := range m.steps[:cut] {
		b.WriteString(s.Summary())
		b.WriteByte('\n')
	}
	for _, s := range m.steps[cut:] {
		fmt.Fprintf(&b, "Step %d:\n", s.Index)
		if s.Thought != "" {
			fmt.Fprintf(&b, "  thought: %s\n", firstLine(s.Thought, 200))
		}
		if s.Tool != "" {
			fmt.Fprintf(&b, "  action: %s %s\n", s.Tool, s.Args)
		}
		if s.Observation != "" {
			fmt.Fprintf(&b, "  observation: %s\n", truncate(s.Observation, 500))
		}
		if !s.Success {
			kind := s.ErrorKind
			if kind == "" {
				kind = "unknown"
			}
			fmt.Fprintf(&b, "  failed: %s\n", kind)
		}
	}
	return b.String()
}

// workingSnapshot is the crash-recovery form persisted to working.json.
type workingSnapshot struct {
	Goal    string  `json:"goal"`
	Entries []entry `json:"entries"`
	Steps   []Step  `json:"steps"`
}

// Persist writes the current trace atomically for crash recovery.
func (m *WorkingMemory) Persist(path string) error {
	m.mu.RLock()
	snap := workingSnapshot{Goal: m.goal, Entries: append([]entry(nil), m.entries...), Steps: append([]Step(nil), m.steps...)}
	m.mu.RUnlock()
	return storage.WriteJSONFile(path, snap)
}

// LoadWorking restores a persisted trace, typically after a crash.
func LoadWorking(path string, cfg WorkingConfig, logger logging.Logger) (*WorkingMemory, error) {
	var snap workingSnapshot
	if err := storage.ReadJSONFile(path, &snap); err != nil {
		return nil, err
	}
	m := NewWorking(cfg, logger)
	m.goal = snap.Goal
	m.entries = snap.Entries
	m.steps = snap.Steps
	return m, nil
}
