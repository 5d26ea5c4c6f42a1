package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// consolidationWindow bounds how many recent episodes a pass examines.
const consolidationWindow = 30

// Consolidate distills recent episodes into semantic patterns and promotes
// repeated successful plans into skills. Keys are canonical (tag signature,
// tool-sequence signature), so running the pass twice over the same episodes
// changes nothing.
func (m *Manager) Consolidate(ctx context.Context) error {
	recent, err := m.episodic.List(consolidationWindow)
	if err != nil {
		return err
	}
	if len(recent) < 2 {
		return nil
	}

	byTags := make(map[string][]*Episode)
	bySeq := make(map[string][]*Episode)
	for _, ep := range recent {
		if !ep.Success() {
			continue
		}
		if len(ep.Tags) > 0 {
			key := strings.Join(ep.Tags, "+")
			byTags[key] = append(byTags[key], ep)
		}
		if len(ep.ToolSeq) > 0 {
			bySeq[strings.Join(ep.ToolSeq, ">")] = append(bySeq[strings.Join(ep.ToolSeq, ">")], ep)
		}
	}

	for key, group := range byTags {
		if len(group) < 2 {
			continue
		}
		sources := make([]string, len(group))
		for i, ep := range group {
			sources[i] = ep.ID
		}
		pattern := Pattern{
			Key:       "tags:" + key,
			Statement: fmt.Sprintf("Goals involving %s tend to succeed; %d recent runs did.", strings.ReplaceAll(key, "+", " and "), len(group)),
			Sources:   sources,
		}
		if err := m.semantic.Upsert(ctx, pattern); err != nil {
			return err
		}
	}

	for seq, group := range bySeq {
		if len(group) < 2 {
			continue
		}
		calls := make([]SkillCall, len(group[0].ToolSeq))
		for i, tool := range group[0].ToolSeq {
			calls[i] = SkillCall{Tool: tool}
		}
		var total time.Duration
		for _, ep := range group {
			total += ep.Duration
		}
		name := skillName(group[0])
		desc := fmt.Sprintf("Plan proven on goals like %q.", firstLine(group[0].Goal, 80))
		if _, err := m.skills.promoteIfNew(ctx, seq, name, desc, calls, total/time.Duration(len(group)), len(group)); err != nil {
			return err
		}
	}

	m.logger.Debug("consolidated %d episodes: %d tag groups, %d sequence groups", len(recent), len(byTags), len(bySeq))
	return nil
}

func skillName(ep *Episode) string {
	if len(ep.Tags) > 0 {
		return strings.Join(ep.Tags, "-") + "-plan"
	}
	return "learned-plan"
}
