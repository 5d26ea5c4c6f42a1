package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"surf/internal/agent/ports"
	"surf/internal/memory"
	"surf/internal/reliability"
	"surf/internal/tools"
)

// Replay re-executes a stored action sequence through the fabric without a
// model. The id may name a skill directly, or an episode whose tool sequence
// was promoted to a skill; an episode that never produced a skill carries no
// arguments and cannot be replayed.
func (a *Agent) Replay(ctx context.Context, id string) (*RunResult, error) {
	sk, err := a.memory.Skills().Get(id)
	if err != nil {
		ep, epErr := a.memory.Episodic().Get(id)
		if epErr != nil {
			return nil, fmt.Errorf("replay: no skill or episode %q", id)
		}
		sig := strings.Join(ep.ToolSeq, ">")
		sk, err = a.memory.Skills().Get(sig)
		if err != nil {
			return nil, fmt.Errorf("replay: episode %q has no promoted skill for sequence %q", id, sig)
		}
	}
	if len(sk.Calls) == 0 {
		return nil, fmt.Errorf("replay: skill %q has no calls", sk.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.GoalTimeout)
	defer cancel()

	goal := "replay: " + sk.Name
	r := &run{goal: goal, start: a.clock.Now(), replay: true}
	a.memory.Working.Begin(systemPrompt, goal)
	a.logger.Info("replaying %s (%d calls)", sk.ID, len(sk.Calls))

	var lastObservation string
	for _, sc := range sk.Calls {
		if outcome, stopped := a.deadlineOutcome(ctx); stopped {
			a.recordReplayOutcome(ctx, sk.ID, false, r)
			return a.finish(ctx, r, "replay interrupted", outcome, r.lastKind), nil
		}

		call, err := replayCall(sc)
		if err != nil {
			a.recordReplayOutcome(ctx, sk.ID, false, r)
			return a.finish(ctx, r, err.Error(), memory.OutcomeFailed, reliability.KindUnknown), nil
		}

		result := a.executor.Execute(ctx, call)
		a.recordStep(ctx, "", call, result)
		if !result.Success {
			r.lastKind = result.Kind
			a.recordReplayOutcome(ctx, sk.ID, false, r)
			summary := fmt.Sprintf("replay stopped at %s: %s", call, result.Reason)
			return a.finish(ctx, r, summary, memory.OutcomeFailed, result.Kind), nil
		}
		lastObservation = result.Observation()
	}

	a.recordReplayOutcome(ctx, sk.ID, true, r)
	return a.finish(ctx, r, lastObservation, memory.OutcomeSuccess, reliability.KindNone), nil
}

func (a *Agent) recordReplayOutcome(ctx context.Context, skillID string, success bool, r *run) {
	duration := a.clock.Now().Sub(r.start)
	if err := a.memory.Skills().RecordExecution(context.WithoutCancel(ctx), skillID, success, duration); err != nil {
		a.logger.Warn("record replay outcome: %v", err)
	}
}

// replayCall rebuilds a typed call from a persisted skill action.
func replayCall(sc memory.SkillCall) (*tools.Call, error) {
	raw := json.RawMessage("{}")
	if sc.Args != "" {
		raw = json.RawMessage(sc.Args)
	}
	call, err := tools.Parse(ports.ToolInvocation{Name: sc.Tool, Args: raw})
	if err != nil {
		return nil, fmt.Errorf("replay call %s: %w", sc.Tool, err)
	}
	call.Origin = tools.OriginReplay
	return call, nil
}
