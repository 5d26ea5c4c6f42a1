package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/captcha"
	"surf/internal/memory"
	"surf/internal/reliability"
	"surf/internal/router"
	"surf/internal/tools"
)

const systemPrompt = `You are an autonomous browser agent. You control one page through tools: navigate, click, type, hover, press, scroll, wait, snapshot, locate, extraction and diagnostics.

Rules:
- Elements are addressed by refs (e.g. e12) taken from the most recent accessibility snapshot. Never invent a ref.
- When the element you need is not in the snapshot, use locate with a visual description to get its ref.
- Take a snapshot after navigating or whenever the page may have changed.
- Work in small steps: one thought, at most one tool call per turn.
- When the goal is accomplished, reply with the final answer and no tool call.
- If the goal cannot be accomplished, say why and stop calling tools.`

// Run executes one goal to completion. In-band failures (budget exhaustion,
// fatal errors, escalation) come back as a RunResult with the matching
// episode outcome; the error return is reserved for misuse such as an empty
// goal.
func (a *Agent) Run(ctx context.Context, goal string) (*RunResult, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, errors.New("agent: empty goal")
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.GoalTimeout)
	defer cancel()

	r := &run{goal: goal, start: a.clock.Now()}
	a.memory.Working.Begin(systemPrompt, goal)
	a.logger.Info("goal started: %s", firstLine(goal, 120))

	if res, done := a.fastPath(ctx, r); done {
		return res, nil
	}
	if res, done := a.skillPath(ctx, r); done {
		return res, nil
	}
	return a.planLoop(ctx, r)
}

// fastPath consults the router before any model call. A matched trigger that
// succeeds finishes the goal in one step with zero model round-trips; a
// matched trigger that fails leaves its step in working memory and falls
// through to planning.
func (a *Agent) fastPath(ctx context.Context, r *run) (*RunResult, bool) {
	page := router.PageState{}
	if url, err := a.driver.URL(ctx); err == nil {
		page.URL = url
		page.Loaded = url != "" && url != "about:blank"
	}

	call, matched := a.router.Route(r.goal, page)
	if !matched {
		return nil, false
	}

	result := a.executor.Execute(ctx, call)
	a.recordStep(ctx, "", call, result)
	if !result.Success {
		a.logger.Info("trigger %s failed (%s), falling back to planning", call, result.Kind)
		return nil, false
	}
	return a.finish(ctx, r, result.Observation(), memory.OutcomeSuccess, reliability.KindNone), true
}

// skillPath consults the skill library before planning. A reliable skill
// similar to the goal is replayed through the fabric instead of planned from
// scratch; a replay that stops part-way leaves its steps in working memory
// and falls through to the planner.
func (a *Agent) skillPath(ctx context.Context, r *run) (*RunResult, bool) {
	sk, ok := a.memory.Skills().Match(ctx, r.goal)
	if !ok || len(sk.Calls) == 0 {
		return nil, false
	}
	a.logger.Info("skill %s matched (rate %.2f), replaying %d calls", sk.ID, sk.SuccessRate(), len(sk.Calls))
	r.replay = true

	var lastObservation string
	for _, sc := range sk.Calls {
		if outcome, stopped := a.deadlineOutcome(ctx); stopped {
			a.recordReplayOutcome(ctx, sk.ID, false, r)
			return a.finish(ctx, r, "skill replay interrupted", outcome, r.lastKind), true
		}

		call, err := replayCall(sc)
		if err != nil {
			a.logger.Warn("skill %s not replayable: %v", sk.ID, err)
			r.replay = false
			return nil, false
		}

		result := a.executor.Execute(ctx, call)
		a.recordStep(ctx, "", call, result)
		if !result.Success {
			r.lastKind = result.Kind
			a.recordReplayOutcome(ctx, sk.ID, false, r)
			a.logger.Info("skill replay stopped at %s (%s), falling back to planning", call, result.Kind)
			r.replay = false
			return nil, false
		}
		lastObservation = result.Observation()
	}

	a.recordReplayOutcome(ctx, sk.ID, true, r)
	return a.finish(ctx, r, lastObservation, memory.OutcomeSuccess, reliability.KindNone), true
}

// planLoop is the ReAct iteration: plan with the model, act through the
// fabric, observe, repeat.
func (a *Agent) planLoop(ctx context.Context, r *run) (*RunResult, error) {
	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		if outcome, stopped := a.deadlineOutcome(ctx); stopped {
			return a.finish(ctx, r, "", outcome, r.lastKind), nil
		}

		resp, err := a.complete(ctx, a.buildMessages(ctx, r))
		if err != nil {
			if outcome, stopped := a.deadlineOutcome(ctx); stopped {
				return a.finish(ctx, r, "", outcome, r.lastKind), nil
			}
			kind := reliability.Classify(err)
			a.logger.Error("model planning failed (%s): %v", kind, err)
			return a.finish(ctx, r, fmt.Sprintf("planning failed: %v", err), memory.OutcomeFailed, kind), nil
		}

		if len(resp.Invocations) == 0 {
			return a.finish(ctx, r, strings.TrimSpace(resp.Content), memory.OutcomeSuccess, reliability.KindNone), nil
		}

		call, perr := tools.Parse(resp.Invocations[0])
		if perr != nil {
			// The output names no known tool; per the loop contract it is the
			// final answer.
			a.logger.Warn("unparseable tool call treated as final answer: %v", perr)
			answer := strings.TrimSpace(resp.Content)
			if answer == "" {
				answer = fmt.Sprintf("stopped: %v", perr)
			}
			return a.finish(ctx, r, answer, memory.OutcomeSuccess, reliability.KindNone), nil
		}

		var result reliability.ActionResult
		if largs, ok := call.Args.(tools.LocateArgs); ok {
			result = a.handleLocate(ctx, largs.Description)
		} else {
			result = a.executor.Execute(ctx, call)
		}
		a.recordStep(ctx, resp.Content, call, result)

		if result.Success {
			r.consecutive = 0
			if img, ok := result.Data.([]byte); ok && call.Name == tools.NameScreenshot {
				r.lastShot = img
			}
			continue
		}

		r.consecutive++
		r.lastKind = result.Kind

		if result.Kind == reliability.KindCaptcha {
			if a.solveCaptcha(ctx) {
				r.consecutive = 0
				continue
			}
			return a.finish(ctx, r, "a CAPTCHA requires human input", memory.OutcomeEscalated, reliability.KindCaptcha), nil
		}

		if r.consecutive >= a.cfg.FatalFailures {
			a.noteHealthCritical()
			summary := fmt.Sprintf("%d consecutive failures, last: %s", r.consecutive, result.Reason)
			return a.finish(ctx, r, summary, memory.OutcomeFailed, result.Kind), nil
		}
	}

	// Iteration budget spent without a terminal answer.
	return a.finish(ctx, r, "iteration budget exhausted", memory.OutcomeTimeout, r.lastKind), nil
}

// recordStep appends one executed call to working memory as a step plus the
// assistant/observation message pair, compacts when due, and persists the
// trace for crash recovery.
func (a *Agent) recordStep(ctx context.Context, thought string, call *tools.Call, result reliability.ActionResult) {
	step := stepFrom(thought, call, result)

	assistant := ports.Message{Role: ports.RoleAssistant, Content: thought}
	if assistant.Content == "" {
		assistant.Content = call.String()
	}
	observation := ports.Message{Role: ports.RoleUser, Content: result.Observation()}
	if img, ok := result.Data.([]byte); ok && call.Name == tools.NameScreenshot {
		observation.Content = "screenshot captured"
		observation.Images = [][]byte{img}
	}

	a.memory.Working.AddStep(step, assistant, observation)
	a.noteAction(result, a.currentHost(ctx))

	if a.memory.Working.NeedsCompaction() {
		a.memory.Working.Compact()
	}
	if err := a.memory.PersistWorking(); err != nil {
		a.logger.Warn("persist working memory: %v", err)
	}
}

// buildMessages assembles the planning prompt: system instructions, the
// enriched memory context (compacted trace plus long-term recall), the
// current snapshot rendering, and the most recent screenshot only.
func (a *Agent) buildMessages(ctx context.Context, r *run) []ports.Message {
	var b strings.Builder
	b.WriteString(a.memory.EnrichedContext(ctx, r.goal, a.cfg.KeepLast))

	if snap := a.snaps.Current(); snap != nil {
		b.WriteString("\nCurrent page (accessibility snapshot):\n")
		b.WriteString(snap.Render())
	}
	b.WriteString("\nDecide the next action. Reply with a short thought and at most one tool call, or with the final answer and no tool call.")

	user := ports.Message{Role: ports.RoleUser, Content: b.String()}
	if r.lastShot != nil {
		user.Images = [][]byte{r.lastShot}
	}
	return []ports.Message{
		{Role: ports.RoleSystem, Content: systemPrompt},
		user,
	}
}

// complete calls the text model with the retry policies the fabric uses for
// network-class failures. The adapter itself makes exactly one attempt.
func (a *Agent) complete(ctx context.Context, msgs []ports.Message) (*ports.CompletionResponse, error) {
	req := ports.CompletionRequest{
		Messages:    msgs,
		Tools:       tools.Definitions(),
		Temperature: 0.2,
		MaxTokens:   1024,
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := a.model.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		policy := a.policies.Get(reliability.Classify(err))
		if !policy.Retryable || attempt+1 >= policy.MaxAttempts {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.clock.After(policy.Delay(attempt, nil)):
		}
	}
}

// solveCaptcha runs the confidence engine against the current viewport.
// Returning false escalates to a human; true means an answer was injected
// into the conversation for the model to submit.
func (a *Agent) solveCaptcha(ctx context.Context) bool {
	if a.captcha == nil {
		return false
	}
	img, err := a.driver.Screenshot(ctx)
	if err != nil {
		a.logger.Warn("captcha screenshot failed: %v", err)
		return false
	}
	sol, err := a.captcha.Solve(ctx, img, captcha.KindText)
	if err != nil {
		a.logger.Warn("captcha solve failed: %v", err)
		return false
	}
	if sol.Decision == captcha.DecisionEscalate {
		a.logger.Info("captcha scored %.2f (%s), escalating", sol.Score, sol.Band)
		return false
	}
	a.memory.Working.AddMessage(ports.Message{
		Role: ports.RoleUser,
		Content: fmt.Sprintf("A CAPTCHA on this page was solved with answer %q (confidence band %s). Type it into the challenge field and submit.",
			sol.Answer, sol.Band),
	})
	return true
}

// finish closes the episode: compacted trace, outcome, tags, skill update.
// Persistence runs on a detached context so a dead deadline cannot lose the
// record of its own run.
func (a *Agent) finish(ctx context.Context, r *run, answer string, outcome memory.Outcome, kind reliability.ErrorKind) *RunResult {
	steps := a.memory.Working.Steps()
	ep := &memory.Episode{
		Goal:        r.goal,
		Trace:       memory.TraceOf(steps),
		FinalAnswer: answer,
		Outcome:     outcome,
		ErrorKind:   string(kind),
		Duration:    a.clock.Now().Sub(r.start),
		Tags:        memory.InferTags(steps),
		ToolSeq:     memory.ToolSequence(steps),
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := a.memory.SaveEpisode(saveCtx, ep); err != nil {
		a.logger.Error("save episode: %v", err)
	}
	if err := a.memory.PersistWorking(); err != nil {
		a.logger.Warn("persist working memory: %v", err)
	}

	if outcome == memory.OutcomeSuccess && !r.replay {
		if calls := skillCalls(steps); len(calls) > 0 {
			name := firstLine(r.goal, 48)
			if _, err := a.memory.Skills().SaveOrUpdate(saveCtx, name, r.goal, calls, ep.Duration); err != nil {
				a.logger.Warn("skill update: %v", err)
			}
		}
	}

	a.logger.Info("goal finished: outcome=%s steps=%d duration=%s", outcome, len(steps), ep.Duration.Round(time.Millisecond))
	return &RunResult{Answer: answer, Episode: ep}
}

// deadlineOutcome maps a dead context to the episode outcome taxonomy.
func (a *Agent) deadlineOutcome(ctx context.Context) (memory.Outcome, bool) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return memory.OutcomeTimeout, true
	case ctx.Err() != nil:
		return memory.OutcomeCancelled, true
	default:
		return "", false
	}
}

func (a *Agent) currentHost(ctx context.Context) string {
	raw, err := a.driver.URL(ctx)
	if err != nil {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// skillCalls extracts the replayable action sequence of a successful run.
// Locate steps are page queries, not actions; replays address elements
// through the selectors site memory already holds.
func skillCalls(steps []memory.Step) []memory.SkillCall {
	calls := make([]memory.SkillCall, 0, len(steps))
	for _, s := range steps {
		if s.Tool == "" || s.Tool == string(tools.NameLocate) || !s.Success {
			continue
		}
		calls = append(calls, memory.SkillCall{Tool: s.Tool, Args: s.Args})
	}
	return calls
}

func firstLine(text string, limit int) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return string(runes)
}
