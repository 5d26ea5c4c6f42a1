package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/agent/ports/mocks"
	"surf/internal/config"
	"surf/internal/logging"
	"surf/internal/memory"
	"surf/internal/reliability"
	"surf/internal/router"
	"surf/internal/sitemem"
	"surf/internal/snapshot"
	"surf/internal/storage"
	"surf/internal/tools"
)

func testConfig() *config.AgentConfig {
	return &config.AgentConfig{
		ModelEndpoint:           "http://model.test/v1",
		MaxIterations:           5,
		GoalTimeout:             time.Minute,
		ContextCap:              100,
		CompactThreshold:        80,
		KeepLast:                10,
		FatalFailures:           3,
		SnapshotTTL:             2 * time.Second,
		CircuitFailureThreshold: 3,
		CircuitWindow:           30 * time.Second,
		CircuitCoolOff:          60 * time.Second,
	}
}

type testRig struct {
	agent  *Agent
	driver *mocks.MockPageDriver
	model  *mocks.MockModelClient
	clock  *mocks.FakeClock
	memory *memory.Manager
	sites  *sitemem.Store
}

func newRig(t *testing.T, driver *mocks.MockPageDriver, model *mocks.MockModelClient) *testRig {
	t.Helper()
	if driver == nil {
		driver = &mocks.MockPageDriver{}
	}
	if model == nil {
		model = &mocks.MockModelClient{}
	}
	clock := mocks.NewFakeClock(time.Unix(0, 0))

	mgr, err := memory.NewManager(memory.ManagerConfig{Clock: clock})
	if err != nil {
		t.Fatalf("memory manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	kv, err := storage.OpenMemoryKV()
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	sites := sitemem.NewStore(kv, logging.Nop())

	snaps := snapshot.New(driver, clock, logging.Nop(), snapshot.Config{})
	registry := tools.NewRegistry(driver, snaps, nil, logging.Nop())
	executor := reliability.NewExecutor(reliability.ExecutorConfig{
		Invoker:   registry,
		Driver:    driver,
		Snapshots: snaps,
		Clock:     clock,
		Logger:    logging.Nop(),
		Seed:      1,
	})

	a, err := New(Deps{
		Config:    testConfig(),
		Model:     model,
		Driver:    driver,
		Snapshots: snaps,
		Executor:  executor,
		Router:    router.New(logging.Nop()),
		Memory:    mgr,
		Sites:     sites,
		Clock:     clock,
		Logger:    logging.Nop(),
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return &testRig{agent: a, driver: driver, model: model, clock: clock, memory: mgr, sites: sites}
}

func toolCall(name, args string) *ports.CompletionResponse {
	return &ports.CompletionResponse{
		Content: "using " + name,
		Invocations: []ports.ToolInvocation{{
			ID: "call-1", Name: name, Args: json.RawMessage(args),
		}},
	}
}

func TestTriggerBypassExtractsLinksWithoutModel(t *testing.T) {
	driver := &mocks.MockPageDriver{
		HTMLFunc: func(context.Context) (string, error) {
			return `<html><body>
				<a href="/a">One</a>
				<a href="/b">Two</a>
				<a href="/c">Three</a>
			</body></html>`, nil
		},
	}
	rig := newRig(t, driver, nil)

	res, err := rig.agent.Run(context.Background(), "extract all links")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rig.model.Calls != 0 {
		t.Fatalf("trigger bypass must not call the model, got %d calls", rig.model.Calls)
	}
	if res.Episode.Outcome != memory.OutcomeSuccess {
		t.Fatalf("outcome %s", res.Episode.Outcome)
	}
	if len(res.Episode.Trace) != 1 {
		t.Fatalf("steps = %d, want 1", len(res.Episode.Trace))
	}
	for _, want := range []string{"One", "/a", "Two", "/b", "Three", "/c"} {
		if !strings.Contains(res.Answer, want) {
			t.Fatalf("answer missing %q: %s", want, res.Answer)
		}
	}
	if idx := strings.Index(res.Answer, "One"); idx > strings.Index(res.Answer, "Two") {
		t.Fatalf("links out of document order: %s", res.Answer)
	}
}

func TestRunPlansActsAndTerminatesOnFinalAnswer(t *testing.T) {
	var navigated string
	driver := &mocks.MockPageDriver{
		NavigateFunc: func(_ context.Context, url string) error {
			navigated = url
			return nil
		},
	}
	model := &mocks.MockModelClient{}
	model.CompleteFunc = func(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
		if model.Calls == 1 {
			return toolCall("navigate", `{"url":"https://example.test/next"}`), nil
		}
		return &ports.CompletionResponse{Content: "the page is open"}, nil
	}
	rig := newRig(t, driver, model)

	res, err := rig.agent.Run(context.Background(), "open the next page and summarize it")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if navigated != "https://example.test/next" {
		t.Fatalf("navigated to %q", navigated)
	}
	if model.Calls != 2 {
		t.Fatalf("model calls = %d, want 2", model.Calls)
	}
	if res.Answer != "the page is open" {
		t.Fatalf("answer %q", res.Answer)
	}
	ep := res.Episode
	if ep.Outcome != memory.OutcomeSuccess || len(ep.ToolSeq) != 1 || ep.ToolSeq[0] != "navigate" {
		t.Fatalf("episode %+v", ep)
	}
}

func TestRunStopsAtIterationBudgetWithTimeout(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return toolCall("scroll", `{"delta_y":200}`), nil
		},
	}
	rig := newRig(t, nil, model)

	res, err := rig.agent.Run(context.Background(), "keep browsing the feed forever")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Episode.Outcome != memory.OutcomeTimeout {
		t.Fatalf("outcome %s, want timeout", res.Episode.Outcome)
	}
	if model.Calls != 5 {
		t.Fatalf("model calls = %d, want the full budget of 5", model.Calls)
	}
	if len(res.Episode.Trace) != 5 {
		t.Fatalf("steps = %d", len(res.Episode.Trace))
	}
}

func TestRunFailsAfterConsecutiveFailures(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return toolCall("click", `{"ref":"e99"}`), nil
		},
	}
	rig := newRig(t, nil, model)

	res, err := rig.agent.Run(context.Background(), "press the purchase button")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ep := res.Episode
	if ep.Outcome != memory.OutcomeFailed {
		t.Fatalf("outcome %s, want failed", ep.Outcome)
	}
	if ep.ErrorKind != string(reliability.KindSelectorMissing) {
		t.Fatalf("error kind %q", ep.ErrorKind)
	}
	if len(ep.Trace) != 3 {
		t.Fatalf("steps = %d, want the fatal threshold of 3", len(ep.Trace))
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	rig := newRig(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := rig.agent.Run(ctx, "book a flight on the demo site")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Episode.Outcome != memory.OutcomeCancelled {
		t.Fatalf("outcome %s, want cancelled", res.Episode.Outcome)
	}
	if rig.model.Calls != 0 {
		t.Fatalf("cancelled run must not plan, got %d model calls", rig.model.Calls)
	}
}

func TestRunTreatsUnknownToolAsFinalAnswer(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{
				Content: "I believe we are done",
				Invocations: []ports.ToolInvocation{{
					Name: "teleport", Args: json.RawMessage(`{}`),
				}},
			}, nil
		},
	}
	rig := newRig(t, nil, model)

	res, err := rig.agent.Run(context.Background(), "finish the walkthrough")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Episode.Outcome != memory.OutcomeSuccess {
		t.Fatalf("outcome %s", res.Episode.Outcome)
	}
	if res.Answer != "I believe we are done" {
		t.Fatalf("answer %q", res.Answer)
	}
}

func TestSuccessfulRunPromotesSkill(t *testing.T) {
	model := &mocks.MockModelClient{}
	model.CompleteFunc = func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
		if model.Calls == 1 {
			return toolCall("navigate", `{"url":"https://example.test/pricing"}`), nil
		}
		return &ports.CompletionResponse{Content: "pricing found"}, nil
	}
	rig := newRig(t, nil, model)

	if _, err := rig.agent.Run(context.Background(), "open the pricing page"); err != nil {
		t.Fatalf("run: %v", err)
	}
	sk, err := rig.memory.Skills().Get("navigate")
	if err != nil {
		t.Fatalf("skill not promoted: %v", err)
	}
	if sk.ExecCount != 1 || sk.SuccessN != 1 {
		t.Fatalf("skill stats %+v", sk)
	}
}

func TestReplayExecutesSkillWithoutModel(t *testing.T) {
	var navigated []string
	driver := &mocks.MockPageDriver{
		NavigateFunc: func(_ context.Context, url string) error {
			navigated = append(navigated, url)
			return nil
		},
	}
	rig := newRig(t, driver, nil)

	calls := []memory.SkillCall{
		{Tool: "navigate", Args: `{"url":"https://example.test/login"}`},
		{Tool: "wait", Args: `{"state":"networkidle"}`},
	}
	sk, err := rig.memory.Skills().SaveOrUpdate(context.Background(), "open login", "open the login page", calls, time.Second)
	if err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	res, err := rig.agent.Replay(context.Background(), sk.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rig.model.Calls != 0 {
		t.Fatalf("replay must not call the model")
	}
	if len(navigated) != 1 || navigated[0] != "https://example.test/login" {
		t.Fatalf("navigations %v", navigated)
	}
	if res.Episode.Outcome != memory.OutcomeSuccess || len(res.Episode.Trace) != 2 {
		t.Fatalf("episode %+v", res.Episode)
	}

	updated, err := rig.memory.Skills().Get(sk.ID)
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if updated.ExecCount != 2 || updated.SuccessN != 2 {
		t.Fatalf("replay must record execution, got %+v", updated)
	}
}

func TestReliableSkillMatchedToGoalReplaysWithoutModel(t *testing.T) {
	var navigated []string
	driver := &mocks.MockPageDriver{
		NavigateFunc: func(_ context.Context, url string) error {
			navigated = append(navigated, url)
			return nil
		},
	}
	rig := newRig(t, driver, nil)

	calls := []memory.SkillCall{
		{Tool: "navigate", Args: `{"url":"https://example.test/login"}`},
	}
	sk, err := rig.memory.Skills().SaveOrUpdate(context.Background(), "open the login page", "open the login page", calls, time.Second)
	if err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	res, err := rig.agent.Run(context.Background(), "open the login page")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rig.model.Calls != 0 {
		t.Fatalf("matched skill must replay without planning, got %d model calls", rig.model.Calls)
	}
	if len(navigated) != 1 || navigated[0] != "https://example.test/login" {
		t.Fatalf("navigations %v", navigated)
	}
	if res.Episode.Outcome != memory.OutcomeSuccess {
		t.Fatalf("outcome %s", res.Episode.Outcome)
	}

	updated, err := rig.memory.Skills().Get(sk.ID)
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if updated.ExecCount != 2 || updated.SuccessN != 2 {
		t.Fatalf("skill replay not recorded: %+v", updated)
	}
}

func TestFailedSkillReplayFallsBackToPlanning(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "done another way"}, nil
		},
	}
	rig := newRig(t, nil, model)

	// The stored click has no live element behind it, so the replay stops at
	// step one and the planner takes over.
	calls := []memory.SkillCall{{Tool: "click", Args: `{"ref":"e99"}`}}
	sk, err := rig.memory.Skills().SaveOrUpdate(context.Background(), "press the buy button", "press the buy button", calls, time.Second)
	if err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	res, err := rig.agent.Run(context.Background(), "press the buy button")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if model.Calls == 0 {
		t.Fatalf("failed replay must fall back to planning")
	}
	if res.Answer != "done another way" || res.Episode.Outcome != memory.OutcomeSuccess {
		t.Fatalf("result %q outcome %s", res.Answer, res.Episode.Outcome)
	}

	updated, err := rig.memory.Skills().Get(sk.ID)
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if updated.ExecCount != 2 || updated.SuccessN != 1 {
		t.Fatalf("failed replay must be recorded: %+v", updated)
	}
}

func TestUnrelatedGoalDoesNotTriggerSkillReplay(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "nothing to do"}, nil
		},
	}
	rig := newRig(t, nil, model)

	calls := []memory.SkillCall{{Tool: "navigate", Args: `{"url":"https://example.test/login"}`}}
	if _, err := rig.memory.Skills().SaveOrUpdate(context.Background(), "open the login page", "open the login page", calls, time.Second); err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	res, err := rig.agent.Run(context.Background(), "summarize today's weather report")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if model.Calls == 0 {
		t.Fatalf("unrelated goal must be planned, not replayed")
	}
	if len(res.Episode.ToolSeq) != 0 {
		t.Fatalf("unexpected tool calls %v", res.Episode.ToolSeq)
	}
}

// locateDriver serves a page with one submit button that vision and the
// selector path both resolve to node n7.
func locateDriver() *mocks.MockPageDriver {
	return &mocks.MockPageDriver{
		AXTreeFunc: func(context.Context) (*ports.AXNode, error) {
			return &ports.AXNode{
				NodeID: "root", Role: "RootWebArea",
				Children: []*ports.AXNode{
					{NodeID: "n7", Role: "button", Name: "Submit", Focusable: true,
						Box: ports.Box{X: 100, Y: 30, Width: 40, Height: 20}},
				},
			}, nil
		},
		NodeAtPointFunc: func(_ context.Context, x, y float64) (string, error) {
			if x == 120 && y == 40 {
				return "n7", nil
			}
			return "", nil
		},
		DescribeNodeFunc: func(_ context.Context, nodeID string) (*ports.NodeInfo, error) {
			return &ports.NodeInfo{
				NodeID: nodeID, Tag: "button", ID: "submit-btn", Text: "Submit",
				Box: ports.Box{X: 100, Y: 30, Width: 40, Height: 20},
				Visible: true, PointerEvents: true,
			}, nil
		},
		QuerySelectorFunc: func(_ context.Context, selector string) (string, error) {
			if selector == "#submit-btn" {
				return "n7", nil
			}
			return "", nil
		},
	}
}

func TestLocateLearnsSelectorAndSkipsVisionOnReuse(t *testing.T) {
	driver := locateDriver()
	visionCalls := 0
	model := &mocks.MockModelClient{
		CompleteVisionFunc: func(context.Context, string, []byte) (string, error) {
			visionCalls++
			return `{"found": true, "x": 120, "y": 40}`, nil
		},
	}
	model.CompleteFunc = func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
		if model.Calls%2 == 1 {
			return toolCall("locate", `{"description":"the submit button"}`), nil
		}
		return &ports.CompletionResponse{Content: "found it"}, nil
	}
	rig := newRig(t, driver, model)

	res, err := rig.agent.Run(context.Background(), "find the submit control")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Episode.Outcome != memory.OutcomeSuccess {
		t.Fatalf("outcome %s", res.Episode.Outcome)
	}
	if visionCalls != 1 {
		t.Fatalf("first locate must use vision once, got %d", visionCalls)
	}
	if !strings.Contains(res.Episode.Trace[0], "ref e") {
		t.Fatalf("locate observation has no ref: %s", res.Episode.Trace[0])
	}

	mems, err := rig.sites.List()
	if err != nil || len(mems) != 1 {
		t.Fatalf("site memories = %v (%v)", mems, err)
	}
	if mems[0].Confidence != 1.0 {
		t.Fatalf("validated memory confidence = %v, want 1.0", mems[0].Confidence)
	}

	// Second run on the same page: the remembered selector answers and
	// vision stays cold.
	if _, err := rig.agent.Run(context.Background(), "find the submit control again"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if visionCalls != 1 {
		t.Fatalf("reuse must not call vision, got %d calls", visionCalls)
	}
	mems, _ = rig.sites.List()
	if len(mems) != 1 || mems[0].SuccessN != 1 {
		t.Fatalf("reuse not recorded: %+v", mems)
	}
}

func TestLocateReportsMissingElement(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteVisionFunc: func(context.Context, string, []byte) (string, error) {
			return `{"found": false}`, nil
		},
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return toolCall("locate", `{"description":"a unicorn banner"}`), nil
		},
	}
	rig := newRig(t, nil, model)

	res, err := rig.agent.Run(context.Background(), "find the unicorn banner")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Episode.Outcome != memory.OutcomeFailed {
		t.Fatalf("outcome %s, want failed", res.Episode.Outcome)
	}
	if res.Episode.ErrorKind != string(reliability.KindSelectorMissing) {
		t.Fatalf("error kind %q", res.Episode.ErrorKind)
	}
}

func TestReplayUnknownIDFails(t *testing.T) {
	rig := newRig(t, nil, nil)
	if _, err := rig.agent.Replay(context.Background(), "no-such-id"); err == nil {
		t.Fatalf("unknown id must fail")
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("empty deps must fail")
	}
}
