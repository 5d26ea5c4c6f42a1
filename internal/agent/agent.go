// Package agent is the execution kernel: a ReAct loop that turns one goal
// into a sequence of steps by alternating model planning with tool execution
// through the reliability fabric. The agent owns no global state; every
// collaborator is injected and long-lived for the process.
package agent

import (
	"errors"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/captcha"
	"surf/internal/config"
	"surf/internal/logging"
	"surf/internal/memory"
	"surf/internal/reliability"
	"surf/internal/router"
	"surf/internal/sitemem"
	"surf/internal/snapshot"
	"surf/internal/tools"
	"surf/internal/valence"
)

// Deps wires the kernel. Config, Model, Driver, Snapshots, Executor, Router,
// Memory and Clock are required; Sites, Captcha and Valence are optional.
type Deps struct {
	Config    *config.AgentConfig
	Model     ports.ModelClient
	Driver    ports.PageDriver
	Snapshots *snapshot.Service
	Executor  *reliability.Executor
	Router    *router.Router
	Memory    *memory.Manager
	Sites     *sitemem.Store
	Captcha   *captcha.Engine
	Valence   *valence.Engine
	Clock     ports.Clock
	Logger    logging.Logger
}

// Agent runs goals. One Agent serves one page session; Run is not reentrant.
type Agent struct {
	cfg      *config.AgentConfig
	model    ports.ModelClient
	driver   ports.PageDriver
	snaps    *snapshot.Service
	executor *reliability.Executor
	router   *router.Router
	memory   *memory.Manager
	sites    *sitemem.Store
	captcha  *captcha.Engine
	valence  *valence.Engine
	clock    ports.Clock
	logger   logging.Logger
	policies reliability.PolicyTable
}

// New validates the wiring and builds the kernel.
func New(deps Deps) (*Agent, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("agent: config is required")
	case deps.Model == nil:
		return nil, errors.New("agent: model client is required")
	case deps.Driver == nil:
		return nil, errors.New("agent: page driver is required")
	case deps.Snapshots == nil:
		return nil, errors.New("agent: snapshot service is required")
	case deps.Executor == nil:
		return nil, errors.New("agent: reliability executor is required")
	case deps.Router == nil:
		return nil, errors.New("agent: router is required")
	case deps.Memory == nil:
		return nil, errors.New("agent: memory manager is required")
	case deps.Clock == nil:
		return nil, errors.New("agent: clock is required")
	}
	return &Agent{
		cfg:      deps.Config,
		model:    deps.Model,
		driver:   deps.Driver,
		snaps:    deps.Snapshots,
		executor: deps.Executor,
		router:   deps.Router,
		memory:   deps.Memory,
		sites:    deps.Sites,
		captcha:  deps.Captcha,
		valence:  deps.Valence,
		clock:    deps.Clock,
		logger:   logging.OrNop(deps.Logger),
		policies: reliability.DefaultPolicies(),
	}, nil
}

// RunResult is what one goal produced: the final answer (or diagnostic
// summary) plus the saved episode.
type RunResult struct {
	Answer  string
	Episode *memory.Episode
}

// run is the per-goal mutable state.
type run struct {
	goal        string
	start       time.Time
	consecutive int
	lastKind    reliability.ErrorKind
	lastShot    []byte
	// replay marks a skill re-execution; its stats are recorded through
	// RecordExecution, not through a second promotion.
	replay bool
}

// noteAction feeds the valence engine after each executed call. A nil engine
// means the module is not wired; a disabled one ignores the event itself.
func (a *Agent) noteAction(result reliability.ActionResult, domain string) {
	if a.valence == nil {
		return
	}
	a.valence.Record(valence.Event{
		Kind:    valence.ActionCompleted,
		Success: result.Success,
		Domain:  domain,
	})
}

func (a *Agent) noteHealthCritical() {
	if a.valence == nil {
		return
	}
	a.valence.Record(valence.Event{Kind: valence.HealthCritical})
}

// stepFrom assembles the step record for one executed call.
func stepFrom(thought string, call *tools.Call, result reliability.ActionResult) memory.Step {
	return memory.Step{
		Thought:     thought,
		Tool:        string(call.Name),
		Args:        tools.ArgsJSON(call),
		Observation: result.Observation(),
		Success:     result.Success,
		ErrorKind:   string(result.Kind),
		Duration:    result.Latency,
	}
}
