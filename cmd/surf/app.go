package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"surf/internal/agent"
	"surf/internal/agent/ports"
	"surf/internal/captcha"
	"surf/internal/config"
	"surf/internal/driver/rodpage"
	"surf/internal/logging"
	"surf/internal/memory"
	"surf/internal/model/openaix"
	"surf/internal/reliability"
	"surf/internal/router"
	"surf/internal/sitemem"
	"surf/internal/snapshot"
	"surf/internal/storage"
	"surf/internal/tools"
	"surf/internal/valence"
)

// app is one fully wired session: browser, model, memory, kernel. Close
// releases everything in reverse dependency order.
type app struct {
	cfg     *config.AgentConfig
	log     *logging.FileLogger
	driver  *rodpage.Driver
	snaps   *snapshot.Service
	memory  *memory.Manager
	siteKV  *storage.KV
	sites   *sitemem.Store
	valence *valence.Engine
	agent   *agent.Agent
}

// newApp builds the session. The browser is launched (or attached, when
// debug_browser_port is set) as part of construction.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	var echo io.Writer
	if flagVerbose {
		echo = os.Stderr
	}
	log, err := logging.NewFileLogger(logging.Options{
		Path:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
		Echo:  echo,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	clock := ports.SystemClock{}

	model, err := openaix.New(openaix.Options{
		Endpoint:    cfg.ModelEndpoint,
		APIKey:      cfg.APIKey,
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		EmbedModel:  cfg.EmbedModel,
		Logger:      a.log.WithComponent("model"),
	})
	if err != nil {
		return err
	}

	a.driver, err = rodpage.New(ctx, rodpage.Options{
		DebugPort: cfg.DebugBrowserPort,
		Logger:    a.log.WithComponent("browser"),
	})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	a.snaps = snapshot.New(a.driver, clock, a.log.WithComponent("snapshot"), snapshot.Config{
		TTL:        cfg.SnapshotTTL,
		MaxEntries: cfg.SnapshotLRU,
	})
	a.snaps.StartSweeper()

	a.memory, err = memory.NewManager(memory.ManagerConfig{
		Dir: cfg.MemoryDir,
		Working: memory.WorkingConfig{
			MessageCap:       cfg.ContextCap,
			CompactThreshold: cfg.CompactThreshold,
			KeepLast:         cfg.KeepLast,
		},
		Embedder: model,
		Clock:    clock,
		Logger:   a.log.WithComponent("memory"),
	})
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}

	a.siteKV, err = storage.OpenKV(storage.KVConfig{
		Path:   filepath.Join(cfg.MemoryDir, "site_memory.db"),
		Logger: a.log.WithComponent("sitemem"),
	})
	if err != nil {
		return fmt.Errorf("open site memory: %w", err)
	}
	a.sites = sitemem.NewStore(a.siteKV, a.log.WithComponent("sitemem"))

	a.valence = valence.New(valence.Config{
		Enabled: cfg.ValenceEnabled,
		Path:    filepath.Join(cfg.MemoryDir, "valence_state.json"),
		Clock:   clock,
		Logger:  a.log.WithComponent("valence"),
	})

	registry := tools.NewRegistry(a.driver, a.snaps, nil, a.log.WithComponent("tools"))
	executor := reliability.NewExecutor(reliability.ExecutorConfig{
		Invoker:   registry,
		Driver:    a.driver,
		Snapshots: a.snaps,
		Breakers: reliability.NewBreakerSet(reliability.BreakerConfig{
			FailureThreshold: cfg.CircuitFailureThreshold,
			FailureWindow:    cfg.CircuitWindow,
			CoolOff:          cfg.CircuitCoolOff,
		}, clock, a.log.WithComponent("breaker")),
		Clock:     clock,
		Logger:    a.log.WithComponent("reliability"),
		RetryBias: a.valence.RetryBias,
	})

	engine := captcha.New(model, nil, a.log.WithComponent("captcha"), captcha.Thresholds{
		High:   cfg.CaptchaHigh,
		Good:   cfg.CaptchaGood,
		Medium: cfg.CaptchaMedium,
	})

	// One process is one run; the id pulls this session's lines out of the
	// shared debug log.
	runID := uuid.NewString()[:8]
	a.agent, err = agent.New(agent.Deps{
		Config:    cfg,
		Model:     model,
		Driver:    a.driver,
		Snapshots: a.snaps,
		Executor:  executor,
		Router:    router.New(a.log.WithComponent("router")),
		Memory:    a.memory,
		Sites:     a.sites,
		Captcha:   engine,
		Valence:   a.valence,
		Clock:     clock,
		Logger:    logging.WithRunID(a.log.WithComponent("agent"), runID),
	})
	return err
}

// Close tears the session down. Safe on a partially constructed app.
func (a *app) Close() {
	if a.valence != nil {
		if err := a.valence.Close(); err != nil {
			a.log.Warn("close valence: %v", err)
		}
	}
	if a.snaps != nil {
		a.snaps.Close()
	}
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			a.log.Warn("close browser: %v", err)
		}
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.log.Warn("close memory: %v", err)
		}
	}
	if a.siteKV != nil {
		if err := a.siteKV.Close(); err != nil {
			a.log.Warn("close site memory: %v", err)
		}
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}
