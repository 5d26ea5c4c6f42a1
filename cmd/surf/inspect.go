package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"surf/internal/config"
	"surf/internal/logging"
	"surf/internal/memory"
	"surf/internal/sitemem"
	"surf/internal/storage"
)

func newInspectCmd() *cobra.Command {
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Look inside the agent's persistent state",
	}
	inspect.AddCommand(newInspectMemoryCmd())
	return inspect
}

func newInspectMemoryCmd() *cobra.Command {
	mem := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the long-term memory stores",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List episodes, patterns, skills and learned selectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(s *stores) error { return s.list(listLimit) })
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 20, "maximum episodes shown")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored episode, pattern, skill and selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(s *stores) error { return s.clear() })
		},
	}

	var exportOut string
	export := &cobra.Command{
		Use:   "export",
		Short: "Dump all memory stores as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(s *stores) error { return s.export(exportOut) })
		},
	}
	export.Flags().StringVarP(&exportOut, "out", "o", "", "write to a file instead of stdout")

	mem.AddCommand(list, clearCmd, export)
	return mem
}

// stores opens the memory tiers without a browser or model session.
type stores struct {
	memory *memory.Manager
	siteKV *storage.KV
	sites  *sitemem.Store
}

func withStores(fn func(*stores) error) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	mgr, err := memory.NewManager(memory.ManagerConfig{
		Dir:    cfg.MemoryDir,
		Logger: logging.Nop(),
	})
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}
	defer mgr.Close()

	kv, err := storage.OpenKV(storage.KVConfig{Path: filepath.Join(cfg.MemoryDir, "site_memory.db")})
	if err != nil {
		return fmt.Errorf("open site memory: %w", err)
	}
	defer kv.Close()

	return fn(&stores{memory: mgr, siteKV: kv, sites: sitemem.NewStore(kv, logging.Nop())})
}

func (s *stores) list(limit int) error {
	episodes, err := s.memory.Episodic().List(limit)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", bold(fmt.Sprintf("Episodes (%d newest)", len(episodes))))
	for _, ep := range episodes {
		fmt.Printf("  %s %s %s\n", outcomeBadge(ep.Outcome), ep.ID, gray(firstLine(ep.Goal)))
	}

	patterns, err := s.memory.Semantic().List()
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", bold(fmt.Sprintf("Patterns (%d)", len(patterns))))
	for _, p := range patterns {
		fmt.Printf("  x%-3d %s\n", p.Strength, p.Statement)
	}

	skills, err := s.memory.Skills().List()
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", bold(fmt.Sprintf("Skills (%d)", len(skills))))
	for _, sk := range skills {
		fmt.Printf("  %s %s %s\n", sk.ID, sk.Name,
			gray(fmt.Sprintf("%d runs, %.0f%% success", sk.ExecCount, sk.SuccessRate()*100)))
	}

	sites, err := s.sites.List()
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", bold(fmt.Sprintf("Learned selectors (%d)", len(sites))))
	for _, m := range sites {
		fmt.Printf("  %.2f %s %s\n", m.Confidence, m.Pattern, gray(m.Description))
	}
	return nil
}

func (s *stores) clear() error {
	ctx := context.Background()
	if err := s.memory.Episodic().Clear(ctx); err != nil {
		return err
	}
	if err := s.memory.Semantic().Clear(ctx); err != nil {
		return err
	}
	if err := s.memory.Skills().Clear(ctx); err != nil {
		return err
	}
	if err := s.sites.Clear(); err != nil {
		return err
	}
	fmt.Println(green("memory cleared"))
	return nil
}

func (s *stores) export(out string) error {
	episodes, err := s.memory.Episodic().List(0)
	if err != nil {
		return err
	}
	patterns, err := s.memory.Semantic().List()
	if err != nil {
		return err
	}
	skills, err := s.memory.Skills().List()
	if err != nil {
		return err
	}
	sites, err := s.sites.List()
	if err != nil {
		return err
	}

	dump := map[string]any{
		"episodes":  episodes,
		"patterns":  patterns,
		"skills":    skills,
		"selectors": sites,
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
