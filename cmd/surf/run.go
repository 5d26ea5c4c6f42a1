package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"surf/internal/agent"
	"surf/internal/memory"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <goal>...",
		Short: "Run one goal to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")
			return withSession(func(ctx context.Context, a *app) (*agent.RunResult, error) {
				return a.agent.Run(ctx, goal)
			})
		},
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <skill-or-episode-id>",
		Short: "Re-execute a learned action sequence without planning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, a *app) (*agent.RunResult, error) {
				return a.agent.Replay(ctx, args[0])
			})
		},
	}
}

// withSession builds the app, runs one goal under SIGINT cancellation, prints
// the result, and exits with the outcome code. It only returns an error when
// the session could not be built or the run was rejected outright.
func withSession(fn func(context.Context, *app) (*agent.RunResult, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	res, err := fn(ctx, a)
	if err != nil {
		a.Close()
		return err
	}

	printResult(res)
	a.Close()
	stop()
	os.Exit(exitCode(res.Episode.Outcome))
	return nil
}

func printResult(res *agent.RunResult) {
	ep := res.Episode
	fmt.Printf("%s %s\n", outcomeBadge(ep.Outcome), bold(firstLine(ep.Goal)))
	fmt.Printf("%s\n", gray(fmt.Sprintf("%d steps in %s (episode %s)",
		len(ep.Trace), ep.Duration.Round(time.Millisecond), ep.ID)))
	if res.Answer != "" {
		fmt.Println()
		fmt.Println(res.Answer)
	}
}

func outcomeBadge(outcome memory.Outcome) string {
	switch outcome {
	case memory.OutcomeSuccess:
		return green("ok")
	case memory.OutcomeTimeout:
		return yellow("timeout")
	case memory.OutcomeCancelled:
		return yellow("cancelled")
	case memory.OutcomeEscalated:
		return red("escalated")
	default:
		return red("failed")
	}
}

func exitCode(outcome memory.Outcome) int {
	switch outcome {
	case memory.OutcomeSuccess:
		return exitOK
	case memory.OutcomeTimeout:
		return exitTimeout
	case memory.OutcomeCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
