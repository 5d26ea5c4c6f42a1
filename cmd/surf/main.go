// Command surf runs browser automation goals from the terminal: a goal runs
// the full planning loop, a replay re-executes a learned skill, and inspect
// looks inside the persistent memory stores.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes mirror the run outcome so scripts can branch on them.
const (
	exitOK        = 0
	exitFailed    = 1
	exitTimeout   = 2
	exitCancelled = 3
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "surf",
		Short:         "surf is an autonomous browser agent",
		Long:          "surf drives a real browser toward a natural-language goal:\nit plans with a local model, acts through retryable tools, and\nremembers what worked for the next run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "echo the debug log to stderr")

	root.AddCommand(newRunCmd(), newReplayCmd(), newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(exitFailed)
	}
}
