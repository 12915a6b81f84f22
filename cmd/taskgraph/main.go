package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/builder"
	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/process"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/tasks"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Kill any command task children still alive once a signal arrives
	go func() {
		<-ctx.Done()
		if err := process.Default.KillAll(); err != nil {
			fmt.Fprintf(os.Stderr, "Error killing processes: %v\n", err)
		}
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "taskgraph",
		Short: "Run data pipelines described as task graphs",
		Long: `taskgraph builds a graph of tasks from a pipeline file (YAML, JSON or HCL)
and runs it, serially or on a worker pool.

Examples:
  taskgraph run pipeline.yaml --workers 8
  taskgraph validate pipeline.hcl
  taskgraph diagram pipeline.yaml --url`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newRunCmd(), newValidateCmd(), newDiagramCmd(), newHistoryCmd())
	return root
}

// load reads and builds the pipeline at path with the built-in task classes.
func load(ctx context.Context, path string, edit func(*config.PipelineConfig), opts ...scheduler.Option) (*builder.Pipeline, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if edit != nil {
		edit(cfg)
	}
	return builder.Build(ctx, cfg, tasks.Builtins(), opts...)
}
