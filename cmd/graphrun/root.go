package main

import (
	"context"
	"fmt"

	"github.com/smallnest/graphrun/config"
	"github.com/smallnest/graphrun/graph"
	"github.com/smallnest/graphrun/log"
	"github.com/spf13/cobra"
)

const defaultCheckpointDir = ".graphrun/checkpoints"

type rootOptions struct {
	configPath    string
	checkpointDir string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "graphrun",
		Short:         "Run graphs with checkpointing and streamed events",
		Long:          `graphrun executes the built-in ticket triage graph, streams its events and manages the checkpoints it writes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.checkpointDir, "checkpoint-dir", "",
		"store checkpoints as files in this directory (overrides the configured backend)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error, none)")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newCheckpointsCmd(opts),
	)
	return cmd
}

// load resolves the configuration. Without a config file checkpoints go to
// files under .graphrun so they survive between invocations.
func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Config{}, err
		}
	} else {
		cfg.Store.Backend = config.BackendFile
		cfg.Store.File.Dir = defaultCheckpointDir
	}
	if o.checkpointDir != "" {
		cfg.Store.Backend = config.BackendFile
		cfg.Store.File.Dir = o.checkpointDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, cfg.Validate()
}

// env is what every command needs to talk to the engine.
type env struct {
	cfg     config.Config
	logger  log.Logger
	manager *graph.CheckpointManager
	close   func() error
}

func (o *rootOptions) open(ctx context.Context) (*env, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	cfg.Checkpoint.Enabled = true
	mgr, closeFn, err := cfg.CheckpointManager(ctx, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, manager: mgr, close: closeFn}, nil
}

func (e *env) executor(failAt string, extra ...graph.Option) (*graph.Executor, error) {
	g, err := triageGraph(failAt)
	if err != nil {
		return nil, err
	}
	extra = append([]graph.Option{graph.WithLogger(e.logger), graph.WithCheckpointManager(e.manager)}, extra...)
	opts, err := e.cfg.ExecutorOptions(extra...)
	if err != nil {
		return nil, err
	}
	exec, err := graph.NewExecutor(g, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	return exec, nil
}
