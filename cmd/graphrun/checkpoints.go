package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/graphrun/graph"
	"github.com/spf13/cobra"
)

func newCheckpointsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect, resume and clean up checkpoints",
	}
	cmd.AddCommand(
		newCheckpointsListCmd(root),
		newCheckpointsShowCmd(root),
		newCheckpointsResumeCmd(root),
		newCheckpointsCleanupCmd(root),
	)
	return cmd
}

func newCheckpointsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [execution-id]",
		Short: "List checkpoints of one execution, or of all executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			execs := args
			if len(execs) == 0 {
				if execs, err = e.manager.Store().Executions(cmd.Context()); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if len(execs) == 0 {
				fmt.Fprintln(out, "no checkpoints")
				return nil
			}
			for _, id := range execs {
				cps, err := e.manager.ListCheckpoints(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "execution %s\n", id)
				for _, cp := range cps {
					fmt.Fprintf(out, "  %-36s seq=%-3d trigger=%-9s node=%-9s %s\n",
						cp.ID, cp.Sequence, cp.Metadata[graph.MetaTrigger], cp.NodeID,
						cp.CreatedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newCheckpointsShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Print a checkpoint and its restored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			cp, err := e.manager.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state, err := e.manager.RestoreCheckpoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			frontier, err := graph.Frontier(cp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checkpoint: %s\n", cp.ID)
			fmt.Fprintf(out, "execution:  %s\n", cp.ExecutionID)
			fmt.Fprintf(out, "sequence:   %d\n", cp.Sequence)
			fmt.Fprintf(out, "node:       %s\n", cp.NodeID)
			fmt.Fprintf(out, "trigger:    %s\n", cp.Metadata[graph.MetaTrigger])
			fmt.Fprintf(out, "frontier:   %s\n", strings.Join(frontier, ", "))
			fmt.Fprintf(out, "version:    %d\n", state.Version())
			fmt.Fprintf(out, "size:       %d bytes\n", cp.SizeBytes)
			printState(out, state)
			return nil
		},
	}
}

func newCheckpointsResumeCmd(root *rootOptions) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Continue an execution from a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			exec, err := e.executor("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var res *graph.Result
			if stream {
				es := graph.NewStreamingExecutorWithConfig(exec, e.cfg.StreamConfig()).StreamResume(cmd.Context(), args[0])
				printEvents(out, es)
				res, err = es.Wait()
			} else {
				res, err = exec.Resume(cmd.Context(), args[0])
			}
			if res != nil {
				printResult(out, res)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print events as they happen")
	return cmd
}

func newCheckpointsCleanupCmd(root *rootOptions) *cobra.Command {
	var (
		maxAge   time.Duration
		maxPer   int
		maxBytes int64
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete checkpoints outside the retention policy",
		Long:  `Applies the configured retention policy. Flags override single rules of it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			policy := e.cfg.Checkpoint.Retention
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if cmd.Flags().Changed("max-per-execution") {
				policy.MaxCheckpointsPerExecution = maxPer
			}
			if cmd.Flags().Changed("max-bytes") {
				policy.MaxTotalBytes = maxBytes
			}
			if policy.IsZero() {
				return errors.New("no retention rule set; configure checkpoint.retention or pass a flag")
			}
			removed, err := e.manager.Cleanup(cmd.Context(), policy)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoint(s)\n", removed)
			return err
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "delete checkpoints older than this")
	cmd.Flags().IntVar(&maxPer, "max-per-execution", 0, "keep only the newest N checkpoints per execution")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "evict the oldest checkpoints until the total payload fits")
	return cmd
}
