package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/smallnest/graphrun/graph"
	"github.com/spf13/cobra"
)

type runOptions struct {
	inputs      []string
	stream      bool
	failAt      string
	executionID string
	metrics     bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the triage graph",
		Example: `  graphrun run --input ticket="disk full" --input priority=9
  graphrun run --input priority=3 --stream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initial, err := parseInputs(opts.inputs)
			if err != nil {
				return err
			}
			e, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			var extra []graph.Option
			var reg *prometheus.Registry
			if opts.metrics {
				reg = prometheus.NewRegistry()
				extra = append(extra, graph.WithMetrics(graph.NewMetrics(reg)))
			}
			exec, err := e.executor(opts.failAt, extra...)
			if err != nil {
				return err
			}

			var runOpts []graph.RunOption
			if opts.executionID != "" {
				runOpts = append(runOpts, graph.WithRunExecutionID(opts.executionID))
			}

			out := cmd.OutOrStdout()
			var res *graph.Result
			if opts.stream {
				es := graph.NewStreamingExecutorWithConfig(exec, e.cfg.StreamConfig()).
					Stream(cmd.Context(), initial, runOpts...)
				printEvents(out, es)
				res, err = es.Wait()
			} else {
				res, err = exec.Execute(cmd.Context(), initial, runOpts...)
			}
			if res != nil {
				printResult(out, res)
			}
			if reg != nil {
				printMetrics(out, reg)
			}
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil, "initial state value as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print events as they happen")
	cmd.Flags().StringVar(&opts.failAt, "fail-at", "", "make this node fail, to try error checkpoints")
	cmd.Flags().StringVar(&opts.executionID, "execution-id", "", "execution id (generated when empty)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print execution metrics after the run")
	return cmd
}

// parseInputs turns key=value pairs into initial state. Values that parse
// as int, float or bool keep that type.
func parseInputs(pairs []string) (map[string]any, error) {
	initial := map[string]any{
		"ticket":   "Printer is on fire",
		"priority": 5,
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, want key=value", pair)
		}
		initial[key] = parseValue(value)
	}
	return initial, nil
}

func parseValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func printEvents(w io.Writer, es *graph.EventStream) {
	for ev := range es.Events() {
		line := fmt.Sprintf("[%03d] %s", ev.Sequence, ev)
		switch {
		case ev.Err != nil:
			line += " error=" + ev.Err.Error()
		case ev.Duration > 0:
			line += " " + ev.Duration.String()
		}
		if ev.Recovery != "" {
			line += " recovery=" + ev.Recovery
		}
		fmt.Fprintln(w, line)
	}
}

func printResult(w io.Writer, res *graph.Result) {
	fmt.Fprintf(w, "execution: %s\n", res.ExecutionID)
	fmt.Fprintf(w, "status:    %s (%s)\n", res.Status, res.Outcome)
	fmt.Fprintf(w, "path:      %s\n", strings.Join(res.Path, " -> "))
	fmt.Fprintf(w, "steps:     %d\n", res.Steps)
	if len(res.Checkpoints) > 0 {
		fmt.Fprintf(w, "checkpoints: %s\n", strings.Join(res.Checkpoints, ", "))
	}
	if res.Err != nil {
		fmt.Fprintf(w, "error:     %v\n", res.Err)
	}
	printState(w, res.State)
}

func printState(w io.Writer, s *graph.State) {
	if s == nil {
		return
	}
	data, err := json.MarshalIndent(s.Args(), "", "  ")
	if err != nil {
		fmt.Fprintf(w, "state: %v\n", err)
		return
	}
	fmt.Fprintf(w, "state:\n%s\n", data)
}

func printMetrics(w io.Writer, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(w, "metrics: %v\n", err)
		return
	}
	fmt.Fprintln(w, "metrics:")
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			fmt.Fprintf(w, "metrics: %v\n", err)
			return
		}
	}
}
