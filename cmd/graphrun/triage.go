package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallnest/graphrun/graph"
)

// triageGraph builds the demo graph:
//
//	intake -> classify -> escalate (priority > 7) -> notify
//	                   -> queue    (otherwise)    -> notify
//
// failAt names a node that fails every attempt, to exercise error
// checkpoints and resume.
func triageGraph(failAt string) (*graph.Graph, error) {
	g := graph.NewGraph("triage")

	step := func(id string, fn graph.NodeFunc) graph.NodeFunc {
		return func(ctx context.Context, s *graph.State) (any, error) {
			if id == failAt {
				return nil, graph.Classified(graph.ErrorTypeNetwork, fmt.Errorf("simulated outage in %s", id))
			}
			return fn(ctx, s)
		}
	}

	nodes := []*graph.Node{
		graph.NewFunctionNode("intake", step("intake", func(_ context.Context, s *graph.State) (any, error) {
			ticket, _ := graph.Value[string](s, "ticket")
			return graph.Update{"summary": strings.ToLower(strings.TrimSpace(ticket))}, nil
		}), graph.WithInputs("ticket"), graph.WithDescription("normalize the ticket text")),

		graph.NewFunctionNode("classify", step("classify", func(_ context.Context, s *graph.State) (any, error) {
			p, _ := s.Get("priority")
			severity := "low"
			if n, ok := p.(int); ok && n > 7 {
				severity = "high"
			}
			return graph.Update{"severity": severity}, nil
		}), graph.WithInputs("priority"), graph.WithDescription("derive severity from priority")),

		graph.NewFunctionNode("escalate", step("escalate", func(context.Context, *graph.State) (any, error) {
			return graph.Update{"assignee": "oncall", "sla_hours": 4}, nil
		}), graph.WithDescription("page the on-call engineer")),

		graph.NewFunctionNode("queue", step("queue", func(context.Context, *graph.State) (any, error) {
			return graph.Update{"assignee": "support", "sla_hours": 48}, nil
		}), graph.WithDescription("put the ticket in the support queue")),

		graph.NewFunctionNode("notify", step("notify", func(_ context.Context, s *graph.State) (any, error) {
			assignee, _ := graph.Value[string](s, "assignee")
			return graph.Update{"notified": []string{assignee}}, nil
		}), graph.WithInputs("assignee"), graph.Terminal(), graph.WithDescription("notify the assignee")),
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	if _, err := g.AddEdge("intake", "classify"); err != nil {
		return nil, err
	}
	for _, route := range [][2]string{{"escalate", "priority > 7"}, {"queue", "priority <= 7"}} {
		cond, err := graph.NewExprCondition(route[1])
		if err != nil {
			return nil, err
		}
		if _, err := g.AddConditionalEdge("classify", route[0], cond, graph.WithEdgeName(route[1])); err != nil {
			return nil, err
		}
	}
	for _, from := range []string{"escalate", "queue"} {
		if _, err := g.AddEdge(from, "notify"); err != nil {
			return nil, err
		}
	}
	return g, g.SetStartNode("intake")
}
