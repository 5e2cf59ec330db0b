package graph

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Graph is a compiled, immutable state machine. It is safe for concurrent runs.
type Graph struct {
	name     string
	schema   Schema
	nodes    map[string]Step
	edges    map[string]string
	routers  map[string]Router
	entry    string
	maxSteps int
	logger   *slog.Logger
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the state schema.
func (g *Graph) Schema() Schema { return g.schema }

// Nodes lists node names in sorted order.
func (g *Graph) Nodes() []string {
	return slices.Sorted(maps.Keys(g.nodes))
}

// Run executes the graph from its entry node.
func (g *Graph) Run(ctx context.Context, initial State) (State, error) {
	return g.RunFrom(ctx, g.entry, initial)
}

// RunFrom executes the graph starting at entry until End is reached. The
// initial state is validated against the schema. On failure the state is
// discarded and the error identifies the failing step.
func (g *Graph) RunFrom(ctx context.Context, entry string, initial State) (State, error) {
	if g.nodes[entry] == nil {
		return nil, fmt.Errorf("graph %s: entry %q: %w", g.name, entry, ErrUnknownNode)
	}
	state, err := g.schema.Merge(nil, Update(initial))
	if err != nil {
		return nil, fmt.Errorf("graph %s: initial state: %w", g.name, err)
	}

	node := entry
	for steps := 0; node != End; steps++ {
		if steps >= g.maxSteps {
			return nil, &StepError{Graph: g.name, Node: node, Err: ErrStepLimit}
		}
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Graph: g.name, Node: node, Err: err}
		}

		start := time.Now()
		upd, err := g.nodes[node](ctx, maps.Clone(state))
		if err != nil {
			g.logger.Warn("graph step failed", "graph", g.name, "node", node, "error", err)
			return nil, &StepError{Graph: g.name, Node: node, Err: err}
		}
		state, err = g.schema.Merge(state, upd)
		if err != nil {
			return nil, &StepError{Graph: g.name, Node: node, Err: err}
		}
		g.logger.Debug("graph step", "graph", g.name, "node", node, "elapsed_ms", time.Since(start).Milliseconds())

		next, err := g.next(node, state)
		if err != nil {
			return nil, &StepError{Graph: g.name, Node: node, Err: err}
		}
		node = next
	}
	return state, nil
}

func (g *Graph) next(node string, s State) (string, error) {
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	to := g.routers[node](maps.Clone(s))
	if to != End && g.nodes[to] == nil {
		return "", fmt.Errorf("router returned %q: %w", to, ErrUnknownNode)
	}
	return to, nil
}
