// Package graph runs small state machines: named steps joined by plain or
// conditional edges, sharing a schema-validated state.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// End is the pseudo-node that terminates a run.
const End = "__end__"

const defaultMaxSteps = 64

// Step computes a partial update from the current state. The state it
// receives is a copy; mutating it has no effect on the run.
type Step func(ctx context.Context, s State) (Update, error)

// Router picks the next node from the state after a step was merged.
type Router func(s State) string

var (
	// ErrStepLimit is returned when a run exceeds its step budget.
	ErrStepLimit = errors.New("graph: step limit exceeded")
	// ErrUnknownNode is returned when a router names a node that does not exist.
	ErrUnknownNode = errors.New("graph: unknown node")
)

// StepError reports the step that aborted a run.
type StepError struct {
	Graph string
	Node  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("graph %s: step %s: %v", e.Graph, e.Node, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Builder assembles a Graph. Errors are collected and reported by Compile.
type Builder struct {
	name    string
	schema  Schema
	nodes   map[string]Step
	order   []string
	edges   map[string]string
	routers map[string]Router
	targets map[string][]string
	entry   string
	errs    []error
}

// New starts a graph named name over schema.
func New(name string, schema Schema) *Builder {
	return &Builder{
		name:    name,
		schema:  schema,
		nodes:   make(map[string]Step),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
		targets: make(map[string][]string),
	}
}

// AddNode registers a step.
func (b *Builder) AddNode(name string, step Step) *Builder {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
	case step == nil:
		b.errs = append(b.errs, fmt.Errorf("node %q: nil step", name))
	case b.nodes[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("node %q registered twice", name))
	default:
		b.nodes[name] = step
		b.order = append(b.order, name)
	}
	return b
}

// AddEdge makes to follow from unconditionally.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges lets route choose the node that follows from. targets
// lists every node route may return and is checked by Compile.
func (b *Builder) AddConditionalEdges(from string, route Router, targets ...string) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	b.routers[from] = route
	b.targets[from] = targets
	return b
}

// SetEntry names the first node of a run.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

func (b *Builder) hasOutgoing(from string) bool {
	_, plain := b.edges[from]
	_, cond := b.routers[from]
	return plain || cond
}

// Option configures a compiled graph.
type Option func(*Graph)

// WithMaxSteps bounds the number of steps a single run may execute.
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

// WithLogger sets the logger used for step tracing.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// Compile validates the builder and returns a runnable graph.
func (b *Builder) Compile(opts ...Option) (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	if b.entry == "" {
		errs = append(errs, errors.New("no entry node"))
	} else if b.nodes[b.entry] == nil {
		errs = append(errs, fmt.Errorf("entry %q: %w", b.entry, ErrUnknownNode))
	}
	for from, to := range b.edges {
		if b.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("edge from %q: %w", from, ErrUnknownNode))
		}
		if to != End && b.nodes[to] == nil {
			errs = append(errs, fmt.Errorf("edge to %q: %w", to, ErrUnknownNode))
		}
	}
	for from := range b.routers {
		if b.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("router on %q: %w", from, ErrUnknownNode))
		}
		if len(b.targets[from]) == 0 {
			errs = append(errs, fmt.Errorf("router on %q declares no targets", from))
		}
		for _, t := range b.targets[from] {
			if t != End && b.nodes[t] == nil {
				errs = append(errs, fmt.Errorf("conditional target %q of %q: %w", t, from, ErrUnknownNode))
			}
		}
	}
	for _, name := range b.order {
		if !b.hasOutgoing(name) {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}
	if len(errs) == 0 && !b.reachesEnd() {
		errs = append(errs, fmt.Errorf("%s is not reachable from %q", End, b.entry))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("graph %s: compile: %w", b.name, errors.Join(errs...))
	}

	g := &Graph{
		name:     b.name,
		schema:   b.schema,
		nodes:    b.nodes,
		edges:    b.edges,
		routers:  b.routers,
		entry:    b.entry,
		maxSteps: defaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (b *Builder) reachesEnd() bool {
	seen := map[string]bool{}
	queue := []string{b.entry}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == End {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		if to, ok := b.edges[n]; ok {
			queue = append(queue, to)
		}
		queue = append(queue, b.targets[n]...)
	}
	return false
}
