package graph

import (
	"context"
	"fmt"

	"github.com/ashureev/tutor-core/internal/codec"
)

// Projection maps a parent state onto a child graph's initial state.
type Projection func(parent State) (State, error)

// Collector maps a child's final state back to an update of the parent.
type Collector func(parent, child State) (Update, error)

// Subgraph returns a step that runs child as a nested workflow. Both the
// projected input and the child's final state cross the codec, so neither
// side ever shares live values with the other.
func Subgraph(child *Graph, c *codec.Codec, in Projection, out Collector) Step {
	return func(ctx context.Context, parent State) (Update, error) {
		input, err := in(parent)
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: project input: %w", child.name, err)
		}
		input, err = crossBoundary(c, input)
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: input: %w", child.name, err)
		}

		final, err := child.Run(ctx, input)
		if err != nil {
			return nil, err
		}

		final, err = crossBoundary(c, final)
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: output: %w", child.name, err)
		}
		return out(parent, final)
	}
}

func crossBoundary(c *codec.Codec, s State) (State, error) {
	back, ok := c.Deserialize(c.Serialize(map[string]any(s))).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state did not survive serialization")
	}
	return State(back), nil
}
