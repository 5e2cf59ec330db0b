// Package narration narrates document blocks, adapting the narration policy
// to the learner's accessibility profile.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/profile"
	"github.com/ashureev/tutor-core/internal/prompts"
	"github.com/ashureev/tutor-core/internal/structured"
)

// State keys of the narration graph.
const (
	KeyUserID     = "user_id"
	KeySource     = "source"
	KeyContainer  = "container"
	KeyBlock      = "block"
	KeyAccessible = "accessible"
	KeyPolicy     = "policy"
	KeyReply      = "reply"
)

// Policy selects a narration prompt.
type Policy string

const (
	PolicyDetailedVisual Policy = "detailed-visual"
	PolicyTextFocused    Policy = "text-focused"
)

func (p Policy) prompt() string {
	if p == PolicyDetailedVisual {
		return "narration.detailed_visual"
	}
	return "narration.text_focused"
}

// PolicyFor returns the policy for a learner.
func PolicyFor(accessible bool) Policy {
	if accessible {
		return PolicyDetailedVisual
	}
	return PolicyTextFocused
}

// Deps are the collaborators of the narration graph.
type Deps struct {
	Model    llm.Completer
	Profiles profile.Service
	Prompts  *prompts.Catalog
	Logger   *slog.Logger
}

type workflow struct {
	Deps
}

type classification struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *classification) validate() error {
	return structured.Required("type", c.Type)
}

// NewGraph compiles the narration graph: classify the block in "source",
// look up the learner profile, then narrate with the matching policy.
func NewGraph(deps Deps) (*graph.Graph, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	w := &workflow{Deps: deps}

	schema := graph.Schema{
		KeyUserID:     graph.OfType[string](),
		KeySource:     graph.OfType[string](),
		KeyContainer:  graph.OfType[string](),
		KeyBlock:      graph.OfType[Block](),
		KeyAccessible: graph.OfType[bool](),
		KeyPolicy:     graph.OfType[string](),
		KeyReply:      graph.OfType[string](),
	}
	return graph.New("narration", schema).
		AddNode("classify", w.classify).
		AddNode("profile", w.loadProfile).
		AddNode("narrate", w.narrate).
		AddEdge("classify", "profile").
		AddEdge("profile", "narrate").
		AddEdge("narrate", graph.End).
		SetEntry("classify").
		Compile(graph.WithLogger(deps.Logger))
}

func str(s graph.State, key string) string {
	v, _ := s[key].(string)
	return v
}

func (w *workflow) classify(ctx context.Context, s graph.State) (graph.Update, error) {
	source := str(s, KeySource)
	container := ImmediateContainer(str(s, KeyContainer))
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("narration: nothing to narrate")
	}

	prompt, err := w.Prompts.Render("narration.classify", struct{ Block string }{source})
	if err != nil {
		return nil, err
	}
	raw, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classify block: %w", err)
	}

	out, err := structured.Decode(raw, (*classification).validate)
	if err != nil {
		w.Logger.Warn("block classification degraded", "kind", structured.KindOf(err), "error", err)
		return graph.Update{KeyBlock: Placeholder(source, container, err)}, nil
	}
	text := out.Text
	if strings.TrimSpace(text) == "" {
		text = source
	}
	return graph.Update{KeyBlock: Block{Type: strings.ToLower(out.Type), Text: text, Container: container}}, nil
}

func (w *workflow) loadProfile(ctx context.Context, s graph.State) (graph.Update, error) {
	userID := str(s, KeyUserID)
	accessible := false
	if w.Profiles != nil {
		p, err := w.Profiles.GetProfile(ctx, userID)
		if err != nil {
			w.Logger.Warn("profile lookup failed, using standard narration", "user_id", userID, "error", err)
		} else {
			accessible = p.Accessibility
		}
	}
	return graph.Update{KeyAccessible: accessible, KeyPolicy: string(PolicyFor(accessible))}, nil
}

func (w *workflow) narrate(ctx context.Context, s graph.State) (graph.Update, error) {
	block, _ := s[KeyBlock].(Block)
	policy := Policy(str(s, KeyPolicy))

	prompt, err := w.Prompts.Render(policy.prompt(), struct {
		Type      string
		Text      string
		Container string
	}{Type: block.Type, Text: block.Text, Container: block.Container})
	if err != nil {
		return nil, err
	}
	out, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("narrate block: %w", err)
	}
	return graph.Update{KeyReply: strings.TrimSpace(out)}, nil
}
