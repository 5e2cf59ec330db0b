package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/prompts"
)

const (
	chatKeyHistory = "history"
	chatKeyInput   = "input"
	chatKeyReply   = "reply"
)

// newChatGraph compiles the open chat workflow: one model call over the
// recent history.
func newChatGraph(model llm.Completer, catalog *prompts.Catalog, window int, logger *slog.Logger) (*graph.Graph, error) {
	schema := graph.Schema{
		// After crossing the codec the history is a []any of messages.
		chatKeyHistory: nil,
		chatKeyInput:   graph.OfType[string](),
		chatKeyReply:   graph.OfType[string](),
	}
	reply := func(ctx context.Context, s graph.State) (graph.Update, error) {
		msgs := domain.Messages(s[chatKeyHistory])
		if window > 0 && len(msgs) > window {
			msgs = msgs[len(msgs)-window:]
		}
		input, _ := s[chatKeyInput].(string)
		prompt, err := catalog.Render("chat.reply", struct {
			History []domain.Message
			Input   string
		}{History: msgs, Input: input})
		if err != nil {
			return nil, err
		}
		out, err := model.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("chat reply: %w", err)
		}
		return graph.Update{chatKeyReply: strings.TrimSpace(out)}, nil
	}
	return graph.New("chat", schema).
		AddNode("reply", reply).
		AddEdge("reply", graph.End).
		SetEntry("reply").
		Compile(graph.WithLogger(logger))
}
