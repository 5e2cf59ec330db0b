package orchestrator

import (
	"context"
	"fmt"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/narration"
	"github.com/ashureev/tutor-core/internal/quiz"
)

// buildGraph compiles the turn graph. Every sub-workflow is entered through
// graph.Subgraph so its state crosses the codec both ways.
func (o *Orchestrator) buildGraph() (*graph.Graph, error) {
	d := o.deps
	chat, err := newChatGraph(d.Model, d.Prompts, d.Config.HistoryWindow, d.Logger)
	if err != nil {
		return nil, err
	}
	quizGraph, err := quiz.NewGraph(quiz.Deps{Model: d.Model, Prompts: d.Prompts, Logger: d.Logger})
	if err != nil {
		return nil, err
	}
	answerGraph, err := answer.NewGraph(answer.Deps{
		Model:   d.Model,
		Prompts: d.Prompts,
		Sampler: d.Sampler,
		Now:     d.Now,
		Logger:  d.Logger,
	})
	if err != nil {
		return nil, err
	}
	narrationGraph, err := narration.NewGraph(narration.Deps{
		Model:    d.Model,
		Profiles: d.Profiles,
		Prompts:  d.Prompts,
		Logger:   d.Logger,
	})
	if err != nil {
		return nil, err
	}

	return graph.New("turn", sessionSchema()).
		AddNode("receive", o.receive).
		AddNode("classify", o.classify).
		AddNode("chat", graph.Subgraph(chat, d.Codec, o.chatIn, o.chatOut)).
		AddNode("quiz", graph.Subgraph(quizGraph, d.Codec, o.quizIn, o.quizOut)).
		AddNode("narration", graph.Subgraph(narrationGraph, d.Codec, o.narrationIn, o.narrationOut)).
		AddNode("answer", graph.Subgraph(answerGraph, d.Codec, o.answerIn, o.answerOut)).
		AddNode("cancel_quiz", o.cancelQuiz).
		AddNode("merge", o.merge).
		AddEdge("receive", "classify").
		AddConditionalEdges("classify", routeIntent, "chat", "quiz", "narration", "answer", "cancel_quiz", "merge").
		AddEdge("chat", "merge").
		AddEdge("quiz", "merge").
		AddEdge("narration", "merge").
		AddEdge("answer", "merge").
		AddEdge("cancel_quiz", "merge").
		AddEdge("merge", graph.End).
		SetEntry("receive").
		Compile(graph.WithLogger(d.Logger))
}

func (o *Orchestrator) receive(ctx context.Context, s graph.State) (graph.Update, error) {
	upd := graph.Update{keyReply: "", keyIntent: ""}
	input := str(s, keyInput)
	if input != "" {
		h := history(s)
		upd[keyHistory] = append(h[:len(h):len(h)], o.message(domain.RoleUser, input, nil))
	}

	if docID := str(s, keyDocumentID); docID != "" && str(s, keyDocument) == "" {
		doc, err := o.deps.Repo.GetDocument(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", docID, err)
		}
		if doc != nil && doc.UserID == str(s, keyUserID) {
			upd[keyDocument] = doc.Content
			upd[keyDocumentTitle] = doc.Title
		} else {
			o.deps.Logger.Warn("document unavailable", "document_id", docID, "session_id", str(s, keySessionID))
		}
	}
	return upd, nil
}

func (o *Orchestrator) classify(_ context.Context, s graph.State) (graph.Update, error) {
	sig := Signals{
		Text:            str(s, keyInput),
		HasDocument:     str(s, keyDocument) != "",
		RequireDocument: o.deps.Config.RequireDocument,
	}
	_, sig.HasCommand = s[keyCommand].(answer.Command)
	if q, ok := activeQuiz(s); ok {
		sig.Quiz = &q
	}
	intent, hint := Classify(sig)
	return graph.Update{keyIntent: string(intent), keyReply: hint}, nil
}

func routeIntent(s graph.State) string {
	if str(s, keyReply) != "" {
		return "merge"
	}
	switch domain.Intent(str(s, keyIntent)) {
	case domain.IntentStartQuiz, domain.IntentDispatchQuiz:
		return "quiz"
	case domain.IntentCancelQuiz:
		return "cancel_quiz"
	case domain.IntentDispatchNarration:
		return "narration"
	case domain.IntentDispatchAnswer:
		return "answer"
	}
	return "chat"
}

func (o *Orchestrator) chatIn(s graph.State) (graph.State, error) {
	h := history(s)
	if str(s, keyInput) != "" && len(h) > 0 {
		h = h[:len(h)-1]
	}
	return graph.State{chatKeyHistory: h, chatKeyInput: str(s, keyInput)}, nil
}

func (o *Orchestrator) chatOut(_, child graph.State) (graph.Update, error) {
	return graph.Update{keyReply: str(child, chatKeyReply), keyActive: string(domain.WorkflowChat)}, nil
}

func (o *Orchestrator) quizIn(s graph.State) (graph.State, error) {
	if domain.Intent(str(s, keyIntent)) == domain.IntentStartQuiz {
		source := str(s, keyDocument)
		if source == "" {
			source = recentText(history(s), 6)
		}
		if n := o.deps.Config.SnippetLength; n > 0 && len([]rune(source)) > n {
			source = string([]rune(source)[:n])
		}
		return graph.State{quiz.KeySession: quiz.Start(o.deps.NewID(), source, o.deps.Config.QuizMaxQuestions)}, nil
	}
	q, ok := activeQuiz(s)
	if !ok {
		return nil, fmt.Errorf("no quiz to continue")
	}
	return graph.State{quiz.KeySession: q, quiz.KeyInput: str(s, keyInput)}, nil
}

func (o *Orchestrator) quizOut(_, child graph.State) (graph.Update, error) {
	q, ok := child[quiz.KeySession].(quiz.Session)
	if !ok {
		return nil, fmt.Errorf("quiz returned no session")
	}
	reply, _ := child[quiz.KeyReply].(string)
	return graph.Update{keySubSession: q, keyActive: string(domain.WorkflowQuiz), keyReply: reply}, nil
}

func (o *Orchestrator) narrationIn(s graph.State) (graph.State, error) {
	return graph.State{
		narration.KeyUserID:    str(s, keyUserID),
		narration.KeySource:    narrationSource(str(s, keyInput), str(s, keyDocument), o.deps.Config.SnippetLength),
		narration.KeyContainer: str(s, keyDocumentTitle),
	}, nil
}

func (o *Orchestrator) narrationOut(_, child graph.State) (graph.Update, error) {
	reply, _ := child[narration.KeyReply].(string)
	return graph.Update{keyReply: reply, keyActive: string(domain.WorkflowNarration)}, nil
}

func (o *Orchestrator) answerIn(s graph.State) (graph.State, error) {
	a, ok := activeAnswer(s)
	if !ok {
		a = answer.New(o.deps.NewID())
	}
	return graph.State{
		answer.KeySession:   a,
		answer.KeyCommand:   s[keyCommand],
		answer.KeySessionID: str(s, keySessionID),
		answer.KeyUserID:    str(s, keyUserID),
	}, nil
}

func (o *Orchestrator) answerOut(_, child graph.State) (graph.Update, error) {
	a, ok := child[answer.KeySession].(answer.Session)
	if !ok {
		return nil, fmt.Errorf("answer returned no session")
	}
	reply, _ := child[answer.KeyReply].(string)
	return graph.Update{keySubSession: a, keyActive: string(domain.WorkflowAnswer), keyReply: reply}, nil
}

func (o *Orchestrator) cancelQuiz(_ context.Context, s graph.State) (graph.Update, error) {
	q, _ := activeQuiz(s)
	q, err := q.Cancel()
	if err != nil {
		return nil, err
	}
	reply := fmt.Sprintf("Quiz cancelled. You answered %d of %d correctly.", q.Score, len(q.History))
	return graph.Update{keySubSession: q, keyActive: string(domain.WorkflowChat), keyReply: reply}, nil
}

func (o *Orchestrator) merge(_ context.Context, s graph.State) (graph.Update, error) {
	reply := str(s, keyReply)
	if reply == "" {
		return nil, nil
	}
	ann := map[string]any{"intent": str(s, keyIntent)}
	if q, ok := activeQuiz(s); ok && q.Current != nil && q.Status == quiz.StatusAwaiting {
		ann["quiz_options"] = q.Current.Options
	}
	h := history(s)
	return graph.Update{keyHistory: append(h[:len(h):len(h)], o.message(domain.RoleAgent, reply, ann))}, nil
}

func recentText(h []domain.Message, n int) string {
	if len(h) > n {
		h = h[len(h)-n:]
	}
	var out string
	for _, m := range h {
		if out != "" {
			out += "\n"
		}
		out += m.Content
	}
	return out
}
