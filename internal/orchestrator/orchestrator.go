// Package orchestrator routes each learner turn to the right sub-workflow and
// persists the resulting session state as a checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/codec"
	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/profile"
	"github.com/ashureev/tutor-core/internal/prompts"
	"github.com/ashureev/tutor-core/internal/quiz"
	"github.com/ashureev/tutor-core/internal/store"
)

// FallbackResponse is returned to the learner whenever a turn fails.
const FallbackResponse = "I could not process that request."

var (
	// ErrEmptyTurn is returned for a turn with neither text nor a command.
	ErrEmptyTurn = errors.New("turn has no input")
	// ErrMissingUser is returned for a turn without a user.
	ErrMissingUser = errors.New("turn has no user")
	// ErrQuizInProgress is returned for an answer command while a quiz is
	// still running in the session.
	ErrQuizInProgress = errors.New("a quiz is in progress")
)

// Config holds the tunables of the orchestrator.
type Config struct {
	QuizMaxQuestions int
	RequireDocument  bool
	// SnippetLength bounds, in runes, the document text handed to a quiz or
	// narrated by default.
	SnippetLength int
	// HistoryWindow is the number of recent messages shown to chat.
	HistoryWindow int
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		QuizMaxQuestions: quiz.DefaultMaxQuestions,
		SnippetLength:    2000,
		HistoryWindow:    12,
	}
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Model       llm.Completer
	Profiles    profile.Service
	Repo        store.Repository
	Checkpoints store.CheckpointStore
	Events      events.Publisher
	Codec       *codec.Codec
	Prompts     *prompts.Catalog
	Sampler     *answer.FidelitySampler
	Now         func() time.Time
	NewID       func() string
	Logger      *slog.Logger
	Config      Config
}

// TurnInput is one learner turn. Command drives answer formulation and is set
// by the dictation channel instead of Text.
type TurnInput struct {
	SessionID  string
	UserID     string
	Text       string
	DocumentID string
	Command    *answer.Command
}

// TurnOutput is the result of a turn. QuizComplete and QuizCancelled are set
// only on the turn that finished the quiz.
type TurnOutput struct {
	SessionID          string              `json:"session_id"`
	Seq                int64               `json:"seq,omitempty"`
	Intent             domain.Intent       `json:"intent,omitempty"`
	Active             domain.WorkflowKind `json:"active,omitempty"`
	FinalResponseText  string              `json:"final_response_text"`
	ActiveSubSessionID string              `json:"active_sub_session_id,omitempty"`
	QuizActive         bool                `json:"quiz_active"`
	QuizComplete       bool                `json:"quiz_complete"`
	QuizCancelled      bool                `json:"quiz_cancelled"`
	SerializedHistory  any                 `json:"serialized_history"`
	Answer             *answer.Session     `json:"-"`
}

// Orchestrator handles turns. It is safe for concurrent use; turns of the
// same session run one at a time.
type Orchestrator struct {
	deps  Deps
	graph *graph.Graph
	locks *sessionLocks
}

// New validates deps, fills in defaults and compiles the turn graph.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Model == nil || deps.Repo == nil || deps.Checkpoints == nil {
		return nil, errors.New("orchestrator: model, repository and checkpoint store are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Codec == nil {
		deps.Codec = NewCodec()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	def := DefaultConfig()
	if deps.Config.QuizMaxQuestions <= 0 {
		deps.Config.QuizMaxQuestions = def.QuizMaxQuestions
	}
	if deps.Config.SnippetLength <= 0 {
		deps.Config.SnippetLength = def.SnippetLength
	}
	if deps.Config.HistoryWindow <= 0 {
		deps.Config.HistoryWindow = def.HistoryWindow
	}

	o := &Orchestrator{deps: deps, locks: newSessionLocks()}
	g, err := o.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.graph = g
	return o, nil
}

// Codec returns the codec used for checkpoints.
func (o *Orchestrator) Codec() *codec.Codec {
	return o.deps.Codec
}

// HandleTurn runs one turn. When the run fails nothing is persisted and the
// output carries FallbackResponse next to the error.
func (o *Orchestrator) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	if in.UserID == "" {
		return TurnOutput{}, ErrMissingUser
	}
	if strings.TrimSpace(in.Text) == "" && in.Command == nil {
		return TurnOutput{}, ErrEmptyTurn
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = o.deps.NewID()
	}
	logger := o.deps.Logger.With("session_id", sessionID, "user_id", in.UserID)
	fallback := TurnOutput{SessionID: sessionID, FinalResponseText: FallbackResponse}

	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, state, err := o.load(ctx, sessionID)
	if err != nil {
		logger.Error("load session failed", "error", err)
		return fallback, err
	}
	owner := str(state, keyUserID)
	if sess != nil {
		owner = sess.UserID
	}
	if owner != "" && owner != in.UserID {
		return TurnOutput{}, domain.ErrSessionOwnership
	}
	prevQuiz, hadQuiz := activeQuiz(state)
	if in.Command != nil && hadQuiz && !prevQuiz.Terminal() {
		logger.Info("answer command rejected", "command", in.Command.Kind, "quiz_id", prevQuiz.ID, "quiz_status", prevQuiz.Status)
		return TurnOutput{SessionID: sessionID, FinalResponseText: HintQuizInProgress, QuizActive: true, ActiveSubSessionID: prevQuiz.ID}, ErrQuizInProgress
	}

	state[keySessionID] = sessionID
	state[keyUserID] = in.UserID
	state[keyInput] = strings.TrimSpace(in.Text)
	if in.DocumentID != "" {
		state[keyDocumentID] = in.DocumentID
	}
	if in.Command != nil {
		state[keyCommand] = *in.Command
	}

	final, err := o.graph.Run(ctx, state)
	if err != nil {
		logger.Error("turn failed", "error", err)
		return fallback, fmt.Errorf("run turn: %w", err)
	}

	data, err := o.deps.Codec.Marshal(snapshot(final))
	if err != nil {
		logger.Error("encode checkpoint failed", "error", err)
		return fallback, err
	}
	seq, err := o.deps.Checkpoints.Append(ctx, sessionID, data)
	if err != nil {
		logger.Error("append checkpoint failed", "error", err)
		return fallback, fmt.Errorf("append checkpoint: %w", err)
	}

	active := domain.WorkflowKind(str(final, keyActive))
	if !active.Valid() {
		active = domain.WorkflowNone
	}
	o.register(ctx, logger, sess, sessionID, in.UserID, active, seq)

	out := TurnOutput{
		SessionID:         sessionID,
		Seq:               seq,
		Intent:            domain.Intent(str(final, keyIntent)),
		Active:            active,
		FinalResponseText: str(final, keyReply),
		SerializedHistory: o.deps.Codec.Serialize(history(final)),
	}
	if q, ok := activeQuiz(final); ok {
		changed := !hadQuiz || prevQuiz.ID != q.ID || prevQuiz.Status != q.Status
		out.QuizActive = !q.Terminal()
		out.QuizComplete = changed && q.Status == quiz.StatusCompleted
		out.QuizCancelled = changed && q.Status == quiz.StatusCancelled
		if out.QuizActive {
			out.ActiveSubSessionID = q.ID
		}
	}
	if a, ok := activeAnswer(final); ok {
		out.Answer = &a
		if a.Status != answer.StatusIdle && a.Status != answer.StatusFinalized {
			out.ActiveSubSessionID = a.ID
		}
	}

	o.publish(ctx, logger, sessionID, in.UserID, out, final)
	return out, nil
}

// load returns the registry entry and the state of the latest checkpoint.
// Both are empty for a new session.
func (o *Orchestrator) load(ctx context.Context, sessionID string) (*domain.Session, graph.State, error) {
	sess, err := o.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	cp, err := o.deps.Checkpoints.Latest(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	if cp == nil {
		return sess, graph.State{}, nil
	}
	state, err := restore(o.deps.Codec, cp.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("restore checkpoint %d: %w", cp.Seq, err)
	}
	return sess, state, nil
}

func (o *Orchestrator) register(ctx context.Context, logger *slog.Logger, sess *domain.Session, sessionID, userID string, active domain.WorkflowKind, seq int64) {
	now := o.deps.Now().UTC()
	if sess == nil {
		sess = &domain.Session{ID: sessionID, UserID: userID, CreatedAt: now}
		sess.Active, sess.LatestSeq, sess.UpdatedAt = active, seq, now
		if err := o.deps.Repo.CreateSession(ctx, sess); err != nil {
			logger.Error("register session failed", "seq", seq, "error", err)
		}
		return
	}
	sess.Active, sess.LatestSeq, sess.UpdatedAt = active, seq, now
	if err := o.deps.Repo.UpdateSession(ctx, sess); err != nil {
		logger.Error("update session failed", "seq", seq, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, sessionID, userID string, out TurnOutput, final graph.State) {
	emit := func(typ string, data map[string]any) {
		err := o.deps.Events.Publish(ctx, events.Event{
			Type:      typ,
			SessionID: sessionID,
			UserID:    userID,
			Data:      data,
			At:        o.deps.Now().UTC(),
		})
		if err != nil {
			logger.Warn("publish event failed", "type", typ, "error", err)
		}
	}

	emit(events.CheckpointAppended, map[string]any{"seq": out.Seq})
	if q, ok := activeQuiz(final); ok {
		quizData := map[string]any{"quiz_id": q.ID, "score": q.Score, "answered": len(q.History)}
		if out.QuizComplete {
			emit(events.QuizCompleted, quizData)
		}
		if out.QuizCancelled {
			emit(events.QuizCancelled, quizData)
		}
	}
	emit(events.TurnCompleted, map[string]any{
		"seq":    out.Seq,
		"intent": string(out.Intent),
		"active": string(out.Active),
	})
}

func (o *Orchestrator) message(role domain.Role, content string, ann map[string]any) domain.Message {
	return domain.Message{
		ID:          o.deps.NewID(),
		Role:        role,
		Content:     content,
		Annotations: ann,
		CreatedAt:   o.deps.Now().UTC(),
	}
}
