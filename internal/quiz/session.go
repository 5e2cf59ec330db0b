// Package quiz implements the quiz sub-workflow: question generation, answer
// evaluation and scoring over a document snippet.
package quiz

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ashureev/tutor-core/internal/codec"
)

// Status is the position of a quiz in its lifecycle.
type Status string

const (
	StatusGeneratingFirst Status = "generating-first-question"
	StatusAwaiting        Status = "awaiting-answer"
	StatusEvaluating      Status = "evaluating-answer"
	StatusGeneratingNext  Status = "generating-next-question"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// DefaultMaxQuestions is used when Start is given a non-positive maximum.
const DefaultMaxQuestions = 5

var (
	// ErrTerminal is returned for any transition out of completed or cancelled.
	ErrTerminal = errors.New("quiz: session is finished")
	// ErrIllegalTransition is returned when a transition does not apply to the current status.
	ErrIllegalTransition = errors.New("quiz: illegal transition")
)

// Question is one generated question and, once answered, its grading.
type Question struct {
	Prompt   string
	Options  []string
	Answer   string
	Response string
	Correct  bool
	Feedback string
}

// Session is the state of one quiz. Methods return updated copies.
type Session struct {
	ID            string
	Status        Status
	Score         int
	MaxQuestions  int
	SourceSnippet string
	Current       *Question
	History       []Question
	Summary       string
}

// Start returns a quiz about source waiting for its first question.
func Start(id, source string, maxQuestions int) Session {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return Session{
		ID:            id,
		Status:        StatusGeneratingFirst,
		MaxQuestions:  maxQuestions,
		SourceSnippet: source,
	}
}

// Terminal reports whether the quiz is completed or cancelled.
func (s Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// Generating reports whether the quiz is waiting for a question.
func (s Session) Generating() bool {
	return s.Status == StatusGeneratingFirst || s.Status == StatusGeneratingNext
}

func (s Session) check(allowed ...Status) error {
	if s.Terminal() {
		return ErrTerminal
	}
	if !slices.Contains(allowed, s.Status) {
		return fmt.Errorf("%w: from %s", ErrIllegalTransition, s.Status)
	}
	return nil
}

// Ask presents q and waits for the learner's answer.
func (s Session) Ask(q Question) (Session, error) {
	if err := s.check(StatusGeneratingFirst, StatusGeneratingNext); err != nil {
		return s, err
	}
	s.Current = &q
	s.Status = StatusAwaiting
	return s, nil
}

// BeginEvaluation records the learner's response to the current question.
func (s Session) BeginEvaluation(response string) (Session, error) {
	if err := s.check(StatusAwaiting); err != nil {
		return s, err
	}
	q := *s.Current
	q.Response = response
	s.Current = &q
	s.Status = StatusEvaluating
	return s, nil
}

// Grade files the current question into the history. The score only grows,
// and only for correct answers. Once MaxQuestions were answered the quiz is
// completed; otherwise it waits for the next question.
func (s Session) Grade(correct bool, feedback string) (Session, error) {
	if err := s.check(StatusEvaluating); err != nil {
		return s, err
	}
	q := *s.Current
	q.Correct = correct
	q.Feedback = feedback
	s.History = append(slices.Clone(s.History), q)
	s.Current = nil
	if correct {
		s.Score++
	}
	if len(s.History) >= s.MaxQuestions {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusGeneratingNext
	}
	return s, nil
}

// WithSummary attaches the closing summary of a completed quiz.
func (s Session) WithSummary(summary string) (Session, error) {
	if s.Status != StatusCompleted {
		return s, fmt.Errorf("%w: summary from %s", ErrIllegalTransition, s.Status)
	}
	s.Summary = summary
	return s, nil
}

// Cancel abandons the quiz. Score and history are kept as they were.
func (s Session) Cancel() (Session, error) {
	if s.Terminal() {
		return s, ErrTerminal
	}
	s.Status = StatusCancelled
	s.Current = nil
	return s, nil
}

// Codec tags.
const (
	SessionTag  = "quiz.session"
	QuestionTag = "quiz.question"
)

// RegisterTypes registers Session and Question with c.
func RegisterTypes(c *codec.Codec) {
	codec.Register(c, QuestionTag,
		func(q Question) map[string]any {
			return map[string]any{
				"prompt":   q.Prompt,
				"options":  q.Options,
				"answer":   q.Answer,
				"response": q.Response,
				"correct":  q.Correct,
				"feedback": q.Feedback,
			}
		},
		func(m map[string]any) (Question, error) {
			return Question{
				Prompt:   codec.String(m, "prompt"),
				Options:  codec.Strings(m, "options"),
				Answer:   codec.String(m, "answer"),
				Response: codec.String(m, "response"),
				Correct:  codec.Bool(m, "correct"),
				Feedback: codec.String(m, "feedback"),
			}, nil
		})

	codec.Register(c, SessionTag,
		func(s Session) map[string]any {
			fields := map[string]any{
				"id":             s.ID,
				"status":         string(s.Status),
				"score":          s.Score,
				"max_questions":  s.MaxQuestions,
				"source_snippet": s.SourceSnippet,
				"history":        s.History,
				"summary":        s.Summary,
			}
			if s.Current != nil {
				fields["current"] = *s.Current
			}
			return fields
		},
		func(m map[string]any) (Session, error) {
			status := Status(codec.String(m, "status"))
			switch status {
			case StatusGeneratingFirst, StatusAwaiting, StatusEvaluating, StatusGeneratingNext, StatusCompleted, StatusCancelled:
			default:
				return Session{}, fmt.Errorf("unknown quiz status %q", status)
			}
			history := codec.Slice[Question](m, "history")
			if len(history) == 0 {
				history = nil
			}
			return Session{
				ID:            codec.String(m, "id"),
				Status:        status,
				Score:         int(codec.Int(m, "score")),
				MaxQuestions:  int(codec.Int(m, "max_questions")),
				SourceSnippet: codec.String(m, "source_snippet"),
				Current:       codec.Ptr[Question](m, "current"),
				History:       history,
				Summary:       codec.String(m, "summary"),
			}, nil
		})
}
