// Package answer implements answer formulation: dictation into a transcript,
// model refinement of that transcript, learner-driven edits, auto-pause
// detection and fidelity sampling.
package answer

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/tutor-core/internal/codec"
)

// Status is the position of an answer session in its lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusRefining  Status = "refining"
	StatusRefined   Status = "refined"
	StatusEditing   Status = "editing"
	StatusFinalized Status = "finalized"
)

// ErrIllegalTransition is returned when a transition does not apply to the current status.
var ErrIllegalTransition = errors.New("answer: illegal transition")

// Edit is one applied edit command.
type Edit struct {
	Instruction string
	Before      string
	After       string
	At          time.Time
}

// Session is the state of one answer being formulated. Methods return
// updated copies.
type Session struct {
	ID         string
	Status     Status
	Transcript string
	Refined    string
	Iterations int
	Fidelity   *float64
	Edits      []Edit
}

// New returns an idle session.
func New(id string) Session {
	return Session{ID: id, Status: StatusIdle}
}

func (s Session) require(allowed ...Status) error {
	if !slices.Contains(allowed, s.Status) {
		return fmt.Errorf("%w: from %s", ErrIllegalTransition, s.Status)
	}
	return nil
}

// Start begins recording a fresh transcript.
func (s Session) Start() (Session, error) {
	if err := s.require(StatusIdle); err != nil {
		return s, err
	}
	s.Status = StatusRecording
	s.Transcript = ""
	return s, nil
}

// Append adds a dictated chunk to the transcript.
func (s Session) Append(chunk string) (Session, error) {
	if err := s.require(StatusRecording); err != nil {
		return s, err
	}
	chunk = strings.TrimSpace(chunk)
	switch {
	case chunk == "":
	case s.Transcript == "":
		s.Transcript = chunk
	default:
		s.Transcript += " " + chunk
	}
	return s, nil
}

// Stop ends recording. It is used both for a manual stop and for auto-pause.
func (s Session) Stop() (Session, error) {
	if err := s.require(StatusRecording); err != nil {
		return s, err
	}
	s.Status = StatusRefining
	return s, nil
}

// WithRefined stores the refined answer produced from the transcript.
func (s Session) WithRefined(text string) (Session, error) {
	if err := s.require(StatusRefining); err != nil {
		return s, err
	}
	s.Status = StatusRefined
	s.Refined = text
	s.Iterations++
	s.Fidelity = nil
	return s, nil
}

// WithFidelity records a sampled fidelity score. It never changes the status
// or the refined text.
func (s Session) WithFidelity(score float64) Session {
	s.Fidelity = &score
	return s
}

// ApplyEdit replaces the refined answer with the result of an edit command.
func (s Session) ApplyEdit(instruction, result string, at time.Time) (Session, error) {
	if err := s.require(StatusRefined, StatusEditing); err != nil {
		return s, err
	}
	s.Edits = append(slices.Clone(s.Edits), Edit{
		Instruction: instruction,
		Before:      s.Refined,
		After:       result,
		At:          at,
	})
	s.Refined = result
	s.Iterations++
	s.Status = StatusEditing
	return s, nil
}

// Finalize accepts the current answer.
func (s Session) Finalize() (Session, error) {
	if err := s.require(StatusRefined, StatusEditing); err != nil {
		return s, err
	}
	s.Status = StatusFinalized
	return s, nil
}

// Reset discards everything and returns to idle. It is legal from any status.
func (s Session) Reset() Session {
	return New(s.ID)
}

// Codec tags.
const (
	SessionTag = "answer.session"
	EditTag    = "answer.edit"
	CommandTag = "answer.command"
)

// RegisterTypes registers Session, Edit and Command with c.
func RegisterTypes(c *codec.Codec) {
	codec.Register(c, EditTag,
		func(e Edit) map[string]any {
			return map[string]any{
				"instruction": e.Instruction,
				"before":      e.Before,
				"after":       e.After,
				"at":          e.At,
			}
		},
		func(m map[string]any) (Edit, error) {
			return Edit{
				Instruction: codec.String(m, "instruction"),
				Before:      codec.String(m, "before"),
				After:       codec.String(m, "after"),
				At:          codec.Time(m, "at"),
			}, nil
		})

	codec.Register(c, SessionTag,
		func(s Session) map[string]any {
			fields := map[string]any{
				"id":         s.ID,
				"status":     string(s.Status),
				"transcript": s.Transcript,
				"refined":    s.Refined,
				"iterations": s.Iterations,
				"edits":      s.Edits,
			}
			if s.Fidelity != nil {
				fields["fidelity"] = *s.Fidelity
			}
			return fields
		},
		func(m map[string]any) (Session, error) {
			status := Status(codec.String(m, "status"))
			switch status {
			case StatusIdle, StatusRecording, StatusRefining, StatusRefined, StatusEditing, StatusFinalized:
			default:
				return Session{}, fmt.Errorf("unknown answer status %q", status)
			}
			edits := codec.Slice[Edit](m, "edits")
			if len(edits) == 0 {
				edits = nil
			}
			return Session{
				ID:         codec.String(m, "id"),
				Status:     status,
				Transcript: codec.String(m, "transcript"),
				Refined:    codec.String(m, "refined"),
				Iterations: int(codec.Int(m, "iterations")),
				Fidelity:   codec.OptionalFloat(m, "fidelity"),
				Edits:      edits,
			}, nil
		})

	codec.Register(c, CommandTag,
		func(cmd Command) map[string]any {
			return map[string]any{"kind": string(cmd.Kind), "text": cmd.Text}
		},
		func(m map[string]any) (Command, error) {
			cmd := Command{Kind: CommandKind(codec.String(m, "kind")), Text: codec.String(m, "text")}
			if !cmd.Kind.Valid() {
				return Command{}, fmt.Errorf("unknown answer command %q", cmd.Kind)
			}
			return cmd, nil
		})
}
