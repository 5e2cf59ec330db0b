package answer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/prompts"
	"github.com/ashureev/tutor-core/internal/structured"
)

// Fidelity sampling defaults.
const (
	DefaultSampleRate = 0.10
	DefaultThreshold  = 0.7
)

// FidelitySampler re-checks a fraction of refined answers against their
// transcript. It only observes: results are logged and published, never
// used to reject an answer.
type FidelitySampler struct {
	Model     llm.Completer
	Prompts   *prompts.Catalog
	Events    events.Publisher
	Logger    *slog.Logger
	Rate      float64
	Threshold float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Sample identifies the refined answer being checked.
type Sample struct {
	SessionID  string
	UserID     string
	AnswerID   string
	Transcript string
	Refined    string
}

type fidelityScore struct {
	Score *float64 `json:"score"`
}

func (f *fidelityScore) validate() error {
	if f.Score == nil {
		return errors.New(`missing required field "score"`)
	}
	if *f.Score < 0 || *f.Score > 1 {
		return errors.New("score outside [0, 1]")
	}
	return nil
}

// Check samples s with probability Rate. It returns the score and true when
// a check ran and succeeded.
func (f *FidelitySampler) Check(ctx context.Context, s Sample) (float64, bool) {
	if f == nil || f.Model == nil || f.Rate <= 0 {
		return 0, false
	}
	roll := rand.Float64
	if f.Rand != nil {
		roll = f.Rand
	}
	if roll() >= f.Rate {
		return 0, false
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := f.Prompts
	if catalog == nil {
		catalog = prompts.Default()
	}

	prompt, err := catalog.Render("answer.fidelity", struct {
		Transcript string
		Refined    string
	}{Transcript: s.Transcript, Refined: s.Refined})
	if err != nil {
		logger.Error("fidelity prompt failed", "session_id", s.SessionID, "error", err)
		return 0, false
	}
	raw, err := f.Model.Complete(ctx, prompt)
	if err != nil {
		logger.Warn("fidelity check failed", "session_id", s.SessionID, "error", err)
		return 0, false
	}
	out, err := structured.Decode(raw, (*fidelityScore).validate)
	if err != nil {
		logger.Warn("fidelity check unparsable", "session_id", s.SessionID, "kind", structured.KindOf(err), "error", err)
		return 0, false
	}

	score := *out.Score
	threshold := f.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if score < threshold {
		logger.Warn("refined answer drifted from transcript",
			"session_id", s.SessionID, "answer_id", s.AnswerID, "score", score, "threshold", threshold)
		publisher := f.Events
		if publisher == nil {
			publisher = events.Discard
		}
		err := publisher.Publish(ctx, events.Event{
			Type:      events.AnswerFidelityViolation,
			SessionID: s.SessionID,
			UserID:    s.UserID,
			Data: map[string]any{
				"answer_id": s.AnswerID,
				"score":     score,
				"threshold": threshold,
			},
		})
		if err != nil {
			logger.Warn("publish fidelity violation failed", "session_id", s.SessionID, "error", err)
		}
	}
	return score, true
}
