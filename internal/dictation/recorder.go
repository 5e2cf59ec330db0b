// Package dictation drives answer formulation over a websocket: the learner
// streams transcript chunks while an auto-pause watcher decides when the
// answer is complete.
package dictation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/orchestrator"
)

// Message types sent by clients. The answer command kinds double as message
// types.
const (
	TypePing = "ping"
)

// Frame types pushed to clients.
const (
	FrameState = "state"
	FrameError = "error"
	FramePong  = "pong"
)

// Dispatcher runs a turn through the orchestrator.
type Dispatcher interface {
	HandleTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
}

// Message is one client message.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Frame is one server message.
type Frame struct {
	Type       string        `json:"type"`
	SessionID  string        `json:"session_id,omitempty"`
	Status     answer.Status `json:"status,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Refined    string        `json:"refined,omitempty"`
	Iterations int           `json:"iterations,omitempty"`
	Fidelity   *float64      `json:"fidelity,omitempty"`
	Reply      string        `json:"reply,omitempty"`
	AutoPaused bool          `json:"auto_paused,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// SendFunc delivers a frame to the client.
type SendFunc func(ctx context.Context, f Frame) error

// Recorder is the dictation state of one connection.
type Recorder struct {
	userID    string
	sessionID string
	turns     Dispatcher
	send      SendFunc
	closeFn   func(reason string)
	pauseOpts []answer.AutoPauseOption
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	length      int
	recording   bool
	autoStopped bool
	pause       *answer.AutoPause
	lastActive  time.Time
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	UserID    string
	SessionID string
	Turns     Dispatcher
	Send      SendFunc
	// Close tears down the underlying connection.
	Close     func(reason string)
	PauseOpts []answer.AutoPauseOption
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewRecorder returns a recorder for one user session.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Close == nil {
		cfg.Close = func(string) {}
	}
	return &Recorder{
		userID:     cfg.UserID,
		sessionID:  cfg.SessionID,
		turns:      cfg.Turns,
		send:       cfg.Send,
		closeFn:    cfg.Close,
		pauseOpts:  cfg.PauseOpts,
		now:        cfg.Now,
		logger:     cfg.Logger.With("user_id", cfg.UserID, "session_id", cfg.SessionID),
		lastActive: cfg.Now(),
	}
}

func (r *Recorder) key() string {
	return recorderKey(r.userID, r.sessionID)
}

// Handle processes one client message. The returned error is a transport
// failure; command failures are reported to the client as error frames.
func (r *Recorder) Handle(ctx context.Context, msg Message) error {
	r.touch()

	kind := answer.CommandKind(msg.Type)
	switch {
	case msg.Type == TypePing:
		return r.send(ctx, Frame{Type: FramePong})
	case !kind.Valid():
		return r.send(ctx, Frame{Type: FrameError, SessionID: r.sessionID, Error: "unknown message type " + msg.Type})
	}

	switch kind {
	case answer.CommandStart:
		r.cancelPause()
		ok, err := r.dispatch(ctx, answer.Command{Kind: kind}, false)
		if err != nil || !ok {
			return err
		}
		r.startPause(ctx)
		return nil
	case answer.CommandChunk:
		r.grow(len(msg.Text))
	case answer.CommandStop:
		claimed, auto := r.claimStop()
		if !claimed && auto {
			// The auto-pause already stopped this recording.
			return nil
		}
	case answer.CommandReset:
		r.cancelPause()
	}
	_, err := r.dispatch(ctx, answer.Command{Kind: kind, Text: msg.Text}, false)
	return err
}

// dispatch runs cmd and pushes the resulting state. ok is false when the
// orchestrator rejected the command.
func (r *Recorder) dispatch(ctx context.Context, cmd answer.Command, auto bool) (bool, error) {
	out, err := r.turns.HandleTurn(ctx, orchestrator.TurnInput{
		SessionID: r.sessionID,
		UserID:    r.userID,
		Command:   &cmd,
	})
	if err != nil {
		r.logger.Warn("dictation command failed", "command", cmd.Kind, "auto", auto, "error", err)
		return false, r.send(ctx, Frame{Type: FrameError, SessionID: r.sessionID, Reply: out.FinalResponseText, Error: err.Error()})
	}
	f := Frame{Type: FrameState, SessionID: out.SessionID, Reply: out.FinalResponseText, AutoPaused: auto}
	if a := out.Answer; a != nil {
		f.Status = a.Status
		f.Transcript = a.Transcript
		f.Refined = a.Refined
		f.Iterations = a.Iterations
		f.Fidelity = a.Fidelity
	}
	return true, r.send(ctx, f)
}

func (r *Recorder) startPause(ctx context.Context) {
	r.mu.Lock()
	r.length = 0
	r.recording = true
	r.autoStopped = false
	r.mu.Unlock()

	// NewAutoPause samples the length, so it runs outside the lock.
	p := answer.NewAutoPause(r.transcriptLength, func(at time.Time) {
		r.onPause(ctx, at)
	}, r.pauseOpts...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.pause = p
	go p.Run(ctx)
}

func (r *Recorder) onPause(ctx context.Context, at time.Time) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	r.autoStopped = true
	r.pause = nil
	r.mu.Unlock()

	r.logger.Info("auto-pause fired", "at", at)
	if _, err := r.dispatch(ctx, answer.Command{Kind: answer.CommandStop}, true); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("failed to push auto-pause state", "error", err)
	}
}

// claimStop ends the current recording for a manual stop. claimed is false
// when nothing was recording; auto then tells whether the auto-pause got
// there first.
func (r *Recorder) claimStop() (claimed, auto bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		auto = r.autoStopped
		r.autoStopped = false
		return false, auto
	}
	r.recording = false
	if r.pause != nil {
		r.pause.Stop()
		r.pause = nil
	}
	return true, false
}

func (r *Recorder) cancelPause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.autoStopped = false
	if r.pause != nil {
		r.pause.Stop()
		r.pause = nil
	}
}

func (r *Recorder) grow(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.length += n
}

func (r *Recorder) transcriptLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

func (r *Recorder) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = r.now()
}

// IdleFor returns how long the recorder has gone without client messages.
func (r *Recorder) IdleFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastActive)
}

// Close stops the auto-pause watcher and tears down the connection.
func (r *Recorder) Close(reason string) {
	r.cancelPause()
	r.closeFn(reason)
}
