// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/orchestrator"
	"github.com/ashureev/tutor-core/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Turns is the orchestrator surface the HTTP layer drives.
type Turns interface {
	HandleTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	Describe(ctx context.Context, userID, sessionID string) (*orchestrator.SessionView, error)
	Checkpoints(ctx context.Context, userID, sessionID string, limit int) ([]domain.Checkpoint, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// Handler serves the turn, session, profile and document endpoints.
type Handler struct {
	turns       Turns
	repo        store.Repository
	rateLimiter *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimiter throttles turns per user.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) { h.rateLimiter = rl }
}

// WithMaxBodySize bounds request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(turns Turns, repo store.Repository, opts ...Option) *Handler {
	h := &Handler{
		turns:       turns,
		repo:        repo,
		maxBodySize: defaultMaxRequestBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Put("/me/profile", h.UpdateProfile)
		r.Post("/turn", h.Turn)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Get("/sessions/{id}/checkpoints", h.ListCheckpoints)
		r.Get("/documents/{id}", h.GetDocument)
		r.Put("/documents/{id}", h.PutDocument)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body bounded by the handler's size limit.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionOwnership):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrEmptyTurn), errors.Is(err, orchestrator.ErrMissingUser):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrQuizInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}
