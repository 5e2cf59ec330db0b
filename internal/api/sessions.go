package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tutor-core/internal/identity"
)

const (
	defaultCheckpointLimit = 20
	maxCheckpointLimit     = 200
)

type checkpointView struct {
	Seq       int64           `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
	State     json.RawMessage `json:"state"`
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.turns.ListSessions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "list sessions", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.turns.Describe(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "describe session", err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.turns.DeleteSession(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCheckpoints handles GET /api/sessions/{id}/checkpoints?limit=n.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit := defaultCheckpointLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCheckpointLimit)
	}

	cps, err := h.turns.Checkpoints(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, "list checkpoints", err)
		return
	}
	views := make([]checkpointView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, checkpointView{Seq: cp.Seq, CreatedAt: cp.CreatedAt, State: cp.Snapshot})
	}
	JSON(w, http.StatusOK, map[string]any{"checkpoints": views})
}
