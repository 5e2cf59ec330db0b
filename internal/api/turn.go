package api

import (
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/tutor-core/internal/identity"
	"github.com/ashureev/tutor-core/internal/orchestrator"
)

type turnRequest struct {
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

type turnResponse struct {
	orchestrator.TurnOutput
	Error string `json:"error,omitempty"`
}

// Turn handles POST /api/turn. A failed run still answers with the fallback
// text so clients always have something to show.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req turnRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	if req.SessionID != "" {
		if sessionID = identity.SanitizeSessionID(req.SessionID); sessionID == "" {
			Error(w, http.StatusBadRequest, "invalid session_id")
			return
		}
	}

	h.logger.Info("turn request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"remote_ip", identity.IPFromRequest(r),
		"text_length", len(req.Text),
	)

	out, err := h.turns.HandleTurn(r.Context(), orchestrator.TurnInput{
		SessionID:  sessionID,
		UserID:     userID,
		Text:       req.Text,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		if status := statusFor(err); status < http.StatusInternalServerError {
			Error(w, status, err.Error())
			return
		}
		h.logger.Error("turn failed", "error", err, "user_id", userID, "session_id", out.SessionID)
		JSON(w, http.StatusBadGateway, turnResponse{TurnOutput: out, Error: "turn failed"})
		return
	}
	JSON(w, http.StatusOK, turnResponse{TurnOutput: out})
}
