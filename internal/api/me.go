package api

import (
	"net/http"

	"github.com/ashureev/tutor-core/internal/identity"
)

type profileRequest struct {
	Accessibility *bool `json:"accessibility"`
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":       user.UserID,
		"username":      user.Username,
		"accessibility": user.Accessibility,
		"session_id":    identity.SessionIDFromContext(r.Context()),
	})
}

// UpdateProfile handles PUT /api/me/profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Accessibility == nil {
		Error(w, http.StatusBadRequest, "accessibility is required")
		return
	}
	if err := h.repo.SetAccessibility(r.Context(), userID, *req.Accessibility); err != nil {
		h.fail(w, r, "update profile", err)
		return
	}
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "reload profile", err)
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}
	h.logger.Info("profile updated", "user_id", userID, "accessibility", user.Accessibility)
	JSON(w, http.StatusOK, user.Profile())
}
