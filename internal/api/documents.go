package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/identity"
)

const maxDocumentTitle = 200

type documentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// GetDocument handles GET /api/documents/{id}. Documents of other users are
// reported as missing.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	doc, err := h.repo.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get document", err)
		return
	}
	if doc == nil || doc.UserID != userID {
		Error(w, http.StatusNotFound, "document not found")
		return
	}
	JSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /api/documents/{id}, attaching learning material
// that later turns reference by document_id.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := identity.SanitizeSessionID(chi.URLParam(r, "id"))
	if id == "" {
		Error(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req documentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Title)) > maxDocumentTitle {
		Error(w, http.StatusBadRequest, "title is too long")
		return
	}

	existing, err := h.repo.GetDocument(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get document", err)
		return
	}
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        id,
		UserID:    userID,
		Title:     strings.TrimSpace(req.Title),
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	status := http.StatusCreated
	if existing != nil {
		if existing.UserID != userID {
			Error(w, http.StatusForbidden, "document belongs to another user")
			return
		}
		doc.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	}
	if err := h.repo.PutDocument(r.Context(), doc); err != nil {
		h.fail(w, r, "put document", err)
		return
	}
	JSON(w, status, doc)
}
