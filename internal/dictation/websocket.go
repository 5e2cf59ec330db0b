package dictation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/identity"
)

const (
	readLimit    = 64 << 10
	writeTimeout = 5 * time.Second
)

// Handler serves GET /ws/dictation.
type Handler struct {
	turns          Dispatcher
	manager        *Manager
	allowedOrigins []string
	isDev          bool
	pauseOpts      []answer.AutoPauseOption
	logger         *slog.Logger
}

// NewHandler creates a dictation websocket handler.
func NewHandler(turns Dispatcher, manager *Manager, allowedOrigins []string, isDev bool, logger *slog.Logger, pauseOpts ...answer.AutoPauseOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:          turns,
		manager:        manager,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		pauseOpts:      pauseOpts,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID := identity.SanitizeSessionID(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	h.logger.Info("Dictation connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rec := NewRecorder(RecorderConfig{
		UserID:    userID,
		SessionID: sessionID,
		Turns:     h.turns,
		Send: func(ctx context.Context, f Frame) error {
			return writeJSON(ctx, ws, f)
		},
		Close: func(reason string) {
			cancel()
			if closeErr := ws.Close(websocket.StatusNormalClosure, reason); closeErr != nil {
				h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
			}
		},
		PauseOpts: h.pauseOpts,
		Logger:    h.logger,
	})
	h.manager.Register(rec)
	defer func() {
		h.manager.Unregister(rec)
		rec.Close("session ended")
	}()

	if err := writeJSON(ctx, ws, Frame{Type: FrameState, SessionID: sessionID}); err != nil {
		return
	}
	h.readLoop(ctx, ws, rec)
	h.logger.Info("Dictation session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, rec *Recorder) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "user_id", rec.userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", rec.userID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := writeJSON(ctx, ws, Frame{Type: FrameError, Error: "invalid message"}); err != nil {
				return
			}
			continue
		}
		if err := rec.Handle(ctx, msg); err != nil {
			h.logger.Debug("Dictation write failed", "error", err, "user_id", rec.userID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
