package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/kabinka/internal/chat"
)

// ChatHandler はチャットモジュール起動のHTTPハンドラー。
type ChatHandler struct {
	launcher chat.Launcher
	logger   *slog.Logger
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(launcher chat.Launcher, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{launcher: launcher, logger: logger}
}

// Status はチャットモジュールが起動可能かを返す。
// GET /api/chat
func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ready": h.launcher.IsReady()})
}

// Launch はチャットモジュールを起動する。
// POST /api/chat/launch
func (h *ChatHandler) Launch(w http.ResponseWriter, r *http.Request) {
	if err := h.launcher.Launch(r.Context()); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"launched": true})
}
