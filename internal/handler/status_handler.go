package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/timeline"
)

// StatusToggler は投稿へのインタラクションを行うインターフェース。
type StatusToggler interface {
	Toggle(ctx context.Context, statusID string, action timeline.Action, on bool) (*model.Status, error)
}

// StatusHandler は投稿操作のHTTPハンドラー。
type StatusHandler struct {
	toggler StatusToggler
	logger  *slog.Logger
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(toggler StatusToggler, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{toggler: toggler, logger: logger}
}

// Act はお気に入り・ブースト・ブックマークの設定と解除を行い、更新後の投稿を返す。
// POST /api/statuses/{id}/{action}
// actionは favourite, unfavourite, reblog, unreblog, bookmark, unbookmark のいずれか。
func (h *StatusHandler) Act(w http.ResponseWriter, r *http.Request) {
	statusID := chi.URLParam(r, "id")
	actionName := chi.URLParam(r, "action")

	action, on, err := timeline.ParseAction(actionName)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionError(actionName))
		return
	}

	updated, err := h.toggler.Toggle(r.Context(), statusID, action, on)
	if err != nil {
		if apiErr := notFoundError(err, statusID); apiErr != nil {
			middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(updated))
}
