package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kabinka/internal/auth"
	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
)

const (
	defaultTagPreviewLimit = 20
	maxTagPreviewLimit     = 40
)

// TagFeedSource はハッシュタグのRSSフィードを取得する。
type TagFeedSource interface {
	TagFeed(ctx context.Context, host, tag string, limit int) ([]model.Status, error)
}

// TagHandler はハッシュタグプレビューのHTTPハンドラー。
type TagHandler struct {
	source       TagFeedSource
	fallbackHost string
	logger       *slog.Logger
}

// NewTagHandler はTagHandlerを生成する。hostが指定されない場合はfallbackHostを使う。
func NewTagHandler(source TagFeedSource, fallbackHost string, logger *slog.Logger) *TagHandler {
	return &TagHandler{
		source:       source,
		fallbackHost: fallbackHost,
		logger:       logger,
	}
}

// tagPreviewResponse はハッシュタグプレビューのレスポンス。
type tagPreviewResponse struct {
	Host  string           `json:"host"`
	Tag   string           `json:"tag"`
	Items []statusResponse `json:"items"`
}

// Preview はハッシュタグの公開RSSを取得して投稿一覧として返す。
// GET /api/tags/{tag}/preview?host=mastodon.social&limit=20
func (h *TagHandler) Preview(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if err := mastodon.ValidateTag(tag); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	host := h.fallbackHost
	if q := r.URL.Query().Get("host"); q != "" {
		host = auth.NormalizeDomain(q)
	}

	limit := defaultTagPreviewLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return
		}
		limit = min(n, maxTagPreviewLimit)
	}

	items, err := h.source.TagFeed(r.Context(), host, tag, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tagPreviewResponse{
		Host:  host,
		Tag:   tag,
		Items: toStatusResponses(items),
	})
}
