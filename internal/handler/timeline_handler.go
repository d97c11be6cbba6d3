package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/timeline"
)

// defaultHeartbeatInterval はSSEのコメント行を送る間隔。
const defaultHeartbeatInterval = 25 * time.Second

// Refresher はタイムラインの再読み込みを開始する。
type Refresher interface {
	Refresh(ctx context.Context) <-chan struct{}
}

// TypeSelector は表示するタイムラインの種類を切り替える。
type TypeSelector interface {
	Type() timeline.Type
	SetType(t timeline.Type) error
}

// TimelineControl はタイムラインハンドラーが操作するコントローラー。
type TimelineControl interface {
	Refresher
	TypeSelector
}

// StateSource は現在のUI状態と、その変化の購読を提供する。
type StateSource interface {
	Current() timeline.State
	Subscribe() *timeline.Subscription
}

// TimelineHandler はタイムライン状態のHTTPハンドラー。
type TimelineHandler struct {
	refresher TimelineControl
	states    StateSource
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewTimelineHandler はTimelineHandlerを生成する。
func NewTimelineHandler(refresher TimelineControl, states StateSource, logger *slog.Logger) *TimelineHandler {
	return &TimelineHandler{
		refresher: refresher,
		states:    states,
		logger:    logger,
		heartbeat: defaultHeartbeatInterval,
	}
}

// Get は現在のUI状態を返す。
// GET /api/timeline
func (h *TimelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(h.states.Current()))
}

// Refresh はタイムラインの再読み込みを開始し、Loading状態を返す。
// 取得はリクエスト終了後も継続するため、リクエストのキャンセルは伝播させない。
// POST /api/timeline/refresh
func (h *TimelineHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.refresher.Refresh(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, toStateResponse(h.states.Current()))
}

// typeRequest はタイムライン種類の変更リクエスト。
type typeRequest struct {
	Type string `json:"type"`
}

// typeResponse は選択中のタイムライン種類と現在の状態。
type typeResponse struct {
	Type  string        `json:"type"`
	State stateResponse `json:"state"`
}

// GetType は選択中のタイムラインの種類と現在の状態を返す。
// GET /api/timeline/type
func (h *TimelineHandler) GetType(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, typeResponse{
		Type:  string(h.refresher.Type()),
		State: toStateResponse(h.states.Current()),
	})
}

// SetType はタイムラインの種類を変更して再読み込みを開始する。
// home, bookmarks, favourites はログインが必要。
// PUT /api/timeline/type
func (h *TimelineHandler) SetType(w http.ResponseWriter, r *http.Request) {
	var req typeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	t, err := timeline.ParseType(req.Type)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	if err := h.refresher.SetType(t); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.refresher.Refresh(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, typeResponse{
		Type:  string(t),
		State: toStateResponse(h.states.Current()),
	})
}

// Stream はServer-Sent Eventsで現在の状態と以降の全ての状態を配信する。
// 各イベントは "event: state" とJSONの data 行で構成される。
// GET /api/timeline/stream
func (h *TimelineHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// サーバーのWriteTimeoutでストリームが切られないようにする
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.states.Subscribe()
	defer sub.Close()

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeStateEvent(w, st); err != nil {
				h.logger.Debug("sse write failed", slog.String("error", err.Error()))
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeStateEvent は状態を1件のSSEイベントとして書き込む。
func writeStateEvent(w http.ResponseWriter, st timeline.State) error {
	data, err := json.Marshal(toStateResponse(st))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}
