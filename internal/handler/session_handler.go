package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
)

// SessionRegistry はセッションハンドラーが必要とするセッションレジストリのインターフェース。
type SessionRegistry interface {
	Current() *model.Session
	IsAnonymousMode() bool
	SetAnonymous(on bool)
	Accounts(ctx context.Context) ([]*model.Session, error)
	Switch(ctx context.Context, sessionID string) error
}

// SessionHandler はセッション状態とアカウント切り替えのHTTPハンドラー。
// セッションが変わる操作の後はタイムラインを再読み込みする。
type SessionHandler struct {
	registry  SessionRegistry
	refresher Refresher
	logger    *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(registry SessionRegistry, refresher Refresher, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		refresher: refresher,
		logger:    logger,
	}
}

// sessionResponse は現在のセッション状態のレスポンス。
type sessionResponse struct {
	Authenticated bool                    `json:"authenticated"`
	AnonymousMode bool                    `json:"anonymous_mode"`
	Account       *sessionAccountResponse `json:"account,omitempty"`
}

// anonymousRequest は匿名モード切り替えリクエストのボディ。
type anonymousRequest struct {
	Anonymous *bool `json:"anonymous"`
}

// Get は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// SetAnonymous は匿名モードを切り替え、タイムラインを再読み込みする。
// PUT /api/session/anonymous
func (h *SessionHandler) SetAnonymous(w http.ResponseWriter, r *http.Request) {
	var req anonymousRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Anonymous == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	h.registry.SetAnonymous(*req.Anonymous)
	h.refresher.Refresh(context.WithoutCancel(r.Context()))

	writeJSON(w, http.StatusOK, h.current())
}

// ListAccounts はログイン済みアカウントの一覧を返す。
// GET /api/accounts
func (h *SessionHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.registry.Accounts(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]sessionAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toSessionAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SwitchAccount はアクティブなアカウントを切り替え、タイムラインを再読み込みする。
// PUT /api/accounts/{id}/active
func (h *SessionHandler) SwitchAccount(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.registry.Switch(r.Context(), sessionID); err != nil {
		if apiErr := notFoundError(err, sessionID); apiErr != nil {
			middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	h.refresher.Refresh(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SessionHandler) current() sessionResponse {
	resp := sessionResponse{AnonymousMode: h.registry.IsAnonymousMode()}
	if s := h.registry.Current(); s != nil {
		account := toSessionAccountResponse(s)
		resp.Authenticated = true
		resp.Account = &account
	}
	return resp
}
