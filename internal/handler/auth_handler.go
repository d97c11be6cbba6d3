package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/kabinka/internal/auth"
	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
)

const (
	oauthStateCookie  = "oauth_state"
	oauthDomainCookie = "oauth_domain"
	oauthCookieMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(ctx context.Context, domain, state string) (string, error)
	HandleCallback(ctx context.Context, domain, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
// ログイン・ログアウト後はタイムラインを再読み込みする。
type AuthHandler struct {
	service   AuthServiceInterface
	sessions  middleware.SessionSource
	refresher Refresher
	config    AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	sessions middleware.SessionSource,
	refresher Refresher,
	config AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:   service,
		sessions:  sessions,
		refresher: refresher,
		config:    config,
		logger:    logger,
	}
}

// Login は指定サーバーのOAuthフローを開始する。
// GET /auth/login?domain=mastodon.social
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	domain := auth.NormalizeDomain(r.URL.Query().Get("domain"))
	if domain == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInstanceError("domain is required"))
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	authURL, err := h.service.LoginURL(r.Context(), domain, state)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	// stateとサーバーをCookieに保存（CSRF対策、コールバックでのサーバー特定）
	h.setOAuthCookie(w, oauthStateCookie, state, oauthCookieMaxAge)
	h.setOAuthCookie(w, oauthDomainCookie, domain, oauthCookieMaxAge)

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		h.logger.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOAuthStateInvalidError())
		return
	}
	domainCookie, err := r.Cookie(oauthDomainCookie)
	if err != nil || domainCookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOAuthStateInvalidError())
		return
	}

	// stateとサーバーのCookieを削除
	h.setOAuthCookie(w, oauthStateCookie, "", -1)
	h.setOAuthCookie(w, oauthDomainCookie, "", -1)

	// 2. ユーザーが認可を拒否した場合はフロントエンドに戻す
	if denied := q.Get("error"); denied != "" {
		h.logger.Info("oauth authorization denied", slog.String("error", denied))
		http.Redirect(w, r, h.redirectTarget("denied"), http.StatusTemporaryRedirect)
		return
	}

	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 認証処理
	if _, err := h.service.HandleCallback(r.Context(), domainCookie.Value, code); err != nil {
		h.logger.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.redirectTarget("failed"), http.StatusTemporaryRedirect)
		return
	}

	// 4. 新しいセッションでタイムラインを読み直してフロントエンドにリダイレクト
	h.refresher.Refresh(context.WithoutCancel(r.Context()))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はアカウントからサインアウトする。
// session_idクエリが無い場合はアクティブなアカウントを対象とする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		current := h.sessions.Current()
		if current == nil {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		sessionID = current.ID
	}

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		if apiErr := notFoundError(err, sessionID); apiErr != nil {
			middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	h.refresher.Refresh(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setOAuthCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectTarget はログイン失敗時のフロントエンドのURLを返す。
func (h *AuthHandler) redirectTarget(reason string) string {
	return h.config.BaseURL + "/?" + url.Values{"login": {reason}}.Encode()
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
