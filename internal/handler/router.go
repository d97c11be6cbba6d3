package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kabinka/internal/chat"
	"github.com/hitoshi/kabinka/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// TimelineService はタイムライン関連ルートが必要とするコントローラーのインターフェース。
type TimelineService interface {
	TimelineControl
	StatusToggler
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// タイムライン
	Timeline     TimelineService
	States       StateSource
	FallbackHost string
	TagFeed      TagFeedSource

	// セッション・認証
	Registry    SessionRegistry
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// チャット
	ChatLauncher chat.Launcher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF
//
// 投稿操作ルートはさらに Session → RateLimit(Interaction) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := deps.ChatLauncher
	if launcher == nil {
		launcher = chat.Unavailable{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Registry))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	timelineHandler := NewTimelineHandler(deps.Timeline, deps.States, logger)
	statusHandler := NewStatusHandler(deps.Timeline, logger)
	sessionHandler := NewSessionHandler(deps.Registry, deps.Timeline, logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.Registry, deps.Timeline, deps.AuthConfig, logger)
	tagHandler := NewTagHandler(deps.TagFeed, deps.FallbackHost, logger)
	chatHandler := NewChatHandler(launcher, logger)

	// --- 運用ルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- CSRF保護の対象 ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, logger))

		r.Get("/api/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig, logger).ServeHTTP)

		// タイムライン
		r.Route("/api/timeline", func(r chi.Router) {
			r.Get("/", timelineHandler.Get)
			r.Get("/stream", timelineHandler.Stream)
			r.With(deps.RateLimiter.RefreshMiddleware()).Post("/refresh", timelineHandler.Refresh)
			r.Get("/type", timelineHandler.GetType)
			r.With(deps.RateLimiter.RefreshMiddleware()).Put("/type", timelineHandler.SetType)
		})

		// 投稿操作（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Registry))
			r.Use(deps.RateLimiter.InteractionMiddleware())
			r.Post("/api/statuses/{id}/{action}", statusHandler.Act)
		})

		// セッション
		r.Get("/api/session", sessionHandler.Get)
		r.Put("/api/session/anonymous", sessionHandler.SetAnonymous)
		r.Get("/api/accounts", sessionHandler.ListAccounts)
		r.Put("/api/accounts/{id}/active", sessionHandler.SwitchAccount)

		// ハッシュタグプレビュー
		r.Get("/api/tags/{tag}/preview", tagHandler.Preview)

		// チャット
		r.Get("/api/chat", chatHandler.Status)
		r.Post("/api/chat/launch", chatHandler.Launch)

		// ログアウト
		r.Post("/auth/logout", authHandler.Logout)
	})

	// OAuthフロー（ブラウザのリダイレクトで到達するためCSRFトークンは使わず、stateで検証する）
	r.Get("/auth/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)

	return r
}

// healthHandler は依存先の疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
