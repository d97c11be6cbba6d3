// Package auth はMastodonサーバーに対するOAuthログインとサインアウトを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/repository"
)

var (
	// ErrInvalidDomain はログイン先サーバーの指定が不正な場合のエラー。
	ErrInvalidDomain = errors.New("auth: invalid domain")
	// ErrAppNotRegistered はコールバック時にサーバーのアプリ登録が見つからない場合のエラー。
	ErrAppNotRegistered = errors.New("auth: app not registered for domain")
)

// OAuthClient はMastodonのOAuthエンドポイントを呼び出すクライアントのインターフェース。
type OAuthClient interface {
	RegisterApp(ctx context.Context, host string, reg mastodon.AppRegistration) (*model.InstanceApp, error)
	AuthorizeURL(app *model.InstanceApp, scopes, state string) string
	ExchangeCode(ctx context.Context, app *model.InstanceApp, code, scopes string) (string, error)
	RevokeToken(ctx context.Context, app *model.InstanceApp, token string) error
	VerifyCredentials(ctx context.Context, host, token string) (*model.Account, error)
}

// SessionStore はログイン結果を反映するセッションレジストリのインターフェース。
type SessionStore interface {
	Activate(ctx context.Context, s *model.Session) error
	SignOut(ctx context.Context, sessionID string) (*model.Session, error)
}

// HostValidator はログイン先サーバーのホスト名を検証する。
type HostValidator interface {
	ValidateHost(host string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AppName     string
	Website     string
	RedirectURI string
	Scopes      string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	client   OAuthClient
	appRepo  repository.InstanceAppRepository
	sessions SessionStore
	guard    HostValidator
	config   ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	client OAuthClient,
	appRepo repository.InstanceAppRepository,
	sessions SessionStore,
	guard HostValidator,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		client:   client,
		appRepo:  appRepo,
		sessions: sessions,
		guard:    guard,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// NormalizeDomain は入力されたサーバー指定をホスト名に正規化する。
// "https://Mastodon.Social/" や "@alice@mastodon.social" のような入力も受け付ける。
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	return strings.TrimRight(d, "/")
}

// LoginURL は指定サーバーの認可画面URLを返す。
// サーバーへのアプリ登録は初回のみ行い、instance_appsに保存して再利用する。
func (s *Service) LoginURL(ctx context.Context, domain, state string) (string, error) {
	domain = NormalizeDomain(domain)
	if err := s.guard.ValidateHost(domain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if state == "" {
		return "", fmt.Errorf("state is required")
	}

	app, err := s.ensureApp(ctx, domain)
	if err != nil {
		return "", err
	}

	return s.client.AuthorizeURL(app, s.config.Scopes, state), nil
}

// HandleCallback は認可コードをトークンに交換し、アカウント情報を確認してセッションを有効化する。
func (s *Service) HandleCallback(ctx context.Context, domain, code string) (*model.Session, error) {
	domain = NormalizeDomain(domain)
	if err := s.guard.ValidateHost(domain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	app, err := s.appRepo.FindByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to find app: %w", err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: %s", ErrAppNotRegistered, domain)
	}

	// 1. 認可コードをトークンに交換
	token, err := s.client.ExchangeCode(ctx, app, code, s.config.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. トークンの持ち主を確認
	acct, err := s.client.VerifyCredentials(ctx, domain, token)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	// 3. セッションを保存してアクティブにする
	session := &model.Session{
		ID:            model.SessionID(domain, acct.ID),
		Domain:        domain,
		AccountID:     acct.ID,
		Username:      acct.Username,
		AccessToken:   token,
		InfoUpdatedAt: s.now(),
	}
	if err := s.sessions.Activate(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to activate session: %w", err)
	}

	s.logger.Info("user logged in",
		slog.String("session_id", session.ID),
		slog.String("domain", domain),
	)
	return session, nil
}

// Logout はアカウントをサインアウトする。
// トークンの失効はベストエフォートで行い、失敗してもサインアウト自体は成功とする。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	removed, err := s.sessions.SignOut(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}

	s.revoke(ctx, removed)

	s.logger.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

func (s *Service) revoke(ctx context.Context, removed *model.Session) {
	if removed == nil || removed.AccessToken == "" {
		return
	}

	app, err := s.appRepo.FindByDomain(ctx, removed.Domain)
	if err != nil || app == nil {
		s.logger.Warn("トークン失効用のアプリ情報が見つかりません",
			slog.String("domain", removed.Domain),
		)
		return
	}

	if err := s.client.RevokeToken(ctx, app, removed.AccessToken); err != nil {
		s.logger.Warn("failed to revoke token",
			slog.String("domain", removed.Domain),
			slog.String("error", err.Error()),
		)
	}
}

// ensureApp は保存済みのアプリを返す。未登録またはリダイレクトURIが変わった場合は登録し直す。
func (s *Service) ensureApp(ctx context.Context, domain string) (*model.InstanceApp, error) {
	app, err := s.appRepo.FindByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to find app: %w", err)
	}
	if app != nil && app.RedirectURI == s.config.RedirectURI {
		return app, nil
	}

	app, err = s.client.RegisterApp(ctx, domain, mastodon.AppRegistration{
		ClientName:  s.config.AppName,
		RedirectURI: s.config.RedirectURI,
		Scopes:      s.config.Scopes,
		Website:     s.config.Website,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register app: %w", err)
	}

	if err := s.appRepo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to save app: %w", err)
	}

	s.logger.Info("サーバーにアプリを登録しました", slog.String("domain", domain))
	return app, nil
}
