package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Timeline
	FallbackInstance    string        // 未ログイン時に公開タイムラインを取得するサーバー
	RequestTimeout      time.Duration // Mastodon API 1リクエストあたりのタイムアウト
	MaxResponseSize     int64
	AutoRefreshInterval time.Duration // 0の場合は自動更新しない

	// OAuth
	OAuthScopes string
	AppName     string
	AppWebsite  string

	// Chat
	ChatCommand string

	// Rate Limit
	RateLimitRefresh int // req/min/client

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FallbackInstance = normalizeHost(getEnvString("FALLBACK_INSTANCE", "mastodon.social"))
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.MaxResponseSize = getEnvInt64("MAX_RESPONSE_SIZE", 5242880)
	cfg.AutoRefreshInterval = getEnvDuration("AUTO_REFRESH_INTERVAL", 0)
	cfg.OAuthScopes = getEnvString("OAUTH_SCOPES", "read write")
	cfg.AppName = getEnvString("APP_NAME", "Kabinka")
	cfg.AppWebsite = getEnvString("APP_WEBSITE", "")
	cfg.ChatCommand = getEnvString("CHAT_COMMAND", "")
	cfg.RateLimitRefresh = getEnvInt("RATE_LIMIT_REFRESH", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// OAuthRedirectURL はOAuthコールバックの絶対URLを返す。
func (c *Config) OAuthRedirectURL() string {
	return c.BaseURL + "/auth/callback"
}

// normalizeHost はスキームや末尾スラッシュを取り除いたホスト名を返す。
func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
