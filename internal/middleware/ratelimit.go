package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/kabinka/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	RefreshRate      rate.Limit    // タイムライン更新のレート（req/sec）
	RefreshBurst     int           // タイムライン更新のバーストサイズ
	InteractionRate  rate.Limit    // お気に入り・ブースト等のレート（req/sec）
	InteractionBurst int           // お気に入り・ブースト等のバーストサイズ
	CleanupInterval  time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// refreshPerMinuteはクライアントあたりの1分間のタイムライン更新回数。
// 投稿操作は 60 req/min/client とする。
func DefaultRateLimiterConfig(refreshPerMinute int) RateLimiterConfig {
	if refreshPerMinute <= 0 {
		refreshPerMinute = 30
	}
	return RateLimiterConfig{
		RefreshRate:      rate.Limit(float64(refreshPerMinute) / 60.0),
		RefreshBurst:     refreshPerMinute,
		InteractionRate:  rate.Limit(60.0 / 60.0),
		InteractionBurst: 60,
		CleanupInterval:  5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は1種類のレート制限についてクライアントごとのリミッターを保持する。
type limiterPool struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterPool(r rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cl, ok := p.limiters[key]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	cl := &clientLimiter{
		limiter:    rate.NewLimiter(p.rate, p.burst),
		lastAccess: now,
	}
	p.limiters[key] = cl
	return cl.limiter
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// evict は最終アクセスからttlを超えたエントリを削除する。
func (p *limiterPool) evict(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cl := range p.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(p.limiters, key)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// タイムライン更新と投稿操作の2種類を独立に制限する。
type RateLimiter struct {
	config RateLimiterConfig
	logger *slog.Logger

	refresh     *limiterPool
	interaction *limiterPool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:      config,
		logger:      logger,
		refresh:     newLimiterPool(config.RefreshRate, config.RefreshBurst),
		interaction: newLimiterPool(config.InteractionRate, config.InteractionBurst),
		stopCh:      make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// RefreshMiddleware はタイムライン更新のレート制限ミドルウェアを返す。
func (rl *RateLimiter) RefreshMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.refresh, "refresh")
}

// InteractionMiddleware は投稿操作のレート制限ミドルウェアを返す。
// タイムライン更新のレート制限とは独立に動作する。
func (rl *RateLimiter) InteractionMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.interaction, "interaction")
}

// RefreshLimiterCount は現在管理されているタイムライン更新リミッターのエントリ数を返す。
func (rl *RateLimiter) RefreshLimiterCount() int {
	return rl.refresh.len()
}

// InteractionLimiterCount は現在管理されている投稿操作リミッターのエントリ数を返す。
func (rl *RateLimiter) InteractionLimiterCount() int {
	return rl.interaction.len()
}

func (rl *RateLimiter) middleware(pool *limiterPool, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if !pool.get(key, time.Now()).Allow() {
				writeRateLimitResponse(w, pool.rate)
				rl.logger.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey はレート制限のキーとなるクライアントIPを返す。
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.refresh.evict(now, ttl)
	rl.interaction.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
