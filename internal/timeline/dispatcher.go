package timeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/model"
)

// FeedSource はMastodon互換サーバーからタイムラインを取得する。
type FeedSource interface {
	PublicTimeline(ctx context.Context, host string, p mastodon.PublicTimelineParams) ([]model.Status, error)
	HomeTimeline(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error)
	Bookmarks(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error)
	Favourites(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error)
}

// DispatchRecorder はディスパッチの結果を記録する。
type DispatchRecorder interface {
	RecordDispatch(mode string, ok bool, duration time.Duration)
}

// Dispatcher はセッションの有無に応じて1回だけタイムラインを取得する。
// キャッシュとリトライは行わない。
type Dispatcher struct {
	source       FeedSource
	fallbackHost string
	logger       *slog.Logger
	recorder     DispatchRecorder
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// fallbackHostは未ログイン時に公開タイムラインを取得するサーバー。
func NewDispatcher(source FeedSource, fallbackHost string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source:       source,
		fallbackHost: fallbackHost,
		logger:       logger,
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func (d *Dispatcher) WithRecorder(r DispatchRecorder) *Dispatcher {
	d.recorder = r
	return d
}

// FallbackHost は未ログイン時の取得先サーバーを返す。
func (d *Dispatcher) FallbackHost() string {
	return d.fallbackHost
}

// Dispatch はタイムラインを取得する。ブロッキング呼び出し。
// ネットワーク、APIエラー、デコードエラーのいずれも失敗の Outcome として返す。
func (d *Dispatcher) Dispatch(ctx context.Context, session *model.Session) Outcome {
	return d.DispatchType(ctx, session, TypeDefault)
}

// DispatchType は指定した種類のタイムラインを取得する。
// ログインが必要な種類をセッションなしで指定した場合は、通信せずに失敗の Outcome を返す。
func (d *Dispatcher) DispatchType(ctx context.Context, session *model.Session, t Type) Outcome {
	spec, err := BuildSpecFor(t, session, d.fallbackHost)
	if err == nil {
		err = spec.Validate()
	}
	if err != nil {
		d.logger.Error("タイムライン取得リクエストが不正です",
			slog.String("timeline", string(t)),
			slog.String("mode", string(spec.Mode)),
			slog.String("error", err.Error()),
		)
		return Failure(spec, "")
	}

	start := time.Now()
	var items []model.Status
	paging := mastodon.HomeTimelineParams{
		MaxID:   spec.MaxID,
		SinceID: spec.SinceID,
		MinID:   spec.MinID,
		Limit:   spec.Limit,
	}
	switch spec.Mode {
	case ModeAnonymous:
		items, err = d.source.PublicTimeline(ctx, spec.Host, mastodon.PublicTimelineParams{
			Local:   spec.Local,
			Remote:  spec.Federated,
			MaxID:   spec.MaxID,
			SinceID: spec.SinceID,
			MinID:   spec.MinID,
			Limit:   spec.Limit,
		})
	case ModeAuthenticated:
		switch spec.Timeline {
		case TypeBookmarks:
			items, err = d.source.Bookmarks(ctx, spec.Host, session.AccessToken, paging)
		case TypeFavourites:
			items, err = d.source.Favourites(ctx, spec.Host, session.AccessToken, paging)
		default:
			items, err = d.source.HomeTimeline(ctx, spec.Host, session.AccessToken, paging)
		}
	}
	elapsed := time.Since(start)

	if d.recorder != nil {
		d.recorder.RecordDispatch(string(spec.Mode), err == nil, elapsed)
	}

	if err != nil {
		d.logger.Warn("タイムラインの取得に失敗しました",
			slog.String("timeline", string(spec.Timeline)),
			slog.String("mode", string(spec.Mode)),
			slog.String("host", spec.Host),
			slog.String("session_id", spec.SessionID),
			slog.String("error", err.Error()),
		)
		return Failure(spec, mastodon.FailureMessage(err))
	}

	d.logger.Debug("タイムラインを取得しました",
		slog.String("timeline", string(spec.Timeline)),
		slog.String("mode", string(spec.Mode)),
		slog.String("host", spec.Host),
		slog.Int("count", len(items)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return Succeeded(spec, items)
}
