// Package refresh はタイムラインの自動再読み込みを提供する。
package refresh

import (
	"context"
	"log/slog"
	"time"
)

// Refresher はタイムラインの再読み込みを開始するインターフェース。
type Refresher interface {
	Refresh(ctx context.Context) <-chan struct{}
}

// Scheduler は一定間隔でタイムラインを再読み込みする。
// 前回の再読み込みが未完了でも次の再読み込みを開始し、古い結果の破棄は
// 再読み込み側に任せる。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
	interval  time.Duration
}

// NewScheduler はSchedulerを生成する。intervalが0以下の場合はStartが即座に戻る。
func NewScheduler(refresher Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		logger:    logger,
		interval:  interval,
	}
}

// Enabled は自動再読み込みが有効かどうかを返す。
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Start はコンテキストがキャンセルされるまでティッカーで再読み込みを行う。
// 起動直後の読み込みは呼び出し側が行うため、最初の再読み込みは1間隔後。
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("自動更新スケジューラを開始しました",
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("自動更新スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は再読み込みを1回開始する。完了は待たない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Debug("タイムラインの自動更新を開始します")
	s.refresher.Refresh(ctx)
}
