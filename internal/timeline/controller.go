package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/kabinka/internal/model"
)

var (
	// ErrNotAuthenticated はログインが必要な操作を未ログインで呼んだ場合のエラー。
	ErrNotAuthenticated = errors.New("timeline: not authenticated")
	// ErrStatusNotFound は指定した投稿が現在のタイムラインに無い場合のエラー。
	ErrStatusNotFound = errors.New("timeline: status not in current timeline")
	// ErrInvalidAction は未知のインタラクション種別のエラー。
	ErrInvalidAction = errors.New("timeline: invalid action")
)

// SessionSource は現在のセッションを返す。nilは未ログインを表す。
type SessionSource interface {
	Current() *model.Session
}

// FeedDispatcher は指定した種類のタイムラインを1回取得する。
type FeedDispatcher interface {
	DispatchType(ctx context.Context, session *model.Session, t Type) Outcome
}

// StatusInteractor は投稿へのインタラクションをサーバーに送信する。
type StatusInteractor interface {
	SetFavourited(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error)
	SetReblogged(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error)
	SetBookmarked(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error)
}

// Action は投稿へのインタラクション種別。
type Action string

const (
	ActionFavourite Action = "favourite"
	ActionReblog    Action = "reblog"
	ActionBookmark  Action = "bookmark"
)

// ParseAction は "favourite" や "unbookmark" のような操作名を種別と設定値に分解する。
func ParseAction(s string) (Action, bool, error) {
	on := true
	name := s
	if strings.HasPrefix(s, "un") {
		on = false
		name = strings.TrimPrefix(s, "un")
	}
	switch a := Action(name); a {
	case ActionFavourite, ActionReblog, ActionBookmark:
		return a, on, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Controller は初回読み込みと再読み込みを調停する。
// 呼び出しごとに通番を採番し、新しい呼び出しは前の呼び出しのコンテキストをキャンセルする。
// 前の呼び出しの結果が後から届いても反映されない。
type Controller struct {
	registry   SessionSource
	dispatcher FeedDispatcher
	projector  *Projector
	interactor StatusInteractor
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	seq    uint64
	typ    Type
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController はControllerの新しいインスタンスを生成する。
// timeoutが正の場合、各ディスパッチにタイムアウトを設定する。
func NewController(
	registry SessionSource,
	dispatcher FeedDispatcher,
	projector *Projector,
	interactor StatusInteractor,
	timeout time.Duration,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		registry:   registry,
		dispatcher: dispatcher,
		projector:  projector,
		interactor: interactor,
		timeout:    timeout,
		logger:     logger,
		typ:        TypeDefault,
	}
}

// Projector は状態の配信元を返す。
func (c *Controller) Projector() *Projector {
	return c.projector
}

// Type は選択中のタイムラインの種類を返す。
func (c *Controller) Type() Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typ
}

// SetType は以降の読み込みで取得するタイムラインの種類を設定する。
// ログインが必要な種類を未ログインで指定した場合は ErrNotAuthenticated を返し、設定を変えない。
// 取得はしないので、呼び出し側で Refresh すること。
func (c *Controller) SetType(t Type) error {
	if t.RequiresSession() && c.registry.Current() == nil {
		return ErrNotAuthenticated
	}
	c.mu.Lock()
	prev := c.typ
	c.typ = t
	c.mu.Unlock()

	if prev != t {
		c.logger.Info("タイムラインの種類を変更しました",
			slog.String("from", string(prev)),
			slog.String("to", string(t)),
		)
	}
	return nil
}

// LoadInitial は起動時の初回読み込みを行う。動作はRefreshと同じ。
func (c *Controller) LoadInitial(ctx context.Context) <-chan struct{} {
	c.logger.Info("タイムラインの初回読み込みを開始します")
	return c.Refresh(ctx)
}

// Refresh はセッションを読み直して選択中の種類のタイムラインを再取得する。
// ログインが必要な種類を選択中にセッションが無くなっていた場合は既定の種類に戻す。
// Loadingを公開してから戻り、取得はバックグラウンドで行う。
// 返されるチャネルは結果が反映または破棄された時点でクローズされる。
func (c *Controller) Refresh(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	if c.cancel != nil {
		c.cancel()
	}
	var (
		dctx   context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		dctx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel
	session := c.registry.Current()
	if session == nil && c.typ.RequiresSession() {
		c.logger.Info("ログアウトしたため既定のタイムラインに戻します",
			slog.String("from", string(c.typ)),
		)
		c.typ = TypeDefault
	}
	typ := c.typ
	c.projector.Begin(seq)
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()

		outcome := c.dispatcher.DispatchType(dctx, session, typ)
		if !c.projector.Resolve(seq, outcome) {
			c.logger.Debug("新しいリクエストに追い越されたため結果を破棄しました",
				slog.Uint64("seq", seq),
			)
		}
	}()

	return done
}

// Wait は実行中の全ディスパッチの完了を待つ。
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Stop は実行中のディスパッチをキャンセルし、完了を待つ。
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Toggle は現在のタイムライン上の投稿に対してお気に入り・ブースト・ブックマークを設定する。
// ブーストされた投稿の場合は元の投稿が対象となる。
// サーバーが返したカウンタを現在のContent状態に反映し、更新後の対象投稿を返す。
func (c *Controller) Toggle(ctx context.Context, statusID string, action Action, on bool) (*model.Status, error) {
	session := c.registry.Current()
	if session == nil {
		return nil, ErrNotAuthenticated
	}

	target, ok := c.findTarget(statusID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStatusNotFound, statusID)
	}

	var (
		updated *model.Status
		err     error
	)
	switch action {
	case ActionFavourite:
		updated, err = c.interactor.SetFavourited(ctx, session.Domain, session.AccessToken, target, on)
	case ActionReblog:
		updated, err = c.interactor.SetReblogged(ctx, session.Domain, session.AccessToken, target, on)
	case ActionBookmark:
		updated, err = c.interactor.SetBookmarked(ctx, session.Domain, session.AccessToken, target, on)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if err != nil {
		c.logger.Warn("投稿へのインタラクションに失敗しました",
			slog.String("status_id", target),
			slog.String("action", string(action)),
			slog.Bool("on", on),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	counters := model.CountersOf(updated)
	c.projector.UpdateItems(func(items []model.Status) bool {
		return applyCounters(items, counters)
	})

	c.logger.Info("投稿へのインタラクションを反映しました",
		slog.String("status_id", target),
		slog.String("action", string(action)),
		slog.Bool("on", on),
	)
	return updated, nil
}

// findTarget は現在のContent状態からstatusIDの投稿を探し、インタラクション対象のIDを返す。
func (c *Controller) findTarget(statusID string) (string, bool) {
	st := c.projector.Current()
	if st.Kind != KindContent {
		return "", false
	}
	for i := range st.Items {
		s := &st.Items[i]
		if s.ID == statusID {
			return s.Target().ID, true
		}
		if s.Reblog != nil && s.Reblog.ID == statusID {
			return s.Reblog.ID, true
		}
	}
	return "", false
}

// applyCounters はIDが一致する投稿と、それをブーストした投稿の元投稿にカウンタを反映する。
// Reblogは共有されているため、書き換える前に複製する。
func applyCounters(items []model.Status, counters model.StatusCounters) bool {
	changed := false
	for i := range items {
		if items[i].ID == counters.ID {
			counters.Apply(&items[i])
			changed = true
		}
		if items[i].Reblog != nil && items[i].Reblog.ID == counters.ID {
			r := *items[i].Reblog
			counters.Apply(&r)
			items[i].Reblog = &r
			changed = true
		}
	}
	return changed
}
