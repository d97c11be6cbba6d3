package timeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/model"
)

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// makeStatuses はprefixを付けた連番IDの投稿をn件生成する（ID降順）。
func makeStatuses(prefix string, n int) []model.Status {
	items := make([]model.Status, 0, n)
	for i := n; i > 0; i-- {
		items = append(items, model.Status{
			ID:      fmt.Sprintf("%s%03d", prefix, i),
			Content: "<p>post</p>",
		})
	}
	return items
}

func ids(items []model.Status) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, s.ID)
	}
	return out
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch to finish")
	}
}

// fakeRegistry はテスト用のSessionSource。
type fakeRegistry struct {
	mu      sync.Mutex
	session *model.Session
}

func (r *fakeRegistry) Current() *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	cp := *r.session
	return &cp
}

func (r *fakeRegistry) set(s *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

type publicCall struct {
	host   string
	params mastodon.PublicTimelineParams
}

type homeCall struct {
	host   string
	token  string
	params mastodon.HomeTimelineParams
}

// collectionCall はブックマーク・お気に入り一覧の取得呼び出し。
type collectionCall struct {
	kind   Type
	host   string
	token  string
	params mastodon.HomeTimelineParams
}

// fakeSource はテスト用のFeedSource。呼び出しを記録し、設定された結果を返す。
type fakeSource struct {
	mu              sync.Mutex
	publicCalls     []publicCall
	homeCalls       []homeCall
	collectionCalls []collectionCall
	items           []model.Status
	err             error
}

func (f *fakeSource) PublicTimeline(ctx context.Context, host string, p mastodon.PublicTimelineParams) ([]model.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publicCalls = append(f.publicCalls, publicCall{host: host, params: p})
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeSource) HomeTimeline(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeCalls = append(f.homeCalls, homeCall{host: host, token: token, params: p})
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeSource) Bookmarks(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error) {
	return f.collection(TypeBookmarks, host, token, p)
}

func (f *fakeSource) Favourites(ctx context.Context, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error) {
	return f.collection(TypeFavourites, host, token, p)
}

func (f *fakeSource) collection(kind Type, host, token string, p mastodon.HomeTimelineParams) ([]model.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionCalls = append(f.collectionCalls, collectionCall{kind: kind, host: host, token: token, params: p})
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

// calls は記録した呼び出しの件数を public, home, collection の順に返す。
func (f *fakeSource) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publicCalls), len(f.homeCalls), len(f.collectionCalls)
}

func (f *fakeSource) setResult(items []model.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

// gatedCall は結果の返却をテスト側で制御するディスパッチ呼び出し。
type gatedCall struct {
	ctx     context.Context
	session *model.Session
	typ     Type
	release chan Outcome
}

// gatedDispatcher はテスト側が release に値を送るまで結果を返さないFeedDispatcher。
// コンテキストのキャンセルは無視する（キャンセル後に応答が届くケースを再現する）。
type gatedDispatcher struct {
	started chan *gatedCall
}

func newGatedDispatcher() *gatedDispatcher {
	return &gatedDispatcher{started: make(chan *gatedCall, 16)}
}

func (d *gatedDispatcher) DispatchType(ctx context.Context, session *model.Session, t Type) Outcome {
	call := &gatedCall{ctx: ctx, session: session, typ: t, release: make(chan Outcome, 1)}
	d.started <- call
	return <-call.release
}

func (d *gatedDispatcher) next(t *testing.T) *gatedCall {
	t.Helper()
	select {
	case call := <-d.started:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch to start")
		return nil
	}
}

// fakeRecorder はテスト用のDispatchRecorder/ProjectionRecorder。
type fakeRecorder struct {
	mu         sync.Mutex
	dispatches []string
	stale      int
	published  int
}

func (r *fakeRecorder) RecordDispatch(mode string, ok bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, fmt.Sprintf("%s:%v", mode, ok))
}

func (r *fakeRecorder) RecordStaleResult() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *fakeRecorder) RecordPublishedItems(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published += n
}
