package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/timeline"
)

// --- モック定義 ---

// fakeTimeline はTimelineControlとStatusTogglerのモック実装。
// Refreshは実際のProjectorにLoadingを公開する。
type fakeTimeline struct {
	mu         sync.Mutex
	projector  *timeline.Projector
	seq        uint64
	refreshes  int
	typ        timeline.Type
	setTypeErr error
	toggleFn   func(ctx context.Context, statusID string, action timeline.Action, on bool) (*model.Status, error)
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{projector: timeline.NewProjector(testLogger()), typ: timeline.TypeDefault}
}

func (f *fakeTimeline) Type() timeline.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typ
}

func (f *fakeTimeline) SetType(t timeline.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setTypeErr != nil {
		return f.setTypeErr
	}
	f.typ = t
	return nil
}

func (f *fakeTimeline) Refresh(_ context.Context) <-chan struct{} {
	f.mu.Lock()
	f.refreshes++
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	f.projector.Begin(seq)
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeTimeline) Toggle(ctx context.Context, statusID string, action timeline.Action, on bool) (*model.Status, error) {
	if f.toggleFn != nil {
		return f.toggleFn(ctx, statusID, action, on)
	}
	return nil, nil
}

func (f *fakeTimeline) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// resolve は最後に開始したリクエストの結果として投稿一覧を公開する。
func (f *fakeTimeline) resolve(items []model.Status) {
	f.mu.Lock()
	seq := f.seq
	f.mu.Unlock()
	f.projector.Resolve(seq, timeline.Succeeded(timeline.FeedRequestSpec{}, items))
}

// fakeRegistry はSessionRegistryのモック実装。
type fakeRegistry struct {
	mu        sync.Mutex
	active    *model.Session
	anonymous bool
	accounts  []*model.Session
	switchErr error
}

func (f *fakeRegistry) Current() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.anonymous || f.active == nil {
		return nil
	}
	cp := *f.active
	return &cp
}

func (f *fakeRegistry) IsAnonymousMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anonymous
}

func (f *fakeRegistry) SetAnonymous(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anonymous = on
}

func (f *fakeRegistry) Accounts(_ context.Context) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeRegistry) Switch(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switchErr != nil {
		return f.switchErr
	}
	for _, a := range f.accounts {
		if a.ID == sessionID {
			f.active = a
			return nil
		}
	}
	return nil
}

var (
	_ Refresher       = (*fakeTimeline)(nil)
	_ StatusToggler   = (*fakeTimeline)(nil)
	_ SessionRegistry = (*fakeRegistry)(nil)
)

// --- テストヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *model.Session {
	return &model.Session{
		ID:            "mastodon.social_42",
		Domain:        "mastodon.social",
		AccountID:     "42",
		Username:      "alice",
		AccessToken:   "secret-token",
		IsActive:      true,
		InfoUpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testStatuses(ids ...string) []model.Status {
	out := make([]model.Status, len(ids))
	for i, id := range ids {
		out[i] = model.Status{
			ID:      id,
			Content: "<p>post " + id + "</p>",
			Account: model.Account{ID: "1", Username: "bob", Acct: "bob@example.com"},
		}
	}
	return out
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var st stateResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state response: %v", err)
	}
	return st
}
