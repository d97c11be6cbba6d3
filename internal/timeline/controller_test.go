package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/model"
)

var testSession = &model.Session{
	ID:          "example.social_u1",
	Domain:      "example.social",
	AccountID:   "u1",
	Username:    "u1",
	AccessToken: "token-u1",
}

// fakeInteractor はテスト用のStatusInteractor。
type fakeInteractor struct {
	mu       sync.Mutex
	calls    []string
	response *model.Status
	err      error
}

func (f *fakeInteractor) record(kind, host, token, id string, on bool) (*model.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "on"
	if !on {
		state = "off"
	}
	f.calls = append(f.calls, kind+":"+host+":"+token+":"+id+":"+state)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeInteractor) SetFavourited(_ context.Context, host, token, id string, on bool) (*model.Status, error) {
	return f.record("favourite", host, token, id, on)
}

func (f *fakeInteractor) SetReblogged(_ context.Context, host, token, id string, on bool) (*model.Status, error) {
	return f.record("reblog", host, token, id, on)
}

func (f *fakeInteractor) SetBookmarked(_ context.Context, host, token, id string, on bool) (*model.Status, error) {
	return f.record("bookmark", host, token, id, on)
}

func newControllerWithSource(registry SessionSource, source FeedSource) *Controller {
	logger := newTestLogger()
	d := NewDispatcher(source, "mastodon.social", logger)
	return NewController(registry, d, NewProjector(logger), &fakeInteractor{}, time.Second, logger)
}

func TestController_RefreshPublishesLoadingSynchronously(t *testing.T) {
	d := newGatedDispatcher()
	logger := newTestLogger()
	p := NewProjector(logger)
	p.Begin(100)
	p.Resolve(100, Succeeded(FeedRequestSpec{}, makeStatuses("old", 1)))

	c := NewController(&fakeRegistry{}, d, p, &fakeInteractor{}, 0, logger)
	// 通番は100より大きくなければBeginできないため、内部の通番を進めておく
	c.seq = 100

	done := c.Refresh(context.Background())

	if got := p.Current(); got.Kind != KindLoading {
		t.Fatalf("Refresh直後の状態 = %s, want loading", got.Kind)
	}

	call := d.next(t)
	call.release <- Succeeded(FeedRequestSpec{}, makeStatuses("new", 2))
	waitDone(t, done)

	if got := p.Current(); got.Kind != KindContent || len(got.Items) != 2 {
		t.Errorf("Current() = %+v, want Content with 2 items", got)
	}
}

func TestController_SubscriberSeesLoadingBeforeTerminalState(t *testing.T) {
	d := newGatedDispatcher()
	logger := newTestLogger()
	p := NewProjector(logger)
	c := NewController(&fakeRegistry{}, d, p, &fakeInteractor{}, 0, logger)

	sub := p.Subscribe()
	defer sub.Close()
	receive(t, sub)

	done := c.LoadInitial(context.Background())

	loading := receive(t, sub)
	if loading.Kind != KindLoading || loading.Seq != 1 {
		t.Fatalf("got %+v, want Loading(1)", loading)
	}

	d.next(t).release <- Succeeded(FeedRequestSpec{}, makeStatuses("p", 40))
	waitDone(t, done)

	final := receive(t, sub)
	if final.Kind != KindContent || final.Seq != 1 || len(final.Items) != 40 {
		t.Errorf("got %s seq=%d items=%d, want Content(1) with 40 items", final.Kind, final.Seq, len(final.Items))
	}
}

func TestController_AnonymousScenario_40Items(t *testing.T) {
	source := &fakeSource{items: makeStatuses("m", 40)}
	c := newControllerWithSource(&fakeRegistry{}, source)

	waitDone(t, c.LoadInitial(context.Background()))

	got := c.Projector().Current()
	if got.Kind != KindContent {
		t.Fatalf("Kind = %s, want content", got.Kind)
	}
	if len(got.Items) != 40 {
		t.Errorf("件数 = %d, want 40", len(got.Items))
	}
	if len(source.publicCalls) != 1 || source.publicCalls[0].host != "mastodon.social" {
		t.Errorf("publicCalls = %+v", source.publicCalls)
	}
}

func TestController_AuthenticatedScenario_20Items(t *testing.T) {
	source := &fakeSource{items: makeStatuses("h", 20)}
	c := newControllerWithSource(&fakeRegistry{session: testSession}, source)

	waitDone(t, c.Refresh(context.Background()))

	got := c.Projector().Current()
	if got.Kind != KindContent || len(got.Items) != 20 {
		t.Fatalf("Current() = %s with %d items, want content with 20", got.Kind, len(got.Items))
	}
	if len(source.homeCalls) != 1 {
		t.Fatalf("homeCalls = %d, want 1", len(source.homeCalls))
	}
	if call := source.homeCalls[0]; call.host != "example.social" || call.token != "token-u1" {
		t.Errorf("home call = %+v, want example.social with token-u1", call)
	}
}

func TestController_ServerError_PublishesError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{name: "サーバーのメッセージ", err: &mastodon.APIError{Status: 500, Message: "Something went wrong"}, wantMessage: "Something went wrong"},
		{name: "汎用メッセージ", err: errors.New("unexpected"), wantMessage: GenericFailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{err: tt.err}
			c := newControllerWithSource(&fakeRegistry{}, source)

			waitDone(t, c.Refresh(context.Background()))

			got := c.Projector().Current()
			if got.Kind != KindError {
				t.Fatalf("Kind = %s, want error", got.Kind)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestController_ErrorReplacesPriorContent(t *testing.T) {
	source := &fakeSource{items: makeStatuses("p", 5)}
	c := newControllerWithSource(&fakeRegistry{}, source)
	waitDone(t, c.Refresh(context.Background()))

	source.setResult(nil, &mastodon.APIError{Status: 503})
	waitDone(t, c.Refresh(context.Background()))

	got := c.Projector().Current()
	if got.Kind != KindError || got.Items != nil {
		t.Errorf("Current() = %+v, want Error without items", got)
	}
}

func TestController_OutOfOrderResolution_LatestRequestWins(t *testing.T) {
	d := newGatedDispatcher()
	rec := &fakeRecorder{}
	logger := newTestLogger()
	p := NewProjector(logger).WithRecorder(rec)
	c := NewController(&fakeRegistry{}, d, p, &fakeInteractor{}, 0, logger)

	done1 := c.Refresh(context.Background())
	d1 := d.next(t)
	done2 := c.Refresh(context.Background())
	d2 := d.next(t)

	select {
	case <-d1.ctx.Done():
	default:
		t.Error("後続のRefreshで前のリクエストのコンテキストがキャンセルされるべき")
	}

	// D2が先に完了する
	d2.release <- Succeeded(FeedRequestSpec{}, makeStatuses("d2-", 3))
	waitDone(t, done2)

	// D1が後から完了しても反映されない
	d1.release <- Succeeded(FeedRequestSpec{}, makeStatuses("d1-", 5))
	waitDone(t, done1)

	got := p.Current()
	if got.Kind != KindContent || got.Seq != 2 {
		t.Fatalf("Current() = %s seq=%d, want content seq=2", got.Kind, got.Seq)
	}
	if diff := cmp.Diff([]string{"d2-003", "d2-002", "d2-001"}, ids(got.Items)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if rec.stale != 1 {
		t.Errorf("stale = %d, want 1", rec.stale)
	}
}

func TestController_OlderResolvesFirst_IsStillDiscarded(t *testing.T) {
	d := newGatedDispatcher()
	logger := newTestLogger()
	p := NewProjector(logger)
	c := NewController(&fakeRegistry{}, d, p, &fakeInteractor{}, 0, logger)

	done1 := c.Refresh(context.Background())
	d1 := d.next(t)
	done2 := c.Refresh(context.Background())
	d2 := d.next(t)

	d1.release <- Failure(FeedRequestSpec{}, "canceled")
	waitDone(t, done1)
	if got := p.Current(); got.Kind != KindLoading || got.Seq != 2 {
		t.Errorf("古い結果で状態が変わってはならない: %+v", got)
	}

	d2.release <- Succeeded(FeedRequestSpec{}, makeStatuses("x", 1))
	waitDone(t, done2)
	if got := p.Current(); got.Kind != KindContent || got.Seq != 2 {
		t.Errorf("Current() = %+v, want Content(2)", got)
	}
}

func TestController_Refresh_IsIdempotentOnStableBackend(t *testing.T) {
	source := &fakeSource{items: makeStatuses("s", 10)}
	c := newControllerWithSource(&fakeRegistry{}, source)

	waitDone(t, c.Refresh(context.Background()))
	first := ids(c.Projector().Current().Items)

	waitDone(t, c.Refresh(context.Background()))
	second := ids(c.Projector().Current().Items)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("ids changed between refreshes (-first +second):\n%s", diff)
	}
}

func TestController_Refresh_RereadsSession(t *testing.T) {
	source := &fakeSource{items: makeStatuses("s", 1)}
	registry := &fakeRegistry{}
	c := newControllerWithSource(registry, source)

	waitDone(t, c.Refresh(context.Background()))
	registry.set(testSession)
	waitDone(t, c.Refresh(context.Background()))
	registry.set(nil)
	waitDone(t, c.Refresh(context.Background()))

	if len(source.publicCalls) != 2 || len(source.homeCalls) != 1 {
		t.Errorf("public=%d home=%d, want public=2 home=1", len(source.publicCalls), len(source.homeCalls))
	}
}

func TestController_Stop_CancelsInFlight(t *testing.T) {
	d := newGatedDispatcher()
	logger := newTestLogger()
	c := NewController(&fakeRegistry{}, d, NewProjector(logger), &fakeInteractor{}, 0, logger)

	done := c.Refresh(context.Background())
	call := d.next(t)

	go func() {
		<-call.ctx.Done()
		call.release <- Failure(FeedRequestSpec{}, call.ctx.Err().Error())
	}()

	c.Stop()
	waitDone(t, done)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in     string
		want   Action
		wantOn bool
	}{
		{"favourite", ActionFavourite, true},
		{"unfavourite", ActionFavourite, false},
		{"reblog", ActionReblog, true},
		{"unreblog", ActionReblog, false},
		{"bookmark", ActionBookmark, true},
		{"unbookmark", ActionBookmark, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, on, err := ParseAction(tt.in)
			if err != nil {
				t.Fatalf("ParseAction(%q) error: %v", tt.in, err)
			}
			if got != tt.want || on != tt.wantOn {
				t.Errorf("ParseAction(%q) = (%s, %v), want (%s, %v)", tt.in, got, on, tt.want, tt.wantOn)
			}
		})
	}

	for _, bad := range []string{"", "like", "un", "ununfavourite"} {
		if _, _, err := ParseAction(bad); !errors.Is(err, ErrInvalidAction) {
			t.Errorf("ParseAction(%q) error = %v, want ErrInvalidAction", bad, err)
		}
	}
}

func TestController_Toggle_RequiresSession(t *testing.T) {
	c := newControllerWithSource(&fakeRegistry{}, &fakeSource{})

	_, err := c.Toggle(context.Background(), "1", ActionFavourite, true)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestController_Toggle_StatusNotInTimeline(t *testing.T) {
	source := &fakeSource{items: makeStatuses("s", 2)}
	c := newControllerWithSource(&fakeRegistry{session: testSession}, source)
	waitDone(t, c.Refresh(context.Background()))

	_, err := c.Toggle(context.Background(), "missing", ActionFavourite, true)
	if !errors.Is(err, ErrStatusNotFound) {
		t.Errorf("err = %v, want ErrStatusNotFound", err)
	}
}

func TestController_Toggle_UpdatesCountersInContent(t *testing.T) {
	original := model.Status{ID: "orig", FavouritesCount: 1}
	items := []model.Status{
		{ID: "boost", Reblog: &original},
		{ID: "orig", FavouritesCount: 1},
		{ID: "other", FavouritesCount: 7},
	}
	source := &fakeSource{items: items}
	interactor := &fakeInteractor{response: &model.Status{ID: "orig", FavouritesCount: 2, Favourited: true}}
	logger := newTestLogger()
	c := NewController(
		&fakeRegistry{session: testSession},
		NewDispatcher(source, "mastodon.social", logger),
		NewProjector(logger),
		interactor,
		time.Second,
		logger,
	)
	waitDone(t, c.Refresh(context.Background()))
	seqBefore := c.Projector().Current().Seq

	// ブースト側のIDを指定しても元の投稿が対象になる
	updated, err := c.Toggle(context.Background(), "boost", ActionFavourite, true)
	if err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	if updated.FavouritesCount != 2 {
		t.Errorf("updated.FavouritesCount = %d, want 2", updated.FavouritesCount)
	}
	if diff := cmp.Diff([]string{"favourite:example.social:token-u1:orig:on"}, interactor.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	got := c.Projector().Current()
	if got.Seq != seqBefore || got.Kind != KindContent {
		t.Errorf("Current() = %s seq=%d, want content seq=%d", got.Kind, got.Seq, seqBefore)
	}
	if r := got.Items[0].Reblog; r == nil || !r.Favourited || r.FavouritesCount != 2 {
		t.Errorf("ブースト内の元投稿が更新されていない: %+v", r)
	}
	if !got.Items[1].Favourited || got.Items[1].FavouritesCount != 2 {
		t.Errorf("元投稿が更新されていない: %+v", got.Items[1])
	}
	if got.Items[2].FavouritesCount != 7 || got.Items[2].Favourited {
		t.Errorf("無関係な投稿が変更された: %+v", got.Items[2])
	}
	if original.Favourited {
		t.Error("取得元の投稿を直接書き換えてはならない")
	}
}

func TestController_Toggle_ServerErrorLeavesStateUnchanged(t *testing.T) {
	source := &fakeSource{items: makeStatuses("s", 2)}
	interactor := &fakeInteractor{err: &mastodon.APIError{Status: 404, Message: "Record not found"}}
	logger := newTestLogger()
	c := NewController(
		&fakeRegistry{session: testSession},
		NewDispatcher(source, "mastodon.social", logger),
		NewProjector(logger),
		interactor,
		time.Second,
		logger,
	)
	waitDone(t, c.Refresh(context.Background()))
	before := c.Projector().Current()

	_, err := c.Toggle(context.Background(), "s001", ActionBookmark, true)
	if !mastodon.IsNotFound(err) {
		t.Errorf("err = %v, want not found APIError", err)
	}
	if diff := cmp.Diff(before, c.Projector().Current()); diff != "" {
		t.Errorf("state changed (-before +after):\n%s", diff)
	}
}

func TestController_DefaultTypeKeepsSessionPolicy(t *testing.T) {
	registry := &fakeRegistry{}
	source := &fakeSource{items: makeStatuses("s", 3)}
	c := newControllerWithSource(registry, source)

	if got := c.Type(); got != TypeDefault {
		t.Fatalf("Type() = %q, want %q", got, TypeDefault)
	}

	waitDone(t, c.Refresh(context.Background()))
	registry.set(testSession)
	waitDone(t, c.Refresh(context.Background()))

	if len(source.publicCalls) != 1 || source.publicCalls[0].params.Limit != 40 || !source.publicCalls[0].params.Remote {
		t.Errorf("publicCalls = %+v, want one federated call with limit 40", source.publicCalls)
	}
	if len(source.homeCalls) != 1 || source.homeCalls[0].params.Limit != 20 {
		t.Errorf("homeCalls = %+v, want one call with limit 20", source.homeCalls)
	}
}

func TestController_RefreshKeepsSelectedType(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		check func(t *testing.T, source *fakeSource)
	}{
		{
			name: "local",
			typ:  TypeLocal,
			check: func(t *testing.T, source *fakeSource) {
				if len(source.publicCalls) != 3 {
					t.Fatalf("publicCalls = %d, want 3", len(source.publicCalls))
				}
				for _, call := range source.publicCalls {
					if call.host != "example.social" || !call.params.Local || call.params.Remote || call.params.Limit != 40 {
						t.Errorf("call = %+v, want local timeline on example.social", call)
					}
				}
			},
		},
		{
			name: "federated",
			typ:  TypeFederated,
			check: func(t *testing.T, source *fakeSource) {
				if len(source.publicCalls) != 3 {
					t.Fatalf("publicCalls = %d, want 3", len(source.publicCalls))
				}
				for _, call := range source.publicCalls {
					if call.host != "example.social" || call.params.Local || !call.params.Remote {
						t.Errorf("call = %+v, want federated timeline on example.social", call)
					}
				}
			},
		},
		{
			name: "bookmarks",
			typ:  TypeBookmarks,
			check: func(t *testing.T, source *fakeSource) {
				if len(source.collectionCalls) != 3 {
					t.Fatalf("collectionCalls = %d, want 3", len(source.collectionCalls))
				}
				for _, call := range source.collectionCalls {
					if call.kind != TypeBookmarks || call.token != "token-u1" || call.params.Limit != 40 {
						t.Errorf("call = %+v, want bookmarks with token-u1", call)
					}
				}
			},
		},
		{
			name: "favourites",
			typ:  TypeFavourites,
			check: func(t *testing.T, source *fakeSource) {
				if len(source.collectionCalls) != 3 {
					t.Fatalf("collectionCalls = %d, want 3", len(source.collectionCalls))
				}
				for _, call := range source.collectionCalls {
					if call.kind != TypeFavourites || call.host != "example.social" {
						t.Errorf("call = %+v, want favourites on example.social", call)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{items: makeStatuses("s", 4)}
			c := newControllerWithSource(&fakeRegistry{session: testSession}, source)

			if err := c.SetType(tt.typ); err != nil {
				t.Fatalf("SetType(%s) がエラーを返した: %v", tt.typ, err)
			}
			for i := 0; i < 3; i++ {
				waitDone(t, c.Refresh(context.Background()))
			}

			if got := c.Type(); got != tt.typ {
				t.Errorf("Type() = %q, want %q", got, tt.typ)
			}
			if got := c.Projector().Current(); got.Kind != KindContent || len(got.Items) != 4 {
				t.Errorf("Current() = %s with %d items, want content with 4", got.Kind, len(got.Items))
			}
			tt.check(t, source)
		})
	}
}

func TestController_SetType_RequiresSession(t *testing.T) {
	for _, typ := range []Type{TypeHome, TypeBookmarks, TypeFavourites} {
		t.Run(string(typ), func(t *testing.T) {
			c := newControllerWithSource(&fakeRegistry{}, &fakeSource{})

			if err := c.SetType(typ); !errors.Is(err, ErrNotAuthenticated) {
				t.Errorf("SetType(%s) error = %v, want ErrNotAuthenticated", typ, err)
			}
			if got := c.Type(); got != TypeDefault {
				t.Errorf("未ログインで種類が変わってしまった: %q", got)
			}
		})
	}
}

func TestController_SetType_AnonymousLocalUsesFallbackHost(t *testing.T) {
	source := &fakeSource{items: makeStatuses("l", 2)}
	c := newControllerWithSource(&fakeRegistry{}, source)

	if err := c.SetType(TypeLocal); err != nil {
		t.Fatalf("SetType(local) がエラーを返した: %v", err)
	}
	waitDone(t, c.Refresh(context.Background()))

	if len(source.publicCalls) != 1 {
		t.Fatalf("publicCalls = %d, want 1", len(source.publicCalls))
	}
	call := source.publicCalls[0]
	if call.host != "mastodon.social" || !call.params.Local || call.params.Limit != 40 {
		t.Errorf("call = %+v, want local timeline on mastodon.social", call)
	}
}

func TestController_Refresh_RevertsToDefaultAfterLogout(t *testing.T) {
	registry := &fakeRegistry{session: testSession}
	source := &fakeSource{items: makeStatuses("b", 2)}
	c := newControllerWithSource(registry, source)

	if err := c.SetType(TypeBookmarks); err != nil {
		t.Fatalf("SetType(bookmarks) がエラーを返した: %v", err)
	}
	waitDone(t, c.Refresh(context.Background()))

	registry.set(nil)
	waitDone(t, c.Refresh(context.Background()))

	if got := c.Type(); got != TypeDefault {
		t.Errorf("Type() = %q, want %q", got, TypeDefault)
	}
	public, _, collection := source.calls()
	if collection != 1 || public != 1 {
		t.Errorf("calls: public=%d collection=%d, want 1 and 1", public, collection)
	}
	if got := c.Projector().Current(); got.Kind != KindContent {
		t.Errorf("Kind = %s, want content", got.Kind)
	}
}

func TestController_RefreshPassesTypeToDispatcher(t *testing.T) {
	d := newGatedDispatcher()
	logger := newTestLogger()
	c := NewController(&fakeRegistry{session: testSession}, d, NewProjector(logger), &fakeInteractor{}, 0, logger)

	if err := c.SetType(TypeFavourites); err != nil {
		t.Fatalf("SetType(favourites) がエラーを返した: %v", err)
	}
	done := c.Refresh(context.Background())
	call := d.next(t)
	if call.typ != TypeFavourites {
		t.Errorf("typ = %q, want %q", call.typ, TypeFavourites)
	}
	call.release <- Succeeded(FeedRequestSpec{Timeline: TypeFavourites}, makeStatuses("f", 1))
	waitDone(t, done)
}
