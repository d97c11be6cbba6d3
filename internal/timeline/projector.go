package timeline

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/kabinka/internal/model"
)

// ProjectionRecorder は状態の公開と破棄を記録する。
type ProjectionRecorder interface {
	RecordStaleResult()
	RecordPublishedItems(count int)
}

// Projector はディスパッチの結果をUI状態に変換し、購読者に配信する。
// 常に1つの現在値を持ち、新しい購読者には購読開始時点の現在値がすぐに届く。
// 遅い購読者は最新値だけを受け取り、配信がブロックされることはない。
type Projector struct {
	mu       sync.Mutex
	current  State
	started  uint64 // これまでに開始した最大の通番
	subs     map[*Subscription]struct{}
	logger   *slog.Logger
	recorder ProjectionRecorder
}

// NewProjector はProjectorの新しいインスタンスを生成する。初期状態はLoading。
func NewProjector(logger *slog.Logger) *Projector {
	return &Projector{
		current: Loading(0),
		subs:    make(map[*Subscription]struct{}),
		logger:  logger,
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func (p *Projector) WithRecorder(r ProjectionRecorder) *Projector {
	p.recorder = r
	return p
}

// Current は現在の状態を返す。
func (p *Projector) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe は状態の購読を開始する。
// 返されたSubscriptionには現在値が既に入っている。
func (p *Projector) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Subscription{
		ch: make(chan State, 1),
		p:  p,
	}
	s.ch <- p.current
	p.subs[s] = struct{}{}
	return s
}

// Begin はリクエストの開始を記録し、Loadingを同期的に公開する。
// seqがこれまでに開始した通番以下の場合は何もせずfalseを返す。
func (p *Projector) Begin(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq <= p.started {
		return false
	}
	p.started = seq
	p.publishLocked(Loading(seq))
	return true
}

// Resolve はseqのリクエスト結果を公開する。
// seqが最後に開始したリクエストでない場合、または既に結果が反映済みの場合は破棄してfalseを返す。
func (p *Projector) Resolve(seq uint64, o Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq != p.started || p.current.Seq != seq || p.current.Kind != KindLoading {
		if p.recorder != nil {
			p.recorder.RecordStaleResult()
		}
		p.logger.Debug("古いタイムライン取得結果を破棄しました",
			slog.Uint64("seq", seq),
			slog.Uint64("latest_seq", p.started),
		)
		return false
	}

	st := o.toState(seq)
	p.publishLocked(st)

	if st.Kind == KindContent && p.recorder != nil {
		p.recorder.RecordPublishedItems(len(st.Items))
	}
	return true
}

// UpdateItems は現在のContent状態の投稿一覧を差し替える。
// fnには現在の投稿一覧のコピーが渡され、変更があった場合はtrueを返すこと。
// 現在の状態がContentでない場合は何もせずfalseを返す。通番は変わらない。
func (p *Projector) UpdateItems(fn func(items []model.Status) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.Kind != KindContent {
		return false
	}

	items := make([]model.Status, len(p.current.Items))
	copy(items, p.current.Items)
	if !fn(items) {
		return false
	}

	p.publishLocked(Content(p.current.Seq, items))
	return true
}

// publishLocked は現在値を更新して全購読者に配信する。p.muを保持して呼ぶこと。
// 各購読者のバッファ（容量1）に未読の値があれば捨ててから最新値を入れる。
func (p *Projector) publishLocked(st State) {
	p.current = st
	for s := range p.subs {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- st
	}
}

func (p *Projector) unsubscribe(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[s]; !ok {
		return
	}
	delete(p.subs, s)
	close(s.ch)
}

// SubscriberCount は現在の購読者数を返す。
func (p *Projector) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Subscription は状態の購読。
type Subscription struct {
	ch chan State
	p  *Projector
}

// C は状態を受け取るチャネルを返す。Close後にクローズされる。
func (s *Subscription) C() <-chan State {
	return s.ch
}

// Close は購読を終了する。複数回呼んでもよい。
func (s *Subscription) Close() {
	s.p.unsubscribe(s)
}
