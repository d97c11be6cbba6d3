package timeline

import "github.com/hitoshi/kabinka/internal/model"

// Kind はUI状態の種別。
type Kind string

const (
	KindLoading Kind = "loading"
	KindContent Kind = "content"
	KindError   Kind = "error"
)

// GenericFailureMessage は下位層がメッセージを返さなかった場合のエラーメッセージ。
const GenericFailureMessage = "タイムラインの読み込みに失敗しました"

// State はUIに公開する現在の状態。
// Items は公開後に変更されないため、購読者は読み取り専用として扱うこと。
type State struct {
	Kind    Kind
	Items   []model.Status // KindContent の場合のみ
	Message string         // KindError の場合のみ
	Seq     uint64         // この状態を生成したリクエストの通番
}

// Loading は読み込み中の状態を生成する。
func Loading(seq uint64) State {
	return State{Kind: KindLoading, Seq: seq}
}

// Content は取得結果の状態を生成する。itemsがnilの場合は空スライスにする。
func Content(seq uint64, items []model.Status) State {
	if items == nil {
		items = []model.Status{}
	}
	return State{Kind: KindContent, Items: items, Seq: seq}
}

// Error はエラー状態を生成する。メッセージが空の場合は汎用メッセージを使う。
func Error(seq uint64, message string) State {
	if message == "" {
		message = GenericFailureMessage
	}
	return State{Kind: KindError, Message: message, Seq: seq}
}

// Outcome は1回のディスパッチの結果。
type Outcome struct {
	Spec    FeedRequestSpec
	Items   []model.Status
	Failed  bool
	Message string // Failed の場合のみ。空の場合がある
}

// Succeeded は成功の結果を生成する。
func Succeeded(spec FeedRequestSpec, items []model.Status) Outcome {
	return Outcome{Spec: spec, Items: items}
}

// Failure は失敗の結果を生成する。
func Failure(spec FeedRequestSpec, message string) Outcome {
	return Outcome{Spec: spec, Failed: true, Message: message}
}

// toState は結果を状態に変換する。
func (o Outcome) toState(seq uint64) State {
	if o.Failed {
		return Error(seq, o.Message)
	}
	return Content(seq, o.Items)
}
