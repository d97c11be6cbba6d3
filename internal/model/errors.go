// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, timeline, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidInstance   = "INVALID_INSTANCE"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeStatusNotFound    = "STATUS_NOT_FOUND"
	ErrCodeInvalidAction     = "INVALID_ACTION"
	ErrCodeUpstreamFailed    = "UPSTREAM_FAILED"
	ErrCodeChatUnavailable   = "CHAT_UNAVAILABLE"
	ErrCodeOAuthStateInvalid = "OAUTH_STATE_INVALID"
	ErrCodeCSRFInvalid       = "CSRF_INVALID"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewUnauthorizedError はログインが必要な操作に対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作にはログインが必要です。",
		Category: "auth",
		Action:   "Mastodonアカウントでログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidInstanceError は無効なインスタンス指定のエラーを生成する。
func NewInvalidInstanceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInstance,
		Message:  fmt.Sprintf("無効なサーバーです: %s", reason),
		Category: "validation",
		Action:   "公開されているMastodonサーバーのホスト名（例: mastodon.social）を入力してください。",
	}
}

// NewAccountNotFoundError はログイン済みアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", sessionID),
		Category: "auth",
		Action:   "アカウント一覧を確認してください。",
	}
}

// NewStatusNotFoundError は現在のタイムラインに投稿が存在しない場合のエラーを生成する。
func NewStatusNotFoundError(statusID string) *APIError {
	return &APIError{
		Code:     ErrCodeStatusNotFound,
		Message:  fmt.Sprintf("指定された投稿がタイムラインにありません: %s", statusID),
		Category: "timeline",
		Action:   "タイムラインを更新してから再度お試しください。",
	}
}

// NewInvalidActionError は未知のインタラクション種別のエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("無効な操作です: %s", action),
		Category: "validation",
		Action:   "favourite、reblog、bookmark（またはun接頭辞付き）のいずれかを指定してください。",
	}
}

// NewUpstreamFailedError はMastodonサーバー呼び出しの失敗エラーを生成する。
func NewUpstreamFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "timeline",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewChatUnavailableError はチャットモジュールが起動できない場合のエラーを生成する。
func NewChatUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeChatUnavailable,
		Message:  "チャットモジュールは利用できません。",
		Category: "system",
		Action:   "CHAT_COMMANDの設定を確認してください。",
	}
}

// NewOAuthStateInvalidError はOAuthのstate検証失敗エラーを生成する。
func NewOAuthStateInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthStateInvalid,
		Message:  "ログインリクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
