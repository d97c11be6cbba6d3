package mastodon

import (
	"errors"
	"fmt"
)

// NetworkError はサーバーに到達できなかった場合のエラー（DNS、接続、タイムアウト、SSRFブロック等）。
type NetworkError struct {
	Host string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s): %v", e.Host, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError はサーバーが2xx以外のステータスを返した場合のエラー。
// Messageはレスポンスボディの error フィールドで、無い場合は空。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mastodon API returned status %d", e.Status)
	}
	return fmt.Sprintf("mastodon API returned status %d: %s", e.Status, e.Message)
}

// DecodeError はレスポンスボディを解釈できなかった場合のエラー。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FailureMessage はエラーをUIに表示するメッセージに変換する。
// サーバーがメッセージを返した場合はそれを優先し、それ以外は分類ごとの定型文を返す。
// nilの場合は空文字列を返す（呼び出し側で汎用メッセージに置き換える）。
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fmt.Sprintf("サーバーがエラーを返しました (HTTP %d)", apiErr.Status)
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return fmt.Sprintf("%s に接続できませんでした", netErr.Host)
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return "サーバーの応答を解析できませんでした"
	}

	return ""
}

// IsNotFound はエラーが404応答によるものかを判定する。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

// IsUnauthorized はエラーが401応答によるものかを判定する。
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}
