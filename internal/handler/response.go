// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kabinka/internal/auth"
	"github.com/hitoshi/kabinka/internal/chat"
	"github.com/hitoshi/kabinka/internal/mastodon"
	"github.com/hitoshi/kabinka/internal/middleware"
	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/session"
	"github.com/hitoshi/kabinka/internal/timeline"
)

// --- レスポンス型 ---

// accountResponse は投稿者のレスポンス。
type accountResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	AvatarURL   string `json:"avatar_url"`
}

// statusResponse は投稿のレスポンス。
type statusResponse struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	Account         accountResponse `json:"account"`
	Content         string          `json:"content"` // サニタイズ済みHTML
	PlainText       string          `json:"plain_text"`
	CreatedAt       time.Time       `json:"created_at"`
	RepliesCount    int             `json:"replies_count"`
	ReblogsCount    int             `json:"reblogs_count"`
	FavouritesCount int             `json:"favourites_count"`
	Favourited      bool            `json:"favourited"`
	Reblogged       bool            `json:"reblogged"`
	Bookmarked      bool            `json:"bookmarked"`
	Reblog          *statusResponse `json:"reblog,omitempty"`
}

// stateResponse はタイムラインのUI状態のレスポンス。
// itemsはcontentの場合のみ、messageはerrorの場合のみ含む。
type stateResponse struct {
	Kind    string           `json:"kind"`
	Seq     uint64           `json:"seq"`
	Items   []statusResponse `json:"items,omitempty"`
	Message string           `json:"message,omitempty"`
}

// MarshalJSON はcontent状態のitemsを空でも省略せずに出力する。
func (s stateResponse) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind    string            `json:"kind"`
		Seq     uint64            `json:"seq"`
		Items   *[]statusResponse `json:"items,omitempty"`
		Message string            `json:"message,omitempty"`
	}
	out := wire{Kind: s.Kind, Seq: s.Seq, Message: s.Message}
	if s.Kind == string(timeline.KindContent) {
		items := s.Items
		if items == nil {
			items = []statusResponse{}
		}
		out.Items = &items
	}
	return json.Marshal(out)
}

// sessionAccountResponse はログイン済みアカウントのレスポンス。アクセストークンは含まない。
type sessionAccountResponse struct {
	SessionID string    `json:"session_id"`
	Domain    string    `json:"domain"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Acct      string    `json:"acct"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Username:    a.Username,
		Acct:        a.Acct,
		DisplayName: a.DisplayName,
		URL:         a.URL,
		AvatarURL:   a.AvatarURL,
	}
}

func toStatusResponse(s *model.Status) statusResponse {
	resp := statusResponse{
		ID:              s.ID,
		URL:             s.URL,
		Account:         toAccountResponse(s.Account),
		Content:         s.Content,
		PlainText:       s.PlainText,
		CreatedAt:       s.CreatedAt,
		RepliesCount:    s.RepliesCount,
		ReblogsCount:    s.ReblogsCount,
		FavouritesCount: s.FavouritesCount,
		Favourited:      s.Favourited,
		Reblogged:       s.Reblogged,
		Bookmarked:      s.Bookmarked,
	}
	if s.Reblog != nil {
		reblog := toStatusResponse(s.Reblog)
		resp.Reblog = &reblog
	}
	return resp
}

func toStatusResponses(items []model.Status) []statusResponse {
	out := make([]statusResponse, len(items))
	for i := range items {
		out[i] = toStatusResponse(&items[i])
	}
	return out
}

func toStateResponse(st timeline.State) stateResponse {
	resp := stateResponse{
		Kind: string(st.Kind),
		Seq:  st.Seq,
	}
	switch st.Kind {
	case timeline.KindContent:
		resp.Items = toStatusResponses(st.Items)
	case timeline.KindError:
		resp.Message = st.Message
	}
	return resp
}

func toSessionAccountResponse(s *model.Session) sessionAccountResponse {
	return sessionAccountResponse{
		SessionID: s.ID,
		Domain:    s.Domain,
		AccountID: s.AccountID,
		Username:  s.Username,
		Acct:      s.Acct(),
		IsActive:  s.IsActive,
		UpdatedAt: s.InfoUpdatedAt,
	}
}

// --- 共通ヘルパー ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	switch {
	case errors.Is(err, timeline.ErrNotAuthenticated):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	case errors.Is(err, timeline.ErrInvalidAction):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionError(err.Error()))
		return
	case errors.Is(err, auth.ErrInvalidDomain):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInstanceError(err.Error()))
		return
	case errors.Is(err, auth.ErrAppNotRegistered):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOAuthStateInvalidError())
		return
	case errors.Is(err, chat.ErrUnavailable):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewChatUnavailableError())
		return
	}

	if msg := mastodon.FailureMessage(err); msg != "" {
		logger.Warn("upstream request failed", slog.String("error", err.Error()))
		if mastodon.IsUnauthorized(err) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError(msg))
		return
	}

	// それ以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// notFoundError はIDを含むNotFound系エラーを生成する。
func notFoundError(err error, id string) *model.APIError {
	switch {
	case errors.Is(err, session.ErrAccountNotFound):
		return model.NewAccountNotFoundError(id)
	case errors.Is(err, timeline.ErrStatusNotFound):
		return model.NewStatusNotFoundError(id)
	}
	return nil
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidInstance,
		model.ErrCodeInvalidAction, model.ErrCodeOAuthStateInvalid:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound, model.ErrCodeStatusNotFound:
		return http.StatusNotFound
	case model.ErrCodeUpstreamFailed:
		return http.StatusBadGateway
	case model.ErrCodeChatUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
