// Package mastodon はMastodon互換サーバーのREST APIクライアントを提供する。
// タイムライン取得、OAuthアプリ登録とトークン交換、投稿へのインタラクション、
// ハッシュタグRSSの取得を含む。
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/kabinka/internal/model"
)

const (
	// defaultMaxResponseSize はレスポンスボディの最大サイズ（5MB）。
	defaultMaxResponseSize = 5 * 1024 * 1024
	userAgent              = "Kabinka/1.0 Mastodon Client"
)

// HostValidator はリクエスト前にサーバーのホスト名を検証する。
type HostValidator interface {
	ValidateHost(host string) error
}

// ContentFormatter は投稿本文HTMLを整形する。
type ContentFormatter interface {
	Sanitize(rawHTML string) string
	PlainText(rawHTML string) string
}

// StatusRecorder はサーバーから受け取ったHTTPステータスコードを記録する。
type StatusRecorder interface {
	RecordUpstreamStatus(statusCode int)
}

// Client はMastodon REST APIのクライアント。
// 接続先のホストは呼び出しごとに指定する（ユーザーごとにホームサーバーが異なるため）。
type Client struct {
	httpClient      *http.Client
	guard           HostValidator
	formatter       ContentFormatter
	logger          *slog.Logger
	recorder        StatusRecorder
	maxResponseSize int64
	scheme          string // テスト用にhttpへ差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはSSRF防止付きのクライアントを渡すこと。
func NewClient(httpClient *http.Client, guard HostValidator, formatter ContentFormatter, logger *slog.Logger) *Client {
	return &Client{
		httpClient:      httpClient,
		guard:           guard,
		formatter:       formatter,
		logger:          logger,
		maxResponseSize: defaultMaxResponseSize,
		scheme:          "https",
	}
}

// WithMaxResponseSize はレスポンスボディの上限を設定する。
func (c *Client) WithMaxResponseSize(n int64) *Client {
	if n > 0 {
		c.maxResponseSize = n
	}
	return c
}

// WithStatusRecorder はHTTPステータスの記録先を設定する。
func (c *Client) WithStatusRecorder(r StatusRecorder) *Client {
	c.recorder = r
	return c
}

// PublicTimelineParams は公開タイムライン取得のパラメータ。
// ゼロ値のフィールドはクエリに含めない。
type PublicTimelineParams struct {
	Local   bool // ローカルの投稿のみ
	Remote  bool // 連合（リモート）の投稿のみ
	MaxID   string
	SinceID string
	MinID   string
	Limit   int
}

func (p PublicTimelineParams) query() url.Values {
	q := url.Values{}
	if p.Local {
		q.Set("local", "true")
	}
	if p.Remote {
		q.Set("remote", "true")
	}
	setPaging(q, p.MaxID, p.SinceID, p.MinID, p.Limit)
	return q
}

// HomeTimelineParams はホームタイムライン取得のパラメータ。
type HomeTimelineParams struct {
	MaxID   string
	SinceID string
	MinID   string
	Limit   int
}

func (p HomeTimelineParams) query() url.Values {
	q := url.Values{}
	setPaging(q, p.MaxID, p.SinceID, p.MinID, p.Limit)
	return q
}

func setPaging(q url.Values, maxID, sinceID, minID string, limit int) {
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if minID != "" {
		q.Set("min_id", minID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}

// PublicTimeline は認証なしで公開タイムラインを取得する。
func (c *Client) PublicTimeline(ctx context.Context, host string, p PublicTimelineParams) ([]model.Status, error) {
	var raw []apiStatus
	if err := c.getJSON(ctx, host, "/api/v1/timelines/public", p.query(), "", &raw); err != nil {
		return nil, err
	}
	return c.toStatuses(raw)
}

// HomeTimeline はアクセストークンを使ってホームタイムラインを取得する。
func (c *Client) HomeTimeline(ctx context.Context, host, token string, p HomeTimelineParams) ([]model.Status, error) {
	var raw []apiStatus
	if err := c.getJSON(ctx, host, "/api/v1/timelines/home", p.query(), token, &raw); err != nil {
		return nil, err
	}
	return c.toStatuses(raw)
}

// Bookmarks はトークンの持ち主がブックマークした投稿を取得する。
func (c *Client) Bookmarks(ctx context.Context, host, token string, p HomeTimelineParams) ([]model.Status, error) {
	var raw []apiStatus
	if err := c.getJSON(ctx, host, "/api/v1/bookmarks", p.query(), token, &raw); err != nil {
		return nil, err
	}
	return c.toStatuses(raw)
}

// Favourites はトークンの持ち主がお気に入りに登録した投稿を取得する。
func (c *Client) Favourites(ctx context.Context, host, token string, p HomeTimelineParams) ([]model.Status, error) {
	var raw []apiStatus
	if err := c.getJSON(ctx, host, "/api/v1/favourites", p.query(), token, &raw); err != nil {
		return nil, err
	}
	return c.toStatuses(raw)
}

// VerifyCredentials はトークンの持ち主のアカウント情報を取得する。
func (c *Client) VerifyCredentials(ctx context.Context, host, token string) (*model.Account, error) {
	var raw apiAccount
	if err := c.getJSON(ctx, host, "/api/v1/accounts/verify_credentials", nil, token, &raw); err != nil {
		return nil, err
	}
	if raw.ID == "" {
		return nil, &DecodeError{Err: fmt.Errorf("account without id")}
	}
	account := raw.toModel()
	return &account, nil
}

// SetFavourited は投稿のお気に入り状態を変更し、更新後の投稿を返す。
func (c *Client) SetFavourited(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error) {
	return c.statusAction(ctx, host, token, statusID, toggleVerb("favourite", on))
}

// SetReblogged は投稿のブースト状態を変更し、更新後の投稿を返す。
// ブースト時にサーバーが返すラッパー投稿ではなく、元の投稿を返す。
func (c *Client) SetReblogged(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error) {
	s, err := c.statusAction(ctx, host, token, statusID, toggleVerb("reblog", on))
	if err != nil {
		return nil, err
	}
	return s.Target(), nil
}

// SetBookmarked は投稿のブックマーク状態を変更し、更新後の投稿を返す。
func (c *Client) SetBookmarked(ctx context.Context, host, token, statusID string, on bool) (*model.Status, error) {
	return c.statusAction(ctx, host, token, statusID, toggleVerb("bookmark", on))
}

func toggleVerb(verb string, on bool) string {
	if on {
		return verb
	}
	return "un" + verb
}

func (c *Client) statusAction(ctx context.Context, host, token, statusID, verb string) (*model.Status, error) {
	if statusID == "" {
		return nil, fmt.Errorf("status id is empty")
	}
	path := "/api/v1/statuses/" + url.PathEscape(statusID) + "/" + verb

	body, err := c.do(ctx, http.MethodPost, host, path, nil, nil, token)
	if err != nil {
		return nil, err
	}

	var raw apiStatus
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if raw.ID == "" {
		return nil, &DecodeError{Err: fmt.Errorf("status without id")}
	}
	s := c.toStatus(&raw)
	return &s, nil
}

func (c *Client) getJSON(ctx context.Context, host, path string, query url.Values, token string, out any) error {
	body, err := c.do(ctx, http.MethodGet, host, path, query, nil, token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Warn("Mastodon APIのレスポンスのパースに失敗しました",
			slog.String("host", host),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &DecodeError{Err: err}
	}
	return nil
}

// do はリクエストを1回だけ送信し、2xxの場合のみボディを返す。リトライは行わない。
func (c *Client) do(ctx context.Context, method, host, path string, query, form url.Values, token string) ([]byte, error) {
	if err := c.guard.ValidateHost(host); err != nil {
		return nil, &NetworkError{Host: host, Err: err}
	}

	reqURL := c.scheme + "://" + host + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Mastodon APIの呼び出しに失敗しました",
			slog.String("host", host),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, &NetworkError{Host: host, Err: err}
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordUpstreamStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, &NetworkError{Host: host, Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(body)
		c.logger.Warn("Mastodon APIがエラーステータスを返しました",
			slog.String("host", host),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", msg),
		)
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if int64(len(body)) > c.maxResponseSize {
		return nil, &DecodeError{Err: fmt.Errorf("response body exceeds %d bytes", c.maxResponseSize)}
	}

	return body, nil
}

// errorMessage はMastodonのエラーボディ {"error": "..."} からメッセージを取り出す。
func errorMessage(body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &e); err != nil {
		return ""
	}
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	return e.Error
}

// toStatuses はAPIの投稿一覧をモデルに変換する。
// 同じIDが重複した場合は最初の1件を残す。
func (c *Client) toStatuses(raw []apiStatus) ([]model.Status, error) {
	statuses := make([]model.Status, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i := range raw {
		if raw[i].ID == "" {
			return nil, &DecodeError{Err: fmt.Errorf("status at index %d has no id", i)}
		}
		if _, dup := seen[raw[i].ID]; dup {
			continue
		}
		seen[raw[i].ID] = struct{}{}
		statuses = append(statuses, c.toStatus(&raw[i]))
	}
	return statuses, nil
}

func (c *Client) toStatus(a *apiStatus) model.Status {
	s := model.Status{
		ID:              a.ID,
		Account:         a.Account.toModel(),
		Content:         c.formatter.Sanitize(a.Content),
		PlainText:       c.formatter.PlainText(a.Content),
		CreatedAt:       a.CreatedAt,
		RepliesCount:    a.RepliesCount,
		ReblogsCount:    a.ReblogsCount,
		FavouritesCount: a.FavouritesCount,
		Favourited:      a.Favourited,
		Reblogged:       a.Reblogged,
		Bookmarked:      a.Bookmarked,
	}
	if a.URL != nil {
		s.URL = *a.URL
	}
	if a.Reblog != nil {
		r := c.toStatus(a.Reblog)
		s.Reblog = &r
	}
	return s
}
