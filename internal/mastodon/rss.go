package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"unicode"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/kabinka/internal/model"
)

// ValidateTag はハッシュタグ名を検証する（先頭の#は付けない）。
// Mastodonのハッシュタグと同じく、文字・数字・アンダースコアのみ許可する。
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty tag")
	}
	for _, r := range tag {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("invalid character %q in tag", r)
		}
	}
	return nil
}

// TagFeed はハッシュタグの公開RSS（/tags/<tag>.rss）を取得し、投稿一覧に変換する。
// 認証は不要。GUIDを投稿IDとして扱い、重複は最初の1件を残す。
// limitが正の場合は先頭からlimit件に切り詰める。
func (c *Client) TagFeed(ctx context.Context, host, tag string, limit int) ([]model.Status, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, host, "/tags/"+url.PathEscape(tag)+".rss", nil, nil, "")
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("RSSのパースに失敗しました: %w", err)}
	}

	statuses := make([]model.Status, 0, len(parsed.Items))
	seen := make(map[string]struct{}, len(parsed.Items))
	for _, item := range parsed.Items {
		id := item.GUID
		if id == "" {
			id = item.Link
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		s := model.Status{
			ID:        id,
			URL:       item.Link,
			Content:   c.formatter.Sanitize(item.Description),
			PlainText: c.formatter.PlainText(item.Description),
		}
		if item.PublishedParsed != nil {
			s.CreatedAt = *item.PublishedParsed
		}
		statuses = append(statuses, s)

		if limit > 0 && len(statuses) >= limit {
			break
		}
	}

	return statuses, nil
}
