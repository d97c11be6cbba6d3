package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService は投稿本文HTMLのサニタイズ機能のインターフェースを定義する。
// Mastodon APIから受け取ったcontentをUIに渡す前に使用される。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// PlainText はHTMLからタグを除いたテキストを返す。
	// p, brは改行として扱い、class="invisible" のspanは読み飛ばす。
	PlainText(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はMastodonの投稿本文向けポリシーを持つサニタイザーを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, span, ul, ol, li, blockquote, pre, code, strong, em, b, i, del
//   - span: Mastodonが付与するh-card, mention, hashtag, invisible, ellipsis クラスのみ許可
//   - aタグ: https/httpのみ、target="_blank" と rel="noopener noreferrer" を自動付与
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "del",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a", "span")
	p.AllowElements("span")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool { return true })
	p.AllowURLSchemeWithCustomPolicy("http", func(u *url.URL) bool { return true })
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// PlainText はHTMLをトークナイズしてテキストノードのみを連結する。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))

	// invisibleなspanの入れ子の深さ
	hidden := 0
	depth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)
			switch tag {
			case "br":
				if hidden == 0 {
					b.WriteByte('\n')
				}
				continue
			case "p":
				if hidden == 0 && b.Len() > 0 {
					b.WriteString("\n\n")
				}
			case "span":
				if tt == html.SelfClosingTagToken {
					continue
				}
				depth++
				if hidden > 0 {
					hidden++
					continue
				}
				if hasAttr && hasClass(tokenizer, "invisible") {
					hidden = 1
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "span" && depth > 0 {
				depth--
				if hidden > 0 {
					hidden--
				}
			}

		case html.TextToken:
			if hidden == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// hasClass は現在のタグのclass属性に指定クラスが含まれるかを判定する。
func hasClass(tokenizer *html.Tokenizer, class string) bool {
	for {
		key, val, more := tokenizer.TagAttr()
		if string(key) == "class" {
			for _, c := range strings.Fields(string(val)) {
				if c == class {
					return true
				}
			}
		}
		if !more {
			return false
		}
	}
}
