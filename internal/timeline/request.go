// Package timeline はタイムラインの取得と状態管理を提供する。
//
// Dispatcher は選択された種類とセッションの有無に応じてタイムラインを1回だけ
// 取得し、Projector はその結果をLoading/Content/Errorの
// いずれかの状態として購読者に配信する。Controller は初回読み込みと再読み込みを
// 調停し、最後に開始したリクエストの結果だけを反映する。
package timeline

import (
	"fmt"
	"strings"

	"github.com/hitoshi/kabinka/internal/model"
)

const (
	// AnonymousPageSize は未ログイン時の公開タイムラインの取得件数。
	AnonymousPageSize = 40
	// AuthenticatedPageSize はログイン時のホームタイムラインの取得件数。
	AuthenticatedPageSize = 20
	// PublicPageSize はローカル・連合タイムラインを選択した場合の取得件数。
	PublicPageSize = 40
	// CollectionPageSize はブックマーク・お気に入り一覧の取得件数。
	CollectionPageSize = 40
)

// Type は表示するタイムラインの種類。
type Type string

const (
	// TypeDefault はセッションの有無で取得先を決める既定の種類。
	TypeDefault    Type = "default"
	TypeHome       Type = "home"
	TypeLocal      Type = "local"
	TypeFederated  Type = "federated"
	TypeBookmarks  Type = "bookmarks"
	TypeFavourites Type = "favourites"
)

// ParseType は種類名を Type に変換する。空文字は TypeDefault として扱う。
// "favorites" も TypeFavourites として受け付ける。
func ParseType(s string) (Type, error) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "", string(TypeDefault):
		return TypeDefault, nil
	case "favorites":
		return TypeFavourites, nil
	case string(TypeHome), string(TypeLocal), string(TypeFederated), string(TypeBookmarks), string(TypeFavourites):
		return Type(name), nil
	}
	return "", fmt.Errorf("unknown timeline type: %q", s)
}

// RequiresSession はログインしていないと取得できない種類かどうかを返す。
func (t Type) RequiresSession() bool {
	switch t {
	case TypeHome, TypeBookmarks, TypeFavourites:
		return true
	}
	return false
}

// AuthMode はリクエストの認証モード。
type AuthMode string

const (
	ModeAnonymous     AuthMode = "anonymous"
	ModeAuthenticated AuthMode = "authenticated"
)

// FeedRequestSpec は1回のタイムライン取得の内容を表す。
// ディスパッチごとに生成し、生成後は変更しない。
type FeedRequestSpec struct {
	Timeline  Type
	Host      string // 取得先サーバーのホスト名
	Mode      AuthMode
	SessionID string // Mode が ModeAuthenticated の場合のみ設定される
	MaxID     string
	SinceID   string
	MinID     string
	Limit     int
	Local     bool // ModeAnonymous の場合のみ有効
	Federated bool // ModeAnonymous の場合のみ有効
}

// BuildSpec はセッションの有無からリクエスト内容を決定する。
// セッションがnilの場合はfallbackHostの連合タイムライン（40件）、
// それ以外はセッションのホームサーバーのホームタイムライン（20件）となる。
// カーソルは指定しない。
func BuildSpec(session *model.Session, fallbackHost string) FeedRequestSpec {
	if session == nil {
		return FeedRequestSpec{
			Timeline:  TypeDefault,
			Host:      fallbackHost,
			Mode:      ModeAnonymous,
			Limit:     AnonymousPageSize,
			Local:     false,
			Federated: true,
		}
	}
	return FeedRequestSpec{
		Timeline:  TypeDefault,
		Host:      session.Domain,
		Mode:      ModeAuthenticated,
		SessionID: session.ID,
		Limit:     AuthenticatedPageSize,
	}
}

// BuildSpecFor は指定した種類のリクエスト内容を決定する。
// ローカル・連合タイムラインは認証なしで、セッションがあればそのホームサーバー、
// なければfallbackHostから取得する。ホーム・ブックマーク・お気に入りは
// セッションが必要で、nilの場合は ErrNotAuthenticated を返す。
func BuildSpecFor(t Type, session *model.Session, fallbackHost string) (FeedRequestSpec, error) {
	switch t {
	case TypeDefault:
		return BuildSpec(session, fallbackHost), nil
	case TypeLocal, TypeFederated:
		host := fallbackHost
		if session != nil {
			host = session.Domain
		}
		return FeedRequestSpec{
			Timeline:  t,
			Host:      host,
			Mode:      ModeAnonymous,
			Limit:     PublicPageSize,
			Local:     t == TypeLocal,
			Federated: t == TypeFederated,
		}, nil
	case TypeHome, TypeBookmarks, TypeFavourites:
		if session == nil {
			return FeedRequestSpec{Timeline: t, Mode: ModeAuthenticated}, ErrNotAuthenticated
		}
		limit := CollectionPageSize
		if t == TypeHome {
			limit = AuthenticatedPageSize
		}
		return FeedRequestSpec{
			Timeline:  t,
			Host:      session.Domain,
			Mode:      ModeAuthenticated,
			SessionID: session.ID,
			Limit:     limit,
		}, nil
	}
	return FeedRequestSpec{Timeline: t}, fmt.Errorf("unknown timeline type: %q", t)
}

// Validate はリクエスト内容の整合性を検証する。
func (s FeedRequestSpec) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if s.Limit <= 0 {
		return fmt.Errorf("limit must be positive: %d", s.Limit)
	}
	if s.Timeline.RequiresSession() && s.Mode != ModeAuthenticated {
		return fmt.Errorf("%s timeline requires an authenticated request", s.Timeline)
	}
	switch s.Mode {
	case ModeAnonymous:
		if s.SessionID != "" {
			return fmt.Errorf("anonymous request must not carry a session id")
		}
		if s.Local && s.Federated {
			return fmt.Errorf("local and federated scopes are mutually exclusive")
		}
	case ModeAuthenticated:
		if s.SessionID == "" {
			return fmt.Errorf("authenticated request requires a session id")
		}
		if s.Local || s.Federated {
			return fmt.Errorf("scope flags apply to anonymous requests only")
		}
	default:
		return fmt.Errorf("unknown auth mode: %q", s.Mode)
	}
	return nil
}
