package mastodon

import (
	"time"

	"github.com/hitoshi/kabinka/internal/model"
)

// apiAccount はMastodon APIのAccountエンティティ（使用するフィールドのみ）。
type apiAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	Avatar      string `json:"avatar"`
}

func (a apiAccount) toModel() model.Account {
	return model.Account{
		ID:          a.ID,
		Username:    a.Username,
		Acct:        a.Acct,
		DisplayName: a.DisplayName,
		URL:         a.URL,
		AvatarURL:   a.Avatar,
	}
}

// apiStatus はMastodon APIのStatusエンティティ（使用するフィールドのみ）。
// favourited等は未認証時に省略されるためゼロ値（false）になる。
type apiStatus struct {
	ID              string     `json:"id"`
	URL             *string    `json:"url"`
	CreatedAt       time.Time  `json:"created_at"`
	Content         string     `json:"content"`
	Account         apiAccount `json:"account"`
	RepliesCount    int        `json:"replies_count"`
	ReblogsCount    int        `json:"reblogs_count"`
	FavouritesCount int        `json:"favourites_count"`
	Favourited      bool       `json:"favourited"`
	Reblogged       bool       `json:"reblogged"`
	Bookmarked      bool       `json:"bookmarked"`
	Reblog          *apiStatus `json:"reblog"`
}

// apiApplication はPOST /api/v1/apps のレスポンス。
type apiApplication struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// apiToken はPOST /oauth/token のレスポンス。
type apiToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}
