package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/kabinka/internal/model"
)

// AppRegistration はOAuthアプリケーション登録の内容。
type AppRegistration struct {
	ClientName  string
	RedirectURI string
	Scopes      string
	Website     string
}

// RegisterApp はサーバーにOAuthアプリケーションを登録し、クライアント資格情報を返す。
func (c *Client) RegisterApp(ctx context.Context, host string, reg AppRegistration) (*model.InstanceApp, error) {
	form := url.Values{}
	form.Set("client_name", reg.ClientName)
	form.Set("redirect_uris", reg.RedirectURI)
	form.Set("scopes", reg.Scopes)
	if reg.Website != "" {
		form.Set("website", reg.Website)
	}

	body, err := c.do(ctx, http.MethodPost, host, "/api/v1/apps", nil, form, "")
	if err != nil {
		return nil, err
	}

	var raw apiApplication
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if raw.ClientID == "" || raw.ClientSecret == "" {
		return nil, &DecodeError{Err: fmt.Errorf("application response without client credentials")}
	}

	return &model.InstanceApp{
		Domain:       host,
		ClientID:     raw.ClientID,
		ClientSecret: raw.ClientSecret,
		RedirectURI:  reg.RedirectURI,
	}, nil
}

// AuthorizeURL はユーザーをリダイレクトする認可画面のURLを組み立てる。
func (c *Client) AuthorizeURL(app *model.InstanceApp, scopes, state string) string {
	q := url.Values{}
	q.Set("client_id", app.ClientID)
	q.Set("redirect_uri", app.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", scopes)
	q.Set("state", state)
	return c.scheme + "://" + app.Domain + "/oauth/authorize?" + q.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, app *model.InstanceApp, code, scopes string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("redirect_uri", app.RedirectURI)
	form.Set("code", code)
	form.Set("scope", scopes)

	body, err := c.do(ctx, http.MethodPost, app.Domain, "/oauth/token", nil, form, "")
	if err != nil {
		return "", err
	}

	var raw apiToken
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", &DecodeError{Err: err}
	}
	if raw.AccessToken == "" {
		return "", &DecodeError{Err: fmt.Errorf("token response without access_token")}
	}
	return raw.AccessToken, nil
}

// RevokeToken はアクセストークンを失効させる。
func (c *Client) RevokeToken(ctx context.Context, app *model.InstanceApp, token string) error {
	form := url.Values{}
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("token", token)

	_, err := c.do(ctx, http.MethodPost, app.Domain, "/oauth/revoke", nil, form, "")
	return err
}
