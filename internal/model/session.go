// Package model はドメインモデルを定義する。
package model

import "time"

// Session はMastodonサーバーにログイン済みのアカウントを表す。
// AccessTokenはセッションレジストリのみが保持し、外部には公開しない。
type Session struct {
	ID            string // "<domain>_<account id>" 形式のセッションID
	Domain        string // ホームサーバーのホスト名
	AccountID     string // サーバー内のアカウントID
	Username      string
	AccessToken   string
	IsActive      bool
	InfoUpdatedAt time.Time
	CreatedAt     time.Time
}

// SessionID はドメインとアカウントIDからセッションIDを組み立てる。
func SessionID(domain, accountID string) string {
	return domain + "_" + accountID
}

// Acct は "username@domain" 形式のアカウント表記を返す。
func (s *Session) Acct() string {
	return s.Username + "@" + s.Domain
}

// InstanceApp はインスタンスごとに登録したOAuthアプリケーションの資格情報を表す。
type InstanceApp struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CreatedAt    time.Time
}
