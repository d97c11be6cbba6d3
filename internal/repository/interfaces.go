// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/kabinka/internal/model"
)

// ErrAccountNotFound は指定したセッションIDのアカウントが存在しない場合のエラー。
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository はログイン済みアカウントの永続化インターフェース。
type AccountRepository interface {
	// Upsert はsession_idをキーにアカウントを作成または更新する。
	// 更新時はusername、access_token、info_updated_atのみを上書きし、is_activeは変更しない。
	// 引数のID、CreatedAtには保存後の値が設定される。
	Upsert(ctx context.Context, account *model.Session) error

	// FindBySessionID は指定セッションIDのアカウントを取得する。見つからない場合はnilを返す。
	FindBySessionID(ctx context.Context, sessionID string) (*model.Session, error)

	// List は全アカウントをinfo_updated_at降順で返す。
	List(ctx context.Context) ([]*model.Session, error)

	// SetActive は指定セッションIDのアカウントのみをアクティブにする。
	// sessionIDが空の場合は全アカウントを非アクティブにする。
	// 指定アカウントが存在しない場合はErrAccountNotFoundを返す。
	SetActive(ctx context.Context, sessionID string) error

	// DeleteBySessionID は指定セッションIDのアカウントを削除する。
	// 存在しない場合はErrAccountNotFoundを返す。
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

// InstanceAppRepository はインスタンスごとのOAuthアプリ資格情報の永続化インターフェース。
type InstanceAppRepository interface {
	// FindByDomain は指定ドメインのアプリを取得する。見つからない場合はnilを返す。
	FindByDomain(ctx context.Context, domain string) (*model.InstanceApp, error)

	// Create はアプリを保存する。同じドメインが既にある場合は上書きする。
	Create(ctx context.Context, app *model.InstanceApp) error
}
