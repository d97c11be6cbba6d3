package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kabinka/internal/model"
)

// PostgresInstanceAppRepo はPostgreSQLを使用したOAuthアプリ資格情報リポジトリ。
type PostgresInstanceAppRepo struct {
	db *sql.DB
}

// NewPostgresInstanceAppRepo はPostgresInstanceAppRepoを生成する。
func NewPostgresInstanceAppRepo(db *sql.DB) *PostgresInstanceAppRepo {
	return &PostgresInstanceAppRepo{db: db}
}

// FindByDomain は指定ドメインのアプリを取得する。見つからない場合はnilを返す。
func (r *PostgresInstanceAppRepo) FindByDomain(ctx context.Context, domain string) (*model.InstanceApp, error) {
	app := &model.InstanceApp{}
	err := r.db.QueryRowContext(ctx,
		`SELECT domain, client_id, client_secret, redirect_uri, created_at
		 FROM instance_apps WHERE domain = $1`,
		domain,
	).Scan(&app.Domain, &app.ClientID, &app.ClientSecret, &app.RedirectURI, &app.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance app: %w", err)
	}
	return app, nil
}

// Create はアプリを保存する。同じドメインが既にある場合は上書きする。
func (r *PostgresInstanceAppRepo) Create(ctx context.Context, app *model.InstanceApp) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO instance_apps (domain, client_id, client_secret, redirect_uri, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (domain) DO UPDATE SET
		     client_id = EXCLUDED.client_id,
		     client_secret = EXCLUDED.client_secret,
		     redirect_uri = EXCLUDED.redirect_uri
		 RETURNING created_at`,
		app.Domain, app.ClientID, app.ClientSecret, app.RedirectURI,
	).Scan(&app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create instance app: %w", err)
	}
	return nil
}

// compile-time interface check
var _ InstanceAppRepository = (*PostgresInstanceAppRepo)(nil)
