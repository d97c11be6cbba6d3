package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kabinka/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, session_id, domain, account_id, username, access_token, is_active, info_updated_at, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.Session, error) {
	a := &model.Session{}
	// idは行の代理キーで、モデルではsession_idをIDとして扱う
	var recordID string
	err := row.Scan(&recordID, &a.ID, &a.Domain, &a.AccountID, &a.Username,
		&a.AccessToken, &a.IsActive, &a.InfoUpdatedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Upsert はsession_idをキーにアカウントを作成または更新する。
func (r *PostgresAccountRepo) Upsert(ctx context.Context, account *model.Session) error {
	if account.InfoUpdatedAt.IsZero() {
		account.InfoUpdatedAt = time.Now()
	}

	var recordID string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, session_id, domain, account_id, username, access_token, is_active, info_updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7, now())
		 ON CONFLICT (session_id) DO UPDATE SET
		     username = EXCLUDED.username,
		     access_token = EXCLUDED.access_token,
		     info_updated_at = EXCLUDED.info_updated_at
		 RETURNING id, is_active, created_at`,
		uuid.New().String(), account.ID, account.Domain, account.AccountID,
		account.Username, account.AccessToken, account.InfoUpdatedAt,
	).Scan(&recordID, &account.IsActive, &account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// FindBySessionID は指定セッションIDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.Session, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE session_id = $1`,
		sessionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// List は全アカウントをinfo_updated_at降順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY info_updated_at DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Session
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// SetActive は指定セッションIDのアカウントのみをアクティブにする。
// 非アクティブ化とアクティブ化を同一トランザクションで行う。
func (r *PostgresAccountRepo) SetActive(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_active = false WHERE is_active`); err != nil {
		return fmt.Errorf("failed to deactivate accounts: %w", err)
	}

	if sessionID != "" {
		result, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_active = true WHERE session_id = $1`,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to activate account: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteBySessionID は指定セッションIDのアカウントを削除する。
func (r *PostgresAccountRepo) DeleteBySessionID(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
