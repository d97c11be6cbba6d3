// Package session はログイン中のMastodonアカウントを保持するセッションレジストリを提供する。
//
// レジストリはアクティブなセッションを高々1つだけ保持する。セッションが無い場合、
// または匿名モードが有効な場合は未ログインとして扱う。
// 読み取り（Current）は任意のゴルーチンから呼べる。変更は認証処理から行う。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/kabinka/internal/model"
	"github.com/hitoshi/kabinka/internal/repository"
)

// ErrAccountNotFound は指定したアカウントがログイン済みアカウントに無い場合のエラー。
var ErrAccountNotFound = errors.New("session: account not found")

// Registry はアクティブなセッションを保持する。
type Registry struct {
	repo   repository.AccountRepository
	logger *slog.Logger

	// writeMu は変更操作（DB更新とメモリ更新）を直列化する
	writeMu sync.Mutex

	mu        sync.RWMutex
	active    *model.Session
	anonymous bool
}

// NewRegistry はRegistryの新しいインスタンスを生成する。初期状態は未ログイン。
func NewRegistry(repo repository.AccountRepository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
	}
}

// Current はアクティブなセッションのコピーを返す。未ログインまたは匿名モードの場合はnil。
func (r *Registry) Current() *model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.anonymous || r.active == nil {
		return nil
	}
	cp := *r.active
	return &cp
}

// IsAuthenticated はアクティブなセッションがあるかを返す。
func (r *Registry) IsAuthenticated() bool {
	return r.Current() != nil
}

// IsAnonymousMode は匿名モードが有効かを返す。
func (r *Registry) IsAnonymousMode() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.anonymous
}

// SetAnonymous は匿名モードを切り替える。
// 有効な間はログイン済みアカウントがあっても Current はnilを返す。
func (r *Registry) SetAnonymous(on bool) {
	r.mu.Lock()
	r.anonymous = on
	r.mu.Unlock()

	r.logger.Info("匿名モードを切り替えました", slog.Bool("anonymous", on))
}

// Load は保存済みのアカウントからアクティブなセッションを復元する。
// アクティブなアカウントが無い場合は、info_updated_atが最も新しいアカウントを選択して保存する。
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	accounts, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	var active *model.Session
	for _, a := range accounts {
		if a.IsActive {
			active = a
			break
		}
	}

	if active == nil && len(accounts) > 0 {
		active, err = r.selectNewestLocked(ctx, accounts)
		if err != nil {
			return err
		}
	}

	r.setActive(active)

	if active != nil {
		r.logger.Info("セッションを復元しました",
			slog.String("session_id", active.ID),
			slog.Int("accounts", len(accounts)),
		)
	} else {
		r.logger.Info("ログイン済みのアカウントはありません")
	}
	return nil
}

// Activate はログインに成功したアカウントを保存し、アクティブにする。匿名モードは解除される。
func (r *Registry) Activate(ctx context.Context, s *model.Session) error {
	if s == nil || s.Domain == "" || s.AccountID == "" || s.AccessToken == "" {
		return fmt.Errorf("session requires domain, account id and access token")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	account := *s
	account.ID = model.SessionID(s.Domain, s.AccountID)

	if err := r.repo.Upsert(ctx, &account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if err := r.repo.SetActive(ctx, account.ID); err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}
	account.IsActive = true

	r.mu.Lock()
	r.active = &account
	r.anonymous = false
	r.mu.Unlock()

	r.logger.Info("アカウントをアクティブにしました", slog.String("session_id", account.ID))
	return nil
}

// Switch はログイン済みアカウントの中からアクティブなアカウントを切り替える。匿名モードは解除される。
func (r *Registry) Switch(ctx context.Context, sessionID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	account, err := r.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
	}

	if err := r.repo.SetActive(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
		}
		return fmt.Errorf("failed to activate account: %w", err)
	}
	account.IsActive = true

	r.mu.Lock()
	r.active = account
	r.anonymous = false
	r.mu.Unlock()

	r.logger.Info("アカウントを切り替えました", slog.String("session_id", sessionID))
	return nil
}

// SignOut はアカウントを削除し、削除したアカウントを返す（トークン失効に使う）。
// 削除したのがアクティブなアカウントの場合は、残りのうち最も新しいアカウントを選択する。
func (r *Registry) SignOut(ctx context.Context, sessionID string) (*model.Session, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	account, err := r.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
	}

	if err := r.repo.DeleteBySessionID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to delete account: %w", err)
	}

	r.mu.RLock()
	wasActive := r.active != nil && r.active.ID == sessionID
	r.mu.RUnlock()

	if wasActive {
		remaining, err := r.repo.List(ctx)
		if err != nil {
			r.setActive(nil)
			return account, fmt.Errorf("failed to list remaining accounts: %w", err)
		}
		next, err := r.selectNewestLocked(ctx, remaining)
		if err != nil {
			r.setActive(nil)
			return account, err
		}
		r.setActive(next)
	}

	r.logger.Info("アカウントからサインアウトしました",
		slog.String("session_id", sessionID),
		slog.Bool("was_active", wasActive),
	)
	return account, nil
}

// Accounts はログイン済みアカウントの一覧を返す。
func (r *Registry) Accounts(ctx context.Context) ([]*model.Session, error) {
	accounts, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// selectNewestLocked はinfo_updated_atが最も新しいアカウントをアクティブとして保存する。
// 空の場合はnilを返す。writeMuを保持して呼ぶこと。
func (r *Registry) selectNewestLocked(ctx context.Context, accounts []*model.Session) (*model.Session, error) {
	var newest *model.Session
	for _, a := range accounts {
		if newest == nil || a.InfoUpdatedAt.After(newest.InfoUpdatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, nil
	}

	if err := r.repo.SetActive(ctx, newest.ID); err != nil {
		return nil, fmt.Errorf("failed to activate account: %w", err)
	}
	newest.IsActive = true

	r.logger.Info("最近更新されたアカウントを自動選択しました", slog.String("session_id", newest.ID))
	return newest, nil
}

func (r *Registry) setActive(s *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = s
}
