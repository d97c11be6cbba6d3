// Package chat は外部チャットモジュールの起動を扱う。
// チャットモジュールは不透明な外部プログラムとして扱い、起動するだけでAPI契約は持たない。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrUnavailable はチャットモジュールが起動できない状態のエラー。
var ErrUnavailable = errors.New("chat: module unavailable")

// Launcher はチャットモジュールの起動インターフェース。
type Launcher interface {
	IsReady() bool
	Launch(ctx context.Context) error
}

// CommandLauncher は設定されたコマンドを子プロセスとして起動する。
type CommandLauncher struct {
	path   string
	args   []string
	logger *slog.Logger
}

// NewCommandLauncher はCommandLauncherを生成する。
// commandは空白区切りで、先頭が実行ファイル、残りが引数として扱われる。
func NewCommandLauncher(command string, logger *slog.Logger) *CommandLauncher {
	fields := strings.Fields(command)
	l := &CommandLauncher{logger: logger}
	if len(fields) > 0 {
		l.path = fields[0]
		l.args = fields[1:]
	}
	return l
}

// IsReady は実行ファイルが解決できるかを返す。
func (l *CommandLauncher) IsReady() bool {
	if l.path == "" {
		return false
	}
	_, err := exec.LookPath(l.path)
	return err == nil
}

// Launch はチャットモジュールを起動する。起動したプロセスの終了は待たない。
func (l *CommandLauncher) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.path == "" {
		return ErrUnavailable
	}

	resolved, err := exec.LookPath(l.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// リクエストのcontextには紐付けない
	cmd := exec.Command(resolved, l.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start chat module: %w", err)
	}

	pid := cmd.Process.Pid
	l.logger.Info("チャットモジュールを起動しました",
		slog.String("path", resolved),
		slog.Int("pid", pid),
	)

	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("chat module exited with error",
				slog.Int("pid", pid),
				slog.String("error", err.Error()),
			)
			return
		}
		l.logger.Debug("chat module exited", slog.Int("pid", pid))
	}()

	return nil
}

// Unavailable はチャットモジュールが組み込まれていない場合のLauncher。
type Unavailable struct{}

// IsReady は常にfalseを返す。
func (Unavailable) IsReady() bool { return false }

// Launch は常にErrUnavailableを返す。
func (Unavailable) Launch(context.Context) error { return ErrUnavailable }

var (
	_ Launcher = (*CommandLauncher)(nil)
	_ Launcher = Unavailable{}
)
