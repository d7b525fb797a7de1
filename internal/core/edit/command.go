package edit

import (
	"errors"
	"fmt"

	"github.com/gowvp/cutline/internal/core/timeline"
)

// Command 可逆的编辑操作
//
// Apply 要么成功，要么返回错误且时间线不变；Inverse 返回恰好撤销本操作的命令。
// 命令构造后不可修改。
type Command interface {
	Name() string
	Apply(tl *timeline.Timeline) ([]timeline.Change, error)
	Inverse() Command
}

// ErrStale 命令捕获的旧值与当前时间线不一致
var ErrStale = errors.New("command is stale")

var ErrEmptyHistory = errors.New("empty history")

// HistoryError 撤销/重做失败，时间线不变
type HistoryError struct {
	Op  string
	Err error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *HistoryError) Unwrap() error {
	return e.Err
}

func staleErr(cmd string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", cmd, ErrStale, fmt.Sprintf(format, args...))
}

func one(c timeline.Change) []timeline.Change {
	return []timeline.Change{c}
}
