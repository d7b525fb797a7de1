package edit

import (
	"github.com/gowvp/cutline/internal/core/timeline"
)

// History 撤销栈与重做栈
type History struct {
	undo  []Command
	redo  []Command
	depth int
}

// NewHistory depth 为撤销栈上限，超出时丢弃最早的记录；0 表示不限
func NewHistory(depth int) *History {
	return &History{depth: depth}
}

// Apply 执行新命令，成功后入撤销栈并清空重做栈
func (h *History) Apply(tl *timeline.Timeline, cmd Command) ([]timeline.Change, error) {
	changes, err := cmd.Apply(tl)
	if err != nil {
		return nil, err
	}
	h.push(cmd)
	h.redo = nil
	return changes, nil
}

// Undo 撤销最近一次命令
func (h *History) Undo(tl *timeline.Timeline) ([]timeline.Change, error) {
	if len(h.undo) == 0 {
		return nil, &HistoryError{Op: "undo", Err: ErrEmptyHistory}
	}
	cmd := h.undo[len(h.undo)-1]
	changes, err := cmd.Inverse().Apply(tl)
	if err != nil {
		return nil, &HistoryError{Op: "undo " + cmd.Name(), Err: err}
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, cmd)
	return changes, nil
}

// Redo 重做最近一次撤销的命令
func (h *History) Redo(tl *timeline.Timeline) ([]timeline.Change, error) {
	if len(h.redo) == 0 {
		return nil, &HistoryError{Op: "redo", Err: ErrEmptyHistory}
	}
	cmd := h.redo[len(h.redo)-1]
	changes, err := cmd.Apply(tl)
	if err != nil {
		return nil, &HistoryError{Op: "redo " + cmd.Name(), Err: err}
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.push(cmd)
	return changes, nil
}

func (h *History) push(cmd Command) {
	h.undo = append(h.undo, cmd)
	if h.depth > 0 && len(h.undo) > h.depth {
		h.undo = append(h.undo[:0], h.undo[len(h.undo)-h.depth:]...)
	}
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Len 撤销栈与重做栈长度
func (h *History) Len() (undo, redo int) {
	return len(h.undo), len(h.redo)
}

// Names 撤销栈命令名，最近的在最后
func (h *History) Names() []string {
	out := make([]string, len(h.undo))
	for i, c := range h.undo {
		out[i] = c.Name()
	}
	return out
}

func (h *History) Clear() {
	h.undo, h.redo = nil, nil
}
