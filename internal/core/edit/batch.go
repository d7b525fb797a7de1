package edit

import (
	"fmt"

	"github.com/gowvp/cutline/internal/core/timeline"
)

// Batch 多个命令作为一步撤销
//
// Apply 在副本上依次执行全部命令，全部成功后整体替换真实时间线。
type Batch struct {
	Label    string
	Commands []Command
}

// NewBatch 相邻且可合并的命令（例如拖动修剪的多次微调）在此合并
func NewBatch(label string, cmds ...Command) *Batch {
	out := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if n := len(out); n > 0 {
			if merged, ok := Coalesce(out[n-1], c); ok {
				out[n-1] = merged
				continue
			}
		}
		out = append(out, c)
	}
	return &Batch{Label: label, Commands: out}
}

func (b *Batch) Name() string {
	if b.Label != "" {
		return b.Label
	}
	return "batch"
}

func (b *Batch) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	probe := tl.Clone()
	var changes []timeline.Change
	for i, c := range b.Commands {
		cs, err := c.Apply(probe)
		if err != nil {
			return nil, fmt.Errorf("%s step %d %s: %w", b.Name(), i, c.Name(), err)
		}
		changes = append(changes, cs...)
	}
	tl.Commit(probe)
	return changes, nil
}

func (b *Batch) Inverse() Command {
	inv := make([]Command, len(b.Commands))
	for i, c := range b.Commands {
		inv[len(b.Commands)-1-i] = c.Inverse()
	}
	return &Batch{Label: b.Label, Commands: inv}
}

// Coalesce 合并作用于同一对象的连续修剪/移动/参数调整
func Coalesce(prev, next Command) (Command, bool) {
	switch p := prev.(type) {
	case *TrimClip:
		n, ok := next.(*TrimClip)
		if ok && n.ID == p.ID && n.From == p.To {
			return &TrimClip{ID: p.ID, From: p.From, To: n.To}, true
		}
	case *MoveClip:
		n, ok := next.(*MoveClip)
		if ok && n.ID == p.ID && n.FromTrack == p.ToTrack && n.FromStart == p.ToStart {
			return &MoveClip{ID: p.ID, FromTrack: p.FromTrack, FromStart: p.FromStart, ToTrack: n.ToTrack, ToStart: n.ToStart}, true
		}
	case *SetEffectParam:
		n, ok := next.(*SetEffectParam)
		if ok && n.Clip == p.Clip && n.Effect == p.Effect && n.Param == p.Param && n.HadPrev && n.Prev == p.Value {
			return &SetEffectParam{Clip: p.Clip, Effect: p.Effect, Param: p.Param, Value: n.Value, Prev: p.Prev, HadPrev: p.HadPrev}, true
		}
	}
	return nil, false
}
