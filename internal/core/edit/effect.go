package edit

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gowvp/cutline/internal/core/timeline"
)

// SetEffectParam 设置效果参数；旧值不存在时逆操作为删除该参数
type SetEffectParam struct {
	Clip    timeline.ClipID
	Effect  string
	Param   string
	Value   float64
	Prev    float64
	HadPrev bool
}

func NewSetEffectParam(tl *timeline.Timeline, id timeline.ClipID, effect, param string, v float64) (*SetEffectParam, error) {
	ref, err := findEffect(tl, id, effect)
	if err != nil {
		return nil, err
	}
	prev, ok := ref.Params[param]
	return &SetEffectParam{Clip: id, Effect: effect, Param: param, Value: v, Prev: prev, HadPrev: ok}, nil
}

func (c *SetEffectParam) Name() string { return "set_effect_param" }

func (c *SetEffectParam) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	ref, err := findEffect(tl, c.Clip, c.Effect)
	if err != nil {
		return nil, err
	}
	if v, ok := ref.Params[c.Param]; ok != c.HadPrev || ok && v != c.Prev {
		return nil, staleErr(c.Name(), "param %s changed", c.Param)
	}
	_, _, change, err := tl.SetEffectParam(c.Clip, c.Effect, c.Param, c.Value)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *SetEffectParam) Inverse() Command {
	if !c.HadPrev {
		return &DeleteEffectParam{Clip: c.Clip, Effect: c.Effect, Param: c.Param, Prev: c.Value}
	}
	return &SetEffectParam{Clip: c.Clip, Effect: c.Effect, Param: c.Param, Value: c.Prev, Prev: c.Value, HadPrev: true}
}

// DeleteEffectParam 删除效果参数，恢复为效果默认值
type DeleteEffectParam struct {
	Clip   timeline.ClipID
	Effect string
	Param  string
	Prev   float64
}

func NewDeleteEffectParam(tl *timeline.Timeline, id timeline.ClipID, effect, param string) (*DeleteEffectParam, error) {
	ref, err := findEffect(tl, id, effect)
	if err != nil {
		return nil, err
	}
	prev, ok := ref.Params[param]
	if !ok {
		return nil, fmt.Errorf("delete_effect_param: param %s: %w", param, timeline.ErrNotFound)
	}
	return &DeleteEffectParam{Clip: id, Effect: effect, Param: param, Prev: prev}, nil
}

func (c *DeleteEffectParam) Name() string { return "delete_effect_param" }

func (c *DeleteEffectParam) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	ref, err := findEffect(tl, c.Clip, c.Effect)
	if err != nil {
		return nil, err
	}
	if v, ok := ref.Params[c.Param]; !ok || v != c.Prev {
		return nil, staleErr(c.Name(), "param %s changed", c.Param)
	}
	_, _, change, err := tl.DeleteEffectParam(c.Clip, c.Effect, c.Param)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *DeleteEffectParam) Inverse() Command {
	return &SetEffectParam{Clip: c.Clip, Effect: c.Effect, Param: c.Param, Value: c.Prev}
}

// AddEffect 在效果链中插入效果
type AddEffect struct {
	Clip  timeline.ClipID
	Index int
	Ref   timeline.EffectRef
}

// NewAddEffect index 为 -1 时追加到末尾
func NewAddEffect(tl *timeline.Timeline, id timeline.ClipID, index int, ref timeline.EffectRef) (*AddEffect, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("add_effect: clip %s: %w", id, timeline.ErrNotFound)
	}
	if index < 0 || index > len(c.Effects) {
		index = len(c.Effects)
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	return &AddEffect{Clip: id, Index: index, Ref: ref.Clone()}, nil
}

func (c *AddEffect) Name() string { return "add_effect" }

func (c *AddEffect) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	_, change, err := tl.AddEffect(c.Clip, c.Index, c.Ref)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *AddEffect) Inverse() Command {
	return &RemoveEffect{Clip: c.Clip, Index: c.Index, Ref: c.Ref}
}

// RemoveEffect 从效果链移除效果，保存其位置与参数
type RemoveEffect struct {
	Clip  timeline.ClipID
	Index int
	Ref   timeline.EffectRef
}

func NewRemoveEffect(tl *timeline.Timeline, id timeline.ClipID, effect string) (*RemoveEffect, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("remove_effect: clip %s: %w", id, timeline.ErrNotFound)
	}
	for i, e := range c.Effects {
		if e.ID == effect {
			return &RemoveEffect{Clip: id, Index: i, Ref: e}, nil
		}
	}
	return nil, fmt.Errorf("remove_effect: effect %s: %w", effect, timeline.ErrNotFound)
}

func (c *RemoveEffect) Name() string { return "remove_effect" }

func (c *RemoveEffect) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	cur, _, ok := tl.Clip(c.Clip)
	if !ok {
		return nil, fmt.Errorf("remove_effect: clip %s: %w", c.Clip, timeline.ErrNotFound)
	}
	if c.Index >= len(cur.Effects) || cur.Effects[c.Index].ID != c.Ref.ID {
		return nil, staleErr(c.Name(), "effect %s moved", c.Ref.ID)
	}
	_, _, change, err := tl.RemoveEffect(c.Clip, c.Ref.ID)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *RemoveEffect) Inverse() Command {
	return &AddEffect{Clip: c.Clip, Index: c.Index, Ref: c.Ref}
}

func findEffect(tl *timeline.Timeline, id timeline.ClipID, effect string) (timeline.EffectRef, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return timeline.EffectRef{}, fmt.Errorf("clip %s: %w", id, timeline.ErrNotFound)
	}
	for _, e := range c.Effects {
		if e.ID == effect {
			return e, nil
		}
	}
	return timeline.EffectRef{}, fmt.Errorf("effect %s: %w", effect, timeline.ErrNotFound)
}
