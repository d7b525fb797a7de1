package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gowvp/cutline/internal/core/edit"
	"github.com/gowvp/cutline/internal/core/effect"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/reason"
)

// commandInput 编辑命令，Args 的结构由 Type 决定
type commandInput struct {
	Type string          `json:"type" binding:"required"`
	Args json.RawMessage `json:"args"`
}

type insertClipArgs struct {
	TrackID     string               `json:"track_id" validate:"required"`
	SourceID    string               `json:"source_id" validate:"required"`
	SourceInMs  int64                `json:"source_in_ms" validate:"min=0"`
	SourceOutMs int64                `json:"source_out_ms" validate:"gtfield=SourceInMs"`
	StartMs     int64                `json:"start_ms" validate:"min=0"`
	DurationMs  int64                `json:"duration_ms" validate:"min=0"` // 0 表示按裁剪区间与速度计算
	Speed       float64              `json:"speed" validate:"min=0"`
	Effects     []timeline.EffectRef `json:"effects" validate:"dive"`
}

type clipArgs struct {
	ClipID string `json:"clip_id" validate:"required"`
}

type moveClipArgs struct {
	ClipID  string `json:"clip_id" validate:"required"`
	TrackID string `json:"track_id"` // 为空时不换轨
	StartMs int64  `json:"start_ms" validate:"min=0"`
}

type trimClipArgs struct {
	ClipID  string `json:"clip_id" validate:"required"`
	Edge    string `json:"edge" validate:"required,oneof=head tail"`
	DeltaMs int64  `json:"delta_ms"`
}

type splitClipArgs struct {
	ClipID string `json:"clip_id" validate:"required"`
	AtMs   int64  `json:"at_ms" validate:"gt=0"`
}

type setSpeedArgs struct {
	ClipID string  `json:"clip_id" validate:"required"`
	Speed  float64 `json:"speed" validate:"gt=0,lte=16"`
}

type addEffectArgs struct {
	ClipID string          `json:"clip_id" validate:"required"`
	Name   string          `json:"name" validate:"required"`
	Index  int             `json:"index"` // -1 追加到末尾
	Params timeline.Params `json:"params"`
}

type effectArgs struct {
	ClipID   string `json:"clip_id" validate:"required"`
	EffectID string `json:"effect_id" validate:"required"`
}

type effectParamArgs struct {
	ClipID   string   `json:"clip_id" validate:"required"`
	EffectID string   `json:"effect_id" validate:"required"`
	Param    string   `json:"param" validate:"required"`
	Value    *float64 `json:"value"` // 为空时删除参数
}

type addTrackArgs struct {
	Kind string `json:"kind" validate:"required,oneof=video audio"`
	Name string `json:"name" validate:"max=64"`
}

type trackArgs struct {
	TrackID string `json:"track_id" validate:"required"`
}

type setTrackArgs struct {
	TrackID string   `json:"track_id" validate:"required"`
	Name    *string  `json:"name" validate:"omitempty,max=64"`
	Gain    *float64 `json:"gain" validate:"omitempty,min=0,max=4"`
	Blend   *string  `json:"blend" validate:"omitempty,oneof=overwrite alpha add"`
	Muted   *bool    `json:"muted"`
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// commandBuilder 解析命令参数，返回在编辑锁内构造命令的函数
type commandBuilder struct {
	validate *validator.Validate
	effects  *effect.Registry
}

func newCommandBuilder(effects *effect.Registry) commandBuilder {
	return commandBuilder{validate: validator.New(), effects: effects}
}

func (b commandBuilder) decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return reason.ErrBadRequest.SetMsg("参数格式错误: " + err.Error())
	}
	if err := b.validate.Struct(v); err != nil {
		return reason.ErrBadRequest.SetMsg(err.Error())
	}
	return nil
}

// build 参数在这里全部校验完，读取时间线的部分延迟到编辑锁内
func (b commandBuilder) build(in *commandInput) (project.CommandFunc, error) {
	switch in.Type {
	case "insert_clip":
		var a insertClipArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		for _, e := range a.Effects {
			if _, ok := b.effects.Get(e.Name); !ok {
				return nil, reason.ErrBadRequest.SetMsg(fmt.Sprintf("未知效果 %s", e.Name))
			}
		}
		clip := timeline.Clip{
			SourceID:  media.SourceID(a.SourceID),
			SourceIn:  ms(a.SourceInMs),
			SourceOut: ms(a.SourceOutMs),
			Start:     ms(a.StartMs),
			Duration:  ms(a.DurationMs),
			Speed:     a.Speed,
			Effects:   a.Effects,
		}
		if clip.Duration == 0 {
			rate := clip.Rate()
			clip.Duration = time.Duration(float64(clip.SourceOut-clip.SourceIn) / rate)
		}
		return func(*timeline.Timeline) (edit.Command, error) {
			return edit.NewInsert(timeline.TrackID(a.TrackID), clip), nil
		}, nil
	case "remove_clip":
		var a clipArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewRemove(tl, timeline.ClipID(a.ClipID))
		}, nil
	case "move_clip":
		var a moveClipArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			track := timeline.TrackID(a.TrackID)
			if track == "" {
				_, cur, ok := tl.Clip(timeline.ClipID(a.ClipID))
				if !ok {
					return nil, fmt.Errorf("move_clip: clip %s: %w", a.ClipID, timeline.ErrNotFound)
				}
				track = cur
			}
			return edit.NewMove(tl, timeline.ClipID(a.ClipID), track, ms(a.StartMs))
		}, nil
	case "trim_clip":
		var a trimClipArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			if a.Edge == "head" {
				return edit.NewTrimHead(tl, timeline.ClipID(a.ClipID), ms(a.DeltaMs))
			}
			return edit.NewTrimTail(tl, timeline.ClipID(a.ClipID), ms(a.DeltaMs))
		}, nil
	case "split_clip":
		var a splitClipArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewSplit(tl, timeline.ClipID(a.ClipID), ms(a.AtMs))
		}, nil
	case "set_speed":
		var a setSpeedArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewSetSpeed(tl, timeline.ClipID(a.ClipID), a.Speed)
		}, nil
	case "add_effect":
		var a addEffectArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		if _, ok := b.effects.Get(a.Name); !ok {
			return nil, reason.ErrBadRequest.SetMsg(fmt.Sprintf("未知效果 %s", a.Name))
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewAddEffect(tl, timeline.ClipID(a.ClipID), a.Index, timeline.EffectRef{Name: a.Name, Params: a.Params})
		}, nil
	case "remove_effect":
		var a effectArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewRemoveEffect(tl, timeline.ClipID(a.ClipID), a.EffectID)
		}, nil
	case "set_effect_param":
		var a effectParamArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			if a.Value == nil {
				return edit.NewDeleteEffectParam(tl, timeline.ClipID(a.ClipID), a.EffectID, a.Param)
			}
			return edit.NewSetEffectParam(tl, timeline.ClipID(a.ClipID), a.EffectID, a.Param, *a.Value)
		}, nil
	case "add_track":
		var a addTrackArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewAddTrack(tl, timeline.Kind(a.Kind), a.Name), nil
		}, nil
	case "remove_track":
		var a trackArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			return edit.NewRemoveTrack(tl, timeline.TrackID(a.TrackID))
		}, nil
	case "set_track":
		var a setTrackArgs
		if err := b.decode(in.Args, &a); err != nil {
			return nil, err
		}
		return func(tl *timeline.Timeline) (edit.Command, error) {
			tr, ok := tl.Track(timeline.TrackID(a.TrackID))
			if !ok {
				return nil, fmt.Errorf("set_track: track %s: %w", a.TrackID, timeline.ErrNotFound)
			}
			p := tr.TrackProps
			if a.Name != nil {
				p.Name = *a.Name
			}
			if a.Gain != nil {
				p.Gain = *a.Gain
			}
			if a.Blend != nil {
				p.Blend = timeline.BlendMode(*a.Blend)
			}
			if a.Muted != nil {
				p.Muted = *a.Muted
			}
			return edit.NewSetTrack(tl, tr.ID, p)
		}, nil
	}
	return nil, reason.ErrBadRequest.SetMsg(fmt.Sprintf("未知命令 %s", in.Type))
}
