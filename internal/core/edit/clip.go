package edit

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/cutline/internal/core/timeline"
)

// InsertClip 插入片段，逆操作为 RemoveClip
type InsertClip struct {
	Track timeline.TrackID
	Clip  timeline.Clip
}

// NewInsert 片段与效果的 id 在构造时确定，保证重做得到同一片段
func NewInsert(track timeline.TrackID, c timeline.Clip) *InsertClip {
	c = c.Clone()
	if c.ID == "" {
		c.ID = timeline.ClipID(uuid.NewString())
	}
	for i := range c.Effects {
		if c.Effects[i].ID == "" {
			c.Effects[i].ID = uuid.NewString()
		}
	}
	return &InsertClip{Track: track, Clip: c}
}

func (c *InsertClip) Name() string { return "insert_clip" }

func (c *InsertClip) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	_, change, err := tl.InsertClip(c.Track, c.Clip)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *InsertClip) Inverse() Command {
	return &RemoveClip{Track: c.Track, Clip: c.Clip}
}

// RemoveClip 删除片段，保存被删除片段的完整状态
type RemoveClip struct {
	Track timeline.TrackID
	Clip  timeline.Clip
}

func NewRemove(tl *timeline.Timeline, id timeline.ClipID) (*RemoveClip, error) {
	c, track, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("remove_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	return &RemoveClip{Track: track, Clip: c}, nil
}

func (c *RemoveClip) Name() string { return "remove_clip" }

func (c *RemoveClip) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	cur, track, ok := tl.Clip(c.Clip.ID)
	if !ok {
		return nil, fmt.Errorf("remove_clip: clip %s: %w", c.Clip.ID, timeline.ErrNotFound)
	}
	if track != c.Track || !reflect.DeepEqual(cur, c.Clip.Clone()) {
		return nil, staleErr(c.Name(), "clip %s changed", c.Clip.ID)
	}
	_, _, change, err := tl.RemoveClip(c.Clip.ID)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *RemoveClip) Inverse() Command {
	return &InsertClip{Track: c.Track, Clip: c.Clip}
}

// TrimClip 修改片段边界，自身携带修改前后的值
type TrimClip struct {
	ID   timeline.ClipID
	From timeline.Bounds
	To   timeline.Bounds
}

func NewTrim(tl *timeline.Timeline, id timeline.ClipID, to timeline.Bounds) (*TrimClip, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("trim_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	return &TrimClip{ID: id, From: c.Bounds(), To: to}, nil
}

// NewTrimHead 入点与起始位置同时后移 delta，delta 为负时向左延长
func NewTrimHead(tl *timeline.Timeline, id timeline.ClipID, delta time.Duration) (*TrimClip, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("trim_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	to := c.Bounds()
	shifted := timeline.Clip{Duration: delta, Speed: c.Speed}
	to.SourceIn += shifted.SourceSpan()
	to.Start += delta
	to.Duration -= delta
	return &TrimClip{ID: id, From: c.Bounds(), To: to}, nil
}

// NewTrimTail 出点随时长变化 delta，delta 为负时缩短
func NewTrimTail(tl *timeline.Timeline, id timeline.ClipID, delta time.Duration) (*TrimClip, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("trim_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	to := c.Bounds()
	to.Duration += delta
	next := timeline.Clip{SourceIn: to.SourceIn, Duration: to.Duration, Speed: c.Speed}
	to.SourceOut = next.SourceIn + next.SourceSpan()
	return &TrimClip{ID: id, From: c.Bounds(), To: to}, nil
}

// NewSetSpeed 保持素材区间不变，按新速率重新计算时间线时长
func NewSetSpeed(tl *timeline.Timeline, id timeline.ClipID, speed float64) (*TrimClip, error) {
	c, _, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("set_speed: clip %s: %w", id, timeline.ErrNotFound)
	}
	if speed <= 0 {
		return nil, fmt.Errorf("set_speed: speed %v: %w", speed, timeline.ErrInvalid)
	}
	to := c.Bounds()
	to.Speed = speed
	to.Duration = time.Duration(float64(c.SourceSpan()) / speed)
	return &TrimClip{ID: id, From: c.Bounds(), To: to}, nil
}

func (c *TrimClip) Name() string { return "trim_clip" }

func (c *TrimClip) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	cur, _, ok := tl.Clip(c.ID)
	if !ok {
		return nil, fmt.Errorf("trim_clip: clip %s: %w", c.ID, timeline.ErrNotFound)
	}
	if cur.Bounds() != c.From {
		return nil, staleErr(c.Name(), "clip %s bounds changed", c.ID)
	}
	change, err := tl.TrimClip(c.ID, c.To)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *TrimClip) Inverse() Command {
	return &TrimClip{ID: c.ID, From: c.To, To: c.From}
}

// MoveClip 移动片段，自逆
type MoveClip struct {
	ID        timeline.ClipID
	FromTrack timeline.TrackID
	FromStart time.Duration
	ToTrack   timeline.TrackID
	ToStart   time.Duration
}

func NewMove(tl *timeline.Timeline, id timeline.ClipID, track timeline.TrackID, start time.Duration) (*MoveClip, error) {
	c, from, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("move_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	if track == "" {
		track = from
	}
	return &MoveClip{ID: id, FromTrack: from, FromStart: c.Start, ToTrack: track, ToStart: start}, nil
}

func (c *MoveClip) Name() string { return "move_clip" }

func (c *MoveClip) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	cur, track, ok := tl.Clip(c.ID)
	if !ok {
		return nil, fmt.Errorf("move_clip: clip %s: %w", c.ID, timeline.ErrNotFound)
	}
	if track != c.FromTrack || cur.Start != c.FromStart {
		return nil, staleErr(c.Name(), "clip %s moved", c.ID)
	}
	return tl.MoveClip(c.ID, c.ToTrack, c.ToStart)
}

func (c *MoveClip) Inverse() Command {
	return &MoveClip{ID: c.ID, FromTrack: c.ToTrack, FromStart: c.ToStart, ToTrack: c.FromTrack, ToStart: c.FromStart}
}

// SplitClip 在 At 处把片段一分为二，右半部分使用新 id
type SplitClip struct {
	Track timeline.TrackID
	Orig  timeline.Clip
	Right timeline.Clip
}

func NewSplit(tl *timeline.Timeline, id timeline.ClipID, at time.Duration) (*SplitClip, error) {
	c, track, ok := tl.Clip(id)
	if !ok {
		return nil, fmt.Errorf("split_clip: clip %s: %w", id, timeline.ErrNotFound)
	}
	if at <= c.Start || at >= c.End() {
		return nil, fmt.Errorf("split_clip: %v outside (%v,%v): %w", at, c.Start, c.End(), timeline.ErrOutOfBounds)
	}
	right := c.Clone()
	right.ID = timeline.ClipID(uuid.NewString())
	right.Start = at
	right.Duration = c.End() - at
	right.SourceIn = c.SourceTime(at)
	return &SplitClip{Track: track, Orig: c, Right: right}, nil
}

func (c *SplitClip) Name() string { return "split_clip" }

func (c *SplitClip) steps() *Batch {
	left := c.Orig.Bounds()
	left.Duration = c.Right.Start - c.Orig.Start
	left.SourceOut = c.Right.SourceIn
	return &Batch{Label: c.Name(), Commands: []Command{
		&TrimClip{ID: c.Orig.ID, From: c.Orig.Bounds(), To: left},
		&InsertClip{Track: c.Track, Clip: c.Right},
	}}
}

func (c *SplitClip) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	return c.steps().Apply(tl)
}

func (c *SplitClip) Inverse() Command {
	inv := c.steps().Inverse().(*Batch)
	inv.Label = "join_clip"
	return inv
}
