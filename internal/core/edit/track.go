package edit

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gowvp/cutline/internal/core/timeline"
)

// AddTrack 添加轨道，Track 可携带片段
type AddTrack struct {
	Track *timeline.Track
}

// NewAddTrack 轨道 id 与创建序号在构造时确定
func NewAddTrack(tl *timeline.Timeline, kind timeline.Kind, name string) *AddTrack {
	tr := timeline.NewTrack(timeline.TrackID(uuid.NewString()), kind, name)
	tr.Order = tl.NextOrder()
	return &AddTrack{Track: tr}
}

func (c *AddTrack) Name() string { return "add_track" }

func (c *AddTrack) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	_, change, err := tl.AddTrack(c.Track)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *AddTrack) Inverse() Command {
	return &RemoveTrack{Track: c.Track}
}

// RemoveTrack 删除轨道，保存轨道及其片段
type RemoveTrack struct {
	Track *timeline.Track
}

func NewRemoveTrack(tl *timeline.Timeline, id timeline.TrackID) (*RemoveTrack, error) {
	tr, ok := tl.Track(id)
	if !ok {
		return nil, fmt.Errorf("remove_track: track %s: %w", id, timeline.ErrNotFound)
	}
	return &RemoveTrack{Track: tr.Clone()}, nil
}

func (c *RemoveTrack) Name() string { return "remove_track" }

func (c *RemoveTrack) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	tr, ok := tl.Track(c.Track.ID)
	if !ok {
		return nil, fmt.Errorf("remove_track: track %s: %w", c.Track.ID, timeline.ErrNotFound)
	}
	if tr.Len() != c.Track.Len() || tr.TrackProps != c.Track.TrackProps {
		return nil, staleErr(c.Name(), "track %s changed", c.Track.ID)
	}
	_, change, err := tl.RemoveTrack(c.Track.ID)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *RemoveTrack) Inverse() Command {
	return &AddTrack{Track: c.Track}
}

// SetTrack 修改轨道属性
type SetTrack struct {
	ID   timeline.TrackID
	From timeline.TrackProps
	To   timeline.TrackProps
}

func NewSetTrack(tl *timeline.Timeline, id timeline.TrackID, to timeline.TrackProps) (*SetTrack, error) {
	tr, ok := tl.Track(id)
	if !ok {
		return nil, fmt.Errorf("set_track: track %s: %w", id, timeline.ErrNotFound)
	}
	return &SetTrack{ID: id, From: tr.TrackProps, To: to}, nil
}

func (c *SetTrack) Name() string { return "set_track" }

func (c *SetTrack) Apply(tl *timeline.Timeline) ([]timeline.Change, error) {
	tr, ok := tl.Track(c.ID)
	if !ok {
		return nil, fmt.Errorf("set_track: track %s: %w", c.ID, timeline.ErrNotFound)
	}
	if tr.TrackProps != c.From {
		return nil, staleErr(c.Name(), "track %s changed", c.ID)
	}
	_, change, err := tl.SetTrack(c.ID, c.To)
	if err != nil {
		return nil, err
	}
	return one(change), nil
}

func (c *SetTrack) Inverse() Command {
	return &SetTrack{ID: c.ID, From: c.To, To: c.From}
}
