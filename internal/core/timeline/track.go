package timeline

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// NextOrder 新轨道的创建序号
func (t *Timeline) NextOrder() int64 {
	var n int64
	for _, tr := range t.tracks {
		n = max(n, tr.Order+1)
	}
	return n
}

// AddTrack 添加轨道，轨道可携带片段（撤销删除轨道时使用）
func (t *Timeline) AddTrack(track *Track) (*Track, Change, error) {
	return t.addTrack(track, true)
}

// addTrack lookup 为 false 时只做结构校验，不查询素材登记表
func (t *Timeline) addTrack(track *Track, lookup bool) (*Track, Change, error) {
	if track.Kind != KindVideo && track.Kind != KindAudio {
		return nil, Change{}, placementErr(ErrInvalid, track.ID, "", "unknown kind %q", track.Kind)
	}
	if err := validateProps(track.ID, track.TrackProps); err != nil {
		return nil, Change{}, err
	}
	tr := track.Clone()
	if tr.ID == "" {
		tr.ID = TrackID(uuid.NewString())
	}
	if t.trackIndex(tr.ID) >= 0 {
		return nil, Change{}, placementErr(ErrDuplicate, tr.ID, "", "track already exists")
	}
	if tr.Order < 0 {
		tr.Order = t.NextOrder()
	}

	var sources []SourceSpan
	seen := make(map[ClipID]struct{}, len(tr.clips))
	for i, c := range tr.clips {
		if _, exists := t.index[c.ID]; exists || c.ID == "" {
			return nil, Change{}, placementErr(ErrDuplicate, tr.ID, c.ID, "clip id")
		}
		if _, exists := seen[c.ID]; exists {
			return nil, Change{}, placementErr(ErrDuplicate, tr.ID, c.ID, "clip id repeated in track")
		}
		seen[c.ID] = struct{}{}
		if err := validateBounds(tr, c); err != nil {
			return nil, Change{}, err
		}
		if lookup {
			if err := t.validateSource(tr, c); err != nil {
				return nil, Change{}, err
			}
		}
		if err := validateEffects(tr, c); err != nil {
			return nil, Change{}, err
		}
		if i > 0 && tr.clips[i-1].End() > c.Start {
			return nil, Change{}, placementErr(ErrOverlap, tr.ID, c.ID, "clips overlap")
		}
		sources = append(sources, SourceSpan{Source: c.SourceID, Range: c.SourceRange()})
	}

	i, _ := slices.BinarySearchFunc(t.tracks, tr, compareTracks)
	t.tracks = slices.Insert(t.tracks, i, tr)
	for _, c := range tr.clips {
		t.index[c.ID] = tr.ID
	}
	return tr.Clone(), Change{Track: tr.ID, Range: Range{End: tr.End()}, Sources: sources}, nil
}

// RemoveTrack 删除轨道及其所有片段，返回被删除的轨道
func (t *Timeline) RemoveTrack(id TrackID) (*Track, Change, error) {
	i := t.trackIndex(id)
	if i < 0 {
		return nil, Change{}, placementErr(ErrNotFound, id, "", "track not found")
	}
	tr := t.tracks[i]
	t.tracks = slices.Delete(t.tracks, i, i+1)
	sources := make([]SourceSpan, 0, len(tr.clips))
	for _, c := range tr.clips {
		delete(t.index, c.ID)
		sources = append(sources, SourceSpan{Source: c.SourceID, Range: c.SourceRange()})
	}
	return tr, Change{Track: id, Range: Range{End: tr.End()}, Sources: sources}, nil
}

// SetTrack 修改轨道属性，返回旧属性
func (t *Timeline) SetTrack(id TrackID, p TrackProps) (TrackProps, Change, error) {
	tr, ok := t.Track(id)
	if !ok {
		return TrackProps{}, Change{}, placementErr(ErrNotFound, id, "", "track not found")
	}
	if err := validateProps(id, p); err != nil {
		return TrackProps{}, Change{}, err
	}
	prev := tr.TrackProps
	tr.TrackProps = p
	return prev, Change{Track: id, Range: Range{End: tr.End()}}, nil
}

func validateProps(id TrackID, p TrackProps) error {
	if p.Gain < 0 || p.Gain > 16 {
		return placementErr(ErrOutOfBounds, id, "", "gain %v", p.Gain)
	}
	if !p.Blend.Valid() {
		return placementErr(ErrInvalid, id, "", "blend %q", p.Blend)
	}
	return nil
}

// compareTracks 视频在前，音频在后，再按创建顺序
func compareTracks(a, b *Track) int {
	if a.Kind != b.Kind {
		if a.Kind == KindVideo {
			return -1
		}
		return 1
	}
	switch {
	case a.Order < b.Order:
		return -1
	case a.Order > b.Order:
		return 1
	}
	return 0
}

// AddDefaultTracks 追加 V1..Vn 与 A1..An 空轨道
func (t *Timeline) AddDefaultTracks(video, audio int) {
	for i := range video {
		_, _, _ = t.AddTrack(NewTrack("", KindVideo, fmt.Sprintf("V%d", i+1)))
	}
	for i := range audio {
		_, _, _ = t.AddTrack(NewTrack("", KindAudio, fmt.Sprintf("A%d", i+1)))
	}
}
