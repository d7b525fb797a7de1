package timeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/cutline/internal/core/media"
)

// SourceLookup 校验片段时查询素材元数据
type SourceLookup interface {
	Lookup(id media.SourceID) (media.Source, bool)
}

// Timeline 轨道与片段构成的编辑模型
//
// 轨道按 "视频在前，音频在后，再按创建顺序" 排列，片段以 id 索引到所属轨道。
// Timeline 不做并发保护，编辑需在同一上下文中串行执行，渲染使用 Clone 得到的快照。
type Timeline struct {
	ID     TimelineID
	Name   string
	Format Format

	tracks  []*Track
	index   map[ClipID]TrackID
	sources SourceLookup
}

// New 创建空时间线，id 为空时自动生成
func New(id TimelineID, name string, f Format, sources SourceLookup) *Timeline {
	if id == "" {
		id = TimelineID(uuid.NewString())
	}
	return &Timeline{
		ID:      id,
		Name:    name,
		Format:  f,
		index:   make(map[ClipID]TrackID),
		sources: sources,
	}
}

// Clone 深拷贝，作为渲染使用的不可变快照
func (t *Timeline) Clone() *Timeline {
	out := &Timeline{
		ID:      t.ID,
		Name:    t.Name,
		Format:  t.Format,
		tracks:  make([]*Track, len(t.tracks)),
		index:   make(map[ClipID]TrackID, len(t.index)),
		sources: t.sources,
	}
	for i, tr := range t.tracks {
		out.tracks[i] = tr.Clone()
	}
	for k, v := range t.index {
		out.index[k] = v
	}
	return out
}

// Sources 素材查询接口
func (t *Timeline) Sources() SourceLookup {
	return t.sources
}

// Tracks 轨道列表，返回值只读
func (t *Timeline) Tracks() []*Track {
	return append([]*Track(nil), t.tracks...)
}

// TracksOf 指定类型的轨道
func (t *Timeline) TracksOf(kind Kind) []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.Kind == kind {
			out = append(out, tr)
		}
	}
	return out
}

func (t *Timeline) Track(id TrackID) (*Track, bool) {
	i := t.trackIndex(id)
	if i < 0 {
		return nil, false
	}
	return t.tracks[i], true
}

func (t *Timeline) trackIndex(id TrackID) int {
	for i, tr := range t.tracks {
		if tr.ID == id {
			return i
		}
	}
	return -1
}

// Duration 所有轨道最后一个片段结束时间的最大值
func (t *Timeline) Duration() time.Duration {
	var d time.Duration
	for _, tr := range t.tracks {
		d = max(d, tr.End())
	}
	return d
}

// ClipCount 片段总数
func (t *Timeline) ClipCount() int {
	return len(t.index)
}

// Clip 按 id 查询片段副本及所属轨道
func (t *Timeline) Clip(id ClipID) (Clip, TrackID, bool) {
	c, tr, ok := t.clip(id)
	if !ok {
		return Clip{}, "", false
	}
	return c.Clone(), tr.ID, true
}

func (t *Timeline) clip(id ClipID) (*Clip, *Track, bool) {
	trackID, ok := t.index[id]
	if !ok {
		return nil, nil, false
	}
	tr, ok := t.Track(trackID)
	if !ok {
		return nil, nil, false
	}
	i := tr.position(id)
	if i < 0 {
		return nil, nil, false
	}
	return tr.clips[i], tr, true
}

// ClipAt 轨道上覆盖 t 的片段，至多一个；返回值只读
func (t *Timeline) ClipAt(track TrackID, at time.Duration) (*Clip, bool) {
	tr, ok := t.Track(track)
	if !ok {
		return nil, false
	}
	return tr.ClipAt(at)
}

// ClipAt 二分查找覆盖 t 的片段
func (tr *Track) ClipAt(at time.Duration) (*Clip, bool) {
	i := sort.Search(len(tr.clips), func(i int) bool {
		return tr.clips[i].Start > at
	}) - 1
	if i >= 0 && at < tr.clips[i].End() {
		return tr.clips[i], true
	}
	return nil, false
}

// ClipsIn 与区间 r 相交的片段，返回值只读
func (tr *Track) ClipsIn(r Range) []*Clip {
	i := sort.Search(len(tr.clips), func(i int) bool {
		return tr.clips[i].End() > r.Start
	})
	var out []*Clip
	for ; i < len(tr.clips) && tr.clips[i].Start < r.End; i++ {
		out = append(out, tr.clips[i])
	}
	return out
}

// position 片段在轨道中的下标；起始时间在轨道内唯一
func (tr *Track) position(id ClipID) int {
	for i, c := range tr.clips {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// overlapping 返回与 r 相交的第一个片段，忽略 ignore
func (tr *Track) overlapping(r Range, ignore ClipID) *Clip {
	i := sort.Search(len(tr.clips), func(i int) bool {
		return tr.clips[i].End() > r.Start
	})
	for ; i < len(tr.clips) && tr.clips[i].Start < r.End; i++ {
		if tr.clips[i].ID != ignore {
			return tr.clips[i]
		}
	}
	return nil
}

func (tr *Track) insert(c *Clip) {
	i := sort.Search(len(tr.clips), func(i int) bool {
		return tr.clips[i].Start > c.Start
	})
	tr.clips = append(tr.clips, nil)
	copy(tr.clips[i+1:], tr.clips[i:])
	tr.clips[i] = c
}

func (tr *Track) remove(id ClipID) *Clip {
	i := tr.position(id)
	if i < 0 {
		return nil
	}
	c := tr.clips[i]
	tr.clips = append(tr.clips[:i], tr.clips[i+1:]...)
	if len(tr.clips) == 0 {
		tr.clips = nil
	}
	return c
}

// Commit 用 o 的状态整体替换当前时间线，o 之后不应再使用
func (t *Timeline) Commit(o *Timeline) {
	*t = *o
}
