package timeline

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
)

type (
	TimelineID string
	TrackID    string
	ClipID     string
)

// Kind 轨道类型
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// BlendMode 视频轨道的混合方式
type BlendMode string

const (
	// BlendOverwrite 默认值，自顶向下第一个有内容的覆盖轨道决定最终像素
	BlendOverwrite BlendMode = "overwrite"
	// BlendAlpha 按 alpha 叠加到下方结果
	BlendAlpha BlendMode = "alpha"
	// BlendAdd 饱和相加
	BlendAdd BlendMode = "add"
)

func (b BlendMode) Valid() bool {
	switch b {
	case "", BlendOverwrite, BlendAlpha, BlendAdd:
		return true
	}
	return false
}

// Normalize 空值视为覆盖
func (b BlendMode) Normalize() BlendMode {
	if b == "" {
		return BlendOverwrite
	}
	return b
}

// Format 时间线输出格式
type Format struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	FrameRate  media.Rational `json:"frame_rate"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
}

// Range 半开区间 [Start,End)
type Range struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) Len() time.Duration {
	return max(r.End-r.Start, 0)
}

func (r Range) Contains(t time.Duration) bool {
	return t >= r.Start && t < r.End
}

func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Union 两个区间的最小包围区间
func (r Range) Union(o Range) Range {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End)}
}

// Params 效果参数
type Params map[string]float64

func (p Params) Clone() Params {
	if len(p) == 0 {
		return nil
	}
	return maps.Clone(p)
}

// Get 读取参数，缺省时返回 def
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// EffectRef 片段上挂载的效果，Name 对应效果注册名
type EffectRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Params Params `json:"params,omitempty"`
}

func (e EffectRef) Clone() EffectRef {
	e.Params = e.Params.Clone()
	return e
}

// Bounds 片段的裁剪与位置
type Bounds struct {
	SourceIn  time.Duration `json:"source_in"`
	SourceOut time.Duration `json:"source_out"`
	Start     time.Duration `json:"start"`
	Duration  time.Duration `json:"duration"`
	Speed     float64       `json:"speed,omitempty"`
}

// Clip 轨道上的片段，仅通过 id 弱引用素材
type Clip struct {
	ID        ClipID         `json:"id"`
	SourceID  media.SourceID `json:"source_id"`
	SourceIn  time.Duration  `json:"source_in"`
	SourceOut time.Duration  `json:"source_out"`
	Start     time.Duration  `json:"start"`
	Duration  time.Duration  `json:"duration"`
	// Speed 播放速率，0 视为 1
	Speed   float64     `json:"speed,omitempty"`
	Effects []EffectRef `json:"effects,omitempty"`
}

func (c *Clip) End() time.Duration {
	return c.Start + c.Duration
}

// Range 在时间线上占据的区间
func (c *Clip) Range() Range {
	return Range{Start: c.Start, End: c.End()}
}

// SourceRange 素材中的裁剪区间
func (c *Clip) SourceRange() Range {
	return Range{Start: c.SourceIn, End: c.SourceOut}
}

func (c *Clip) Rate() float64 {
	if c.Speed == 0 {
		return 1
	}
	return c.Speed
}

// SourceSpan 时间线时长折算到素材上的时长
func (c *Clip) SourceSpan() time.Duration {
	return scale(c.Duration, c.Rate())
}

// SourceTime 时间线时间 t 映射到素材时间
func (c *Clip) SourceTime(t time.Duration) time.Duration {
	return c.SourceIn + scale(t-c.Start, c.Rate())
}

func (c *Clip) Bounds() Bounds {
	return Bounds{
		SourceIn:  c.SourceIn,
		SourceOut: c.SourceOut,
		Start:     c.Start,
		Duration:  c.Duration,
		Speed:     c.Speed,
	}
}

func (c *Clip) setBounds(b Bounds) {
	c.SourceIn, c.SourceOut = b.SourceIn, b.SourceOut
	c.Start, c.Duration = b.Start, b.Duration
	c.Speed = b.Speed
}

func (c *Clip) effect(id string) (int, bool) {
	idx := slices.IndexFunc(c.Effects, func(e EffectRef) bool { return e.ID == id })
	return idx, idx >= 0
}

// Clone 深拷贝，空切片与空 map 统一为 nil
func (c Clip) Clone() Clip {
	if len(c.Effects) == 0 {
		c.Effects = nil
		return c
	}
	effects := make([]EffectRef, len(c.Effects))
	for i, e := range c.Effects {
		effects[i] = e.Clone()
	}
	c.Effects = effects
	return c
}

func scale(d time.Duration, rate float64) time.Duration {
	if rate == 1 {
		return d
	}
	return time.Duration(math.Round(float64(d) * rate))
}

// TrackProps 轨道属性
type TrackProps struct {
	Name  string    `json:"name"`
	Gain  float64   `json:"gain"`
	Blend BlendMode `json:"blend"`
	Muted bool      `json:"muted"`
}

// Track 同一类型、互不重叠、按起始时间排序的片段序列
type Track struct {
	ID    TrackID `json:"id"`
	Kind  Kind    `json:"kind"`
	Order int64   `json:"order"`
	TrackProps

	clips []*Clip
}

// NewTrack 创建空轨道，增益为 1，创建序号在添加到时间线时分配
func NewTrack(id TrackID, kind Kind, name string) *Track {
	return &Track{
		ID:    id,
		Kind:  kind,
		Order: -1,
		TrackProps: TrackProps{
			Name:  name,
			Gain:  1,
			Blend: BlendOverwrite,
		},
	}
}

// Clips 片段副本，按起始时间排序
func (t *Track) Clips() []Clip {
	out := make([]Clip, 0, len(t.clips))
	for _, c := range t.clips {
		out = append(out, c.Clone())
	}
	return out
}

func (t *Track) Len() int {
	return len(t.clips)
}

// End 最后一个片段的结束时间
func (t *Track) End() time.Duration {
	if len(t.clips) == 0 {
		return 0
	}
	return t.clips[len(t.clips)-1].End()
}

// Clone 深拷贝轨道及其片段
func (t *Track) Clone() *Track {
	out := *t
	if len(t.clips) == 0 {
		out.clips = nil
		return &out
	}
	out.clips = make([]*Clip, len(t.clips))
	for i, c := range t.clips {
		cc := c.Clone()
		out.clips[i] = &cc
	}
	return &out
}

// SourceSpan 素材上的一段区间，用于缓存失效
type SourceSpan struct {
	Source media.SourceID `json:"source_id"`
	Range  Range          `json:"range"`
}

// Change 一次修改影响的范围
type Change struct {
	Track TrackID `json:"track_id"`
	Range Range   `json:"range"`
	// Sources 被修改或移除的片段所引用的素材区间
	Sources []SourceSpan `json:"sources,omitempty"`
}
