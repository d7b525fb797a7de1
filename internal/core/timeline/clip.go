package timeline

import (
	"time"

	"github.com/google/uuid"
)

// 所有修改方法先完整校验再修改，校验失败时返回 *PlacementError 且时间线不变。

const (
	// MaxSpeed 片段播放速率上限
	MaxSpeed = 16.0
	// spanSlack 变速片段按速率折算时的舍入误差
	spanSlack = time.Microsecond
)

// InsertClip 插入片段，c.ID 为空时自动生成
func (t *Timeline) InsertClip(track TrackID, c Clip) (Clip, Change, error) {
	tr, ok := t.Track(track)
	if !ok {
		return Clip{}, Change{}, placementErr(ErrNotFound, track, c.ID, "track not found")
	}
	c = c.Clone()
	if c.ID == "" {
		c.ID = ClipID(uuid.NewString())
	}
	if _, exists := t.index[c.ID]; exists {
		return Clip{}, Change{}, placementErr(ErrDuplicate, track, c.ID, "clip already exists")
	}
	if err := t.validatePlacement(tr, &c, ""); err != nil {
		return Clip{}, Change{}, err
	}
	if err := validateEffects(tr, &c); err != nil {
		return Clip{}, Change{}, err
	}

	tr.insert(&c)
	t.index[c.ID] = tr.ID
	return c.Clone(), Change{Track: tr.ID, Range: c.Range()}, nil
}

// RemoveClip 移除片段，返回被移除的片段与所属轨道
func (t *Timeline) RemoveClip(id ClipID) (Clip, TrackID, Change, error) {
	c, tr, ok := t.clip(id)
	if !ok {
		return Clip{}, "", Change{}, placementErr(ErrNotFound, "", id, "clip not found")
	}
	tr.remove(id)
	delete(t.index, id)
	return c.Clone(), tr.ID, Change{
		Track:   tr.ID,
		Range:   c.Range(),
		Sources: []SourceSpan{{Source: c.SourceID, Range: c.SourceRange()}},
	}, nil
}

// MoveClip 移动片段到同类型轨道的新位置
func (t *Timeline) MoveClip(id ClipID, to TrackID, start time.Duration) ([]Change, error) {
	c, from, ok := t.clip(id)
	if !ok {
		return nil, placementErr(ErrNotFound, to, id, "clip not found")
	}
	dst, ok := t.Track(to)
	if !ok {
		return nil, placementErr(ErrNotFound, to, id, "track not found")
	}
	if dst.Kind != from.Kind {
		return nil, placementErr(ErrKindMismatch, to, id, "cannot move %s clip to %s track", from.Kind, dst.Kind)
	}
	moved := *c
	moved.Start = start
	if err := t.validatePlacement(dst, &moved, id); err != nil {
		return nil, err
	}

	old := c.Range()
	span := SourceSpan{Source: c.SourceID, Range: c.SourceRange()}
	if dst == from {
		from.remove(id)
		c.Start = start
		from.insert(c)
		return []Change{{Track: from.ID, Range: old.Union(c.Range()), Sources: []SourceSpan{span}}}, nil
	}
	from.remove(id)
	c.Start = start
	dst.insert(c)
	t.index[id] = dst.ID
	return []Change{
		{Track: from.ID, Range: old, Sources: []SourceSpan{span}},
		{Track: dst.ID, Range: c.Range()},
	}, nil
}

// TrimClip 修改片段的裁剪点、位置与速率
func (t *Timeline) TrimClip(id ClipID, b Bounds) (Change, error) {
	c, tr, ok := t.clip(id)
	if !ok {
		return Change{}, placementErr(ErrNotFound, "", id, "clip not found")
	}
	trimmed := *c
	trimmed.setBounds(b)
	if err := t.validatePlacement(tr, &trimmed, id); err != nil {
		return Change{}, err
	}

	old := c.Range()
	span := SourceSpan{Source: c.SourceID, Range: c.SourceRange()}
	if b.Start != c.Start {
		tr.remove(id)
		c.setBounds(b)
		tr.insert(c)
	} else {
		c.setBounds(b)
	}
	return Change{Track: tr.ID, Range: old.Union(c.Range()), Sources: []SourceSpan{span}}, nil
}

// SetEffectParam 设置效果参数，返回旧值及旧值是否存在
func (t *Timeline) SetEffectParam(id ClipID, effect, name string, v float64) (float64, bool, Change, error) {
	c, tr, e, err := t.effect(id, effect)
	if err != nil {
		return 0, false, Change{}, err
	}
	if name == "" {
		return 0, false, Change{}, placementErr(ErrInvalid, tr.ID, id, "empty param name")
	}
	prev, existed := e.Params[name]
	if e.Params == nil {
		e.Params = make(Params)
	}
	e.Params[name] = v
	return prev, existed, Change{Track: tr.ID, Range: c.Range()}, nil
}

// DeleteEffectParam 删除效果参数，返回旧值及旧值是否存在
func (t *Timeline) DeleteEffectParam(id ClipID, effect, name string) (float64, bool, Change, error) {
	c, tr, e, err := t.effect(id, effect)
	if err != nil {
		return 0, false, Change{}, err
	}
	prev, existed := e.Params[name]
	delete(e.Params, name)
	if len(e.Params) == 0 {
		e.Params = nil
	}
	return prev, existed, Change{Track: tr.ID, Range: c.Range()}, nil
}

// AddEffect 在效果链的 index 位置插入效果，index 为 -1 时追加到末尾
func (t *Timeline) AddEffect(id ClipID, index int, ref EffectRef) (EffectRef, Change, error) {
	c, tr, ok := t.clip(id)
	if !ok {
		return EffectRef{}, Change{}, placementErr(ErrNotFound, "", id, "clip not found")
	}
	if tr.Kind != KindVideo {
		return EffectRef{}, Change{}, placementErr(ErrKindMismatch, tr.ID, id, "effects apply to video clips")
	}
	if ref.Name == "" {
		return EffectRef{}, Change{}, placementErr(ErrInvalid, tr.ID, id, "empty effect name")
	}
	if index < 0 {
		index = len(c.Effects)
	}
	if index > len(c.Effects) {
		return EffectRef{}, Change{}, placementErr(ErrOutOfBounds, tr.ID, id, "effect index %d", index)
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if _, exists := c.effect(ref.ID); exists {
		return EffectRef{}, Change{}, placementErr(ErrDuplicate, tr.ID, id, "effect %s", ref.ID)
	}
	ref = ref.Clone()
	c.Effects = append(c.Effects, EffectRef{})
	copy(c.Effects[index+1:], c.Effects[index:])
	c.Effects[index] = ref
	return ref.Clone(), Change{Track: tr.ID, Range: c.Range()}, nil
}

// RemoveEffect 移除效果，返回被移除的效果及其下标
func (t *Timeline) RemoveEffect(id ClipID, effect string) (EffectRef, int, Change, error) {
	c, tr, ok := t.clip(id)
	if !ok {
		return EffectRef{}, 0, Change{}, placementErr(ErrNotFound, "", id, "clip not found")
	}
	i, ok := c.effect(effect)
	if !ok {
		return EffectRef{}, 0, Change{}, placementErr(ErrNotFound, tr.ID, id, "effect %s", effect)
	}
	ref := c.Effects[i]
	c.Effects = append(c.Effects[:i], c.Effects[i+1:]...)
	if len(c.Effects) == 0 {
		c.Effects = nil
	}
	return ref, i, Change{Track: tr.ID, Range: c.Range()}, nil
}

func (t *Timeline) effect(id ClipID, effect string) (*Clip, *Track, *EffectRef, error) {
	c, tr, ok := t.clip(id)
	if !ok {
		return nil, nil, nil, placementErr(ErrNotFound, "", id, "clip not found")
	}
	i, ok := c.effect(effect)
	if !ok {
		return nil, nil, nil, placementErr(ErrNotFound, tr.ID, id, "effect %s", effect)
	}
	return c, tr, &c.Effects[i], nil
}

// validatePlacement 校验素材区间与轨道重叠，ignore 为正在修改的片段自身
func (t *Timeline) validatePlacement(tr *Track, c *Clip, ignore ClipID) error {
	if err := validateBounds(tr, c); err != nil {
		return err
	}
	if err := t.validateSource(tr, c); err != nil {
		return err
	}
	if c.Start < 0 {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "negative start %v", c.Start)
	}
	if other := tr.overlapping(c.Range(), ignore); other != nil {
		return placementErr(ErrOverlap, tr.ID, c.ID, "[%v,%v) overlaps clip %s [%v,%v)",
			c.Start, c.End(), other.ID, other.Start, other.End())
	}
	return nil
}

// validateBounds 不依赖素材登记表的结构校验
func validateBounds(tr *Track, c *Clip) error {
	if c.Duration <= 0 {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "duration must be positive")
	}
	if c.Speed < 0 || c.Speed > MaxSpeed {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "speed %v", c.Speed)
	}
	if c.SourceIn < 0 || c.SourceIn >= c.SourceOut {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "source range [%v,%v)", c.SourceIn, c.SourceOut)
	}
	if c.SourceIn+c.SourceSpan() > c.SourceOut+spanSlack {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "duration %v at speed %v exceeds source range",
			c.Duration, c.Rate())
	}
	return nil
}

// validateEffects 效果只挂在视频片段上，空 id 自动生成，同一片段内 id 唯一
func validateEffects(tr *Track, c *Clip) error {
	if len(c.Effects) == 0 {
		return nil
	}
	if tr.Kind != KindVideo {
		return placementErr(ErrKindMismatch, tr.ID, c.ID, "effects apply to video clips")
	}
	seen := make(map[string]struct{}, len(c.Effects))
	for i := range c.Effects {
		e := &c.Effects[i]
		if e.Name == "" {
			return placementErr(ErrInvalid, tr.ID, c.ID, "empty effect name")
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if _, exists := seen[e.ID]; exists {
			return placementErr(ErrDuplicate, tr.ID, c.ID, "effect %s", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// validateSource 素材存在、流类型匹配、区间在素材时长内
func (t *Timeline) validateSource(tr *Track, c *Clip) error {
	if t.sources == nil {
		return placementErr(ErrNotFound, tr.ID, c.ID, "no source registry")
	}
	src, ok := t.sources.Lookup(c.SourceID)
	if !ok {
		return placementErr(ErrNotFound, tr.ID, c.ID, "source %s", c.SourceID)
	}
	if tr.Kind == KindVideo && !src.HasVideo || tr.Kind == KindAudio && !src.HasAudio {
		return placementErr(ErrKindMismatch, tr.ID, c.ID, "source %s has no %s stream", src.ID, tr.Kind)
	}
	if c.SourceOut > src.Duration {
		return placementErr(ErrOutOfBounds, tr.ID, c.ID, "source range [%v,%v) of %v",
			c.SourceIn, c.SourceOut, src.Duration)
	}
	return nil
}
