// Package compositor 把时间线某一时刻合成为一帧画面或一段音频
//
// 相同的时间线快照与相同的解码结果总是得到逐字节相同的输出。
// 预览与导出使用同一条合成路径。
package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/cutline/internal/core/effect"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
	"golang.org/x/sync/errgroup"
)

// Frames 解码数据来源，由 framecache.Cache 实现
type Frames interface {
	Frame(ctx context.Context, id media.SourceID, t time.Duration) (*media.Frame, error)
	Samples(ctx context.Context, id media.SourceID, first int64, n int) (*media.AudioBlock, error)
}

// Compositor 无状态，可并发使用
type Compositor struct {
	frames  Frames
	effects *effect.Registry
	strict  bool
	log     *slog.Logger
}

type Option func(*Compositor)

// WithStrict 解码或效果失败时返回错误，而不是使用占位内容
func WithStrict() Option {
	return func(c *Compositor) {
		c.strict = true
	}
}

func WithEffects(r *effect.Registry) Option {
	return func(c *Compositor) {
		c.effects = r
	}
}

func New(frames Frames, opts ...Option) *Compositor {
	c := Compositor{
		frames:  frames,
		effects: effect.NewRegistry(),
		log:     slog.With("component", "compositor"),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Strict 返回同配置的严格模式副本
func (c *Compositor) Strict() *Compositor {
	cc := *c
	cc.strict = true
	return &cc
}

// RenderError 严格模式下的合成失败
type RenderError struct {
	Track timeline.TrackID
	Clip  timeline.ClipID
	At    time.Duration
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render clip[%s] track[%s] at %v: %v", e.Clip, e.Track, e.At, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

type layer struct {
	track *timeline.Track
	clip  *timeline.Clip
	frame *media.Frame
}

// RenderFrame 合成时间线时刻 t 的画面，超出时间线范围为黑帧
func (c *Compositor) RenderFrame(ctx context.Context, tl *timeline.Timeline, t time.Duration) (*media.Frame, error) {
	w, h := tl.Format.Width, tl.Format.Height
	canvas := media.BlackFrame(w, h)
	if t < 0 || t >= tl.Duration() {
		return canvas, nil
	}

	// 自顶向下收集图层，遇到覆盖模式的图层后停止
	var layers []*layer
	for _, tr := range tl.TracksOf(timeline.KindVideo) {
		if tr.Muted {
			continue
		}
		clip, ok := tr.ClipAt(t)
		if !ok {
			continue
		}
		layers = append(layers, &layer{track: tr, clip: clip})
		if tr.Blend.Normalize() == timeline.BlendOverwrite {
			break
		}
	}
	if len(layers) == 0 {
		return canvas, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range layers {
		g.Go(func() error {
			f, err := c.layerFrame(gctx, l, t)
			if err != nil {
				return err
			}
			l.frame = scale(f, w, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		switch l.track.Blend.Normalize() {
		case timeline.BlendAdd:
			blendAdd(canvas, l.frame)
		case timeline.BlendAlpha:
			blendOver(canvas, l.frame)
		default:
			copy(canvas.Pix, l.frame.Pix)
		}
	}
	return canvas, nil
}

// layerFrame 取片段画面并应用效果链
func (c *Compositor) layerFrame(ctx context.Context, l *layer, t time.Duration) (*media.Frame, error) {
	st := l.clip.SourceTime(t)
	f, err := c.frames.Frame(ctx, l.clip.SourceID, st)
	if err != nil {
		if c.strict || ctx.Err() != nil {
			return nil, &RenderError{Track: l.track.ID, Clip: l.clip.ID, At: t, Err: err}
		}
		c.log.WarnContext(ctx, "decode failed, using placeholder", "clip", l.clip.ID, "source", l.clip.SourceID, "at", st, "err", err)
		return media.BlackFrame(1, 1), nil
	}
	if len(l.clip.Effects) == 0 {
		return f, nil
	}
	out, err := c.effects.Chain(f, t-l.clip.Start, l.clip.Effects)
	if err != nil {
		if c.strict {
			return nil, &RenderError{Track: l.track.ID, Clip: l.clip.ID, At: t, Err: err}
		}
		c.log.WarnContext(ctx, "effect failed, skipped", "clip", l.clip.ID, "err", err)
		return f, nil
	}
	return out, nil
}

// RenderAudio 合成 [t0,t1) 的音频，采样边界取 floor(t*rate)，相邻区间首尾相接
func (c *Compositor) RenderAudio(ctx context.Context, tl *timeline.Timeline, t0, t1 time.Duration) (*media.AudioBlock, error) {
	rate, ch := tl.Format.SampleRate, max(1, tl.Format.Channels)
	first := media.SampleIndex(t0, rate)
	last := media.SampleIndex(t1, rate)
	out := media.Silence(rate, ch, int(max(0, last-first)))
	out.First = first
	if last <= first {
		return out, nil
	}

	for _, tr := range tl.TracksOf(timeline.KindAudio) {
		if tr.Muted || tr.Gain == 0 {
			continue
		}
		r := timeline.Range{Start: media.SampleTime(first, rate), End: media.SampleTime(last, rate)}
		for _, clip := range tr.ClipsIn(r) {
			if err := c.mixClip(ctx, tl, out, tr, clip); err != nil {
				if c.strict || ctx.Err() != nil {
					return nil, &RenderError{Track: tr.ID, Clip: clip.ID, At: t0, Err: err}
				}
				c.log.WarnContext(ctx, "audio decode failed, using silence", "clip", clip.ID, "source", clip.SourceID, "err", err)
			}
		}
	}

	for i, v := range out.Data {
		out.Data[i] = max(-1, min(1, v))
	}
	return out, nil
}

// mixClip 片段覆盖的序列采样逐个映射回素材采样，按轨道增益叠加
func (c *Compositor) mixClip(ctx context.Context, tl *timeline.Timeline, out *media.AudioBlock, tr *timeline.Track, clip *timeline.Clip) error {
	rate, ch := out.SampleRate(), out.Channels()
	first := out.First
	last := first + int64(out.Frames())

	js := max(first, sampleAtOrAfter(clip.Start, rate))
	je := min(last, sampleAtOrAfter(clip.End(), rate))
	if js >= je {
		return nil
	}
	src, ok := tl.Sources().Lookup(clip.SourceID)
	if !ok {
		return media.NewDecodeError(media.KindNotFound, clip.SourceID, fmt.Errorf("source not registered"))
	}
	srcRate := src.SampleRate
	if srcRate <= 0 {
		srcRate = rate
	}
	srcSample := func(j int64) int64 {
		return media.SampleIndex(clip.SourceTime(media.SampleTime(j, rate)), srcRate)
	}
	sfirst, slast := srcSample(js), srcSample(je-1)
	block, err := c.frames.Samples(ctx, clip.SourceID, sfirst, int(slast-sfirst+1))
	if err != nil {
		return err
	}
	n := int64(block.Frames())
	for j := js; j < je; j++ {
		si := max(0, min(srcSample(j)-sfirst, n-1))
		base := int(j-first) * ch
		for k := range ch {
			out.Data[base+k] += tr.Gain * block.Sample(int(si), k)
		}
	}
	return nil
}

// sampleAtOrAfter 第一个时间不早于 t 的采样序号
func sampleAtOrAfter(t time.Duration, rate int) int64 {
	return media.SampleIndex(t-1, rate) + 1
}
