// Package export 以固定帧率离线渲染时间线并写入编码器
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/gowvp/cutline/pkg/progress"
)

// Renderer 与预览相同的合成路径，导出时应使用严格模式
type Renderer interface {
	RenderFrame(ctx context.Context, tl *timeline.Timeline, t time.Duration) (*media.Frame, error)
	RenderAudio(ctx context.Context, tl *timeline.Timeline, t0, t1 time.Duration) (*media.AudioBlock, error)
}

// Settings 输出参数
type Settings struct {
	Width      int
	Height     int
	FrameRate  media.Rational
	SampleRate int
	Channels   int
	// Frames 将写入的视频帧总数
	Frames int64
}

// Sink 编码器，帧严格按时间递增写入
type Sink interface {
	Start(ctx context.Context, s Settings) error
	WriteVideoFrame(ctx context.Context, index int64, f *media.Frame) error
	WriteAudioBlock(ctx context.Context, b *media.AudioBlock) error
	// Finish 完成输出文件
	Finish(ctx context.Context) error
	// Discard 放弃并删除部分输出
	Discard() error
}

// ExportError 导出失败，Frame 为出错的帧序号，-1 表示与具体帧无关
type ExportError struct {
	Frame int64
	At    time.Duration
	Err   error
}

func (e *ExportError) Error() string {
	if e.Frame < 0 {
		return "export: " + e.Err.Error()
	}
	return fmt.Sprintf("export frame %d at %v: %v", e.Frame, e.At, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

var ErrEmptyRange = errors.New("empty export range")

// Progress 导出进度
type Progress struct {
	Done  int64 `json:"done"`
	Total int64 `json:"total"`
}

type Exporter struct {
	render   Renderer
	interval time.Duration
	log      *slog.Logger
}

type Option func(*Exporter)

// WithProgressInterval 进度回调间隔
func WithProgressInterval(d time.Duration) Option {
	return func(e *Exporter) {
		e.interval = d
	}
}

func New(render Renderer, opts ...Option) *Exporter {
	e := Exporter{
		render:   render,
		interval: 500 * time.Millisecond,
		log:      slog.With("component", "export"),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return &e
}

// FrameCount 区间 r 在帧率 rate 下的帧数
func FrameCount(r timeline.Range, rate media.Rational) int64 {
	return rate.FrameCount(r.Len())
}

// Export 渲染 tl 的区间 r 写入 sink；失败或取消时丢弃输出
//
// 第 i 帧时间为 r.Start + rate.FrameTime(i)，伴随音频覆盖 [t_i, t_{i+1})，最后一段截止到 r.End。
func (e *Exporter) Export(ctx context.Context, tl *timeline.Timeline, r timeline.Range, rate media.Rational, sink Sink, onProgress func(Progress)) (err error) {
	if r.Empty() {
		return &ExportError{Frame: -1, Err: ErrEmptyRange}
	}
	if !rate.Valid() {
		return &ExportError{Frame: -1, Err: fmt.Errorf("frame rate %s: %w", rate, timeline.ErrInvalid)}
	}
	n := FrameCount(r, rate)

	var cb func(current, total int64)
	if onProgress != nil {
		cb = func(current, total int64) {
			onProgress(Progress{Done: current, Total: total})
		}
	}
	p := progress.New(n, e.interval, cb)
	defer p.Close()

	started := time.Now()
	defer func() {
		if err == nil {
			return
		}
		if derr := sink.Discard(); derr != nil {
			e.log.ErrorContext(ctx, "discard partial output", "err", derr)
		}
		e.log.WarnContext(ctx, "export failed", "done", p.Current.Load(), "total", n, "err", err)
	}()

	err = sink.Start(ctx, Settings{
		Width:      tl.Format.Width,
		Height:     tl.Format.Height,
		FrameRate:  rate,
		SampleRate: tl.Format.SampleRate,
		Channels:   tl.Format.Channels,
		Frames:     n,
	})
	if err != nil {
		return &ExportError{Frame: -1, Err: err}
	}

	for i := range n {
		if err := ctx.Err(); err != nil {
			return &ExportError{Frame: i, At: r.Start + rate.FrameTime(i), Err: err}
		}
		t0 := r.Start + rate.FrameTime(i)
		t1 := min(r.Start+rate.FrameTime(i+1), r.End)

		f, err := e.render.RenderFrame(ctx, tl, t0)
		if err != nil {
			return &ExportError{Frame: i, At: t0, Err: err}
		}
		if err := sink.WriteVideoFrame(ctx, i, f); err != nil {
			return &ExportError{Frame: i, At: t0, Err: err}
		}
		if tl.Format.SampleRate > 0 {
			b, err := e.render.RenderAudio(ctx, tl, t0, t1)
			if err != nil {
				return &ExportError{Frame: i, At: t0, Err: err}
			}
			if err := sink.WriteAudioBlock(ctx, b); err != nil {
				return &ExportError{Frame: i, At: t0, Err: err}
			}
		}
		p.Add(1)
	}

	if err := sink.Finish(ctx); err != nil {
		return &ExportError{Frame: -1, Err: err}
	}
	e.log.InfoContext(ctx, "export finished", "frames", n, "cost", time.Since(started))
	return nil
}
