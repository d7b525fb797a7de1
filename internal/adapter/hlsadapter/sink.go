// Package hlsadapter 将导出切分为定长片段，结束时写入 VOD 播放列表
package hlsadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/grafov/m3u8"
)

var _ export.Sink = (*Sink)(nil)

// PlaylistName 播放列表文件名
const PlaylistName = "index.m3u8"

// SegmentFunc 为单个片段创建编码器
type SegmentFunc func(path string) export.Sink

type segment struct {
	name   string
	frames int64
	sink   export.Sink
}

// Sink 每 segment 时长切换一个片段编码器
type Sink struct {
	Dir        string
	segment    time.Duration
	newSegment SegmentFunc
	ext        string

	settings  export.Settings
	perSeg    int64
	current   *segment
	completed []segment
	log       *slog.Logger
}

type Option func(*Sink)

// WithSegmentDuration 片段时长，默认 6s
func WithSegmentDuration(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.segment = d
		}
	}
}

// WithExt 片段文件扩展名，默认 .ts
func WithExt(ext string) Option {
	return func(s *Sink) {
		s.ext = ext
	}
}

func NewSink(dir string, fn SegmentFunc, opts ...Option) *Sink {
	s := Sink{
		Dir:        dir,
		segment:    6 * time.Second,
		newSegment: fn,
		ext:        ".ts",
		log:        slog.With("component", "hls_sink"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// Playlist 播放列表路径
func (s *Sink) Playlist() string {
	return filepath.Join(s.Dir, PlaylistName)
}

func (s *Sink) Start(_ context.Context, st export.Settings) error {
	if !st.FrameRate.Valid() {
		return fmt.Errorf("hls sink: invalid frame rate %s", st.FrameRate)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	s.settings = st
	s.perSeg = max(st.FrameRate.FrameCount(s.segment), 1)
	s.completed = s.completed[:0]
	return nil
}

func (s *Sink) WriteVideoFrame(ctx context.Context, index int64, f *media.Frame) error {
	if s.current != nil && s.current.frames >= s.perSeg {
		if err := s.closeSegment(ctx); err != nil {
			return err
		}
	}
	if s.current == nil {
		if err := s.openSegment(ctx, index); err != nil {
			return err
		}
	}
	if err := s.current.sink.WriteVideoFrame(ctx, s.current.frames, f); err != nil {
		return err
	}
	s.current.frames++
	return nil
}

// WriteAudioBlock 音频跟随其前一个视频帧所在的片段
func (s *Sink) WriteAudioBlock(ctx context.Context, b *media.AudioBlock) error {
	if s.current == nil {
		return errors.New("hls sink: audio before first video frame")
	}
	return s.current.sink.WriteAudioBlock(ctx, b)
}

func (s *Sink) openSegment(ctx context.Context, first int64) error {
	name := fmt.Sprintf("seg%05d%s", len(s.completed), s.ext)
	st := s.settings
	st.Frames = min(s.perSeg, st.Frames-first)
	if st.Frames <= 0 {
		st.Frames = s.perSeg
	}
	seg := segment{name: name, sink: s.newSegment(filepath.Join(s.Dir, name))}
	if err := seg.sink.Start(ctx, st); err != nil {
		return err
	}
	s.current = &seg
	return nil
}

func (s *Sink) closeSegment(ctx context.Context) error {
	seg := s.current
	s.current = nil
	if err := seg.sink.Finish(ctx); err != nil {
		_ = seg.sink.Discard()
		return err
	}
	s.completed = append(s.completed, *seg)
	return nil
}

// Finish 结束最后一个片段并写播放列表
func (s *Sink) Finish(ctx context.Context) error {
	if s.current != nil {
		if err := s.closeSegment(ctx); err != nil {
			return err
		}
	}
	if len(s.completed) == 0 {
		return errors.New("hls sink: no segments written")
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(s.completed)))
	if err != nil {
		return err
	}
	pl.MediaType = m3u8.VOD
	for i, seg := range s.completed {
		dur := s.settings.FrameRate.FrameTime(seg.frames).Seconds()
		if err := pl.Append(seg.name, dur, ""); err != nil {
			return err
		}
		// 每个片段独立编码，时间戳从 0 开始
		if i > 0 {
			_ = pl.SetDiscontinuity()
		}
	}
	pl.Close()

	tmp := s.Playlist() + ".part"
	if err := os.WriteFile(tmp, pl.Encode().Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Playlist()); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "playlist written", "path", s.Playlist(), "segments", len(s.completed))
	return nil
}

// Discard 删除已写出的片段与播放列表
func (s *Sink) Discard() error {
	var errs []error
	if s.current != nil {
		errs = append(errs, s.current.sink.Discard())
		s.current = nil
	}
	for _, seg := range s.completed {
		if err := os.Remove(filepath.Join(s.Dir, seg.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.completed = nil
	for _, p := range []string{s.Playlist(), s.Playlist() + ".part"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
