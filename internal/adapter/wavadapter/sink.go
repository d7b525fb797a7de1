package wavadapter

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
)

var _ export.Sink = (*Sink)(nil)

// Sink 仅输出音频的 wav 文件，视频帧被忽略
//
// 写入临时文件，Finish 时改名为目标路径。
type Sink struct {
	Path     string
	BitDepth int

	tmp    string
	f      *os.File
	enc    *wav.Encoder
	frames int64
}

func NewSink(path string) *Sink {
	return &Sink{Path: path, BitDepth: 16}
}

func (s *Sink) Start(_ context.Context, st export.Settings) error {
	if st.SampleRate <= 0 || st.Channels <= 0 {
		return fmt.Errorf("wav sink: invalid audio format %d Hz x %d", st.SampleRate, st.Channels)
	}
	s.tmp = s.Path + ".part"
	f, err := os.Create(s.tmp)
	if err != nil {
		return err
	}
	s.f = f
	s.enc = wav.NewEncoder(f, st.SampleRate, s.BitDepth, st.Channels, 1)
	return nil
}

func (s *Sink) WriteVideoFrame(context.Context, int64, *media.Frame) error {
	return nil
}

func (s *Sink) WriteAudioBlock(_ context.Context, b *media.AudioBlock) error {
	if s.enc == nil {
		return errors.New("wav sink not started")
	}
	s.frames += int64(b.Frames())
	return s.enc.Write(b.IntBuffer(s.BitDepth))
}

// Frames 已写入的采样帧数
func (s *Sink) Frames() int64 {
	return s.frames
}

func (s *Sink) Finish(context.Context) error {
	if s.enc == nil {
		return errors.New("wav sink not started")
	}
	if err := s.enc.Close(); err != nil {
		return err
	}
	s.enc = nil
	if err := s.f.Close(); err != nil {
		return err
	}
	return os.Rename(s.tmp, s.Path)
}

func (s *Sink) Discard() error {
	if s.enc != nil {
		_ = s.enc.Close()
		s.enc = nil
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	if s.tmp == "" {
		return nil
	}
	if err := os.Remove(s.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
