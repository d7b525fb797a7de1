package ffmpegadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/cutline/internal/adapter/wavadapter"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/pkg/ffwork"
)

var _ export.Sink = (*Sink)(nil)

// Sink rgba 帧经 stdin 管道编码为临时视频文件，音频写入临时 wav，Finish 时合并为目标文件
type Sink struct {
	Path       string
	ffmpeg     string
	videoCodec string
	audioCodec string
	tempDir    string

	settings  export.Settings
	frameSize int
	video     *ffwork.Process
	audio     *wavadapter.Sink
	tmpVideo  string
	tmpAudio  string
	log       *slog.Logger
}

type SinkOption func(*Sink)

// WithCodecs 视频与音频编码器，默认 libx264/aac
func WithCodecs(video, audio string) SinkOption {
	return func(s *Sink) {
		if video != "" {
			s.videoCodec = video
		}
		if audio != "" {
			s.audioCodec = audio
		}
	}
}

// WithTempDir 中间文件目录，默认与输出文件同目录
func WithTempDir(dir string) SinkOption {
	return func(s *Sink) {
		s.tempDir = dir
	}
}

// WithBinary ffmpeg 可执行文件
func WithBinary(ffmpeg string) SinkOption {
	return func(s *Sink) {
		if ffmpeg != "" {
			s.ffmpeg = ffmpeg
		}
	}
}

func NewSink(path string, opts ...SinkOption) *Sink {
	s := Sink{
		Path:       path,
		ffmpeg:     "ffmpeg",
		videoCodec: "libx264",
		audioCodec: "aac",
		log:        slog.With("component", "ffmpeg_sink"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

func (s *Sink) Start(ctx context.Context, st export.Settings) error {
	if st.Width <= 0 || st.Height <= 0 || !st.FrameRate.Valid() {
		return fmt.Errorf("ffmpeg sink: invalid video format %dx%d@%s", st.Width, st.Height, st.FrameRate)
	}
	s.settings = st
	s.frameSize = st.Width * st.Height * 4
	s.tmpVideo = s.tempPath(".video.mkv")

	// 编码进程的生命周期由 Finish/Discard 决定，不随单次调用的 ctx 结束
	s.video = ffwork.New(context.WithoutCancel(ctx), ffwork.Config{
		Bin:   s.ffmpeg,
		Name:  "encode " + s.Path,
		Stdin: true,
		Args: []string{
			"-hide_banner",
			"-loglevel", "error",
			"-y",
			"-f", "rawvideo",
			"-pix_fmt", "rgba",
			"-s", fmt.Sprintf("%dx%d", st.Width, st.Height),
			"-framerate", st.FrameRate.String(),
			"-i", "pipe:0",
			"-an",
			"-c:v", s.videoCodec,
			"-pix_fmt", "yuv420p",
			s.tmpVideo,
		},
	})
	if err := s.video.Start(); err != nil {
		return err
	}
	if st.SampleRate > 0 && st.Channels > 0 {
		s.tmpAudio = s.tempPath(".audio.wav")
		s.audio = wavadapter.NewSink(s.tmpAudio)
		if err := s.audio.Start(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) WriteVideoFrame(_ context.Context, index int64, f *media.Frame) error {
	if s.video == nil {
		return errors.New("ffmpeg sink not started")
	}
	if len(f.Pix) != s.frameSize {
		return fmt.Errorf("frame %d is %dx%d, want %dx%d", index, f.Width, f.Height, s.settings.Width, s.settings.Height)
	}
	_, err := s.video.Write(f.Pix)
	return err
}

func (s *Sink) WriteAudioBlock(ctx context.Context, b *media.AudioBlock) error {
	if s.audio == nil {
		return nil
	}
	return s.audio.WriteAudioBlock(ctx, b)
}

// Finish 等待视频编码结束，再与音频合并
func (s *Sink) Finish(ctx context.Context) error {
	if s.video == nil {
		return errors.New("ffmpeg sink not started")
	}
	if err := s.video.CloseInput(); err != nil {
		return err
	}
	if err := s.video.Wait(); err != nil {
		return err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", s.tmpVideo}
	if s.audio != nil {
		if err := s.audio.Finish(ctx); err != nil {
			return err
		}
		args = append(args, "-i", s.tmpAudio, "-c:v", "copy", "-c:a", s.audioCodec, "-shortest")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, s.Path)
	if _, err := ffwork.Output(ctx, s.ffmpeg, args...); err != nil {
		return err
	}
	s.removeTemp()
	s.log.InfoContext(ctx, "encoded", "path", s.Path, "frames", s.settings.Frames)
	return nil
}

// Discard 终止编码并删除所有输出
func (s *Sink) Discard() error {
	var errs []error
	if s.video != nil {
		if err := s.video.Stop(); err != nil {
			s.log.Warn("stop encoder", "err", err, "log", s.video.Log())
		}
	}
	if s.audio != nil {
		errs = append(errs, s.audio.Discard())
	}
	s.removeTemp()
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Sink) tempPath(suffix string) string {
	if s.tempDir == "" {
		return s.Path + suffix
	}
	return filepath.Join(s.tempDir, filepath.Base(s.Path)+suffix)
}

func (s *Sink) removeTemp() {
	for _, p := range []string{s.tmpVideo, s.tmpAudio} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove temp file", "path", p, "err", err)
		}
	}
}
