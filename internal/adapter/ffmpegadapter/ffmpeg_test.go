package ffmpegadapter

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/pkg/ffwork"
)

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "10.010000"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2,
     "duration": "10.026667"},
    {"index": 2, "codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 1}
  ],
  "format": {"duration": "10.026667"}
}`

func TestParseProbe(t *testing.T) {
	src, err := parseProbe([]byte(probeJSON))
	if err != nil {
		t.Fatal(err)
	}
	if !src.HasVideo || src.Width != 1920 || src.Height != 1080 {
		t.Fatalf("%+v", src)
	}
	if src.FrameRate != (media.Rational{Num: 30000, Den: 1001}) {
		t.Fatal(src.FrameRate)
	}
	if !src.HasAudio || src.SampleRate != 48000 || src.Channels != 2 {
		t.Fatalf("first audio stream expected: %+v", src)
	}
	if src.Duration < 10*time.Second || src.Duration > 10030*time.Millisecond {
		t.Fatal(src.Duration)
	}
}

func TestParseProbeFallbackRate(t *testing.T) {
	src, err := parseProbe([]byte(`{"streams":[{"codec_type":"video","width":2,"height":2,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],"format":{"duration":"1.0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if src.FrameRate != media.FPS(25) || src.HasAudio || src.Duration != time.Second {
		t.Fatalf("%+v", src)
	}
}

func TestParseProbeErrors(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"streams":[{"codec_type":"data"}],"format":{}}`,
		`{"streams":[{"codec_type":"audio","sample_rate":"0","channels":2}],"format":{}}`,
	} {
		if _, err := parseProbe([]byte(in)); !errors.Is(err, media.ErrUnsupportedCodec) {
			t.Fatal(in, err)
		}
	}
}

func TestProbeMissingFile(t *testing.T) {
	d := NewDecoder(conf.EditorMedia{})
	_, err := d.Probe(context.Background(), filepath.Join(t.TempDir(), "none.mp4"))
	if !errors.Is(err, media.ErrNotFound) {
		t.Fatal(err)
	}
}

func TestDecodeWithoutStream(t *testing.T) {
	d := NewDecoder(conf.EditorMedia{})
	ctx := context.Background()
	if _, err := d.DecodeVideo(ctx, media.Source{ID: "a", HasAudio: true}, 0); !errors.Is(err, media.ErrUnsupportedCodec) {
		t.Fatal(err)
	}
	if _, err := d.DecodeAudio(ctx, media.Source{ID: "v", HasVideo: true}, 0, 10); !errors.Is(err, media.ErrUnsupportedCodec) {
		t.Fatal(err)
	}
}

// 以下用例依赖本机 ffmpeg
func requireFFmpeg(t *testing.T) {
	t.Helper()
	if !ffwork.Available("ffmpeg") || !ffwork.Available("ffprobe") {
		t.Skip("ffmpeg not installed")
	}
}

func TestSinkRoundTrip(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "out.mp4")

	st := export.Settings{Width: 64, Height: 48, FrameRate: media.FPS(10), SampleRate: 8000, Channels: 1, Frames: 10}
	sink := NewSink(out)
	if err := sink.Start(ctx, st); err != nil {
		t.Fatal(err)
	}
	red := media.SolidFrame(64, 48, color.RGBA{R: 255, A: 255})
	for i := range st.Frames {
		if err := sink.WriteVideoFrame(ctx, i, red); err != nil {
			t.Fatal(err)
		}
		if err := sink.WriteAudioBlock(ctx, media.Silence(8000, 1, 800)); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out + ".video.mkv"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temp video left behind", err)
	}

	d := NewDecoder(conf.EditorMedia{})
	src, err := d.Probe(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if src.Width != 64 || src.Height != 48 || !src.HasAudio {
		t.Fatalf("%+v", src)
	}
	f, err := d.DecodeVideo(ctx, src, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	// yuv420p 有损，只比较主色
	if c := f.At(32, 24); c.R < 200 || c.G > 60 || c.B > 60 {
		t.Fatal(c)
	}
	blk, err := d.DecodeAudio(ctx, src, -100, 400)
	if err != nil {
		t.Fatal(err)
	}
	if blk.Frames() != 400 || blk.First != -100 {
		t.Fatal(blk.Frames(), blk.First)
	}
}

func TestSinkRejectsWrongSize(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "bad.mp4")
	sink := NewSink(out)
	if err := sink.Start(ctx, export.Settings{Width: 16, Height: 16, FrameRate: media.FPS(10)}); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteVideoFrame(ctx, 0, media.BlackFrame(8, 8)); err == nil {
		t.Fatal("expect size error")
	}
	if err := sink.Discard(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
}
