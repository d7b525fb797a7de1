package synthadapter

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
)

func newDecoder() *Decoder {
	return NewDecoder(14, 2, media.FPS(25), 1000, 2)
}

func TestProbe(t *testing.T) {
	d := newDecoder()
	ctx := context.Background()

	src, err := d.Probe(ctx, "solid:#ff8000@5s")
	if err != nil {
		t.Fatal(err)
	}
	if !src.HasVideo || src.HasAudio || src.Duration != 5*time.Second || src.Width != 14 || src.FrameRate != media.FPS(25) {
		t.Fatalf("%+v", src)
	}

	src, err = d.Probe(ctx, "tone:440")
	if err != nil {
		t.Fatal(err)
	}
	if src.HasVideo || !src.HasAudio || src.Duration != time.Hour || src.SampleRate != 1000 || src.Channels != 2 {
		t.Fatalf("%+v", src)
	}

	for _, path := range []string{"solid:#zz", "tone:-1", "noise:", "bars:@x", "plain.mp4"} {
		if _, err := d.Probe(ctx, path); !errors.Is(err, media.ErrUnsupportedCodec) {
			t.Fatal(path, err)
		}
	}
}

func TestSolidAndBars(t *testing.T) {
	d := newDecoder()
	ctx := context.Background()

	src, _ := d.Probe(ctx, "solid:#ff800080")
	f, err := d.DecodeVideo(ctx, src, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	// 半透明色按预乘存储
	if c := f.At(3, 1); c.R != 128 || c.G != 64 || c.B != 0 || c.A != 128 {
		t.Fatal(c)
	}

	src, _ = d.Probe(ctx, "bars:")
	f, err = d.DecodeVideo(ctx, src, 0)
	if err != nil {
		t.Fatal(err)
	}
	// 宽 14，每条 2 像素
	for i, want := range barColors {
		if got := f.At(i*2+1, 1); got != want {
			t.Fatal(i, got, want)
		}
	}

	if _, err := d.DecodeAudio(ctx, src, 0, 10); !errors.Is(err, media.ErrUnsupportedCodec) {
		t.Fatal(err)
	}
}

func TestToneIsContinuous(t *testing.T) {
	d := newDecoder()
	ctx := context.Background()
	src, _ := d.Probe(ctx, "tone:50@1s")

	whole, err := d.DecodeAudio(ctx, src, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	part, err := d.DecodeAudio(ctx, src, 40, 60)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 60 {
		if whole.Sample(40+i, 1) != part.Sample(i, 1) {
			t.Fatal("blocks differ at", 40+i)
		}
	}
	// 50Hz@1000Hz，第 5 个采样为波峰
	if v := whole.Sample(5, 0); math.Abs(v-0.5) > 1e-9 {
		t.Fatal(v)
	}

	tail, _ := d.DecodeAudio(ctx, src, 990, 20)
	for i := 10; i < 20; i++ {
		if tail.Sample(i, 0) != 0 {
			t.Fatal("tone past its duration")
		}
	}
	if tail.First != 990 {
		t.Fatal(tail.First)
	}
}

func TestSilence(t *testing.T) {
	d := newDecoder()
	ctx := context.Background()
	src, _ := d.Probe(ctx, "silence:")
	blk, err := d.DecodeAudio(ctx, src, -5, 8)
	if err != nil {
		t.Fatal(err)
	}
	if blk.Frames() != 8 || blk.Channels() != 2 {
		t.Fatal(blk.Frames(), blk.Channels())
	}
	if _, err := d.DecodeVideo(ctx, src, 0); !errors.Is(err, media.ErrUnsupportedCodec) {
		t.Fatal(err)
	}
}
