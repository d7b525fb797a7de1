package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
)

type sources map[media.SourceID]media.Source

func (s sources) Lookup(id media.SourceID) (media.Source, bool) {
	v, ok := s[id]
	return v, ok
}

// manualOutput 已播放采样数由测试控制
type manualOutput struct {
	played atomic.Int64
	lead   int64

	mu      sync.Mutex
	blocks  []*media.AudioBlock
	written int64
}

func (o *manualOutput) Reset(int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played.Store(0)
	o.blocks = nil
	o.written = 0
}

func (o *manualOutput) Write(ctx context.Context, b *media.AudioBlock) error {
	for {
		o.mu.Lock()
		if o.written-o.played.Load() < o.lead {
			o.blocks = append(o.blocks, b)
			o.written += int64(b.Frames())
			o.mu.Unlock()
			return nil
		}
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (o *manualOutput) Played() int64 {
	return o.played.Load()
}

func (o *manualOutput) Written() (int64, []*media.AudioBlock) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written, append([]*media.AudioBlock(nil), o.blocks...)
}

// fakeRenderer 帧的首字节为帧序号；block 中的帧序号需等待 release
type fakeRenderer struct {
	rate    media.Rational
	mu      sync.Mutex
	block   map[int64]chan struct{}
	renders atomic.Int64
	// waiting 正在阻塞等待 release 的帧序号
	waiting atomic.Int64
}

func (r *fakeRenderer) hold(idx int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.block == nil {
		r.block = make(map[int64]chan struct{})
	}
	ch := make(chan struct{})
	r.block[idx] = ch
	return ch
}

func (r *fakeRenderer) RenderFrame(ctx context.Context, tl *timeline.Timeline, t time.Duration) (*media.Frame, error) {
	r.renders.Add(1)
	idx := r.rate.FrameIndex(t)
	r.mu.Lock()
	ch := r.block[idx]
	r.mu.Unlock()
	if ch != nil {
		r.waiting.Store(idx)
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := media.NewFrame(1, 1)
	f.Pix[0] = byte(idx)
	return f, nil
}

func (r *fakeRenderer) RenderAudio(_ context.Context, tl *timeline.Timeline, t0, t1 time.Duration) (*media.AudioBlock, error) {
	rate := tl.Format.SampleRate
	first := media.SampleIndex(t0, rate)
	b := media.Silence(rate, 1, int(media.SampleIndex(t1, rate)-first))
	b.First = first
	return b, nil
}

type fixture struct {
	s      *Scheduler
	out    *manualOutput
	render *fakeRenderer
	tl     *timeline.Timeline
}

// newFixture 10fps、1000Hz、时长 2s 的时间线，音频块 100ms
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	src := sources{"v": {ID: "v", Duration: 10 * time.Second, HasVideo: true}}
	tl := timeline.New("t", "t", timeline.Format{Width: 1, Height: 1, FrameRate: media.FPS(10), SampleRate: 1000, Channels: 1}, src)
	tl.AddDefaultTracks(1, 0)
	if _, _, err := tl.InsertClip(tl.TracksOf(timeline.KindVideo)[0].ID, timeline.Clip{SourceID: "v", SourceOut: 2 * time.Second, Duration: 2 * time.Second}); err != nil {
		t.Fatal(err)
	}

	out := &manualOutput{lead: 300}
	render := &fakeRenderer{rate: media.FPS(10)}
	opts = append([]Option{WithAudioOutput(out), WithAudioBlock(100 * time.Millisecond), WithTick(time.Millisecond)}, opts...)
	s := New(render, func() *timeline.Timeline { return tl }, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{s: s, out: out, render: render, tl: tl}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) presented() int64 {
	if p := f.s.Current(); p != nil {
		return p.Index
	}
	return -1
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.s.State() != Stopped || f.s.Playhead() != 0 {
		t.Fatal(f.s.State(), f.s.Playhead())
	}

	// 停止状态下定位后进入暂停
	if err := f.s.Seek(ctx, 1200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "paused after seek", func() bool { return f.s.State() == Paused })
	if f.presented() != 12 || f.s.Playhead() != 1200*time.Millisecond {
		t.Fatal(f.presented(), f.s.Playhead())
	}

	if err := f.s.Play(ctx); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != Playing {
		t.Fatal(f.s.State())
	}
	f.out.played.Store(300)
	waitFor(t, "frame 15", func() bool { return f.presented() == 15 })

	if err := f.s.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != Paused || f.s.Playhead() != 1500*time.Millisecond {
		t.Fatal(f.s.State(), f.s.Playhead())
	}

	if err := f.s.SetSpeed(ctx, 9); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatal(err)
	}
	if err := f.s.SetSpeed(ctx, 0); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatal(err)
	}
	if err := f.s.SetSpeed(ctx, 2); err != nil || f.s.Speed() != 2 {
		t.Fatal(err, f.s.Speed())
	}

	// 两倍速：播放 100 个采样前进 200ms
	_ = f.s.Play(ctx)
	f.out.played.Store(100)
	waitFor(t, "playhead 1.7s", func() bool { return f.s.Playhead() == 1700*time.Millisecond })

	if err := f.s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != Stopped || f.s.Playhead() != 0 || f.s.Current() != nil {
		t.Fatal("stop must reset the playhead")
	}
}

func TestPlayToEndPausesAndRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, cancel := f.s.Subscribe(64)
	defer cancel()

	_ = f.s.Play(ctx)
	f.out.played.Store(2500)
	waitFor(t, "paused at end", func() bool { return f.s.State() == Paused })
	if f.s.Playhead() != 2*time.Second {
		t.Fatal(f.s.Playhead())
	}
	timeout := time.After(2 * time.Second)
	for ended := false; !ended; {
		select {
		case e := <-events:
			ended = e.Kind == EventEnded
		case <-timeout:
			t.Fatal("expect ended event")
		}
	}

	_ = f.s.Play(ctx)
	if f.s.State() != Playing || f.s.Playhead() != 0 {
		t.Fatal("play at end must restart from zero", f.s.Playhead())
	}
}

func TestDroppedFrameHoldsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.render.hold(3)

	_ = f.s.Play(ctx)
	waitFor(t, "frame 0", func() bool { return f.presented() == 0 })
	f.out.played.Store(200)
	waitFor(t, "frame 2", func() bool { return f.presented() == 2 })

	// 第 3 帧渲染阻塞，时钟越过第 3 帧后计为丢帧
	dropped := f.s.Dropped()
	f.out.played.Store(400)
	waitFor(t, "dropped", func() bool { return f.s.Dropped() == dropped+1 })
	if f.presented() != 2 {
		t.Fatalf("expect frame 2 held, got %d", f.presented())
	}

	// 音频不受影响：写入连续且领先于播放位置
	waitFor(t, "audio ahead", func() bool {
		w, _ := f.out.Written()
		return w >= 400+f.out.lead
	})
	_, blocks := f.out.Written()
	var next int64
	for _, b := range blocks {
		if b.First != next {
			t.Fatalf("audio gap at %d", next)
		}
		next += int64(b.Frames())
	}

	close(release)
	waitFor(t, "frame 4", func() bool { return f.presented() == 4 })
	if f.s.Dropped() != dropped+1 {
		t.Fatal(f.s.Dropped())
	}
}

func TestDroppedCountsEverySkippedFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.render.hold(3)

	_ = f.s.Play(ctx)
	f.out.played.Store(200)
	waitFor(t, "frame 2", func() bool { return f.presented() == 2 })
	waitFor(t, "frame 3 pending", func() bool { return f.render.waiting.Load() == 3 })

	// 第 3 帧阻塞期间时钟越过 3、4、5 三帧
	dropped := f.s.Dropped()
	f.out.played.Store(600)
	waitFor(t, "dropped", func() bool { return f.s.Dropped() == dropped+3 })

	close(release)
	waitFor(t, "frame 6", func() bool { return f.presented() == 6 })
	if f.s.Dropped() != dropped+3 {
		t.Fatal(f.s.Dropped())
	}
}

func TestSeekSupersedesPendingSeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.render.hold(5)
	defer close(release)

	_ = f.s.Seek(ctx, 500*time.Millisecond)
	if f.s.State() != Seeking {
		t.Fatal(f.s.State())
	}
	_ = f.s.Seek(ctx, 900*time.Millisecond)
	waitFor(t, "paused", func() bool { return f.s.State() == Paused })
	if f.presented() != 9 || f.s.Playhead() != 900*time.Millisecond {
		t.Fatal(f.presented(), f.s.Playhead())
	}
}

func TestSeekWhilePlayingResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.s.Play(ctx)
	_ = f.s.Seek(ctx, time.Second)
	waitFor(t, "playing", func() bool { return f.s.State() == Playing })
	f.out.played.Store(100)
	waitFor(t, "frame 11", func() bool { return f.presented() == 11 })
}

func TestRefreshWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.s.Seek(ctx, 300*time.Millisecond)
	waitFor(t, "paused", func() bool { return f.s.State() == Paused })
	before := f.render.renders.Load()
	if err := f.s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "re-render", func() bool { return f.render.renders.Load() == before+1 })
}

func TestClockOutputPacing(t *testing.T) {
	o := NewClockOutput(50 * time.Millisecond)
	now := time.Unix(0, 0)
	o.now = func() time.Time { return now }
	o.Reset(1000, 1)
	ctx := context.Background()

	if o.Played() != 0 {
		t.Fatal(o.Played())
	}
	if err := o.Write(ctx, media.Silence(1000, 1, 40)); err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Millisecond)
	if o.Played() != 30 {
		t.Fatal(o.Played())
	}
	// 领先 10 个采样，未达上限
	if err := o.Write(ctx, media.Silence(1000, 1, 40)); err != nil {
		t.Fatal(err)
	}
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := o.Write(cctx, media.Silence(1000, 1, 40)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("write beyond lead must block", err)
	}
}

func TestClockOutputStallsOnUnderrun(t *testing.T) {
	o := NewClockOutput(50 * time.Millisecond)
	now := time.Unix(0, 0)
	o.now = func() time.Time { return now }
	o.Reset(1000, 1)
	ctx := context.Background()

	if err := o.Write(ctx, media.Silence(1000, 1, 20)); err != nil {
		t.Fatal(err)
	}
	// 写入停滞时时钟停在已写入的位置
	now = now.Add(500 * time.Millisecond)
	if o.Played() != 20 {
		t.Fatal(o.Played())
	}

	// 恢复写入后从停顿处继续计时
	if err := o.Write(ctx, media.Silence(1000, 1, 40)); err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Millisecond)
	if o.Played() != 50 {
		t.Fatal(o.Played())
	}
}
