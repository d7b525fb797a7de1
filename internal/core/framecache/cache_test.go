package framecache

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

type fakeDecoder struct {
	calls atomic.Int64
	gate  chan struct{}
	fail  error
}

func (d *fakeDecoder) Probe(context.Context, string) (media.Source, error) {
	return media.Source{}, errors.New("unused")
}

func (d *fakeDecoder) DecodeVideo(ctx context.Context, src media.Source, at time.Duration) (*media.Frame, error) {
	d.calls.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if d.fail != nil {
		return nil, d.fail
	}
	f := media.NewFrame(2, 2)
	f.Pix[0] = byte(src.FrameRate.FrameIndex(at))
	return f, nil
}

func (d *fakeDecoder) DecodeAudio(ctx context.Context, src media.Source, first int64, n int) (*media.AudioBlock, error) {
	d.calls.Add(1)
	b := media.Silence(src.SampleRate, src.Channels, n)
	for i := range n {
		pos := first + int64(i)
		if pos >= media.SampleIndex(src.Duration, src.SampleRate) {
			break
		}
		for ch := range src.Channels {
			b.Data[i*src.Channels+ch] = float64(pos) / 1000
		}
	}
	return b, nil
}

func newCache(t *testing.T, dec *fakeDecoder, budget int64, opts ...media.RegistryOption) (*Cache, *media.Registry) {
	t.Helper()
	reg := media.NewRegistry(append([]media.RegistryOption{media.WithDecoder(dec)}, opts...)...)
	err := reg.Add(media.Source{
		ID: "s", Path: "s.mov", Duration: 10 * time.Second, FrameRate: media.FPS(10),
		HasVideo: true, HasAudio: true, SampleRate: 1000, Channels: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, budget, WithWorkers(4, 1), WithBlockFrames(100)), reg
}

func TestSingleDecodeInFlight(t *testing.T) {
	dec := fakeDecoder{gate: make(chan struct{})}
	c, _ := newCache(t, &dec, 1<<20)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			f, err := c.Frame(context.Background(), "s", 1250*time.Millisecond)
			if err != nil || f.Pix[0] != 12 {
				t.Error(err)
			}
		})
	}
	// 等待请求全部进入等待后放行
	time.Sleep(50 * time.Millisecond)
	close(dec.gate)
	wg.Wait()

	if n := dec.calls.Load(); n != 1 {
		t.Fatalf("expect one decode, got %d", n)
	}
	// 同一帧内的其他时间命中缓存
	if _, err := c.Frame(context.Background(), "s", 1299*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if n := dec.calls.Load(); n != 1 {
		t.Fatalf("expect cache hit, got %d decodes", n)
	}
}

func TestAbandonedRequestStillCached(t *testing.T) {
	dec := fakeDecoder{gate: make(chan struct{})}
	c, _ := newCache(t, &dec, 1<<20)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Frame(ctx, "s", 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal(err)
	}
	close(dec.gate)

	deadline := time.Now().Add(time.Second)
	for c.Stats().Entries == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := c.Frame(context.Background(), "s", 0); err != nil {
		t.Fatal(err)
	}
	if n := dec.calls.Load(); n != 1 {
		t.Fatalf("expect abandoned decode to be cached, got %d decodes", n)
	}
}

func TestBudgetEvictsLeastRecentlyUsed(t *testing.T) {
	dec := fakeDecoder{}
	// 每帧 16 字节，预算容纳 3 帧
	c, _ := newCache(t, &dec, 48)
	ctx := context.Background()
	frame := func(i int) {
		if _, err := c.Frame(ctx, "s", time.Duration(i)*100*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	frame(0)
	frame(1)
	frame(2)
	frame(0) // 0 变为最近使用
	frame(3) // 淘汰 1

	s := c.Stats()
	if s.Entries != 3 || s.Bytes != 48 || s.Evictions != 1 {
		t.Fatalf("%+v", s)
	}
	before := dec.calls.Load()
	frame(0)
	if dec.calls.Load() != before {
		t.Fatal("frame 0 must still be cached")
	}
	frame(1)
	if dec.calls.Load() != before+1 {
		t.Fatal("frame 1 must have been evicted")
	}
}

func TestOversizeNotStored(t *testing.T) {
	dec := fakeDecoder{}
	c, _ := newCache(t, &dec, 8)
	f, err := c.Frame(context.Background(), "s", 0)
	if err != nil || f == nil {
		t.Fatal(err)
	}
	if s := c.Stats(); s.Entries != 0 || s.Bytes != 0 {
		t.Fatalf("%+v", s)
	}
}

func TestInvalidateRange(t *testing.T) {
	dec := fakeDecoder{}
	c, _ := newCache(t, &dec, 1<<20)
	ctx := context.Background()
	for i := range 10 {
		_, _ = c.Frame(ctx, "s", time.Duration(i)*100*time.Millisecond)
	}
	n := c.InvalidateRange("s", timeline.Range{Start: 200 * time.Millisecond, End: 500 * time.Millisecond})
	if n != 3 {
		t.Fatalf("expect 3 invalidated, got %d", n)
	}
	if s := c.Stats(); s.Entries != 7 {
		t.Fatalf("%+v", s)
	}
	c.InvalidateRange("s", timeline.Range{})
	if s := c.Stats(); s.Entries != 0 {
		t.Fatalf("%+v", s)
	}
}

func TestInvalidateDuringDecode(t *testing.T) {
	dec := fakeDecoder{gate: make(chan struct{})}
	c, _ := newCache(t, &dec, 1<<20)

	done := make(chan error, 1)
	go func() {
		_, err := c.Frame(context.Background(), "s", 0)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.InvalidateRange("s", timeline.Range{})
	close(dec.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if s := c.Stats(); s.Entries != 0 {
		t.Fatal("stale decode must not be stored")
	}
}

func TestDegradedShortCircuit(t *testing.T) {
	now := time.Unix(0, 0)
	dec := fakeDecoder{fail: media.NewDecodeError(media.KindUnsupportedCodec, "", errors.New("prores raw"))}
	c, _ := newCache(t, &dec, 1<<20, media.WithDegrade(2, time.Minute), media.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := range 2 {
		_, err := c.Frame(ctx, "s", time.Duration(i)*time.Second)
		if !errors.Is(err, media.ErrUnsupportedCodec) {
			t.Fatal(err)
		}
	}
	if _, err := c.Frame(ctx, "s", 5*time.Second); !errors.Is(err, media.ErrDegraded) {
		t.Fatal(err)
	}
	if n := dec.calls.Load(); n != 2 {
		t.Fatalf("degraded source must not be decoded, got %d", n)
	}

	now = now.Add(2 * time.Minute)
	dec.fail = nil
	if _, err := c.Frame(ctx, "s", 5*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestSamplesAcrossBlocks(t *testing.T) {
	dec := fakeDecoder{}
	c, _ := newCache(t, &dec, 1<<20)
	b, err := c.Samples(context.Background(), "s", 95, 10)
	if err != nil {
		t.Fatal(err)
	}
	if b.Frames() != 10 || b.Channels() != 2 {
		t.Fatal(b.Frames(), b.Channels())
	}
	for i := range 10 {
		if got := b.Sample(i, 1); got != float64(95+i)/1000 {
			t.Fatalf("sample %d = %v", i, got)
		}
	}
	if n := dec.calls.Load(); n != 2 {
		t.Fatalf("expect 2 blocks decoded, got %d", n)
	}

	// 素材末尾之后为静音
	tail, _ := c.Samples(context.Background(), "s", 9995, 10)
	if tail.Sample(4, 0) == 0 || tail.Sample(5, 0) != 0 {
		t.Fatal(tail.Data)
	}
}
