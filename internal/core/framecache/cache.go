// Package framecache 解码结果缓存
//
// 按字节预算做 LRU 淘汰，同一 key 同时只有一次解码。
// 返回的帧与音频块在调用方之间共享，只读。
package framecache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Sources 素材句柄与健康状态，由 media.Registry 实现
type Sources interface {
	Handle(id media.SourceID) (media.Source, media.Decoder, error)
	ReportFailure(id media.SourceID, err error) bool
	ReportSuccess(id media.SourceID)
}

type Kind uint8

const (
	KindVideo Kind = iota + 1
	KindAudio
)

// Key 视频为帧序号，音频为块序号
type Key struct {
	Source media.SourceID
	Kind   Kind
	Index  int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Source, k.Kind, k.Index)
}

type entry struct {
	key  Key
	val  any
	size int64
	// span 在素材时间轴上覆盖的区间
	span timeline.Range
}

// Stats 缓存统计
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	Budget    int64 `json:"budget"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Decodes   int64 `json:"decodes"`
	Failures  int64 `json:"failures"`
}

// Cache 帧缓存
type Cache struct {
	sources Sources

	mu     sync.Mutex
	ll     *list.List
	items  map[Key]*list.Element
	used   int64
	budget int64
	gens   map[media.SourceID]uint64
	epoch  uint64

	group singleflight.Group
	video *semaphore.Weighted
	audio *semaphore.Weighted

	blockFrames int
	fallbackFPS media.Rational
	timeout     time.Duration

	hits, misses, evictions, decodes, failures atomic.Int64

	log *slog.Logger
}

type Option func(*Cache)

// WithWorkers 视频与音频解码并发上限，两者互不排队
func WithWorkers(video, audio int) Option {
	return func(c *Cache) {
		c.video = semaphore.NewWeighted(int64(max(1, video)))
		c.audio = semaphore.NewWeighted(int64(max(1, audio)))
	}
}

// WithBlockFrames 音频块的采样帧数
func WithBlockFrames(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.blockFrames = n
		}
	}
}

// WithDecodeTimeout 单次解码超时，0 表示不限
func WithDecodeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithFallbackFPS 素材未给出帧率时使用
func WithFallbackFPS(r media.Rational) Option {
	return func(c *Cache) {
		if r.Valid() {
			c.fallbackFPS = r
		}
	}
}

// New budget 为字节预算
func New(sources Sources, budget int64, opts ...Option) *Cache {
	c := Cache{
		sources:     sources,
		ll:          list.New(),
		items:       make(map[Key]*list.Element),
		budget:      budget,
		gens:        make(map[media.SourceID]uint64),
		video:       semaphore.NewWeighted(2),
		audio:       semaphore.NewWeighted(1),
		blockFrames: 1024,
		fallbackFPS: media.FPS(30),
		log:         slog.With("component", "framecache"),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// BlockFrames 音频块大小
func (c *Cache) BlockFrames() int {
	return c.blockFrames
}

// Frame 取素材时间 t 所在帧，未命中时解码
func (c *Cache) Frame(ctx context.Context, id media.SourceID, t time.Duration) (*media.Frame, error) {
	src, dec, err := c.handle(id)
	if err != nil {
		return nil, err
	}
	rate := src.FrameRate
	if !rate.Valid() {
		rate = c.fallbackFPS
	}
	idx := rate.FrameIndex(max(0, min(t, src.Duration-1)))
	key := Key{Source: id, Kind: KindVideo, Index: idx}
	span := timeline.Range{Start: rate.FrameTime(idx), End: rate.FrameTime(idx + 1)}

	v, err := c.getOrDecode(ctx, key, span, c.video, func(ctx context.Context) (any, int64, error) {
		f, err := dec.DecodeVideo(ctx, src, span.Start)
		if err != nil {
			return nil, 0, err
		}
		return f, f.Size(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.Frame), nil
}

// Audio 取第 block 个音频块，采样率为素材原始采样率
func (c *Cache) Audio(ctx context.Context, id media.SourceID, block int64) (*media.AudioBlock, error) {
	src, dec, err := c.handle(id)
	if err != nil {
		return nil, err
	}
	return c.audioBlock(ctx, src, dec, block)
}

func (c *Cache) audioBlock(ctx context.Context, src media.Source, dec media.Decoder, block int64) (*media.AudioBlock, error) {
	n := int64(c.blockFrames)
	key := Key{Source: src.ID, Kind: KindAudio, Index: block}
	span := timeline.Range{
		Start: media.SampleTime(block*n, src.SampleRate),
		End:   media.SampleTime((block+1)*n, src.SampleRate),
	}
	v, err := c.getOrDecode(ctx, key, span, c.audio, func(ctx context.Context) (any, int64, error) {
		b, err := dec.DecodeAudio(ctx, src, block*n, int(n))
		if err != nil {
			return nil, 0, err
		}
		b.First = block * n
		return b, b.Size(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.AudioBlock), nil
}

// Samples 从素材采样序号 first 起取 n 个采样帧，跨块拼接
func (c *Cache) Samples(ctx context.Context, id media.SourceID, first int64, n int) (*media.AudioBlock, error) {
	src, dec, err := c.handle(id)
	if err != nil {
		return nil, err
	}
	out := media.Silence(src.SampleRate, max(1, src.Channels), n)
	out.First = first
	ch := out.Channels()
	bf := int64(c.blockFrames)

	for i := 0; i < n; {
		pos := first + int64(i)
		if pos < 0 {
			i++
			continue
		}
		block := pos / bf
		b, err := c.audioBlock(ctx, src, dec, block)
		if err != nil {
			return nil, err
		}
		off := int(pos - block*bf)
		for ; off < b.Frames() && i < n; off, i = off+1, i+1 {
			for k := range ch {
				out.Data[i*ch+k] = b.Sample(off, k)
			}
		}
		if off < int(bf) && i < n {
			// 素材末尾的短块，后续全部为静音
			break
		}
	}
	return out, nil
}

func (c *Cache) handle(id media.SourceID) (media.Source, media.Decoder, error) {
	src, dec, err := c.sources.Handle(id)
	if err != nil {
		return media.Source{}, nil, err
	}
	if src.Degraded {
		return media.Source{}, nil, media.NewDecodeError(media.KindDegraded, id, fmt.Errorf("retry later"))
	}
	return src, dec, nil
}

type decodeFunc func(ctx context.Context) (any, int64, error)

// getOrDecode 调用方可以通过 ctx 放弃等待，解码仍会继续并写入缓存
func (c *Cache) getOrDecode(ctx context.Context, key Key, span timeline.Range, sem *semaphore.Weighted, fn decodeFunc) (any, error) {
	if v, ok := c.get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key.String(), func() (any, error) {
		if v, ok := c.get(key); ok {
			return v, nil
		}
		gen := c.generation(key.Source)

		dctx := context.Background()
		if c.timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, c.timeout)
			defer cancel()
		}
		if err := sem.Acquire(dctx, 1); err != nil {
			return nil, media.NewDecodeError(media.KindIO, key.Source, err)
		}
		defer sem.Release(1)

		c.decodes.Add(1)
		v, size, err := fn(dctx)
		if err != nil {
			c.failures.Add(1)
			derr := media.AsDecodeError(key.Source, err)
			if c.sources.ReportFailure(key.Source, derr) {
				c.log.Warn("source degraded after repeated decode failures", "source", key.Source)
			}
			return nil, derr
		}
		c.sources.ReportSuccess(key.Source)
		c.put(key, v, size, span, gen)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Cache) get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).val, true
}

// generation 素材或全局失效时单调增加
func (c *Cache) generation(id media.SourceID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id] + c.epoch
}

// put 超出预算的单项不入缓存；解码期间素材被失效的结果也不入缓存
func (c *Cache) put(key Key, v any, size int64, span timeline.Range, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size > c.budget || c.gens[key.Source]+c.epoch != gen {
		return
	}
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.items[key] = c.ll.PushFront(&entry{key: key, val: v, size: size, span: span})
	c.used += size
	for c.used > c.budget {
		c.removeElement(c.ll.Back())
		c.evictions.Add(1)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := c.ll.Remove(el).(*entry)
	delete(c.items, e.key)
	c.used -= e.size
}

// InvalidateRange 移除素材时间区间 r 内的缓存项，r 为空区间时移除该素材全部缓存
func (c *Cache) InvalidateRange(id media.SourceID, r timeline.Range) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++

	var n int
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if e.key.Source == id && (r.Empty() || e.span.Overlaps(r)) {
			c.removeElement(el)
			n++
		}
		el = next
	}
	return n
}

// Purge 清空缓存
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.ll.Init()
	clear(c.items)
	c.used = 0
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, used := c.ll.Len(), c.used
	c.mu.Unlock()
	return Stats{
		Entries:   entries,
		Bytes:     used,
		Budget:    c.budget,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Decodes:   c.decodes.Load(),
		Failures:  c.failures.Load(),
	}
}
