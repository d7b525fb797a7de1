// Package playback 播放时钟与调度
//
// 所有状态由 Run 中的事件循环独占，公开方法通过通道提交命令。
// 每次 seek/stop/pause 递增代号，异步渲染结果携带代号，过期即丢弃。
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/gowvp/cutline/pkg/pubsub"
)

// Renderer 合成器，预览与导出共用
type Renderer interface {
	RenderFrame(ctx context.Context, tl *timeline.Timeline, t time.Duration) (*media.Frame, error)
	RenderAudio(ctx context.Context, tl *timeline.Timeline, t0, t1 time.Duration) (*media.AudioBlock, error)
}

// Snapshot 返回当前时间线的不可变快照
type Snapshot func() *timeline.Timeline

// Presented 当前呈现的帧
type Presented struct {
	Index int64
	Frame *media.Frame
}

type op int

const (
	opPlay op = iota + 1
	opPause
	opSeek
	opStop
	opSpeed
	opRefresh
)

type command struct {
	op    op
	at    time.Duration
	speed float64
	reply chan error
}

type request struct {
	gen    uint64
	idx    int64
	missed bool
	// counted 已计入丢帧的帧序号上界（不含）
	counted int64
}

type frameResult struct {
	req   *request
	frame *media.Frame
	err   error
}

// Scheduler 播放调度器
type Scheduler struct {
	render   Renderer
	snapshot Snapshot
	out      AudioOutput
	block    time.Duration
	tick     time.Duration
	maxSpeed float64
	log      *slog.Logger

	cmds    chan command
	results chan frameResult
	done    chan struct{}
	runCtx  context.Context

	// 以下字段仅事件循环访问
	state    State
	resume   State
	speed    float64
	gen      uint64
	pos      time.Duration
	rate     int
	anchor   int64
	ratioM   int64
	ratioN   int64
	inflight *request
	ready    *frameResult
	lastIdx  int64

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	stateV   atomic.Int32
	playhead atomic.Int64
	dropped  atomic.Int64
	speedV   atomic.Uint64
	current  atomic.Pointer[Presented]

	events pubsub.Hub[Event]
}

type Option func(*Scheduler)

// WithAudioOutput 音频设备，缺省为按墙上时钟消费的 ClockOutput
func WithAudioOutput(o AudioOutput) Option {
	return func(s *Scheduler) {
		s.out = o
	}
}

// WithAudioBlock 音频泵每次渲染的时长
func WithAudioBlock(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.block = d
		}
	}
}

func WithMaxSpeed(x float64) Option {
	return func(s *Scheduler) {
		if x > 0 {
			s.maxSpeed = x
		}
	}
}

// WithTick 事件循环检查呈现时刻的间隔
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func New(render Renderer, snapshot Snapshot, opts ...Option) *Scheduler {
	s := Scheduler{
		render:   render,
		snapshot: snapshot,
		block:    20 * time.Millisecond,
		tick:     4 * time.Millisecond,
		maxSpeed: 8,
		log:      slog.With("component", "playback"),
		cmds:     make(chan command),
		results:  make(chan frameResult),
		done:     make(chan struct{}),
		speed:    1,
		lastIdx:  -1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.out == nil {
		s.out = NewClockOutput(0)
	}
	s.speedV.Store(math.Float64bits(1))
	return &s
}

// Run 事件循环，ctx 结束时返回
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer close(s.done)
	defer s.stopPump()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.cmds:
			c.reply <- s.handle(c)
		case r := <-s.results:
			s.onResult(r)
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Scheduler) Play(ctx context.Context) error  { return s.do(ctx, command{op: opPlay}) }
func (s *Scheduler) Pause(ctx context.Context) error { return s.do(ctx, command{op: opPause}) }
func (s *Scheduler) Stop(ctx context.Context) error  { return s.do(ctx, command{op: opStop}) }

// Seek 定位到 t，完成后回到定位前的状态；从停止状态定位后进入暂停
func (s *Scheduler) Seek(ctx context.Context, t time.Duration) error {
	return s.do(ctx, command{op: opSeek, at: t})
}

// SetSpeed 取值 (0, 8]
func (s *Scheduler) SetSpeed(ctx context.Context, x float64) error {
	return s.do(ctx, command{op: opSpeed, speed: x})
}

// Refresh 时间线变化后重新渲染暂停画面
func (s *Scheduler) Refresh(ctx context.Context) error {
	return s.do(ctx, command{op: opRefresh})
}

func (s *Scheduler) State() State {
	return State(s.stateV.Load())
}

func (s *Scheduler) Playhead() time.Duration {
	return time.Duration(s.playhead.Load())
}

// Dropped 未能按时呈现的帧数
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Scheduler) Speed() float64 {
	return math.Float64frombits(s.speedV.Load())
}

// Current 当前呈现的帧，尚未呈现时为 nil
func (s *Scheduler) Current() *Presented {
	return s.current.Load()
}

// Subscribe 订阅播放事件
func (s *Scheduler) Subscribe(buf int) (<-chan Event, func()) {
	return s.events.Subscribe(buf)
}

func (s *Scheduler) do(ctx context.Context, c command) error {
	c.reply = make(chan error, 1)
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Scheduler) handle(c command) error {
	tl := s.snapshot()
	switch c.op {
	case opPlay:
		switch s.state {
		case Playing:
			return nil
		case Seeking:
			s.resume = Playing
			return nil
		}
		// 播放到末尾后再次播放从头开始
		if s.pos >= tl.Duration() {
			s.pos = 0
			s.setPlayhead(0)
		}
		s.startPlaying(tl)
	case opPause:
		switch s.state {
		case Playing:
			s.pos = min(s.clock(), tl.Duration())
			s.halt()
			s.setPlayhead(s.pos)
			s.setState(Paused)
		case Seeking:
			s.resume = Paused
		}
	case opSeek:
		t := max(0, min(c.at, tl.Duration()))
		if s.state != Seeking {
			s.resume = s.state
			if s.resume == Stopped {
				s.resume = Paused
			}
		}
		s.halt()
		s.pos = t
		s.setPlayhead(t)
		s.setState(Seeking)
		s.request(tl, fps(tl).FrameIndex(t))
	case opStop:
		s.halt()
		s.pos = 0
		s.lastIdx = -1
		s.setPlayhead(0)
		s.current.Store(nil)
		s.setState(Stopped)
	case opSpeed:
		if !(c.speed > 0 && c.speed <= s.maxSpeed) {
			return fmt.Errorf("speed %v not in (0, %v]: %w", c.speed, s.maxSpeed, ErrInvalidSpeed)
		}
		s.speedV.Store(math.Float64bits(c.speed))
		if s.state != Playing {
			s.speed = c.speed
			break
		}
		s.pos = min(s.clock(), tl.Duration())
		s.halt()
		s.speed = c.speed
		s.startPlaying(tl)
	case opRefresh:
		if s.state == Paused || s.state == Stopped && s.current.Load() != nil {
			s.gen++
			s.inflight, s.ready = nil, nil
			s.request(tl, fps(tl).FrameIndex(s.pos))
		}
	}
	return nil
}

// halt 停止音频泵并使所有未完成的渲染过期
func (s *Scheduler) halt() {
	s.stopPump()
	s.gen++
	s.inflight, s.ready = nil, nil
}

func (s *Scheduler) startPlaying(tl *timeline.Timeline) {
	s.gen++
	s.inflight, s.ready = nil, nil

	s.rate = tl.Format.SampleRate
	if s.rate <= 0 {
		s.rate = 48000
	}
	s.anchor = media.SampleIndex(s.pos, s.rate)
	s.ratioN = max(1, media.SampleIndex(s.block, s.rate))
	s.ratioM = max(1, int64(float64(s.ratioN)*s.speed+0.5))

	s.out.Reset(s.rate, max(1, tl.Format.Channels))
	ctx, cancel := context.WithCancel(s.runCtx)
	s.pumpCancel = cancel
	anchor, rate, m, n := s.anchor, s.rate, s.ratioM, s.ratioN
	s.pumpWG.Go(func() {
		s.pump(ctx, rate, anchor, m, n)
	})
	s.setState(Playing)
}

func (s *Scheduler) stopPump() {
	if s.pumpCancel == nil {
		return
	}
	s.pumpCancel()
	s.pumpWG.Wait()
	s.pumpCancel = nil
}

// clock 由已播放采样数推算时间线位置
func (s *Scheduler) clock() time.Duration {
	played := s.out.Played()
	return media.SampleTime(s.anchor+played*s.ratioM/s.ratioN, s.rate)
}

// pump 连续渲染音频块写入设备，每块覆盖 m 个时间线采样，重采样为 n 个输出采样
func (s *Scheduler) pump(ctx context.Context, rate int, cur, m, n int64) {
	var written int64
	for ctx.Err() == nil {
		tl := s.snapshot()
		t0, t1 := media.SampleTime(cur, rate), media.SampleTime(cur+m, rate)
		b, err := s.render.RenderAudio(ctx, tl, t0, t1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WarnContext(ctx, "render audio", "from", t0, "err", err)
			b = media.Silence(rate, max(1, tl.Format.Channels), int(m))
		}
		out := resample(b, int(n))
		out.First = written
		if err := s.out.Write(ctx, out); err != nil {
			return
		}
		written += n
		cur += m
	}
}

func (s *Scheduler) onTick() {
	if s.state != Playing {
		return
	}
	tl := s.snapshot()
	dur := tl.Duration()
	pos := s.clock()
	if pos >= dur {
		s.pos = dur
		s.halt()
		s.setPlayhead(dur)
		s.setState(Paused)
		s.events.Publish(s.event(EventEnded))
		return
	}
	s.setPlayhead(pos)

	cur := fps(tl).FrameIndex(pos)
	if s.ready != nil && s.ready.req.idx <= cur {
		s.present(s.ready.req.idx, s.ready.frame)
		s.ready = nil
	}
	if s.inflight != nil && s.inflight.idx < cur && s.inflight.counted < cur {
		// 错过呈现时刻，继续显示上一帧；等待期间越过的每一帧都计为丢帧
		from := max(s.inflight.idx, s.inflight.counted)
		s.inflight.missed = true
		s.inflight.counted = cur
		s.dropped.Add(cur - from)
		s.events.Publish(s.event(EventDropped))
	}
	if s.inflight == nil && s.ready == nil {
		next := cur
		if s.lastIdx >= cur {
			next = s.lastIdx + 1
		}
		s.request(tl, next)
	}
}

func (s *Scheduler) onResult(r frameResult) {
	if r.req.gen != s.gen {
		return
	}
	s.inflight = nil
	if r.err != nil {
		s.log.Warn("render frame", "frame", r.req.idx, "err", r.err)
		if s.state == Seeking {
			s.finishSeek()
		}
		return
	}

	switch s.state {
	case Seeking:
		s.present(r.req.idx, r.frame)
		s.finishSeek()
	case Playing:
		if r.req.missed {
			return
		}
		if r.req.idx <= fps(s.snapshot()).FrameIndex(s.clock()) {
			s.present(r.req.idx, r.frame)
			return
		}
		s.ready = &r
	default:
		s.present(r.req.idx, r.frame)
	}
}

func (s *Scheduler) finishSeek() {
	if s.resume == Playing {
		s.startPlaying(s.snapshot())
		return
	}
	s.setState(Paused)
}

// request 发起一帧渲染，同一时刻只有一个请求在进行
func (s *Scheduler) request(tl *timeline.Timeline, idx int64) {
	req := &request{gen: s.gen, idx: idx}
	s.inflight = req
	at := fps(tl).FrameTime(idx)
	ctx := s.runCtx
	go func() {
		f, err := s.render.RenderFrame(ctx, tl, at)
		select {
		case s.results <- frameResult{req: req, frame: f, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Scheduler) present(idx int64, f *media.Frame) {
	s.lastIdx = idx
	s.current.Store(&Presented{Index: idx, Frame: f})
	s.events.Publish(s.event(EventFrame))
}

func (s *Scheduler) setState(st State) {
	s.state = st
	s.stateV.Store(int32(st))
	s.events.Publish(s.event(EventState))
}

func (s *Scheduler) setPlayhead(t time.Duration) {
	s.playhead.Store(int64(t))
}

func (s *Scheduler) event(kind EventKind) Event {
	return Event{
		Kind:     kind,
		State:    s.state,
		Playhead: s.Playhead(),
		Frame:    s.lastIdx,
		Dropped:  s.dropped.Load(),
		Speed:    s.speed,
	}
}

func fps(tl *timeline.Timeline) media.Rational {
	if tl.Format.FrameRate.Valid() {
		return tl.Format.FrameRate
	}
	return media.FPS(30)
}

// resample 最近邻重采样到 n 个采样帧
func resample(b *media.AudioBlock, n int) *media.AudioBlock {
	m := b.Frames()
	if m == n {
		return b
	}
	ch := b.Channels()
	out := media.Silence(b.SampleRate(), ch, n)
	if m == 0 {
		return out
	}
	for i := range n {
		si := i * m / n
		copy(out.Data[i*ch:(i+1)*ch], b.Data[si*ch:(si+1)*ch])
	}
	return out
}
