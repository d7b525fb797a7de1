// Package project 项目会话，串行化编辑并向播放与导出发布时间线快照
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/compositor"
	"github.com/gowvp/cutline/internal/core/effect"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/playback"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/reason"
)

// Storer data persistence
type Storer interface {
	Save(ctx context.Context, doc *Document) error
	// Load 不存在时返回 ErrNotFound
	Load(ctx context.Context, id ID) (*Document, error)
	List(ctx context.Context) ([]Project, error)
	Delete(ctx context.Context, id ID) error
}

// Frames 帧缓存，编辑后按素材区间失效
type Frames interface {
	compositor.Frames
	InvalidateRange(id media.SourceID, r timeline.Range) int
}

// Core business domain
type Core struct {
	store     Storer
	sources   timeline.SourceLookup
	frames    Frames
	effects   *effect.Registry
	preview   *compositor.Compositor
	exporter  *export.Exporter
	cfg       conf.Editor
	playOpts  []playback.Option
	newOutput func() playback.AudioOutput
	sessions  *conc.Map[ID, *Session]
	log       *slog.Logger
}

type Option func(*Core)

// WithConfig 注入编辑器配置
func WithConfig(cfg conf.Editor) Option {
	return func(c *Core) {
		c.cfg = cfg
	}
}

func WithEffects(r *effect.Registry) Option {
	return func(c *Core) {
		c.effects = r
	}
}

// WithPlaybackOptions 每个会话的播放调度器参数
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(c *Core) {
		c.playOpts = append(c.playOpts, opts...)
	}
}

// WithAudioOutput 为每个会话创建音频输出，缺省按墙上时钟
func WithAudioOutput(fn func() playback.AudioOutput) Option {
	return func(c *Core) {
		c.newOutput = fn
	}
}

// NewCore create business domain
func NewCore(store Storer, sources timeline.SourceLookup, frames Frames, opts ...Option) Core {
	c := Core{
		store:    store,
		sources:  sources,
		frames:   frames,
		cfg:      defaultEditor(),
		sessions: conc.NewMap[ID, *Session](),
		log:      slog.With("component", "project"),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.effects == nil {
		c.effects = effect.NewRegistry()
	}
	c.preview = compositor.New(frames, compositor.WithEffects(c.effects))
	c.exporter = export.New(c.preview.Strict(), export.WithProgressInterval(c.cfg.Export.ProgressEvery.Duration()))
	return c
}

func defaultEditor() conf.Editor {
	return conf.Editor{
		HistoryDepth: 500,
		Autosave:     true,
		Playback: conf.EditorPlayback{
			AudioBlock: conf.Duration(20 * time.Millisecond),
			AudioLead:  conf.Duration(120 * time.Millisecond),
			MaxSpeed:   8,
		},
		Sequence: conf.EditorSequence{Width: 1920, Height: 1080, FPSNum: 30, FPSDen: 1, SampleRate: 48000, Channels: 2},
		Export:   conf.EditorExport{ProgressEvery: conf.Duration(200 * time.Millisecond)},
	}
}

// DefaultFormat 新建时间线的格式
func (c Core) DefaultFormat() timeline.Format {
	s := c.cfg.Sequence
	rate := media.Rational{Num: s.FPSNum, Den: s.FPSDen}
	if !rate.Valid() {
		rate = media.FPS(30)
	}
	return timeline.Format{Width: s.Width, Height: s.Height, FrameRate: rate, SampleRate: s.SampleRate, Channels: s.Channels}
}

// Preview 预览合成器
func (c Core) Preview() *compositor.Compositor {
	return c.preview
}

func (c Core) Effects() *effect.Registry {
	return c.effects
}

// Create 新建项目，带一条 V1..V3/A1..A3 的时间线
func (c Core) Create(ctx context.Context, name string) (*Session, error) {
	now := time.Now()
	p := Project{ID: ID(uuid.NewString()), Name: name, CreatedAt: now, UpdatedAt: now}
	tl := timeline.New("", "Sequence 1", c.DefaultFormat(), c.sources)
	tl.AddDefaultTracks(3, 3)

	s := c.newSession(p, []*timeline.Timeline{tl}, tl.ID)
	if err := s.Save(ctx); err != nil {
		s.close()
		return nil, err
	}
	c.sessions.Store(p.ID, s)
	c.log.InfoContext(ctx, "project created", "id", p.ID, "name", name)
	return s, nil
}

// Open 返回已打开的会话，否则从存储加载
func (c Core) Open(ctx context.Context, id ID) (*Session, error) {
	if s, ok := c.sessions.Load(id); ok {
		return s, nil
	}
	doc, err := c.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, reason.ErrDB.Withf(`Load id[%s] err[%s]`, id, err.Error())
	}

	tls := make([]*timeline.Timeline, 0, len(doc.Timelines))
	for _, td := range doc.Timelines {
		tl, err := timeline.FromDocument(td, c.sources)
		if err != nil {
			return nil, err
		}
		tls = append(tls, tl)
	}
	if len(tls) == 0 {
		tl := timeline.New("", "Sequence 1", c.DefaultFormat(), c.sources)
		tl.AddDefaultTracks(3, 3)
		tls = append(tls, tl)
	}

	s := c.newSession(doc.Project, tls, doc.Active)
	if v, loaded := c.sessions.LoadOrStore(id, s); loaded {
		s.close()
		return v, nil
	}
	c.log.InfoContext(ctx, "project opened", "id", id, "timelines", len(tls))
	return s, nil
}

// Get 已打开的会话
func (c Core) Get(id ID) (*Session, bool) {
	return c.sessions.Load(id)
}

// List 存储中的全部项目
func (c Core) List(ctx context.Context) ([]Project, error) {
	out, err := c.store.List(ctx)
	if err != nil {
		return nil, reason.ErrDB.Withf(`List err[%s]`, err.Error())
	}
	return out, nil
}

// Sessions 已打开的会话 id
func (c Core) Sessions() []ID {
	out := make([]ID, 0, 8)
	c.sessions.Range(func(id ID, _ *Session) bool {
		out = append(out, id)
		return true
	})
	slices.Sort(out)
	return out
}

// Close 保存并关闭会话
func (c Core) Close(ctx context.Context, id ID) error {
	s, ok := c.sessions.Load(id)
	if !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	c.sessions.Delete(id)
	err := s.Save(ctx)
	s.close()
	return err
}

// Delete 关闭并删除项目
func (c Core) Delete(ctx context.Context, id ID) error {
	if s, ok := c.sessions.Load(id); ok {
		c.sessions.Delete(id)
		s.close()
	}
	if err := c.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return reason.ErrDB.Withf(`Delete id[%s] err[%s]`, id, err.Error())
	}
	return nil
}

// Shutdown 保存并关闭全部会话
func (c Core) Shutdown(ctx context.Context) {
	for _, id := range c.Sessions() {
		if err := c.Close(ctx, id); err != nil {
			c.log.ErrorContext(ctx, "close project", "id", id, "err", err)
		}
	}
}

func (c Core) newSession(p Project, tls []*timeline.Timeline, active timeline.TimelineID) *Session {
	s := Session{
		project:   p,
		store:     c.store,
		frames:    c.frames,
		sources:   c.sources,
		exporter:  c.exporter,
		autosave:  c.cfg.Autosave,
		depth:     c.cfg.HistoryDepth,
		timelines: make(map[timeline.TimelineID]*sequence, len(tls)),
		log:       c.log.With("project", p.ID),
		done:      make(chan struct{}),
	}
	for _, tl := range tls {
		s.addSequence(tl)
	}
	seq, ok := s.timelines[active]
	if !ok {
		seq = s.timelines[tls[0].ID]
	}
	s.active.Store(seq)

	opts := []playback.Option{
		playback.WithAudioBlock(c.cfg.Playback.AudioBlock.Duration()),
		playback.WithMaxSpeed(c.cfg.Playback.MaxSpeed),
	}
	if c.newOutput != nil {
		opts = append(opts, playback.WithAudioOutput(c.newOutput()))
	} else {
		opts = append(opts, playback.WithAudioOutput(playback.NewClockOutput(c.cfg.Playback.AudioLead.Duration())))
	}
	opts = append(opts, c.playOpts...)
	s.player = playback.New(c.preview, s.activeSnapshot, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = s.player.Run(ctx)
	}()
	return &s
}
