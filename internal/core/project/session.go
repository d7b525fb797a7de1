package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/cutline/internal/core/edit"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/playback"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/gowvp/cutline/pkg/pubsub"
)

// sequence 一条时间线及其撤销栈
//
// tl 只在 editMu 下访问，渲染方读取 snap 中发布的克隆。
type sequence struct {
	tl   *timeline.Timeline
	hist *edit.History
	snap atomic.Pointer[timeline.Timeline]
}

func (q *sequence) publish() {
	q.snap.Store(q.tl.Clone())
}

// CommandFunc 在编辑锁内根据当前时间线构造命令
type CommandFunc func(tl *timeline.Timeline) (edit.Command, error)

// Session 打开的项目
type Session struct {
	store    Storer
	frames   Frames
	sources  timeline.SourceLookup
	exporter *export.Exporter
	autosave bool
	depth    int
	log      *slog.Logger

	editMu    sync.Mutex
	project   Project
	timelines map[timeline.TimelineID]*sequence
	order     []timeline.TimelineID
	active    atomic.Pointer[sequence]
	exporting atomic.Bool

	player *playback.Scheduler
	events pubsub.Hub[Event]
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

func (s *Session) addSequence(tl *timeline.Timeline) *sequence {
	q := &sequence{tl: tl, hist: edit.NewHistory(s.depth)}
	q.publish()
	s.timelines[tl.ID] = q
	s.order = append(s.order, tl.ID)
	return q
}

func (s *Session) ID() ID {
	return s.project.ID
}

// Project 项目元数据
func (s *Session) Project() Project {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	return s.project
}

// Player 会话的播放调度器
func (s *Session) Player() *playback.Scheduler {
	return s.player
}

// Subscribe 订阅编辑与导出事件
func (s *Session) Subscribe(buf int) (<-chan Event, func()) {
	return s.events.Subscribe(buf)
}

// Exporting 是否有导出进行中
func (s *Session) Exporting() bool {
	return s.exporting.Load()
}

func (s *Session) activeSnapshot() *timeline.Timeline {
	return s.active.Load().snap.Load()
}

// Active 当前播放的时间线 id
func (s *Session) Active() timeline.TimelineID {
	return s.active.Load().snap.Load().ID
}

// Snapshot 时间线的不可变快照，id 为空时返回当前播放的时间线
func (s *Session) Snapshot(id timeline.TimelineID) (*timeline.Timeline, error) {
	if id == "" {
		return s.activeSnapshot(), nil
	}
	s.editMu.Lock()
	q, ok := s.timelines[id]
	s.editMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("timeline %s: %w", id, ErrNotFound)
	}
	return q.snap.Load(), nil
}

// Timelines 全部时间线快照，按创建顺序
func (s *Session) Timelines() []*timeline.Timeline {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	out := make([]*timeline.Timeline, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.timelines[id].snap.Load())
	}
	return out
}

// History 撤销栈概要
func (s *Session) History(id timeline.TimelineID) (HistoryInfo, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	q, err := s.sequence(id)
	if err != nil {
		return HistoryInfo{}, err
	}
	return HistoryInfo{Undo: q.hist.Names(), CanUndo: q.hist.CanUndo(), CanRedo: q.hist.CanRedo()}, nil
}

// sequence 调用方需持有 editMu
func (s *Session) sequence(id timeline.TimelineID) (*sequence, error) {
	if id == "" {
		return s.active.Load(), nil
	}
	q, ok := s.timelines[id]
	if !ok {
		return nil, fmt.Errorf("timeline %s: %w", id, ErrNotFound)
	}
	return q, nil
}

// lock 获取编辑锁，导出进行中时返回 ErrBusy
func (s *Session) lock() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.editMu.Lock()
	if s.exporting.Load() {
		s.editMu.Unlock()
		return ErrBusy
	}
	return nil
}

// Apply 执行命令并记入撤销栈
func (s *Session) Apply(ctx context.Context, id timeline.TimelineID, cmd edit.Command) ([]timeline.Change, error) {
	return s.Do(ctx, id, func(*timeline.Timeline) (edit.Command, error) { return cmd, nil })
}

// Do 在编辑锁内构造并执行命令，构造函数可读取当前时间线
func (s *Session) Do(ctx context.Context, id timeline.TimelineID, fn CommandFunc) ([]timeline.Change, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.editMu.Unlock()

	q, err := s.sequence(id)
	if err != nil {
		return nil, err
	}
	cmd, err := fn(q.tl)
	if err != nil {
		return nil, err
	}
	changes, err := q.hist.Apply(q.tl, cmd)
	if err != nil {
		return nil, err
	}
	s.commit(ctx, q, Event{Kind: EventChange, Command: cmd.Name(), Changes: changes})
	return changes, nil
}

// Undo 撤销最近一次编辑
func (s *Session) Undo(ctx context.Context, id timeline.TimelineID) ([]timeline.Change, error) {
	return s.step(ctx, id, EventUndo, (*edit.History).Undo)
}

// Redo 重做最近一次撤销
func (s *Session) Redo(ctx context.Context, id timeline.TimelineID) ([]timeline.Change, error) {
	return s.step(ctx, id, EventRedo, (*edit.History).Redo)
}

func (s *Session) step(ctx context.Context, id timeline.TimelineID, kind EventKind, fn func(*edit.History, *timeline.Timeline) ([]timeline.Change, error)) ([]timeline.Change, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.editMu.Unlock()

	q, err := s.sequence(id)
	if err != nil {
		return nil, err
	}
	changes, err := fn(q.hist, q.tl)
	if err != nil {
		return nil, err
	}
	s.commit(ctx, q, Event{Kind: kind, Changes: changes})
	return changes, nil
}

// commit 失效缓存、发布快照、广播并自动保存，调用方持有 editMu
func (s *Session) commit(ctx context.Context, q *sequence, e Event) {
	for _, c := range e.Changes {
		for _, span := range c.Sources {
			s.frames.InvalidateRange(span.Source, span.Range)
		}
	}
	q.publish()
	s.project.UpdatedAt = time.Now()

	e.Timeline = q.tl.ID
	s.events.Publish(e)

	if s.active.Load() == q {
		if err := s.player.Refresh(ctx); err != nil && !errors.Is(err, playback.ErrClosed) {
			s.log.WarnContext(ctx, "refresh playback", "err", err)
		}
	}
	if s.autosave {
		if err := s.save(ctx); err != nil {
			s.log.ErrorContext(ctx, "autosave", "err", err)
		}
	}
}

// AddTimeline 新建一条带默认轨道的时间线，不记入撤销栈
func (s *Session) AddTimeline(ctx context.Context, name string, f timeline.Format) (*timeline.Timeline, error) {
	if !f.FrameRate.Valid() || f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("timeline format %+v: %w", f, timeline.ErrInvalid)
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.editMu.Unlock()

	tl := timeline.New("", name, f, s.sources)
	tl.AddDefaultTracks(3, 3)
	q := s.addSequence(tl)
	s.events.Publish(Event{Kind: EventTimeline, Timeline: tl.ID, Command: "add_timeline"})
	if s.autosave {
		if err := s.save(ctx); err != nil {
			s.log.ErrorContext(ctx, "autosave", "err", err)
		}
	}
	return q.snap.Load(), nil
}

// RemoveTimeline 删除时间线，最后一条不可删除
func (s *Session) RemoveTimeline(ctx context.Context, id timeline.TimelineID) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.editMu.Unlock()

	q, ok := s.timelines[id]
	if !ok {
		return fmt.Errorf("timeline %s: %w", id, ErrNotFound)
	}
	if len(s.order) == 1 {
		return ErrLastTimeline
	}
	delete(s.timelines, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active.Load() == q {
		s.active.Store(s.timelines[s.order[0]])
		if err := s.player.Stop(ctx); err != nil && !errors.Is(err, playback.ErrClosed) {
			s.log.WarnContext(ctx, "stop playback", "err", err)
		}
	}
	s.events.Publish(Event{Kind: EventTimeline, Timeline: id, Command: "remove_timeline"})
	if s.autosave {
		if err := s.save(ctx); err != nil {
			s.log.ErrorContext(ctx, "autosave", "err", err)
		}
	}
	return nil
}

// SetActive 切换播放的时间线，播放器回到停止状态
func (s *Session) SetActive(ctx context.Context, id timeline.TimelineID) error {
	s.editMu.Lock()
	q, ok := s.timelines[id]
	if ok && s.active.Load() != q {
		s.active.Store(q)
	} else {
		q = nil
	}
	s.editMu.Unlock()
	if !ok {
		return fmt.Errorf("timeline %s: %w", id, ErrNotFound)
	}
	if q == nil {
		return nil
	}
	s.events.Publish(Event{Kind: EventTimeline, Timeline: id, Command: "set_active"})
	return s.player.Stop(ctx)
}

// Export 独占导出，期间拒绝编辑与其他导出；rate 无效时使用时间线帧率
func (s *Session) Export(ctx context.Context, id timeline.TimelineID, r timeline.Range, rate media.Rational, sink export.Sink) error {
	job, err := s.BeginExport(id)
	if err != nil {
		return err
	}
	return job.Run(ctx, r, rate, sink)
}

// BeginExport 同步占用导出权并固定时间线快照，返回后编辑即被拒绝
//
// 调用方必须执行 Run 或 Release 释放占用。
func (s *Session) BeginExport(id timeline.TimelineID) (*ExportJob, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.editMu.Lock()
	defer s.editMu.Unlock()
	q, err := s.sequence(id)
	if err != nil {
		return nil, err
	}
	if !s.exporting.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return &ExportJob{s: s, tl: q.snap.Load()}, nil
}

// ExportJob 已占用导出权的导出任务
type ExportJob struct {
	s    *Session
	tl   *timeline.Timeline
	once sync.Once
}

// Timeline 导出使用的快照
func (j *ExportJob) Timeline() *timeline.Timeline { return j.tl }

// Release 释放导出权，可重复调用
func (j *ExportJob) Release() {
	j.once.Do(func() { j.s.exporting.Store(false) })
}

// Run 执行导出，结束后释放导出权；零值区间表示整条时间线
func (j *ExportJob) Run(ctx context.Context, r timeline.Range, rate media.Rational, sink export.Sink) error {
	defer j.Release()
	s, tl := j.s, j.tl
	if r == (timeline.Range{}) {
		r = timeline.Range{End: tl.Duration()}
	}
	if !rate.Valid() {
		rate = tl.Format.FrameRate
	}

	s.events.Publish(Event{Kind: EventExport, Timeline: tl.ID, Progress: &export.Progress{}})
	err := s.exporter.Export(ctx, tl, r, rate, sink, func(p export.Progress) {
		s.events.Publish(Event{Kind: EventExport, Timeline: tl.ID, Progress: &p})
	})
	if err != nil {
		s.events.Publish(Event{Kind: EventExport, Timeline: tl.ID, Error: err.Error()})
	}
	return err
}

// Document 当前状态的持久化结构
func (s *Session) Document() *Document {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	return s.document()
}

func (s *Session) document() *Document {
	doc := Document{
		Project:   s.project,
		Active:    s.active.Load().tl.ID,
		Timelines: make([]timeline.Document, 0, len(s.order)),
	}
	for _, id := range s.order {
		doc.Timelines = append(doc.Timelines, s.timelines[id].tl.ToDocument())
	}
	return &doc
}

// Save 写入存储
func (s *Session) Save(ctx context.Context) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	return s.save(ctx)
}

func (s *Session) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.document()); err != nil {
		return fmt.Errorf("save project %s: %w", s.project.ID, err)
	}
	s.events.Publish(Event{Kind: EventSaved})
	return nil
}

// Rename 修改项目名称
func (s *Session) Rename(ctx context.Context, name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.editMu.Unlock()
	s.project.Name = name
	s.project.UpdatedAt = time.Now()
	return s.save(ctx)
}

func (s *Session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	<-s.done
	s.events.Close()
}
