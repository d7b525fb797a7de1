package project

import (
	"context"
	"errors"
	"image/color"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/edit"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/playback"
	"github.com/gowvp/cutline/internal/core/timeline"
)

type sources map[media.SourceID]media.Source

func (s sources) Lookup(id media.SourceID) (media.Source, bool) {
	v, ok := s[id]
	return v, ok
}

type memStore struct {
	mu    sync.Mutex
	docs  map[ID]Document
	saves int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[ID]Document)}
}

func (m *memStore) Save(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = *doc
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context, id ID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *memStore) List(context.Context) ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Project, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Project)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type fakeFrames struct {
	mu          sync.Mutex
	invalidated []timeline.SourceSpan
}

func (f *fakeFrames) Frame(context.Context, media.SourceID, time.Duration) (*media.Frame, error) {
	return media.SolidFrame(2, 2, color.RGBA{R: 200, A: 255}), nil
}

func (f *fakeFrames) Samples(_ context.Context, _ media.SourceID, first int64, n int) (*media.AudioBlock, error) {
	b := media.Silence(1000, 1, n)
	b.First = first
	return b, nil
}

func (f *fakeFrames) InvalidateRange(id media.SourceID, r timeline.Range) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, timeline.SourceSpan{Source: id, Range: r})
	return 1
}

func newCore(t *testing.T) (Core, *memStore, *fakeFrames) {
	t.Helper()
	return newCoreWith(t, sources{"v": {ID: "v", Duration: 10 * time.Second, HasVideo: true}})
}

func newCoreWith(t *testing.T, src sources) (Core, *memStore, *fakeFrames) {
	t.Helper()
	store := newMemStore()
	frames := &fakeFrames{}
	cfg := defaultEditor()
	cfg.Sequence = conf.EditorSequence{Width: 2, Height: 2, FPSNum: 10, FPSDen: 1, SampleRate: 1000, Channels: 1}
	c := NewCore(store, src, frames,
		WithConfig(cfg),
		WithPlaybackOptions(playback.WithTick(time.Millisecond)),
	)
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c, store, frames
}

func videoTrack(tl *timeline.Timeline) timeline.TrackID {
	return tl.TracksOf(timeline.KindVideo)[0].ID
}

func insertCmd(tl *timeline.Timeline) edit.Command {
	return edit.NewInsert(videoTrack(tl), timeline.Clip{SourceID: "v", SourceOut: 2 * time.Second, Duration: 2 * time.Second})
}

func TestCreateDefaultTracks(t *testing.T) {
	c, store, _ := newCore(t)
	s, err := c.Create(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	tl, _ := s.Snapshot("")
	if len(tl.TracksOf(timeline.KindVideo)) != 3 || len(tl.TracksOf(timeline.KindAudio)) != 3 {
		t.Fatal("expect V1..V3 and A1..A3")
	}
	names := make([]string, 0, 6)
	for _, tr := range tl.Tracks() {
		names = append(names, tr.Name)
	}
	if !reflect.DeepEqual(names, []string{"V1", "V2", "V3", "A1", "A2", "A3"}) {
		t.Fatal(names)
	}
	if store.count() != 1 {
		t.Fatal("new project must be persisted")
	}
	if got, ok := c.Get(s.ID()); !ok || got != s {
		t.Fatal("session not registered")
	}
}

func TestApplyPublishesSnapshot(t *testing.T) {
	c, store, frames := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	events, cancel := s.Subscribe(16)
	defer cancel()

	before, _ := s.Snapshot("")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}
	after, _ := s.Snapshot("")
	if before.ClipCount() != 0 || after.ClipCount() != 1 {
		t.Fatal("published snapshot must be a separate copy", before.ClipCount(), after.ClipCount())
	}
	if after.Duration() != 2*time.Second {
		t.Fatal(after.Duration())
	}

	e := <-events
	if e.Kind != EventChange || e.Command != "insert_clip" || e.Timeline != after.ID {
		t.Fatalf("%+v", e)
	}
	if store.count() != 2 {
		t.Fatal("expect autosave", store.count())
	}

	// 撤销插入即删除片段，对应素材区间失效
	if _, err := s.Undo(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if snap, _ := s.Snapshot(""); snap.ClipCount() != 0 {
		t.Fatal("undo must restore empty timeline")
	}
	frames.mu.Lock()
	n := len(frames.invalidated)
	frames.mu.Unlock()
	if n != 1 {
		t.Fatal(n)
	}
	info, _ := s.History("")
	if info.CanUndo || !info.CanRedo {
		t.Fatalf("%+v", info)
	}
	if _, err := s.Redo(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Redo(ctx, ""); !errors.Is(err, edit.ErrEmptyHistory) {
		t.Fatal(err)
	}
}

func TestInvalidCommandKeepsState(t *testing.T) {
	c, store, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	saves := store.count()

	_, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) {
		return edit.NewInsert(videoTrack(tl), timeline.Clip{SourceID: "v", SourceOut: 20 * time.Second, Duration: 20 * time.Second}), nil
	})
	if !errors.Is(err, timeline.ErrOutOfBounds) {
		t.Fatal(err)
	}
	if store.count() != saves {
		t.Fatal("failed edit must not be saved")
	}
	if info, _ := s.History(""); info.CanUndo {
		t.Fatal("failed edit must not enter history")
	}
}

// blockingSink 第一帧写入时阻塞，直到 release
type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	frames  int
}

func (b *blockingSink) Start(context.Context, export.Settings) error { return nil }

func (b *blockingSink) WriteVideoFrame(ctx context.Context, _ int64, _ *media.Frame) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.frames++
	return nil
}

func (b *blockingSink) WriteAudioBlock(context.Context, *media.AudioBlock) error { return nil }
func (b *blockingSink) Finish(context.Context) error                             { return nil }
func (b *blockingSink) Discard() error                                           { return nil }

func TestExportIsExclusive(t *testing.T) {
	c, _, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}

	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	errc := make(chan error, 1)
	go func() {
		errc <- s.Export(ctx, "", timeline.Range{}, media.Rational{}, sink)
	}()
	<-sink.started

	if !s.Exporting() {
		t.Fatal("expect exporting")
	}
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); !errors.Is(err, ErrBusy) {
		t.Fatal(err)
	}
	if _, err := s.Undo(ctx, ""); !errors.Is(err, ErrBusy) {
		t.Fatal(err)
	}
	if err := s.Export(ctx, "", timeline.Range{}, media.Rational{}, &blockingSink{}); !errors.Is(err, ErrBusy) {
		t.Fatal(err)
	}

	close(sink.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	// 整条时间线 2s，10fps
	if sink.frames != 20 {
		t.Fatal(sink.frames)
	}
	if _, err := s.Undo(ctx, ""); err != nil {
		t.Fatal("edits allowed after export", err)
	}
}

func TestBeginExportClaimsImmediately(t *testing.T) {
	c, _, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}

	job, err := s.BeginExport("")
	if err != nil {
		t.Fatal(err)
	}
	// 导出尚未开始渲染，编辑已被拒绝
	if !s.Exporting() {
		t.Fatal("expect exporting")
	}
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); !errors.Is(err, ErrBusy) {
		t.Fatal(err)
	}
	if _, err := s.BeginExport(""); !errors.Is(err, ErrBusy) {
		t.Fatal(err)
	}
	if job.Timeline().Duration() != 2*time.Second {
		t.Fatal(job.Timeline().Duration())
	}

	job.Release()
	job.Release()
	if s.Exporting() {
		t.Fatal("release must end the claim")
	}
	if _, err := s.Undo(ctx, ""); err != nil {
		t.Fatal(err)
	}

	job, err = s.BeginExport("")
	if err != nil {
		t.Fatal(err)
	}
	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	close(sink.release)
	// 撤销后时间线为空，导出区间需显式给出
	if err := job.Run(ctx, timeline.Range{End: time.Second}, media.FPS(10), sink); err != nil {
		t.Fatal(err)
	}
	if s.Exporting() || sink.frames != 10 {
		t.Fatal(s.Exporting(), sink.frames)
	}
}

func TestReopenWithoutSource(t *testing.T) {
	src := sources{"v": {ID: "v", Duration: 10 * time.Second, HasVideo: true}}
	c, _, _ := newCoreWith(t, src)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}
	want := s.Document()
	if err := c.Close(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}

	// 素材文件被删除后项目仍可打开，片段保留
	delete(src, "v")
	s2, err := c.Open(ctx, want.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Document(); !reflect.DeepEqual(got.Timelines, want.Timelines) {
		t.Fatal("reopened document differs")
	}
	// 引用缺失素材的新片段仍被拒绝
	_, err = s2.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) {
		return edit.NewInsert(videoTrack(tl), timeline.Clip{SourceID: "v", SourceOut: time.Second, Start: 5 * time.Second, Duration: time.Second}), nil
	})
	if !errors.Is(err, timeline.ErrNotFound) {
		t.Fatal(err)
	}
}

func TestReopenRestoresDocument(t *testing.T) {
	c, _, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}
	want := s.Document()
	if err := c.Close(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(s.ID()); ok {
		t.Fatal("closed session still registered")
	}
	if _, err := s.Undo(ctx, ""); !errors.Is(err, ErrClosed) {
		t.Fatal(err)
	}

	s2, err := c.Open(ctx, want.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := s2.Document()
	if !reflect.DeepEqual(got.Timelines, want.Timelines) || got.Active != want.Active {
		t.Fatal("reopened document differs")
	}
	// 撤销栈不持久化
	if info, _ := s2.History(""); info.CanUndo {
		t.Fatal("history must start empty")
	}

	if _, err := c.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}
}

func TestTimelines(t *testing.T) {
	c, _, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	first := s.Active()

	tl, err := s.AddTimeline(ctx, "B", c.DefaultFormat())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Timelines()) != 2 || s.Active() != first {
		t.Fatal("add must not change the active timeline")
	}
	if err := s.SetActive(ctx, tl.ID); err != nil || s.Active() != tl.ID {
		t.Fatal(err)
	}
	if _, err := s.AddTimeline(ctx, "bad", timeline.Format{}); !errors.Is(err, timeline.ErrInvalid) {
		t.Fatal(err)
	}

	if err := s.RemoveTimeline(ctx, tl.ID); err != nil {
		t.Fatal(err)
	}
	if s.Active() != first {
		t.Fatal("removing the active timeline falls back to the first")
	}
	if err := s.RemoveTimeline(ctx, first); !errors.Is(err, ErrLastTimeline) {
		t.Fatal(err)
	}
	if _, err := s.Snapshot(tl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}
}

func TestPlaybackFollowsEdits(t *testing.T) {
	c, _, _ := newCore(t)
	ctx := context.Background()
	s, _ := c.Create(ctx, "demo")
	if _, err := s.Do(ctx, "", func(tl *timeline.Timeline) (edit.Command, error) { return insertCmd(tl), nil }); err != nil {
		t.Fatal(err)
	}

	p := s.Player()
	if err := p.Seek(ctx, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.State() != playback.Paused {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for paused")
		}
		time.Sleep(time.Millisecond)
	}
	cur := p.Current()
	if cur == nil || cur.Index != 5 || cur.Frame.At(0, 0).R != 200 {
		t.Fatalf("%+v", cur)
	}
}
