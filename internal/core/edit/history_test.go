package edit

import (
	"errors"
	"math/rand/v2"
	"reflect"
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

const sec = time.Second

func newTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	src := sources{
		"cam":   {ID: "cam", Duration: 10 * sec, HasVideo: true, FrameRate: media.FPS(25)},
		"music": {ID: "music", Duration: 60 * sec, HasAudio: true, SampleRate: 48000, Channels: 2},
	}
	tl := timeline.New("t", "main", timeline.Format{Width: 16, Height: 9, FrameRate: media.FPS(25), SampleRate: 48000, Channels: 2}, src)
	if _, _, err := tl.AddTrack(timeline.NewTrack("V1", timeline.KindVideo, "V1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tl.AddTrack(timeline.NewTrack("A1", timeline.KindAudio, "A1")); err != nil {
		t.Fatal(err)
	}
	return tl
}

func TestInsertUndoRedoScenario(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	empty := tl.ToDocument()

	cmd := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceIn: 2 * sec, SourceOut: 7 * sec, Start: 0, Duration: 5 * sec})
	if _, err := h.Apply(tl, cmd); err != nil {
		t.Fatal(err)
	}
	inserted := tl.ToDocument()

	if _, err := h.Undo(tl); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(empty, tl.ToDocument()) {
		t.Fatal("undo must remove the clip")
	}
	if _, err := h.Redo(tl); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(inserted, tl.ToDocument()) {
		t.Fatal("redo must restore the clip identically")
	}
	c, _, ok := tl.Clip(cmd.Clip.ID)
	if !ok || c.SourceIn != 2*sec || c.SourceOut != 7*sec {
		t.Fatal(c)
	}
}

func TestInvalidApplyKeepsHistory(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	for _, start := range []time.Duration{0, 5 * sec} {
		c := timeline.Clip{SourceID: "cam", SourceOut: 5 * sec, Start: start, Duration: 5 * sec}
		if _, err := h.Apply(tl, NewInsert("V1", c)); err != nil {
			t.Fatal(err)
		}
	}
	before := tl.ToDocument()
	undo, redo := h.Len()

	bad := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: 4 * sec, Start: 3 * sec, Duration: 4 * sec})
	_, err := h.Apply(tl, bad)
	var pe *timeline.PlacementError
	if !errors.As(err, &pe) {
		t.Fatalf("expect placement error, got %v", err)
	}
	if !reflect.DeepEqual(before, tl.ToDocument()) {
		t.Fatal("timeline changed")
	}
	if u, r := h.Len(); u != undo || r != redo {
		t.Fatal("history changed")
	}
}

func TestEmptyHistory(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	if _, err := h.Undo(tl); !errors.Is(err, ErrEmptyHistory) {
		t.Fatal(err)
	}
	if _, err := h.Redo(tl); !errors.Is(err, ErrEmptyHistory) {
		t.Fatal(err)
	}
}

func TestApplyClearsRedo(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	_, _ = h.Apply(tl, NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: sec, Duration: sec}))
	_, _ = h.Undo(tl)
	if !h.CanRedo() {
		t.Fatal("expect redo")
	}
	_, _ = h.Apply(tl, NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: sec, Start: 2 * sec, Duration: sec}))
	if h.CanRedo() {
		t.Fatal("new apply must clear redo")
	}
}

func TestHistoryDepth(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(3)
	for i := range 5 {
		c := timeline.Clip{SourceID: "cam", SourceOut: sec, Start: time.Duration(i) * sec, Duration: sec}
		if _, err := h.Apply(tl, NewInsert("V1", c)); err != nil {
			t.Fatal(err)
		}
	}
	if u, _ := h.Len(); u != 3 {
		t.Fatal(u)
	}
}

func TestSplitAndJoin(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	ins := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceIn: sec, SourceOut: 9 * sec, Start: 2 * sec, Duration: 8 * sec})
	_, _ = h.Apply(tl, ins)
	before := tl.ToDocument()

	split, err := NewSplit(tl, ins.Clip.ID, 5*sec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(tl, split); err != nil {
		t.Fatal(err)
	}
	left, _, _ := tl.Clip(ins.Clip.ID)
	right, _, _ := tl.Clip(split.Right.ID)
	if left.End() != 5*sec || left.SourceOut != 4*sec {
		t.Fatal("left", left)
	}
	if right.Start != 5*sec || right.SourceIn != 4*sec || right.SourceOut != 9*sec || right.End() != 10*sec {
		t.Fatal("right", right)
	}
	if _, err := h.Undo(tl); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, tl.ToDocument()) {
		t.Fatal("join mismatch")
	}
	if _, err := NewSplit(tl, ins.Clip.ID, 2*sec); !errors.Is(err, timeline.ErrOutOfBounds) {
		t.Fatal("split at clip start must fail")
	}
}

func TestStaleCommand(t *testing.T) {
	tl := newTimeline(t)
	ins := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: 4 * sec, Duration: 4 * sec})
	_, _ = ins.Apply(tl)
	trim, _ := NewTrimTail(tl, ins.Clip.ID, -sec)
	move, _ := NewMove(tl, ins.Clip.ID, "", 2*sec)
	if _, err := move.Apply(tl); err != nil {
		t.Fatal(err)
	}
	before := tl.ToDocument()
	if _, err := trim.Apply(tl); !errors.Is(err, ErrStale) {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, tl.ToDocument()) {
		t.Fatal("stale apply changed timeline")
	}
}

func TestBatchAtomicAndCoalesce(t *testing.T) {
	tl := newTimeline(t)
	ins := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: 4 * sec, Duration: 4 * sec})
	_, _ = ins.Apply(tl)

	probe := tl.Clone()
	t1, _ := NewTrimTail(probe, ins.Clip.ID, sec)
	_, _ = t1.Apply(probe)
	t2, _ := NewTrimTail(probe, ins.Clip.ID, sec)
	b := NewBatch("drag", t1, t2)
	if len(b.Commands) != 1 {
		t.Fatal("trims must coalesce", len(b.Commands))
	}
	if _, err := b.Apply(tl); err != nil {
		t.Fatal(err)
	}
	c, _, _ := tl.Clip(ins.Clip.ID)
	if c.Duration != 6*sec || c.SourceOut != 6*sec {
		t.Fatal(c)
	}

	before := tl.ToDocument()
	bad := NewBatch("bad",
		NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: sec, Start: 7 * sec, Duration: sec}),
		NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: sec, Start: 0, Duration: sec}),
	)
	if _, err := bad.Apply(tl); !errors.Is(err, timeline.ErrOverlap) {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, tl.ToDocument()) {
		t.Fatal("failed batch must leave timeline unchanged")
	}
}

func TestEffectParamInverse(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	ins := NewInsert("V1", timeline.Clip{SourceID: "cam", SourceOut: 4 * sec, Duration: 4 * sec})
	_, _ = h.Apply(tl, ins)
	add, _ := NewAddEffect(tl, ins.Clip.ID, -1, timeline.EffectRef{Name: "brightness"})
	_, _ = h.Apply(tl, add)
	before := tl.ToDocument()

	set, err := NewSetEffectParam(tl, ins.Clip.ID, add.Ref.ID, "amount", 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(tl, set); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Undo(tl); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, tl.ToDocument()) {
		t.Fatal("param must be removed again")
	}
}

func TestInsertWithEffects(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	ins := NewInsert("V1", timeline.Clip{
		SourceID: "cam", SourceOut: 4 * sec, Duration: 4 * sec,
		Effects: []timeline.EffectRef{{Name: "invert"}, {Name: "brightness"}},
	})
	id := ins.Clip.Effects[1].ID
	if id == "" || id == ins.Clip.Effects[0].ID {
		t.Fatalf("effects need distinct ids: %+v", ins.Clip.Effects)
	}
	if _, err := h.Apply(tl, ins); err != nil {
		t.Fatal(err)
	}
	inserted := tl.ToDocument()
	_, _ = h.Undo(tl)
	if _, err := h.Redo(tl); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(inserted, tl.ToDocument()) {
		t.Fatal("redo must restore the same effect ids")
	}
	set, err := NewSetEffectParam(tl, ins.Clip.ID, id, "amount", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(tl, set); err != nil {
		t.Fatal(err)
	}

	dup := NewInsert("V1", timeline.Clip{
		SourceID: "cam", SourceOut: 2 * sec, Start: 5 * sec, Duration: 2 * sec,
		Effects: []timeline.EffectRef{{ID: "fx", Name: "invert"}, {ID: "fx", Name: "invert"}},
	})
	if _, err := h.Apply(tl, dup); !errors.Is(err, timeline.ErrDuplicate) {
		t.Fatalf("want duplicate got %v", err)
	}
}

// randomCommand 基于当前状态随机构造命令，可能是非法命令
func randomCommand(r *rand.Rand, tl *timeline.Timeline) Command {
	var clips []timeline.Clip
	for _, tr := range tl.Tracks() {
		clips = append(clips, tr.Clips()...)
	}
	tracks := tl.Tracks()
	pick := func() (timeline.Clip, bool) {
		if len(clips) == 0 {
			return timeline.Clip{}, false
		}
		return clips[r.IntN(len(clips))], true
	}
	dur := func(max int) time.Duration {
		return time.Duration(r.IntN(max*4)+1) * 250 * time.Millisecond
	}

	switch r.IntN(11) {
	case 0, 1, 2:
		tr := tracks[r.IntN(len(tracks))]
		src := media.SourceID("cam")
		if tr.Kind == timeline.KindAudio {
			src = "music"
		}
		in := dur(3)
		d := dur(4)
		return NewInsert(tr.ID, timeline.Clip{SourceID: src, SourceIn: in, SourceOut: in + d, Start: dur(20), Duration: d})
	case 3:
		if c, ok := pick(); ok {
			cmd, _ := NewRemove(tl, c.ID)
			return cmd
		}
	case 4:
		if c, ok := pick(); ok {
			cmd, _ := NewTrimHead(tl, c.ID, dur(2)-sec)
			return cmd
		}
	case 5:
		if c, ok := pick(); ok {
			cmd, _ := NewTrimTail(tl, c.ID, dur(2)-sec)
			return cmd
		}
	case 6:
		if c, ok := pick(); ok {
			cmd, _ := NewMove(tl, c.ID, tracks[r.IntN(len(tracks))].ID, dur(20))
			return cmd
		}
	case 7:
		if c, ok := pick(); ok {
			cmd, err := NewSplit(tl, c.ID, c.Start+c.Duration/2)
			if err == nil {
				return cmd
			}
		}
	case 8:
		if c, ok := pick(); ok {
			if len(c.Effects) == 0 {
				cmd, _ := NewAddEffect(tl, c.ID, 0, timeline.EffectRef{Name: "brightness"})
				return cmd
			}
			cmd, _ := NewSetEffectParam(tl, c.ID, c.Effects[0].ID, "amount", r.Float64())
			return cmd
		}
	case 9:
		if c, ok := pick(); ok {
			cmd, _ := NewSetSpeed(tl, c.ID, []float64{0.5, 1, 2}[r.IntN(3)])
			return cmd
		}
	case 10:
		if r.IntN(2) == 0 {
			return NewAddTrack(tl, timeline.KindVideo, "extra")
		}
		tr := tracks[r.IntN(len(tracks))]
		p := tr.TrackProps
		p.Gain = r.Float64()
		p.Muted = !p.Muted
		cmd, _ := NewSetTrack(tl, tr.ID, p)
		return cmd
	}
	return nil
}

func TestUndoRestoresEveryState(t *testing.T) {
	tl := newTimeline(t)
	h := NewHistory(0)
	r := rand.New(rand.NewPCG(7, 11))

	var states []timeline.Document
	for range 400 {
		cmd := randomCommand(r, tl)
		if cmd == nil {
			continue
		}
		before := tl.ToDocument()
		undo, _ := h.Len()
		if _, err := h.Apply(tl, cmd); err != nil {
			if !reflect.DeepEqual(before, tl.ToDocument()) {
				t.Fatalf("failed %s changed timeline: %v", cmd.Name(), err)
			}
			if u, _ := h.Len(); u != undo {
				t.Fatal("failed command pushed to history")
			}
			continue
		}
		states = append(states, before)
	}
	if len(states) < 50 {
		t.Fatalf("too few valid commands: %d", len(states))
	}
	final := tl.ToDocument()

	for i := len(states) - 1; i >= 0; i-- {
		if _, err := h.Undo(tl); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(states[i], tl.ToDocument()) {
			t.Fatalf("undo %d mismatch", i)
		}
	}
	for range states {
		if _, err := h.Redo(tl); err != nil {
			t.Fatal(err)
		}
	}
	if !reflect.DeepEqual(final, tl.ToDocument()) {
		t.Fatal("redo all mismatch")
	}
}
