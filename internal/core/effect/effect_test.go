package effect

import (
	"errors"
	"image/color"
	"testing"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
)

func TestBuiltinsDoNotMutateInput(t *testing.T) {
	r := NewRegistry()
	in := media.SolidFrame(4, 4, color.RGBA{R: 100, G: 50, B: 10, A: 255})
	orig := in.Clone()
	for _, name := range r.Names() {
		e, _ := r.Get(name)
		if _, err := e.Apply(in, 0, timeline.Params{"amount": 0.5, "alpha": 0.5, "x": 1}); err != nil {
			t.Fatal(name, err)
		}
		if !in.Equal(orig) {
			t.Fatalf("%s mutated its input", name)
		}
	}
}

func TestChainOrder(t *testing.T) {
	r := NewRegistry()
	in := media.SolidFrame(2, 2, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	// 先反相再提亮 与 先提亮再反相 结果不同
	a, err := r.Chain(in, 0, []timeline.EffectRef{
		{ID: "1", Name: "invert"},
		{ID: "2", Name: "brightness", Params: timeline.Params{"amount": 0.2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Chain(in, 0, []timeline.EffectRef{
		{ID: "2", Name: "brightness", Params: timeline.Params{"amount": 0.2}},
		{ID: "1", Name: "invert"},
	})
	if got := a.At(0, 0).R; got != 106 {
		t.Fatalf("invert then brighten: %d", got)
	}
	if got := b.At(0, 0).R; got != 4 {
		t.Fatalf("brighten then invert: %d", got)
	}
}

func TestOpacityAndTranslate(t *testing.T) {
	r := NewRegistry()
	in := media.SolidFrame(3, 1, color.RGBA{R: 255, A: 255})
	out, _ := r.Chain(in, 0, []timeline.EffectRef{{Name: "opacity", Params: timeline.Params{"alpha": 0.5}}})
	if c := out.At(0, 0); c.R != 128 || c.A != 128 {
		t.Fatal(c)
	}
	out, _ = r.Chain(in, 0, []timeline.EffectRef{{Name: "translate", Params: timeline.Params{"x": 1}}})
	if c := out.At(0, 0); c.A != 0 {
		t.Fatal("left column must be transparent", c)
	}
	if c := out.At(2, 0); c.R != 255 {
		t.Fatal(c)
	}
}

func TestUnknownEffect(t *testing.T) {
	r := NewRegistry()
	_, err := r.Chain(media.BlackFrame(1, 1), 0, []timeline.EffectRef{{ID: "x", Name: "blur"}})
	if !errors.Is(err, ErrUnknownEffect) {
		t.Fatal(err)
	}
	r.Register("blur", Func(invert))
	if _, err := r.Chain(media.BlackFrame(1, 1), 0, []timeline.EffectRef{{ID: "x", Name: "blur"}}); err != nil {
		t.Fatal(err)
	}
}
