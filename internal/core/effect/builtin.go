package effect

import (
	"math"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
)

var builtins = map[string]Effect{
	"brightness": Func(brightness),
	"opacity":    Func(opacity),
	"invert":     Func(invert),
	"tint":       Func(tint),
	"translate":  Func(translate),
}

func clamp8(v float64) byte {
	return byte(max(0, min(255, math.Round(v))))
}

// brightness amount ∈ [-1,1]，在预乘空间内按 alpha 限幅
func brightness(f *media.Frame, _ time.Duration, p timeline.Params) (*media.Frame, error) {
	amount := max(-1, min(1, p.Get("amount", 0)))
	out := f.Clone()
	for i := 0; i < len(out.Pix); i += 4 {
		a := float64(out.Pix[i+3])
		for c := range 3 {
			v := float64(out.Pix[i+c]) + amount*a
			out.Pix[i+c] = clamp8(min(v, a))
		}
	}
	return out, nil
}

// opacity alpha ∈ [0,1]
func opacity(f *media.Frame, _ time.Duration, p timeline.Params) (*media.Frame, error) {
	alpha := max(0, min(1, p.Get("alpha", 1)))
	out := f.Clone()
	for i := range out.Pix {
		out.Pix[i] = clamp8(float64(out.Pix[i]) * alpha)
	}
	return out, nil
}

func invert(f *media.Frame, _ time.Duration, _ timeline.Params) (*media.Frame, error) {
	out := f.Clone()
	for i := 0; i < len(out.Pix); i += 4 {
		a := out.Pix[i+3]
		for c := range 3 {
			out.Pix[i+c] = a - min(out.Pix[i+c], a)
		}
	}
	return out, nil
}

// tint 向 (r,g,b) 混合 amount
func tint(f *media.Frame, _ time.Duration, p timeline.Params) (*media.Frame, error) {
	amount := max(0, min(1, p.Get("amount", 0.5)))
	target := [3]float64{p.Get("r", 1), p.Get("g", 1), p.Get("b", 1)}
	out := f.Clone()
	for i := 0; i < len(out.Pix); i += 4 {
		a := float64(out.Pix[i+3])
		for c := range 3 {
			v := float64(out.Pix[i+c])
			out.Pix[i+c] = clamp8(v + (max(0, min(1, target[c]))*a-v)*amount)
		}
	}
	return out, nil
}

// translate 按像素平移 (x,y)，移出画面的区域透明
func translate(f *media.Frame, _ time.Duration, p timeline.Params) (*media.Frame, error) {
	dx, dy := int(math.Round(p.Get("x", 0))), int(math.Round(p.Get("y", 0)))
	out := media.NewFrame(f.Width, f.Height)
	for y := range f.Height {
		sy := y - dy
		if sy < 0 || sy >= f.Height {
			continue
		}
		for x := range f.Width {
			sx := x - dx
			if sx < 0 || sx >= f.Width {
				continue
			}
			copy(out.Pix[(y*f.Width+x)*4:(y*f.Width+x)*4+4], f.Pix[(sy*f.Width+sx)*4:])
		}
	}
	return out, nil
}
