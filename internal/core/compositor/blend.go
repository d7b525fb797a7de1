package compositor

import (
	"image"
	"image/draw"

	"github.com/gowvp/cutline/internal/core/media"
)

// scale 最近邻缩放到 w×h，尺寸一致时原样返回
func scale(f *media.Frame, w, h int) *media.Frame {
	if f.Width == w && f.Height == h {
		return f
	}
	out := media.NewFrame(w, h)
	if f.Width == 0 || f.Height == 0 {
		return out
	}
	for y := range h {
		sy := y * f.Height / h
		for x := range w {
			sx := x * f.Width / w
			si := (sy*f.Width + sx) * 4
			di := (y*w + x) * 4
			copy(out.Pix[di:di+4], f.Pix[si:si+4])
		}
	}
	return out
}

// blendOver 预乘 alpha 的 source-over
func blendOver(dst, src *media.Frame) {
	draw.Draw(dst.Image(), image.Rect(0, 0, dst.Width, dst.Height), src.Image(), image.Point{}, draw.Over)
}

// blendAdd 逐通道饱和相加
func blendAdd(dst, src *media.Frame) {
	for i, v := range src.Pix {
		dst.Pix[i] = byte(min(255, int(dst.Pix[i])+int(v)))
	}
}
