package media

import (
	"bytes"
	"image"
	"image/color"

	"github.com/go-audio/audio"
)

// Frame 解码后的视频帧，RGBA 预乘 alpha，与 image.RGBA 内存布局一致
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame 全透明帧
func NewFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pix: make([]byte, w*h*4)}
}

// BlackFrame 不透明黑帧，用作画布底色与解码失败的占位
func BlackFrame(w, h int) *Frame {
	f := NewFrame(w, h)
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = 0xff
	}
	return f
}

// SolidFrame 纯色帧
func SolidFrame(w, h int, c color.RGBA) *Frame {
	f := NewFrame(w, h)
	for i := 0; i < len(f.Pix); i += 4 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return f
}

// FrameFromImage 拷贝任意 image 为帧
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	dst := f.Image()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return f
}

// Image 零拷贝包装为 image.RGBA
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

func (f *Frame) At(x, y int) color.RGBA {
	i := (y*f.Width + x) * 4
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: f.Pix[i+3]}
}

func (f *Frame) Clone() *Frame {
	return &Frame{Width: f.Width, Height: f.Height, Pix: bytes.Clone(f.Pix)}
}

// Size 缓存计费的字节数
func (f *Frame) Size() int64 {
	return int64(len(f.Pix))
}

func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Width == o.Width && f.Height == o.Height && bytes.Equal(f.Pix, o.Pix)
}

// AudioBlock 一段交错存储的 PCM 采样，取值 [-1,1]
type AudioBlock struct {
	// First 首个采样在其时间轴上的序号
	First  int64
	Format *audio.Format
	Data   []float64
}

// Silence 静音块
func Silence(rate, channels, frames int) *AudioBlock {
	return &AudioBlock{
		Format: &audio.Format{SampleRate: rate, NumChannels: channels},
		Data:   make([]float64, frames*channels),
	}
}

func (b *AudioBlock) Channels() int {
	if b.Format == nil || b.Format.NumChannels <= 0 {
		return 1
	}
	return b.Format.NumChannels
}

func (b *AudioBlock) SampleRate() int {
	if b.Format == nil {
		return 0
	}
	return b.Format.SampleRate
}

// Frames 采样帧数（每帧包含所有声道）
func (b *AudioBlock) Frames() int {
	return len(b.Data) / b.Channels()
}

// Sample 读取第 i 帧第 ch 声道，声道不足时取最后一个声道
func (b *AudioBlock) Sample(i, ch int) float64 {
	n := b.Channels()
	if ch >= n {
		ch = n - 1
	}
	return b.Data[i*n+ch]
}

func (b *AudioBlock) Size() int64 {
	return int64(len(b.Data) * 8)
}

// IntBuffer 转换为定点 PCM，供 wav 编码
func (b *AudioBlock) IntBuffer(bitDepth int) *audio.IntBuffer {
	scale := float64(int64(1)<<(bitDepth-1) - 1)
	data := make([]int, len(b.Data))
	for i, v := range b.Data {
		data[i] = int(v * scale)
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: b.SampleRate(), NumChannels: b.Channels()},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
}

// BlockFromInts 由定点 PCM 构造
func BlockFromInts(buf *audio.IntBuffer, first int64) *AudioBlock {
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float64(int64(1)<<(depth-1) - 1)
	data := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		data[i] = max(-1, min(1, float64(v)/scale))
	}
	return &AudioBlock{
		First:  first,
		Format: &audio.Format{SampleRate: buf.Format.SampleRate, NumChannels: buf.Format.NumChannels},
		Data:   data,
	}
}
