// Package synthadapter 生成器素材：纯色、彩条、正弦音与静音
//
// 路径形如 solid:#ff8000、bars:、tone:440、silence:，可追加 @时长，例如 tone:1000@5s。
// 未指定时长时按一小时处理。
package synthadapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
)

var _ media.Decoder = (*Decoder)(nil)

const defaultDuration = time.Hour

// Schemes 本解码器支持的路径前缀
var Schemes = []string{"solid", "bars", "tone", "silence"}

// 75% 彩条，从左到右
var barColors = []color.RGBA{
	{191, 191, 191, 255},
	{191, 191, 0, 255},
	{0, 191, 191, 255},
	{0, 191, 0, 255},
	{191, 0, 191, 255},
	{191, 0, 0, 255},
	{0, 0, 191, 255},
}

type Decoder struct {
	width      int
	height     int
	frameRate  media.Rational
	sampleRate int
	channels   int
}

// NewDecoder 生成画面与声音的格式通常取时间线默认格式
func NewDecoder(width, height int, rate media.Rational, sampleRate, channels int) *Decoder {
	if !rate.Valid() {
		rate = media.FPS(30)
	}
	return &Decoder{
		width:      max(width, 1),
		height:     max(height, 1),
		frameRate:  rate,
		sampleRate: max(sampleRate, 8000),
		channels:   max(channels, 1),
	}
}

type generator struct {
	kind string
	arg  string
	dur  time.Duration
}

func parse(path string) (generator, error) {
	kind, rest, ok := strings.Cut(path, ":")
	if !ok {
		return generator{}, fmt.Errorf("%q is not a generator path", path)
	}
	g := generator{kind: strings.ToLower(kind), arg: rest, dur: defaultDuration}
	if arg, d, ok := strings.Cut(rest, "@"); ok {
		dur, err := time.ParseDuration(d)
		if err != nil || dur <= 0 {
			return generator{}, fmt.Errorf("invalid duration %q", d)
		}
		g.arg, g.dur = arg, dur
	}
	return g, nil
}

func parseColor(s string) (color.RGBA, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || (len(b) != 3 && len(b) != 4) {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	c := color.RGBA{R: b[0], G: b[1], B: b[2], A: 255}
	if len(b) == 4 {
		c.A = b[3]
		// 帧数据为预乘 alpha
		c.R = uint8(uint16(c.R) * uint16(c.A) / 255)
		c.G = uint8(uint16(c.G) * uint16(c.A) / 255)
		c.B = uint8(uint16(c.B) * uint16(c.A) / 255)
	}
	return c, nil
}

func parseFreq(s string) (float64, error) {
	if s == "" {
		return 440, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	return f, nil
}

func (d *Decoder) Probe(_ context.Context, path string) (media.Source, error) {
	g, err := parse(path)
	if err != nil {
		return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", err)
	}
	src := media.Source{Path: path, Duration: g.dur}
	switch g.kind {
	case "solid":
		if _, err := parseColor(g.arg); err != nil {
			return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", err)
		}
		d.video(&src)
	case "bars":
		d.video(&src)
	case "tone":
		if _, err := parseFreq(g.arg); err != nil {
			return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", err)
		}
		d.audio(&src)
	case "silence":
		d.audio(&src)
	default:
		return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", fmt.Errorf("unknown generator %q", g.kind))
	}
	return src, nil
}

func (d *Decoder) video(src *media.Source) {
	src.HasVideo = true
	src.Width, src.Height = d.width, d.height
	src.FrameRate = d.frameRate
}

func (d *Decoder) audio(src *media.Source) {
	src.HasAudio = true
	src.SampleRate, src.Channels = d.sampleRate, d.channels
}

// DecodeVideo 生成画面与时间无关
func (d *Decoder) DecodeVideo(_ context.Context, src media.Source, _ time.Duration) (*media.Frame, error) {
	g, err := parse(src.Path)
	if err != nil {
		return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, err)
	}
	w, h := src.Width, src.Height
	if w <= 0 || h <= 0 {
		w, h = d.width, d.height
	}
	switch g.kind {
	case "solid":
		c, err := parseColor(g.arg)
		if err != nil {
			return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, err)
		}
		return media.SolidFrame(w, h, c), nil
	case "bars":
		return bars(w, h), nil
	}
	return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, errors.New("generator has no video"))
}

func bars(w, h int) *media.Frame {
	f := media.NewFrame(w, h)
	row := f.Pix[:w*4]
	for x := range w {
		c := barColors[x*len(barColors)/w]
		i := x * 4
		row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < h; y++ {
		copy(f.Pix[y*w*4:], row)
	}
	return f
}

// DecodeAudio 正弦音按绝对采样序号计算相位，任意切块结果一致
func (d *Decoder) DecodeAudio(_ context.Context, src media.Source, first int64, n int) (*media.AudioBlock, error) {
	g, err := parse(src.Path)
	if err != nil {
		return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, err)
	}
	rate, ch := src.SampleRate, src.Channels
	if rate <= 0 || ch <= 0 {
		rate, ch = d.sampleRate, d.channels
	}
	blk := media.Silence(rate, ch, n)
	blk.First = first
	switch g.kind {
	case "silence":
		return blk, nil
	case "tone":
		freq, err := parseFreq(g.arg)
		if err != nil {
			return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, err)
		}
		total := media.SampleIndex(g.dur, rate)
		for i := range n {
			idx := first + int64(i)
			if idx < 0 || idx >= total {
				continue
			}
			v := 0.5 * math.Sin(2*math.Pi*freq*float64(idx)/float64(rate))
			for c := range ch {
				blk.Data[i*ch+c] = v
			}
		}
		return blk, nil
	}
	return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, errors.New("generator has no audio"))
}
