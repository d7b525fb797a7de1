// Package wavadapter 基于 go-audio/wav 的 PCM wav 解码与仅音频导出
package wavadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gowvp/cutline/internal/core/media"
)

var _ media.Decoder = Decoder{}

const chunkSize = 8192

// Decoder wav 素材，仅含音频流
type Decoder struct{}

func NewDecoder() Decoder {
	return Decoder{}
}

func open(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, media.NewDecodeError(media.KindNotFound, "", err)
		}
		return nil, nil, media.NewDecodeError(media.KindIO, "", err)
	}
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, nil, media.NewDecodeError(media.KindUnsupportedCodec, "", fmt.Errorf("%q is not a valid wav file", path))
	}
	if d.WavAudioFormat != 1 {
		f.Close()
		return nil, nil, media.NewDecodeError(media.KindUnsupportedCodec, "", fmt.Errorf("wav format %d, only PCM is supported", d.WavAudioFormat))
	}
	return f, d, nil
}

// Probe 读取 wav 头
func (Decoder) Probe(_ context.Context, path string) (media.Source, error) {
	f, d, err := open(path)
	if err != nil {
		return media.Source{}, err
	}
	defer f.Close()

	format := d.Format()
	if format == nil || format.NumChannels == 0 || format.SampleRate == 0 {
		return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", errors.New("missing audio format"))
	}
	dur, err := d.Duration()
	if err != nil {
		return media.Source{}, media.NewDecodeError(media.KindIO, "", err)
	}
	return media.Source{
		Path:       path,
		Duration:   dur,
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		HasAudio:   true,
	}, nil
}

// DecodeVideo wav 没有视频流
func (Decoder) DecodeVideo(context.Context, media.Source, time.Duration) (*media.Frame, error) {
	return nil, media.NewDecodeError(media.KindUnsupportedCodec, "", errors.New("wav has no video stream"))
}

// DecodeAudio 顺序读取到 first 后截取 n 帧，不足部分为静音
func (Decoder) DecodeAudio(ctx context.Context, src media.Source, first int64, n int) (*media.AudioBlock, error) {
	f, d, err := open(src.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := d.Format()
	ch := format.NumChannels
	depth := int(d.BitDepth)
	out := make([]int, 0, n*ch)
	skip := max(0, first) * int64(ch)
	want := n * ch
	// 起始序号为负的部分补静音
	if first < 0 {
		pad := min(int(-first), n) * ch
		out = append(out, make([]int, pad)...)
	}

	buf := &audio.IntBuffer{Format: format, Data: make([]int, chunkSize*ch)}
	for len(out) < want {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		read, err := d.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, media.NewDecodeError(media.KindIO, src.ID, err)
		}
		if read == 0 {
			break
		}
		data := buf.Data[:read]
		if skip > 0 {
			k := min(int64(len(data)), skip)
			data = data[k:]
			skip -= k
		}
		out = append(out, data[:min(len(data), want-len(out))]...)
	}
	if len(out) < want {
		out = append(out, make([]int, want-len(out))...)
	}

	return media.BlockFromInts(&audio.IntBuffer{
		Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: ch},
		Data:           out,
		SourceBitDepth: depth,
	}, first), nil
}
