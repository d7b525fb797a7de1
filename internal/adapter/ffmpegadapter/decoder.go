// Package ffmpegadapter 通过 ffprobe/ffmpeg 子进程探测、解码与编码素材
package ffmpegadapter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/pkg/ffwork"
)

var _ media.Decoder = (*Decoder)(nil)

// Decoder 每次解码启动一个 ffmpeg 进程，结果由帧缓存复用
type Decoder struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
}

func NewDecoder(cfg conf.EditorMedia) *Decoder {
	d := Decoder{
		ffmpeg:  cfg.FFmpeg,
		ffprobe: cfg.FFprobe,
		log:     slog.With("component", "ffmpeg"),
	}
	if d.ffmpeg == "" {
		d.ffmpeg = "ffmpeg"
	}
	if d.ffprobe == "" {
		d.ffprobe = "ffprobe"
	}
	return &d
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Channels     int    `json:"channels"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// checkFile 本地文件不存在时返回 NotFound，url 不检查
func checkFile(path string) error {
	if strings.Contains(path, "://") {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return media.NewDecodeError(media.KindNotFound, "", err)
		}
		return media.NewDecodeError(media.KindIO, "", err)
	}
	return nil
}

func (d *Decoder) Probe(ctx context.Context, path string) (media.Source, error) {
	if err := checkFile(path); err != nil {
		return media.Source{}, err
	}
	b, err := ffwork.Output(ctx, d.ffprobe,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	if err != nil {
		var ee *ffwork.ExitError
		if errors.As(err, &ee) {
			return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", err)
		}
		return media.Source{}, media.NewDecodeError(media.KindIO, "", err)
	}
	src, err := parseProbe(b)
	if err != nil {
		return media.Source{}, err
	}
	src.Path = path
	d.log.DebugContext(ctx, "probe", "path", path, "duration", src.Duration, "video", src.HasVideo, "audio", src.HasAudio)
	return src, nil
}

// parseProbe 解析 ffprobe json 输出，取第一路视频与第一路音频
func parseProbe(b []byte) (media.Source, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", fmt.Errorf("ffprobe output: %w", err))
	}
	var src media.Source
	dur := parseSeconds(out.Format.Duration)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if src.HasVideo || s.Width <= 0 || s.Height <= 0 {
				continue
			}
			src.HasVideo = true
			src.Width, src.Height = s.Width, s.Height
			rate, err := media.ParseRational(s.AvgFrameRate)
			if err != nil {
				rate, _ = media.ParseRational(s.RFrameRate)
			}
			src.FrameRate = rate
			dur = max(dur, parseSeconds(s.Duration))
		case "audio":
			if src.HasAudio {
				continue
			}
			rate, _ := strconv.Atoi(s.SampleRate)
			if rate <= 0 || s.Channels <= 0 {
				continue
			}
			src.HasAudio = true
			src.SampleRate, src.Channels = rate, s.Channels
			dur = max(dur, parseSeconds(s.Duration))
		}
	}
	if !src.HasVideo && !src.HasAudio {
		return media.Source{}, media.NewDecodeError(media.KindUnsupportedCodec, "", errors.New("no decodable stream"))
	}
	src.Duration = dur
	return src, nil
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// DecodeVideo 解码 at 处的一帧，输出为素材原始尺寸的 rgba
func (d *Decoder) DecodeVideo(ctx context.Context, src media.Source, at time.Duration) (*media.Frame, error) {
	if !src.HasVideo || src.Width <= 0 || src.Height <= 0 {
		return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, errors.New("no video stream"))
	}
	b, err := ffwork.Output(ctx, d.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", ffwork.Seconds(at),
		"-i", src.Path,
		"-frames:v", "1",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", src.Width, src.Height),
		"pipe:1",
	)
	if err != nil {
		return nil, media.NewDecodeError(media.KindIO, src.ID, err)
	}
	size := src.Width * src.Height * 4
	if len(b) < size {
		return nil, media.NewDecodeError(media.KindIO, src.ID, fmt.Errorf("incomplete frame at %v: %d != %d", at, len(b), size))
	}
	return &media.Frame{Width: src.Width, Height: src.Height, Pix: b[:size]}, nil
}

// DecodeAudio 从 first 起解码 n 帧 s16le，不足部分补静音
func (d *Decoder) DecodeAudio(ctx context.Context, src media.Source, first int64, n int) (*media.AudioBlock, error) {
	if !src.HasAudio || src.SampleRate <= 0 {
		return nil, media.NewDecodeError(media.KindUnsupportedCodec, src.ID, errors.New("no audio stream"))
	}
	ch := src.Channels
	data := make([]int, n*ch)
	start := max(first, 0)
	skip := int(start - first)
	if skip < n {
		b, err := ffwork.Output(ctx, d.ffmpeg,
			"-hide_banner",
			"-loglevel", "error",
			"-ss", ffwork.Seconds(media.SampleTime(start, src.SampleRate)),
			"-i", src.Path,
			"-vn",
			"-t", ffwork.Seconds(media.SampleTime(int64(n-skip), src.SampleRate)),
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ac", strconv.Itoa(ch),
			"-ar", strconv.Itoa(src.SampleRate),
			"pipe:1",
		)
		if err != nil {
			return nil, media.NewDecodeError(media.KindIO, src.ID, err)
		}
		pcm := data[skip*ch:]
		for i := 0; i+1 < len(b) && i/2 < len(pcm); i += 2 {
			pcm[i/2] = int(int16(binary.LittleEndian.Uint16(b[i:])))
		}
	}
	return media.BlockFromInts(&audio.IntBuffer{
		Format:         &audio.Format{SampleRate: src.SampleRate, NumChannels: ch},
		Data:           data,
		SourceBitDepth: 16,
	}, first), nil
}
