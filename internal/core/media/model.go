package media

import (
	"context"
	"time"
)

// SourceID 素材标识，由素材路径派生，同一路径得到同一 id
type SourceID string

// Source 素材元数据
type Source struct {
	ID         SourceID      `json:"id"`
	Path       string        `json:"path"`
	Duration   time.Duration `json:"duration"`
	FrameRate  Rational      `json:"frame_rate"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	HasVideo   bool          `json:"has_video"`
	HasAudio   bool          `json:"has_audio"`
	Degraded   bool          `json:"degraded"`
}

// Decoder 解码协作方
//
// DecodeVideo 的 at 已对齐到素材帧起始时间；
// DecodeAudio 从素材采样序号 first 起解码 n 个采样帧，超出素材长度的部分补静音。
type Decoder interface {
	Probe(ctx context.Context, path string) (Source, error)
	DecodeVideo(ctx context.Context, src Source, at time.Duration) (*Frame, error)
	DecodeAudio(ctx context.Context, src Source, first int64, n int) (*AudioBlock, error)
}
