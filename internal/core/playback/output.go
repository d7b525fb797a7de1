package playback

import (
	"context"
	"sync"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
)

// AudioOutput 音频输出设备，已播放的采样数是播放的主时钟
type AudioOutput interface {
	// Reset 丢弃未播放的数据，已播放计数清零，后续数据按新格式写入
	Reset(rate, channels int)
	// Write 设备缓冲区满时阻塞
	Write(ctx context.Context, b *media.AudioBlock) error
	// Played 自上次 Reset 以来已播放的采样帧数
	Played() int64
}

// ClockOutput 无音频设备时按墙上时钟消费数据
type ClockOutput struct {
	lead time.Duration
	now  func() time.Time

	mu      sync.Mutex
	rate    int
	written int64
	start   time.Time
	started bool
}

var _ AudioOutput = (*ClockOutput)(nil)

// NewClockOutput lead 为最多领先播放位置写入的时长
func NewClockOutput(lead time.Duration) *ClockOutput {
	if lead <= 0 {
		lead = 120 * time.Millisecond
	}
	return &ClockOutput{lead: lead, now: time.Now, rate: 48000}
}

func (o *ClockOutput) Reset(rate, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rate > 0 {
		o.rate = rate
	}
	o.written = 0
	o.started = false
}

func (o *ClockOutput) Played() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.played()
}

// played 不超过已写入的采样数，欠载期间起点后移，时钟停在已写入的位置
func (o *ClockOutput) played() int64 {
	if !o.started {
		return 0
	}
	now := o.now()
	n := media.SampleIndex(now.Sub(o.start), o.rate)
	if n > o.written {
		o.start = now.Add(-media.SampleTime(o.written, o.rate))
		return o.written
	}
	return n
}

func (o *ClockOutput) Write(ctx context.Context, b *media.AudioBlock) error {
	for {
		o.mu.Lock()
		if !o.started {
			o.started = true
			o.start = o.now()
		}
		ahead := o.written - o.played()
		limit := media.SampleIndex(o.lead, o.rate)
		if ahead < limit {
			o.written += int64(b.Frames())
			o.mu.Unlock()
			return nil
		}
		wait := media.SampleTime(ahead-limit+1, o.rate)
		o.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
