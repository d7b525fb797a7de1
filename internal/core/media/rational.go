package media

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const nsPerSecond = int64(time.Second)

// Rational 帧率，Num/Den 帧每秒，例如 30000/1001
type Rational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// FPS 整数帧率
func FPS(n int64) Rational {
	return Rational{Num: n, Den: 1}
}

func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// FrameIndex 时间所在的帧序号，向下取整
func (r Rational) FrameIndex(t time.Duration) int64 {
	return floorDiv(int64(t)*r.Num, r.Den*nsPerSecond)
}

// FrameTime 第 i 帧的起始时间，向上取整到纳秒
// 保证 FrameIndex(FrameTime(i)) == i
func (r Rational) FrameTime(i int64) time.Duration {
	return time.Duration(ceilDiv(i*r.Den*nsPerSecond, r.Num))
}

// FrameDuration 单帧时长（近似值，仅用于调度节拍）
func (r Rational) FrameDuration() time.Duration {
	return r.FrameTime(1)
}

// FrameCount 覆盖 d 所需的帧数
func (r Rational) FrameCount(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return ceilDiv(int64(d)*r.Num, r.Den*nsPerSecond)
}

// Quantize 将时间对齐到所在帧的起始时间
func (r Rational) Quantize(t time.Duration) time.Duration {
	return r.FrameTime(r.FrameIndex(t))
}

// ParseRational 支持 "25" "29.97" "30000/1001"
func ParseRational(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseInt(num, 10, 64)
		d, err2 := strconv.ParseInt(den, 10, 64)
		if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
			return Rational{}, fmt.Errorf("invalid rational %q", s)
		}
		return Rational{Num: n, Den: d}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return FPS(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return Rational{}, fmt.Errorf("invalid rational %q", s)
	}
	return Rational{Num: int64(f*1000 + 0.5), Den: 1000}, nil
}

// SampleIndex 时间所在的采样序号，向下取整
func SampleIndex(t time.Duration, rate int) int64 {
	return floorDiv(int64(t)*int64(rate), nsPerSecond)
}

// SampleTime 第 i 个采样的时间，向上取整到纳秒
func SampleTime(i int64, rate int) time.Duration {
	return time.Duration(ceilDiv(i*nsPerSecond, int64(rate)))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
