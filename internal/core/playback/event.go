package playback

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed       = errors.New("scheduler closed")
	ErrInvalidSpeed = errors.New("invalid playback speed")
)

type State int32

const (
	Stopped State = iota
	Playing
	Seeking
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Stopped, Playing, Seeking, Paused} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

type EventKind string

const (
	EventState   EventKind = "state"
	EventFrame   EventKind = "frame"
	EventDropped EventKind = "dropped"
	EventEnded   EventKind = "ended"
)

// Event 播放状态变化、帧呈现与丢帧通知
type Event struct {
	Kind     EventKind     `json:"kind"`
	State    State         `json:"state"`
	Playhead time.Duration `json:"playhead"`
	Frame    int64         `json:"frame"`
	Dropped  int64         `json:"dropped"`
	Speed    float64       `json:"speed"`
}
