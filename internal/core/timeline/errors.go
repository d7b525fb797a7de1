package timeline

import (
	"errors"
	"fmt"
)

var (
	ErrOverlap      = errors.New("overlaps existing clip")
	ErrOutOfBounds  = errors.New("out of bounds")
	ErrKindMismatch = errors.New("kind mismatch")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate id")
	ErrInvalid      = errors.New("invalid value")
)

// PlacementError 编辑校验失败，时间线保持不变
type PlacementError struct {
	Reason error
	Track  TrackID
	Clip   ClipID
	Detail string
}

func placementErr(reason error, track TrackID, clip ClipID, format string, args ...any) *PlacementError {
	return &PlacementError{Reason: reason, Track: track, Clip: clip, Detail: fmt.Sprintf(format, args...)}
}

func (e *PlacementError) Error() string {
	msg := "placement: " + e.Reason.Error()
	if e.Track != "" {
		msg += " track[" + string(e.Track) + "]"
	}
	if e.Clip != "" {
		msg += " clip[" + string(e.Clip) + "]"
	}
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	return msg
}

func (e *PlacementError) Unwrap() error {
	return e.Reason
}
