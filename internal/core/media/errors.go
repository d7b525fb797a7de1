package media

import (
	"errors"
	"fmt"
)

type DecodeErrorKind int

const (
	KindIO DecodeErrorKind = iota
	KindNotFound
	KindUnsupportedCodec
	KindDegraded
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnsupportedCodec:
		return "unsupported codec"
	case KindDegraded:
		return "degraded"
	default:
		return "io error"
	}
}

// 用于 errors.Is 判断解码错误类别
var (
	ErrNotFound         = &DecodeError{Kind: KindNotFound}
	ErrUnsupportedCodec = &DecodeError{Kind: KindUnsupportedCodec}
	ErrIO               = &DecodeError{Kind: KindIO}
	ErrDegraded         = &DecodeError{Kind: KindDegraded}
)

// DecodeError 解码协作方返回的错误
type DecodeError struct {
	Kind   DecodeErrorKind
	Source SourceID
	Err    error
}

func NewDecodeError(kind DecodeErrorKind, id SourceID, err error) *DecodeError {
	return &DecodeError{Kind: kind, Source: id, Err: err}
}

func (e *DecodeError) Error() string {
	msg := "decode " + e.Kind.String()
	if e.Source != "" {
		msg += fmt.Sprintf(" source[%s]", e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is 按类别匹配
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// AsDecodeError 非 DecodeError 的错误视为 IO 错误
func AsDecodeError(id SourceID, err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Source == "" {
			return &DecodeError{Kind: de.Kind, Source: id, Err: de.Err}
		}
		return de
	}
	return NewDecodeError(KindIO, id, err)
}
