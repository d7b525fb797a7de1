package api

import (
	"errors"

	"github.com/gowvp/cutline/internal/core/edit"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/playback"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/reason"
)

// domainErr 领域错误转换为接口错误，其余原样返回
func domainErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, media.ErrNotFound):
		return reason.ErrNotFound.SetMsg(err.Error())
	case errors.Is(err, project.ErrBusy):
		return reason.ErrBadRequest.SetMsg("项目正在导出，请稍后再试")
	case errors.Is(err, project.ErrClosed):
		return reason.ErrBadRequest.SetMsg("项目已关闭")
	case errors.Is(err, timeline.ErrNotFound):
		var pe *timeline.PlacementError
		if errors.As(err, &pe) {
			return reason.ErrBadRequest.SetMsg(err.Error())
		}
		return reason.ErrNotFound.SetMsg(err.Error())
	case errors.Is(err, edit.ErrEmptyHistory),
		errors.Is(err, edit.ErrStale),
		errors.Is(err, project.ErrLastTimeline),
		errors.Is(err, playback.ErrInvalidSpeed),
		errors.Is(err, timeline.ErrInvalid),
		errors.Is(err, media.ErrUnsupportedCodec):
		return reason.ErrBadRequest.SetMsg(err.Error())
	}
	var pe *timeline.PlacementError
	if errors.As(err, &pe) {
		return reason.ErrBadRequest.SetMsg(err.Error())
	}
	var de *media.DecodeError
	if errors.As(err, &de) {
		return reason.ErrServer.SetMsg(err.Error())
	}
	return err
}
