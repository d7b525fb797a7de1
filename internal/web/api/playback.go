package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/cutline/internal/core/playback"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/ixugo/goddd/pkg/web"
)

// PlaybackAPI 预览播放控制
type PlaybackAPI struct {
	core project.Core
}

func NewPlaybackAPI(core project.Core) PlaybackAPI {
	return PlaybackAPI{core: core}
}

func registerPlayback(g gin.IRouter, api PlaybackAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/projects/:id/playback", handler...)
	group.GET("", web.WrapH(api.getPlayback))
	group.POST("/play", web.WrapH(api.play))
	group.POST("/pause", web.WrapH(api.pause))
	group.POST("/stop", web.WrapH(api.stop))
	group.POST("/seek", web.WrapH(api.seek))
	group.POST("/speed", web.WrapH(api.speed))
}

type playbackOutput struct {
	State      playback.State `json:"state"`
	PlayheadMs int64          `json:"playhead_ms"`
	Frame      int64          `json:"frame"`
	Speed      float64        `json:"speed"`
	Dropped    int64          `json:"dropped"`
}

func (a PlaybackAPI) player(c *gin.Context) (*playback.Scheduler, error) {
	s, err := a.core.Open(c.Request.Context(), project.ID(c.Param("id")))
	if err != nil {
		return nil, domainErr(err)
	}
	return s.Player(), nil
}

func output(p *playback.Scheduler) playbackOutput {
	out := playbackOutput{
		State:      p.State(),
		PlayheadMs: p.Playhead().Milliseconds(),
		Frame:      -1,
		Speed:      p.Speed(),
		Dropped:    p.Dropped(),
	}
	if cur := p.Current(); cur != nil {
		out.Frame = cur.Index
	}
	return out
}

func (a PlaybackAPI) do(c *gin.Context, fn func(context.Context, *playback.Scheduler) error) (playbackOutput, error) {
	p, err := a.player(c)
	if err != nil {
		return playbackOutput{}, err
	}
	if err := fn(c.Request.Context(), p); err != nil {
		return playbackOutput{}, domainErr(err)
	}
	return output(p), nil
}

func (a PlaybackAPI) getPlayback(c *gin.Context, _ *struct{}) (playbackOutput, error) {
	p, err := a.player(c)
	if err != nil {
		return playbackOutput{}, err
	}
	return output(p), nil
}

func (a PlaybackAPI) play(c *gin.Context, _ *struct{}) (playbackOutput, error) {
	return a.do(c, func(ctx context.Context, p *playback.Scheduler) error { return p.Play(ctx) })
}

func (a PlaybackAPI) pause(c *gin.Context, _ *struct{}) (playbackOutput, error) {
	return a.do(c, func(ctx context.Context, p *playback.Scheduler) error { return p.Pause(ctx) })
}

func (a PlaybackAPI) stop(c *gin.Context, _ *struct{}) (playbackOutput, error) {
	return a.do(c, func(ctx context.Context, p *playback.Scheduler) error { return p.Stop(ctx) })
}

type seekInput struct {
	AtMs int64 `json:"at_ms" binding:"min=0"`
}

func (a PlaybackAPI) seek(c *gin.Context, in *seekInput) (playbackOutput, error) {
	return a.do(c, func(ctx context.Context, p *playback.Scheduler) error {
		return p.Seek(ctx, time.Duration(in.AtMs)*time.Millisecond)
	})
}

type speedInput struct {
	Speed float64 `json:"speed" binding:"required,gt=0"`
}

func (a PlaybackAPI) speed(c *gin.Context, in *speedInput) (playbackOutput, error) {
	return a.do(c, func(ctx context.Context, p *playback.Scheduler) error {
		return p.SetSpeed(ctx, in.Speed)
	})
}
