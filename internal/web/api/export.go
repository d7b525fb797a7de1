package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/cutline/internal/adapter/ffmpegadapter"
	"github.com/gowvp/cutline/internal/adapter/hlsadapter"
	"github.com/gowvp/cutline/internal/adapter/wavadapter"
	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// ExportAPI 后台导出，进度通过项目事件推送
type ExportAPI struct {
	core    project.Core
	cfg     conf.Editor
	running *conc.Map[project.ID, context.CancelFunc]
	log     *slog.Logger
}

func NewExportAPI(bc *conf.Bootstrap, core project.Core) ExportAPI {
	return ExportAPI{
		core:    core,
		cfg:     bc.Editor,
		running: conc.NewMap[project.ID, context.CancelFunc](),
		log:     slog.With("component", "export_api"),
	}
}

func registerExport(g gin.IRouter, api ExportAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/projects/:id/export", handler...)
	group.GET("", web.WrapH(api.getExport))
	group.POST("", web.WrapH(api.addExport))
	group.DELETE("", web.WrapH(api.cancelExport))
}

type addExportInput struct {
	TimelineID string `json:"timeline_id"` // 为空时导出当前时间线
	Format     string `json:"format" binding:"required,oneof=mp4 mkv wav hls"`
	Name       string `json:"name" binding:"required,max=64,excludesall=/\\.."`
	StartMs    int64  `json:"start_ms" binding:"min=0"`
	EndMs      int64  `json:"end_ms" binding:"min=0"` // 与 start_ms 同为 0 时导出整条时间线
	FrameRate  string `json:"frame_rate"`             // 为空时使用时间线帧率
}

type addExportOutput struct {
	Path   string `json:"path"`
	Frames int64  `json:"frames"`
}

// outputDir 项目导出目录
func (a ExportAPI) outputDir(id project.ID) string {
	return filepath.Join(a.cfg.Export.OutputDir(), string(id))
}

// newSink 返回编码器与最终输出路径
func (a ExportAPI) newSink(id project.ID, format, name string) (export.Sink, string) {
	dir := a.outputDir(id)
	switch format {
	case "wav":
		path := filepath.Join(dir, name+".wav")
		return wavadapter.NewSink(path), path
	case "hls":
		hlsDir := filepath.Join(dir, name)
		sink := hlsadapter.NewSink(hlsDir, func(path string) export.Sink {
			return ffmpegadapter.NewSink(path,
				ffmpegadapter.WithBinary(a.cfg.Media.FFmpeg),
				ffmpegadapter.WithTempDir(a.cfg.Export.TempDir),
			)
		}, hlsadapter.WithSegmentDuration(time.Duration(a.cfg.Export.SegmentSeconds)*time.Second))
		return sink, sink.Playlist()
	default:
		path := filepath.Join(dir, name+"."+format)
		return ffmpegadapter.NewSink(path,
			ffmpegadapter.WithBinary(a.cfg.Media.FFmpeg),
			ffmpegadapter.WithTempDir(a.cfg.Export.TempDir),
		), path
	}
}

func (a ExportAPI) addExport(c *gin.Context, in *addExportInput) (*addExportOutput, error) {
	ctx := c.Request.Context()
	s, err := a.core.Open(ctx, project.ID(c.Param("id")))
	if err != nil {
		return nil, domainErr(err)
	}
	var rate media.Rational
	if in.FrameRate != "" {
		if rate, err = media.ParseRational(in.FrameRate); err != nil {
			return nil, reason.ErrBadRequest.SetMsg(err.Error())
		}
	}
	// 响应返回前占用导出权，之后的编辑请求一律返回忙
	job, err := s.BeginExport(timeline.TimelineID(in.TimelineID))
	if err != nil {
		return nil, domainErr(err)
	}
	started := false
	defer func() {
		if !started {
			job.Release()
		}
	}()

	tl := job.Timeline()
	if !rate.Valid() {
		rate = tl.Format.FrameRate
	}
	r := timeline.Range{Start: ms(in.StartMs), End: ms(in.EndMs)}
	if r == (timeline.Range{}) {
		r.End = tl.Duration()
	}
	if r.Empty() {
		return nil, reason.ErrBadRequest.SetMsg("导出区间为空")
	}
	if err := os.MkdirAll(a.outputDir(s.ID()), 0o755); err != nil {
		return nil, reason.ErrServer.SetMsg(err.Error())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if _, loaded := a.running.LoadOrStore(s.ID(), cancel); loaded {
		cancel()
		return nil, domainErr(project.ErrBusy)
	}
	sink, path := a.newSink(s.ID(), in.Format, in.Name)
	started = true
	go func() {
		defer func() {
			a.running.Delete(s.ID())
			cancel()
		}()
		start := time.Now()
		if err := job.Run(runCtx, r, rate, sink); err != nil {
			a.log.Error("export", "project", s.ID(), "path", path, "err", err)
			return
		}
		a.log.Info("export done", "project", s.ID(), "path", path, "cost", time.Since(start))
	}()
	return &addExportOutput{Path: path, Frames: export.FrameCount(r, rate)}, nil
}

type getExportOutput struct {
	Exporting bool `json:"exporting"`
}

func (a ExportAPI) getExport(c *gin.Context, _ *struct{}) (getExportOutput, error) {
	id := project.ID(c.Param("id"))
	s, ok := a.core.Get(id)
	if !ok {
		return getExportOutput{}, reason.ErrNotFound.SetMsg(fmt.Sprintf("项目 %s 未打开", id))
	}
	return getExportOutput{Exporting: s.Exporting()}, nil
}

func (a ExportAPI) cancelExport(c *gin.Context, _ *struct{}) (getExportOutput, error) {
	cancel, ok := a.running.Load(project.ID(c.Param("id")))
	if !ok {
		return getExportOutput{}, reason.ErrBadRequest.SetMsg("没有进行中的导出")
	}
	cancel()
	return getExportOutput{Exporting: true}, nil
}
