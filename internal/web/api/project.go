package api

import (
	"bytes"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/cutline/internal/core/effect"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// ProjectAPI 项目、时间线与编辑命令
type ProjectAPI struct {
	core     project.Core
	commands commandBuilder
}

func NewProjectAPI(core project.Core, effects *effect.Registry) ProjectAPI {
	return ProjectAPI{core: core, commands: newCommandBuilder(effects)}
}

func registerProject(g gin.IRouter, api ProjectAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/projects", handler...)
		group.GET("", web.WrapH(api.findProjects))
		group.POST("", web.WrapH(api.addProject))
		group.GET("/:id", web.WrapH(api.getProject))
		group.PUT("/:id", web.WrapH(api.editProject))
		group.DELETE("/:id", web.WrapH(api.delProject))
		group.POST("/:id/save", web.WrapH(api.saveProject))
		group.POST("/:id/close", web.WrapH(api.closeProject))
		group.GET("/:id/events", api.events)
	}
	{
		group := g.Group("/projects/:id/timelines", handler...)
		group.GET("", web.WrapH(api.findTimelines))
		group.POST("", web.WrapH(api.addTimeline))
		group.GET("/:tid", web.WrapH(api.getTimeline))
		group.DELETE("/:tid", web.WrapH(api.delTimeline))
		group.PUT("/:tid/active", web.WrapH(api.setActive))
		group.POST("/:tid/commands", web.WrapH(api.applyCommand))
		group.POST("/:tid/undo", web.WrapH(api.undo))
		group.POST("/:tid/redo", web.WrapH(api.redo))
		group.GET("/:tid/history", web.WrapH(api.getHistory))
		group.GET("/:tid/frame", api.getFrame)
	}
}

// session 打开路径中的项目
func (a ProjectAPI) session(c *gin.Context) (*project.Session, error) {
	s, err := a.core.Open(c.Request.Context(), project.ID(c.Param("id")))
	return s, domainErr(err)
}

type projectOutput struct {
	project.Project
	Active    timeline.TimelineID `json:"active"`
	Exporting bool                `json:"exporting"`
	Timelines []timeline.Document `json:"timelines"`
}

func newProjectOutput(s *project.Session) projectOutput {
	doc := s.Document()
	return projectOutput{
		Project:   doc.Project,
		Active:    doc.Active,
		Exporting: s.Exporting(),
		Timelines: doc.Timelines,
	}
}

type findProjectItem struct {
	project.Project
	Opened bool `json:"opened"`
}

type findProjectOutput struct {
	Items []findProjectItem `json:"items"`
	Total int               `json:"total"`
}

func (a ProjectAPI) findProjects(c *gin.Context, _ *struct{}) (*findProjectOutput, error) {
	list, err := a.core.List(c.Request.Context())
	if err != nil {
		return nil, err
	}
	items := make([]findProjectItem, 0, len(list))
	for _, p := range list {
		_, opened := a.core.Get(p.ID)
		items = append(items, findProjectItem{Project: p, Opened: opened})
	}
	return &findProjectOutput{Items: items, Total: len(items)}, nil
}

type addProjectInput struct {
	Name string `json:"name" binding:"required,max=128"`
}

func (a ProjectAPI) addProject(c *gin.Context, in *addProjectInput) (projectOutput, error) {
	s, err := a.core.Create(c.Request.Context(), strings.TrimSpace(in.Name))
	if err != nil {
		return projectOutput{}, domainErr(err)
	}
	return newProjectOutput(s), nil
}

func (a ProjectAPI) getProject(c *gin.Context, _ *struct{}) (projectOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return projectOutput{}, err
	}
	return newProjectOutput(s), nil
}

type editProjectInput struct {
	Name string `json:"name" binding:"required,max=128"`
}

func (a ProjectAPI) editProject(c *gin.Context, in *editProjectInput) (project.Project, error) {
	s, err := a.session(c)
	if err != nil {
		return project.Project{}, err
	}
	if err := s.Rename(c.Request.Context(), strings.TrimSpace(in.Name)); err != nil {
		return project.Project{}, domainErr(err)
	}
	return s.Project(), nil
}

func (a ProjectAPI) delProject(c *gin.Context, _ *struct{}) (gin.H, error) {
	id := project.ID(c.Param("id"))
	if err := a.core.Delete(c.Request.Context(), id); err != nil {
		return nil, domainErr(err)
	}
	return gin.H{"id": id}, nil
}

func (a ProjectAPI) saveProject(c *gin.Context, _ *struct{}) (project.Project, error) {
	s, err := a.session(c)
	if err != nil {
		return project.Project{}, err
	}
	if err := s.Save(c.Request.Context()); err != nil {
		return project.Project{}, reason.ErrDB.Withf(`Save id[%s] err[%s]`, s.ID(), err.Error())
	}
	return s.Project(), nil
}

func (a ProjectAPI) closeProject(c *gin.Context, _ *struct{}) (gin.H, error) {
	id := project.ID(c.Param("id"))
	if err := a.core.Close(c.Request.Context(), id); err != nil {
		return nil, domainErr(err)
	}
	return gin.H{"id": id}, nil
}

type timelineOutput struct {
	timeline.Document
	Active   bool          `json:"active"`
	Duration time.Duration `json:"duration"`
}

func newTimelineOutput(s *project.Session, tl *timeline.Timeline) timelineOutput {
	return timelineOutput{Document: tl.ToDocument(), Active: s.Active() == tl.ID, Duration: tl.Duration()}
}

func (a ProjectAPI) findTimelines(c *gin.Context, _ *struct{}) ([]timelineOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	tls := s.Timelines()
	out := make([]timelineOutput, 0, len(tls))
	for _, tl := range tls {
		out = append(out, newTimelineOutput(s, tl))
	}
	return out, nil
}

type addTimelineInput struct {
	Name       string `json:"name" binding:"required,max=128"`
	Width      int    `json:"width" binding:"omitempty,min=2,max=8192"`
	Height     int    `json:"height" binding:"omitempty,min=2,max=8192"`
	FrameRate  string `json:"frame_rate"` // 例如 25、30000/1001
	SampleRate int    `json:"sample_rate" binding:"omitempty,min=8000,max=192000"`
	Channels   int    `json:"channels" binding:"omitempty,min=1,max=8"`
}

func (a ProjectAPI) addTimeline(c *gin.Context, in *addTimelineInput) (timelineOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return timelineOutput{}, err
	}
	f := a.core.DefaultFormat()
	if in.Width > 0 && in.Height > 0 {
		f.Width, f.Height = in.Width, in.Height
	}
	if in.FrameRate != "" {
		rate, err := media.ParseRational(in.FrameRate)
		if err != nil {
			return timelineOutput{}, reason.ErrBadRequest.SetMsg(err.Error())
		}
		f.FrameRate = rate
	}
	if in.SampleRate > 0 {
		f.SampleRate = in.SampleRate
	}
	if in.Channels > 0 {
		f.Channels = in.Channels
	}
	tl, err := s.AddTimeline(c.Request.Context(), in.Name, f)
	if err != nil {
		return timelineOutput{}, domainErr(err)
	}
	return newTimelineOutput(s, tl), nil
}

func (a ProjectAPI) getTimeline(c *gin.Context, _ *struct{}) (timelineOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return timelineOutput{}, err
	}
	tl, err := s.Snapshot(timeline.TimelineID(c.Param("tid")))
	if err != nil {
		return timelineOutput{}, domainErr(err)
	}
	return newTimelineOutput(s, tl), nil
}

func (a ProjectAPI) delTimeline(c *gin.Context, _ *struct{}) (gin.H, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	id := timeline.TimelineID(c.Param("tid"))
	if err := s.RemoveTimeline(c.Request.Context(), id); err != nil {
		return nil, domainErr(err)
	}
	return gin.H{"id": id, "active": s.Active()}, nil
}

func (a ProjectAPI) setActive(c *gin.Context, _ *struct{}) (gin.H, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	if err := s.SetActive(c.Request.Context(), timeline.TimelineID(c.Param("tid"))); err != nil {
		return nil, domainErr(err)
	}
	return gin.H{"active": s.Active()}, nil
}

type commandOutput struct {
	Changes []timeline.Change   `json:"changes"`
	History project.HistoryInfo `json:"history"`
}

func (a ProjectAPI) applyCommand(c *gin.Context, in *commandInput) (*commandOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	fn, err := a.commands.build(in)
	if err != nil {
		return nil, err
	}
	id := timeline.TimelineID(c.Param("tid"))
	changes, err := s.Do(c.Request.Context(), id, fn)
	if err != nil {
		return nil, domainErr(err)
	}
	return a.commandOutput(s, id, changes)
}

func (a ProjectAPI) undo(c *gin.Context, _ *struct{}) (*commandOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	id := timeline.TimelineID(c.Param("tid"))
	changes, err := s.Undo(c.Request.Context(), id)
	if err != nil {
		return nil, domainErr(err)
	}
	return a.commandOutput(s, id, changes)
}

func (a ProjectAPI) redo(c *gin.Context, _ *struct{}) (*commandOutput, error) {
	s, err := a.session(c)
	if err != nil {
		return nil, err
	}
	id := timeline.TimelineID(c.Param("tid"))
	changes, err := s.Redo(c.Request.Context(), id)
	if err != nil {
		return nil, domainErr(err)
	}
	return a.commandOutput(s, id, changes)
}

func (a ProjectAPI) commandOutput(s *project.Session, id timeline.TimelineID, changes []timeline.Change) (*commandOutput, error) {
	h, err := s.History(id)
	if err != nil {
		return nil, domainErr(err)
	}
	if changes == nil {
		changes = []timeline.Change{}
	}
	return &commandOutput{Changes: changes, History: h}, nil
}

func (a ProjectAPI) getHistory(c *gin.Context, _ *struct{}) (project.HistoryInfo, error) {
	s, err := a.session(c)
	if err != nil {
		return project.HistoryInfo{}, err
	}
	h, err := s.History(timeline.TimelineID(c.Param("tid")))
	return h, domainErr(err)
}

type getFrameInput struct {
	TMs int64 `form:"t_ms" binding:"min=0"`
}

// getFrame 渲染单帧为 png，与播放和导出走同一合成路径
func (a ProjectAPI) getFrame(c *gin.Context) {
	var in getFrameInput
	if err := c.ShouldBindQuery(&in); err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg(err.Error()))
		return
	}
	s, err := a.session(c)
	if err != nil {
		web.Fail(c, err)
		return
	}
	tl, err := s.Snapshot(timeline.TimelineID(c.Param("tid")))
	if err != nil {
		web.Fail(c, domainErr(err))
		return
	}
	f, err := a.core.Preview().RenderFrame(c.Request.Context(), tl, ms(in.TMs))
	if err != nil {
		web.Fail(c, domainErr(err))
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image()); err != nil {
		web.Fail(c, reason.ErrServer.SetMsg(err.Error()))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
