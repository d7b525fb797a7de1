package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// SourceAPI 素材登记
type SourceAPI struct {
	registry *media.Registry
	store    media.Storer
}

func NewSourceAPI(r *media.Registry, store media.Storer) SourceAPI {
	return SourceAPI{registry: r, store: store}
}

func registerSource(g gin.IRouter, api SourceAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/sources", handler...)
	group.GET("", web.WrapH(api.findSources))
	group.POST("", web.WrapH(api.addSource))
	group.GET("/:id", web.WrapH(api.getSource))
	group.DELETE("/:id", web.WrapH(api.delSource))
}

type findSourceOutput struct {
	Items []media.Source `json:"items"`
	Total int            `json:"total"`
}

func (a SourceAPI) findSources(_ *gin.Context, _ *struct{}) (*findSourceOutput, error) {
	items := a.registry.Sources()
	return &findSourceOutput{Items: items, Total: len(items)}, nil
}

type addSourceInput struct {
	// Path 本地文件、url，或 solid:#ff0000、bars:、tone:440、silence: 生成器
	Path string `json:"path" binding:"required"`
}

// addSource 探测并登记，同一路径重复登记返回已有素材
func (a SourceAPI) addSource(c *gin.Context, in *addSourceInput) (media.Source, error) {
	ctx := c.Request.Context()
	src, err := a.registry.Register(ctx, in.Path)
	if err != nil {
		return media.Source{}, domainErr(err)
	}
	if err := a.store.Save(ctx, src); err != nil {
		return media.Source{}, reason.ErrDB.Withf(`Save id[%s] err[%s]`, src.ID, err.Error())
	}
	return src, nil
}

func (a SourceAPI) getSource(c *gin.Context, _ *struct{}) (media.Source, error) {
	id := media.SourceID(c.Param("id"))
	src, ok := a.registry.Lookup(id)
	if !ok {
		return media.Source{}, reason.ErrNotFound.Withf(`source id[%s]`, id)
	}
	return src, nil
}

// delSource 仅取消登记，引用该素材的片段在重新登记前无法解码
func (a SourceAPI) delSource(c *gin.Context, _ *struct{}) (gin.H, error) {
	id := media.SourceID(c.Param("id"))
	if _, ok := a.registry.Lookup(id); !ok {
		return nil, reason.ErrNotFound.Withf(`source id[%s]`, id)
	}
	a.registry.Remove(id)
	if err := a.store.Delete(c.Request.Context(), id); err != nil {
		return nil, reason.ErrDB.Withf(`Delete id[%s] err[%s]`, id, err.Error())
	}
	return gin.H{"id": id}, nil
}
