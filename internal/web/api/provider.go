package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/cutline/internal/adapter/ffmpegadapter"
	"github.com/gowvp/cutline/internal/adapter/synthadapter"
	"github.com/gowvp/cutline/internal/adapter/wavadapter"
	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/effect"
	"github.com/gowvp/cutline/internal/core/framecache"
	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/media/store/sourcedb"
	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/project/store/projectdb"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewSourceStore, NewMediaRegistry, NewFrameCache, NewEffects,
	NewProjectCore,
	NewSourceAPI, NewProjectAPI, NewPlaybackAPI, NewExportAPI,
)

type Usecase struct {
	Conf  *conf.Bootstrap
	DB    *gorm.DB
	Cache *framecache.Cache

	SourceAPI   SourceAPI
	ProjectAPI  ProjectAPI
	PlaybackAPI PlaybackAPI
	ExportAPI   ExportAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	setupRouter(g, uc)
	return g
}

func NewSourceStore(db *gorm.DB) media.Storer {
	return sourcedb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewMediaRegistry 生成器按前缀路由，wav 走纯 go 解码，其余交给 ffmpeg
func NewMediaRegistry(bc *conf.Bootstrap, store media.Storer) *media.Registry {
	cfg := bc.Editor
	seq := cfg.Sequence
	synth := synthadapter.NewDecoder(seq.Width, seq.Height, media.Rational{Num: seq.FPSNum, Den: seq.FPSDen}, seq.SampleRate, seq.Channels)

	opts := []media.RegistryOption{
		media.WithDecoder(ffmpegadapter.NewDecoder(cfg.Media)),
		media.WithExtDecoder(".wav", wavadapter.NewDecoder()),
		media.WithDegrade(cfg.Cache.DegradeAfter, cfg.Cache.DegradeCooldown.Duration()),
	}
	for _, scheme := range synthadapter.Schemes {
		opts = append(opts, media.WithSchemeDecoder(scheme, synth))
	}
	r := media.NewRegistry(opts...)

	n, err := r.Restore(context.Background(), store)
	if err != nil {
		slog.Error("restore sources", "err", err)
	}
	slog.Info("sources restored", "count", n)
	return r
}

func NewFrameCache(bc *conf.Bootstrap, r *media.Registry) *framecache.Cache {
	cfg := bc.Editor
	return framecache.New(r, cfg.Cache.BudgetMB<<20,
		framecache.WithWorkers(cfg.Cache.VideoWorkers, cfg.Cache.AudioWorkers),
		framecache.WithDecodeTimeout(cfg.Cache.DecodeTimeout.Duration()),
		framecache.WithFallbackFPS(media.Rational{Num: cfg.Sequence.FPSNum, Den: cfg.Sequence.FPSDen}),
	)
}

func NewEffects() *effect.Registry {
	return effect.NewRegistry()
}

// NewProjectCore 返回的清理函数保存并关闭所有打开的项目
func NewProjectCore(bc *conf.Bootstrap, db *gorm.DB, r *media.Registry, cache *framecache.Cache, effects *effect.Registry) (project.Core, func()) {
	store := projectdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
	core := project.NewCore(store, r, cache,
		project.WithConfig(bc.Editor),
		project.WithEffects(effects),
	)
	return core, func() {
		core.Shutdown(context.Background())
	}
}
