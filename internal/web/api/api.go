package api

import (
	"expvar"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gowvp/cutline/internal/core/framecache"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		// 格式化输出到控制台，然后记录到日志
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/health"),
		),
		web.LoggerWithBody(web.DefaultBodyLimit,
			web.IgnoreBool(uc.Conf.Server.Debug),
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/health"),
		),
	)
	go web.CountGoroutines(10*time.Minute, 20)

	r.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Content-Length", "Content-Type", "Range", "Accept-Language",
			"Origin", "Authorization", "Referer", "User-Agent",
			"Accept-Encoding", "Cache-Control", "Last-Event-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc: func(_ string) bool {
			return true
		},
	}))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"msg": "来到了无人的荒漠"})
	})

	r.GET("/health", web.WrapH(uc.getHealth))
	r.GET("/app/metrics/api", web.WrapH(uc.getMetricsAPI))

	// 事件流与 png 不压缩
	api := r.Group("", gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`/events$`, `/frame$`}),
	))
	registerSource(api, uc.SourceAPI)
	registerProject(api, uc.ProjectAPI)
	registerPlayback(api, uc.PlaybackAPI)
	registerExport(api, uc.ExportAPI)
}

type getHealthOutput struct {
	Version    string           `json:"version"`
	StartAt    time.Time        `json:"start_at"`
	CPUPercent float64          `json:"cpu_percent"`
	MemPercent float64          `json:"mem_percent"`
	Cache      framecache.Stats `json:"cache"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (getHealthOutput, error) {
	out := getHealthOutput{
		Version: uc.Conf.BuildVersion,
		StartAt: startRuntime,
		Cache:   uc.Cache.Stats(),
	}
	if v, err := cpu.Percent(0, false); err == nil && len(v) > 0 {
		out.CPUPercent = v[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		out.MemPercent = v.UsedPercent
	}
	return out, nil
}

type getMetricsAPIOutput struct {
	RealTimeRequests int64  `json:"real_time_requests"` // 实时请求数
	TotalRequests    int64  `json:"total_requests"`     // 总请求数
	TotalResponses   int64  `json:"total_responses"`    // 总响应数
	RequestTop10     []KV   `json:"request_top10"`      // 请求TOP10
	StatusCodeTop10  []KV   `json:"status_code_top10"`  // 状态码TOP10
	Goroutines       any    `json:"goroutines"`         // 协程数量
	NumGC            uint32 `json:"num_gc"`             // gc 次数
	SysAlloc         uint64 `json:"sys_alloc"`          // 内存占用
	StartAt          string `json:"start_at"`           // 运行时间
}

// getMetricsAPI 读取 web.Metrics 中间件记录的 expvar
func (uc *Usecase) getMetricsAPI(_ *gin.Context, _ *struct{}) (*getMetricsAPIOutput, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	out := getMetricsAPIOutput{
		Goroutines: runtime.NumGoroutine(),
		NumGC:      stats.NumGC,
		SysAlloc:   stats.Sys,
		StartAt:    startRuntime.Format(time.DateTime),
	}
	if v, ok := expvar.Get("request").(*expvar.Int); ok {
		out.RealTimeRequests = v.Value()
	}
	if v, ok := expvar.Get("requests").(*expvar.Int); ok {
		out.TotalRequests = v.Value()
	}
	if v, ok := expvar.Get("responses").(*expvar.Int); ok {
		out.TotalResponses = v.Value()
	}
	if v, ok := expvar.Get("requestURLs").(*expvar.Map); ok {
		out.RequestTop10 = sortExpvarMap(v, 10)
	}
	if v, ok := expvar.Get("statusCodes").(*expvar.Map); ok {
		out.StatusCodeTop10 = sortExpvarMap(v, 10)
	}
	return &out, nil
}

type KV struct {
	Key   string
	Value int64
}

func sortExpvarMap(data *expvar.Map, top int) []KV {
	kvs := make([]KV, 0, 8)
	data.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			kvs = append(kvs, KV{Key: kv.Key, Value: v.Value()})
		}
	})
	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].Value > kvs[j].Value
	})
	return kvs[:min(top, len(kvs))]
}
