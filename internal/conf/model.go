package conf

// Bootstrap 全局配置
type Bootstrap struct {
	BuildVersion string `toml:"-"`
	ConfigDir    string `toml:"-"`
	ConfigPath   string `toml:"-"`
	Server       Server `toml:"server" comment:"服务配置"`
	Data         Data   `toml:"data" comment:"数据存储"`
	Log          Log    `toml:"log" comment:"日志"`
	Editor       Editor `toml:"editor" comment:"编辑器内核"`
}

type Server struct {
	Debug bool       `toml:"debug"`
	HTTP  ServerHTTP `toml:"http"`
	RPC   ServerRPC  `toml:"rpc"`
}

type ServerHTTP struct {
	Port    int      `toml:"port"`
	Timeout Duration `toml:"timeout" comment:"请求超时时间"`
}

type ServerRPC struct {
	Port int `toml:"port" comment:"grpc 健康检查端口，0 表示不启用"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" comment:"sqlite 填写相对路径；postgres:// mysql:// 前缀使用对应驱动"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

type Log struct {
	Dir   string `toml:"dir"`
	Level string `toml:"level" comment:"debug/info/warn/error"`
}

// Editor 编辑器内核相关配置
type Editor struct {
	HistoryDepth int            `toml:"history_depth" comment:"撤销栈最大深度"`
	Autosave     bool           `toml:"autosave" comment:"每次编辑后自动保存"`
	Cache        EditorCache    `toml:"cache"`
	Playback     EditorPlayback `toml:"playback"`
	Sequence     EditorSequence `toml:"sequence" comment:"新建时间线的默认格式"`
	Media        EditorMedia    `toml:"media"`
	Export       EditorExport   `toml:"export"`
}

type EditorCache struct {
	BudgetMB        int64    `toml:"budget_mb" comment:"解码缓存内存上限(MB)"`
	VideoWorkers    int      `toml:"video_workers"`
	AudioWorkers    int      `toml:"audio_workers"`
	DecodeTimeout   Duration `toml:"decode_timeout"`
	DegradeAfter    int      `toml:"degrade_after" comment:"连续解码失败多少次后标记素材降级"`
	DegradeCooldown Duration `toml:"degrade_cooldown"`
}

type EditorPlayback struct {
	AudioBlock Duration `toml:"audio_block" comment:"音频块时长"`
	AudioLead  Duration `toml:"audio_lead" comment:"音频预渲染提前量"`
	MaxSpeed   float64  `toml:"max_speed"`
}

type EditorSequence struct {
	Width      int   `toml:"width"`
	Height     int   `toml:"height"`
	FPSNum     int64 `toml:"fps_num"`
	FPSDen     int64 `toml:"fps_den"`
	SampleRate int   `toml:"sample_rate"`
	Channels   int   `toml:"channels"`
}

type EditorMedia struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

type EditorExport struct {
	Dir            string   `toml:"dir" comment:"导出文件目录，相对路径基于工作目录"`
	TempDir        string   `toml:"temp_dir"`
	SegmentSeconds int      `toml:"segment_seconds" comment:"hls 导出的切片时长"`
	ProgressEvery  Duration `toml:"progress_every"`
	RetainDays     int      `toml:"retain_days" comment:"导出文件保留天数，0 表示不清理"`
	DiskThreshold  float64  `toml:"disk_threshold" comment:"磁盘使用率(%)超过该值时从最旧的导出开始删除，0 表示不限制"`
}
