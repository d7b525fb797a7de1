package conf

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/system"
	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	minCacheMB = 64
	maxCacheMB = 2048
)

// DefaultConfig 默认配置，缓存大小与解码并发按本机资源计算
func DefaultConfig() Bootstrap {
	workers := defaultWorkers()
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    15180,
				Timeout: Duration(60 * time.Second),
			},
			RPC: ServerRPC{Port: 15181},
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Log: Log{
			Dir:   "logs",
			Level: "info",
		},
		Editor: Editor{
			HistoryDepth: 500,
			Autosave:     true,
			Cache: EditorCache{
				BudgetMB:        defaultCacheMB(),
				VideoWorkers:    workers,
				AudioWorkers:    2,
				DecodeTimeout:   Duration(10 * time.Second),
				DegradeAfter:    3,
				DegradeCooldown: Duration(30 * time.Second),
			},
			Playback: EditorPlayback{
				AudioBlock: Duration(20 * time.Millisecond),
				AudioLead:  Duration(120 * time.Millisecond),
				MaxSpeed:   8,
			},
			Sequence: EditorSequence{
				Width:      1920,
				Height:     1080,
				FPSNum:     30,
				FPSDen:     1,
				SampleRate: 48000,
				Channels:   2,
			},
			Media: EditorMedia{
				FFmpeg:  "ffmpeg",
				FFprobe: "ffprobe",
			},
			Export: EditorExport{
				Dir:            "exports",
				TempDir:        os.TempDir(),
				SegmentSeconds: 6,
				ProgressEvery:  Duration(200 * time.Millisecond),
				RetainDays:     30,
				DiskThreshold:  90,
			},
		},
	}
}

// defaultCacheMB 取可用内存的 1/8
func defaultCacheMB() int64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		slog.Warn("read memory stat", "err", err)
		return 512
	}
	mb := int64(v.Available/8) >> 20
	return min(max(mb, minCacheMB), maxCacheMB)
}

func defaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 2
	}
	return min(max(n/2, 1), 8)
}

// SetupConfig 读取配置文件，文件不存在时写入默认配置
func SetupConfig(path string) (*Bootstrap, error) {
	bc := DefaultConfig()
	bc.ConfigPath = path
	bc.ConfigDir = filepath.Dir(path)

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &bc, WriteConfig(&bc, path)
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(b, &bc); err != nil {
		return nil, err
	}
	return &bc, nil
}

// WriteConfig 将配置写回文件
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// OutputDir 导出根目录，相对路径基于工作目录
func (e EditorExport) OutputDir() string {
	dir := e.Dir
	if dir == "" {
		dir = "exports"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	return dir
}
