package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gowvp/cutline/internal/app"
	"github.com/gowvp/cutline/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

var buildVersion = "0.0.1"

var configPath = flag.String("conf", "", "配置文件路径，默认 ./configs/config.toml")

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = filepath.Join(system.Getwd(), "configs", "config.toml")
	}
	bc, err := conf.SetupConfig(path)
	if err != nil {
		slog.Error("setup config", "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion

	closeLog, err := setupLog(bc)
	if err != nil {
		slog.Error("setup log", "err", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := app.Run(bc); err != nil {
		slog.Error("server exit", "err", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLog 同时输出到控制台与日志文件
func setupLog(bc *conf.Bootstrap) (func(), error) {
	dir := bc.Log.Dir
	if dir == "" {
		dir = "logs"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "cutline.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(bc.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	if bc.Server.Debug {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(io.MultiWriter(os.Stdout, f), &slog.HandlerOptions{
		AddSource: bc.Server.Debug,
		Level:     level,
	})
	slog.SetDefault(slog.New(h).With("version", bc.BuildVersion))
	return func() { _ = f.Close() }, nil
}
