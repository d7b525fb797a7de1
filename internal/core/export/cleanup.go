package export

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// CleanupConfig 导出目录的保留策略
type CleanupConfig struct {
	Dir        string
	RetainDays int
	// DiskThreshold 磁盘使用率百分比，超过时从最旧的文件开始删除
	DiskThreshold float64
	Interval      time.Duration
}

// StartCleanupWorker 启动时清理一次，随后按 Interval 周期执行，直到 ctx 结束
func StartCleanupWorker(ctx context.Context, cfg CleanupConfig) {
	if cfg.RetainDays <= 0 && (cfg.DiskThreshold <= 0 || cfg.DiskThreshold >= 100) {
		slog.Info("export cleanup disabled")
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	slog.Info("export cleanup worker started",
		"dir", cfg.Dir,
		"retain_days", cfg.RetainDays,
		"disk_threshold", cfg.DiskThreshold,
	)

	RunCleanup(cfg, time.Now())

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			RunCleanup(cfg, now)
		}
	}
}

type outputFile struct {
	path    string
	size    int64
	modTime time.Time
}

// RunCleanup 先按保留天数删除，再按磁盘使用率删除最旧的导出，最后清理空目录
func RunCleanup(cfg CleanupConfig, now time.Time) {
	if _, err := os.Stat(cfg.Dir); err != nil {
		return
	}
	files := collectFiles(cfg.Dir)

	if cfg.RetainDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.RetainDays)
		var deleted int
		var freed int64
		files = slices.DeleteFunc(files, func(f outputFile) bool {
			if !f.modTime.Before(cutoff) {
				return false
			}
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to delete export", "path", f.path, "err", err)
				return false
			}
			deleted++
			freed += f.size
			return true
		})
		if deleted > 0 {
			slog.Info("expired export cleanup completed",
				"cutoff_time", cutoff.Format(time.DateTime),
				"files_deleted", deleted,
				"freed_bytes", freed,
			)
		}
	}

	if cfg.DiskThreshold > 0 && cfg.DiskThreshold < 100 {
		cleanupByDiskUsage(cfg, files)
	}
	cleanupEmptyDirs(cfg.Dir)
}

// cleanupByDiskUsage 使用率超过阈值时按修改时间从旧到新删除
func cleanupByDiskUsage(cfg CleanupConfig, files []outputFile) {
	usage, err := disk.Usage(cfg.Dir)
	if err != nil {
		slog.Warn("failed to get disk usage", "err", err)
		return
	}
	if usage.UsedPercent < cfg.DiskThreshold {
		return
	}

	// 目标释放量按总容量与阈值之差估算
	target := int64((usage.UsedPercent - cfg.DiskThreshold) / 100 * float64(usage.Total))
	slices.SortFunc(files, func(a, b outputFile) int {
		return a.modTime.Compare(b.modTime)
	})
	var freed int64
	var deleted int
	for _, f := range files {
		if freed >= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		freed += f.size
		deleted++
	}
	slog.Info("export cleanup by disk usage",
		"used_percent", usage.UsedPercent,
		"threshold", cfg.DiskThreshold,
		"files_deleted", deleted,
		"freed_bytes", freed,
	)
}

func collectFiles(dir string) []outputFile {
	out := make([]outputFile, 0, 16)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, outputFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return out
}

// cleanupEmptyDirs 递归删除空目录，不删除 dir 本身
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		cleanupEmptyDirs(sub)
		if subEntries, err := os.ReadDir(sub); err == nil && len(subEntries) == 0 {
			if err := os.Remove(sub); err == nil {
				slog.Debug("removed empty directory", "path", sub)
			}
		}
	}
}
