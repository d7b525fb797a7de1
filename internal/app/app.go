// Package app 组装 http 与 grpc 服务并管理其生命周期
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gowvp/cutline/internal/conf"
	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/rpc"
	"golang.org/x/sync/errgroup"
)

// Run 启动服务，收到 SIGINT/SIGTERM 后优雅退出
func Run(bc *conf.Bootstrap) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := wireApp(bc)
	if err != nil {
		return err
	}
	defer cleanup()

	timeout := bc.Server.HTTP.Timeout.Duration()
	svr := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// 写超时不限制，事件流与导出下载为长连接
		ReadTimeout: timeout,
	}

	var health *rpc.Server
	if port := bc.Server.RPC.Port; port > 0 {
		if health, err = rpc.NewServer(fmt.Sprintf(":%d", port)); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server start", "addr", svr.Addr, "version", bc.BuildVersion)
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if health != nil {
		g.Go(func() error {
			health.SetServing(true)
			return health.Serve(ctx)
		})
	}
	g.Go(func() error {
		exp := bc.Editor.Export
		export.StartCleanupWorker(ctx, export.CleanupConfig{
			Dir:           exp.OutputDir(),
			RetainDays:    exp.RetainDays,
			DiskThreshold: exp.DiskThreshold,
		})
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		if health != nil {
			health.SetServing(false)
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("http server shutdown")
		return svr.Shutdown(sctx)
	})
	return g.Wait()
}
