// Package rpc grpc 健康检查服务，供编排系统探测编辑服务是否可用
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 编辑服务在健康检查中的名称
const ServiceName = "cutline.Editor"

// Server 封装 grpc 健康检查服务
type Server struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	log    *slog.Logger
}

// NewServer 监听 addr，例如 ":15181"
func NewServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc listen %s: %w", addr, err)
	}
	s := Server{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
		log:    slog.With("component", "rpc"),
	}
	grpc_health_v1.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// SetServing 标记编辑服务就绪或下线
func (s *Server) SetServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Serve 阻塞直到 ctx 结束
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()
	s.log.Info("rpc server started", "addr", s.Addr())
	if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Check 查询 addr 上编辑服务的健康状态
func Check(ctx context.Context, addr string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
