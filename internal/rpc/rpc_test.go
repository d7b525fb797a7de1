package rpc

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheck(t *testing.T) {
	s, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	status, err := Check(cctx, s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	if status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatal(status)
	}

	s.SetServing(true)
	status, err = Check(cctx, s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	if status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatal(status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
