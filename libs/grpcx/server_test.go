package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptengine/libs/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServerRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewHealthServer(runtime.NopLogger())
	srv.SetServing("", true)
	srv.SetServing("booking", false)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	status, err := CheckHealth(context.Background(), lis.Addr().String(), "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	status, err = CheckHealth(context.Background(), lis.Addr().String(), "booking", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
