package grpccheck

import (
    "context"
    "net"
    "testing"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"

    "github.com/amirimatin/go-clustermon/pkg/probe"
)

func startHealth(t *testing.T) (string, *health.Server) {
    t.Helper()
    lis, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    srv := grpc.NewServer()
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    go func() { _ = srv.Serve(lis) }()
    t.Cleanup(srv.Stop)
    return lis.Addr().String(), hs
}

func TestCheckServingAndNotServing(t *testing.T) {
    addr, hs := startHealth(t)
    c := New("", time.Minute)
    defer c.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := c.Check(ctx, addr); err != nil {
        t.Fatalf("serving check: %v", err)
    }

    hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
    err := c.Check(ctx, addr)
    if got := probe.Classify(err); got != probe.Unhealthy {
        t.Fatalf("outcome = %s, want unhealthy (err=%v)", got, err)
    }
}

func TestCheckUnknownService(t *testing.T) {
    addr, _ := startHealth(t)
    c := New("clustrix.node", time.Minute)
    defer c.Close()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if got := probe.Classify(c.Check(ctx, addr)); got != probe.Unhealthy {
        t.Fatalf("outcome = %s, want unhealthy", got)
    }
}

func TestCheckUnreachable(t *testing.T) {
    lis, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    addr := lis.Addr().String()
    _ = lis.Close()

    c := New("", time.Minute)
    defer c.Close()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if got := probe.Classify(c.Check(ctx, addr)); got == probe.Healthy {
        t.Fatalf("unreachable node reported healthy")
    }
}
