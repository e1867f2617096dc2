// Package grpccheck probes nodes that expose the standard gRPC health service.
package grpccheck

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-clustermon/pkg/probe"
    grpctransport "github.com/amirimatin/go-clustermon/pkg/transport/grpc"
)

// Checker calls grpc.health.v1.Health/Check on every probe. Connections are
// cached per address and evicted after idle.
type Checker struct {
    service string
    tlsCfg  *tls.Config
    cm      *grpctransport.ConnManager
}

// New returns a checker for service ("" checks overall server health).
func New(service string, idle time.Duration) *Checker {
    c := &Checker{service: service}
    c.cm = grpctransport.NewConnManager(idle, c.dial)
    return c
}

// UseTLS must be called before the first Check.
func (c *Checker) UseTLS(cfg *tls.Config) *Checker {
    c.tlsCfg = cfg
    return c
}

func (c *Checker) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    creds := insecure.NewCredentials()
    if c.tlsCfg != nil { creds = credentials.NewTLS(c.tlsCfg) }
    return grpc.NewClient(target, grpc.WithTransportCredentials(creds))
}

func (c *Checker) Check(ctx context.Context, addr string) error {
    cc, rel, err := c.cm.Get(ctx, addr)
    if err != nil { return fmt.Errorf("%w: %v", probe.ErrProbeConnection, err) }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
    if err != nil {
        switch status.Code(err) {
        case codes.DeadlineExceeded:
            return fmt.Errorf("%w: %v", probe.ErrProbeTimeout, err)
        case codes.NotFound:
            return fmt.Errorf("%w: service %q not registered", probe.ErrUnhealthy, c.service)
        default:
            c.cm.Drop(addr)
            return fmt.Errorf("%w: %v", probe.ErrProbeConnection, err)
        }
    }
    if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
        return fmt.Errorf("%w: %s", probe.ErrUnhealthy, resp.GetStatus())
    }
    return nil
}

// Close drops all cached connections.
func (c *Checker) Close() { c.cm.Close() }

var _ probe.Checker = (*Checker)(nil)
