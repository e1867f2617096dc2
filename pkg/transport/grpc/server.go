package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-clustermon/pkg/observability/tracing"
    "github.com/amirimatin/go-clustermon/pkg/transport"
)

const serviceName = "clustermon.v1.Admin"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    mu     sync.Mutex
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct{ Data []byte `json:"data"` }

// adminServer defines the methods we expose.
type adminServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    Softfail(ctx context.Context, in *transport.SoftfailRequest) (*transport.AdminResponse, error)
    Unsoftfail(ctx context.Context, in *transport.SoftfailRequest) (*transport.AdminResponse, error)
}

type adminImpl struct{ h transport.Handlers }

func (a *adminImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, span := tracing.StartSpan(ctx, "grpc.status")
    defer span.End()
    b, err := a.h.Status(ctx)
    if err != nil { span.RecordError(err); return nil, err }
    return &statusBlob{Data: b}, nil
}

func (a *adminImpl) Softfail(ctx context.Context, in *transport.SoftfailRequest) (*transport.AdminResponse, error) {
    return a.call(ctx, "grpc.softfail", a.h.Softfail, in)
}

func (a *adminImpl) Unsoftfail(ctx context.Context, in *transport.SoftfailRequest) (*transport.AdminResponse, error) {
    return a.call(ctx, "grpc.unsoftfail", a.h.Unsoftfail, in)
}

// call reports rejections in the response body; gRPC errors are left for
// transport faults.
func (a *adminImpl) call(ctx context.Context, name string, fn transport.AdminFunc, in *transport.SoftfailRequest) (*transport.AdminResponse, error) {
    if in == nil || in.NodeID <= 0 {
        return &transport.AdminResponse{Code: transport.CodeBadRequest, Error: "nodeId must be a positive id"}, nil
    }
    if fn == nil { return &transport.AdminResponse{Code: transport.CodeBadRequest, Error: "not supported"}, nil }
    ctx, span := tracing.StartSpan(ctx, name)
    defer span.End()
    span.SetInt("node.id", in.NodeID)
    out, err := fn(ctx, *in)
    if err != nil {
        span.RecordError(err)
        if out.Error == "" { out.Error = err.Error() }
        if out.Code == "" { out.Code = transport.CodeUnavailable }
    }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Admin_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*adminServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Admin_GetStatus_Handler},
        {MethodName: "Softfail", Handler: _Admin_Softfail_Handler},
        {MethodName: "Unsoftfail", Handler: _Admin_Unsoftfail_Handler},
    },
}

func _Admin_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(adminServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(adminServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Admin_Softfail_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.SoftfailRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(adminServer).Softfail(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Softfail"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(adminServer).Softfail(ctx, req.(*transport.SoftfailRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Admin_Unsoftfail_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.SoftfailRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(adminServer).Unsoftfail(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Unsoftfail"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(adminServer).Unsoftfail(ctx, req.(*transport.SoftfailRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    // Admin calls arrive with content-subtype "json" and pick jsonCodec from
    // the registry; health checks keep protobuf.
    var opts []grpc.ServerOption
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    s.mu.Lock()
    s.srv = srv
    // The monitor itself is serving once the admin endpoint is up.
    s.health = health.NewServer()
    s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    healthpb.RegisterHealthServer(srv, s.health)
    srv.RegisterService(&_Admin_serviceDesc, &adminImpl{h: h})
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop drains in-flight calls, forcing the stop after ctx or two seconds.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    if hs != nil { hs.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
