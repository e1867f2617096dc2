// Package bootstrap assembles a running monitor from a config.Config: hub
// dialer, health checker, discovery, status registry and admin endpoint.
package bootstrap

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/config"
    "github.com/amirimatin/go-clustermon/pkg/discovery"
    dDNS "github.com/amirimatin/go-clustermon/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-clustermon/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-clustermon/pkg/discovery/static"
    "github.com/amirimatin/go-clustermon/pkg/hub/sqlhub"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/monitor"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
    "github.com/amirimatin/go-clustermon/pkg/observability/tracing"
    "github.com/amirimatin/go-clustermon/pkg/probe"
    "github.com/amirimatin/go-clustermon/pkg/probe/grpccheck"
    "github.com/amirimatin/go-clustermon/pkg/probe/httpcheck"
    tlsx "github.com/amirimatin/go-clustermon/pkg/security/tlsconfig"
    "github.com/amirimatin/go-clustermon/pkg/status"
    "github.com/amirimatin/go-clustermon/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-clustermon/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-clustermon/pkg/transport/httpjson"
)

// Node is an assembled monitor with its admin endpoint.
type Node struct {
    Monitor  *monitor.Monitor
    Registry *status.MemoryRegistry
    // Admin is nil when no admin address is configured.
    Admin transport.RPCServer

    cfg     config.Config
    log     logutil.Scoped
    closers []func()
    done    chan error
    cancel  context.CancelFunc
}

// Build assembles a Node from cfg without starting it.
func Build(cfg config.Config, logger *log.Logger) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if logger == nil { logger = log.Default() }
    logutil.SetJSON(cfg.Log.JSON)
    logutil.SetDebug(cfg.Log.Debug)
    obsmetrics.Register()

    n := &Node{cfg: cfg, log: logutil.Scoped{L: logger, Name: "bootstrap"}}

    srvTLS, cliTLS, err := tlsConfigs(cfg.TLS)
    if err != nil { return nil, err }

    dialer, err := hubDialer(cfg, logger)
    if err != nil { return nil, err }

    checker, closeChecker := healthChecker(cfg, cliTLS)
    if closeChecker != nil { n.closers = append(n.closers, closeChecker) }

    n.Registry = status.NewMemoryRegistry(cfg.Name)
    n.Registry.OnChange(func(e status.Entry, removed bool) {
        if removed {
            n.log.Infof("unregistered %s", e.Name)
            return
        }
        n.log.Debugf("%s is %s", e.Name, e.Status)
    })

    m, err := monitor.New(monitor.Options{
        Name:                 cfg.Name,
        Interval:             cfg.Interval(),
        HealthCheckThreshold: cfg.HealthCheckThreshold,
        ProbeTimeout:         cfg.ProbeTimeout(),
        ConnectTimeout:       cfg.ConnectTimeout(),
        MaxInFlight:          cfg.MaxInFlight,
        Bootstrap:            cfg.Servers,
        Discovery:            Discovery(cfg.Discovery, logger),
        Dialer:               dialer,
        Checker:              checker,
        Registry:             n.Registry,
        Logger:               logger,
    })
    if err != nil { n.close(); return nil, err }
    n.Monitor = m

    if cfg.Admin.Addr != "" {
        switch cfg.Admin.Proto {
        case "grpc":
            s := mgmtgrpc.NewServer(cfg.Admin.Addr)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            n.Admin = s
        default:
            s := httpjson.NewServer(cfg.Admin.Addr, logger)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            n.Admin = s
        }
    }
    return n, nil
}

// Run builds the node, starts the admin endpoint and the monitor loop. The
// caller must Close the node; cancelling ctx stops the loop too.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger) (*Node, error) {
    n, err := Build(cfg, logger)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil { n.close(); return nil, err }
    return n, nil
}

// Start serves the admin endpoint and runs the monitor in the background.
func (n *Node) Start(ctx context.Context) error {
    ctx, n.cancel = context.WithCancel(ctx)
    if n.cfg.Tracing {
        shutdown, err := tracing.Setup(true)
        if err != nil {
            n.log.Warnf("tracing setup: %v", err)
        } else {
            n.closers = append(n.closers, func() { _ = shutdown(context.Background()) })
        }
    }
    if n.Admin != nil {
        if err := n.Admin.Start(ctx, Handlers(n.Monitor)); err != nil {
            n.cancel()
            return fmt.Errorf("bootstrap: admin endpoint: %w", err)
        }
        n.log.Infof("admin endpoint on %s (%s)", n.Admin.Addr(), n.cfg.Admin.Proto)
    }
    n.done = make(chan error, 1)
    go func() { n.done <- n.Monitor.Run(ctx) }()
    return nil
}

// Done reports the loop's exit error once it stops.
func (n *Node) Done() <-chan error { return n.done }

// Close stops the loop, the admin endpoint and releases probe connections.
func (n *Node) Close() error {
    if n.cancel != nil { n.cancel() }
    if n.Admin != nil {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        _ = n.Admin.Stop(ctx)
        cancel()
    }
    var err error
    if n.done != nil {
        if rerr := <-n.done; rerr != nil && !errors.Is(rerr, context.Canceled) { err = rerr }
        n.done = nil
    }
    err = errors.Join(err, n.Monitor.Close())
    n.close()
    return err
}

func (n *Node) close() {
    for i := len(n.closers) - 1; i >= 0; i-- { n.closers[i]() }
    n.closers = nil
}

// Handlers exposes m over the admin transports.
func Handlers(m *monitor.Monitor) transport.Handlers {
    admin := func(fn func(context.Context, int) error) transport.AdminFunc {
        return func(ctx context.Context, req transport.SoftfailRequest) (transport.AdminResponse, error) {
            if err := fn(ctx, req.NodeID); err != nil {
                return transport.AdminResponse{Code: Code(err), Error: err.Error()}, nil
            }
            return transport.AdminResponse{Accepted: true}, nil
        }
    }
    return transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) {
            st, err := m.Status(ctx)
            if err != nil { return nil, err }
            return json.Marshal(st)
        },
        Softfail:   admin(m.Softfail),
        Unsoftfail: admin(m.Unsoftfail),
    }
}

// Code maps a monitor error to the admin response code.
func Code(err error) string {
    switch {
    case errors.Is(err, monitor.ErrUnknownNode):
        return transport.CodeUnknownNode
    case errors.Is(err, monitor.ErrAdminCommandFailed):
        return transport.CodeCommandFailed
    default:
        return transport.CodeUnavailable
    }
}

// NewClient returns an admin client for proto ("http" or "grpc").
func NewClient(proto string, timeout time.Duration, tlsCfg *tls.Config) transport.RPCClient {
    if proto == "grpc" {
        c := mgmtgrpc.NewClient(timeout)
        if tlsCfg != nil { c.UseTLS(tlsCfg) }
        return c
    }
    c := httpjson.NewClient(timeout)
    if tlsCfg != nil { c.UseTLS(tlsCfg) }
    return c
}

// Discovery builds the configured discovery backend, or nil.
func Discovery(d config.Discovery, logger *log.Logger) discovery.Discovery {
    switch d.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: d.Names, Port: d.Port, Refresh: d.Refresh(), Logger: logger})
    case "file":
        return dFile.New(dFile.Options{Path: d.File, Env: d.Env, Refresh: d.Refresh(), Logger: logger})
    case "static":
        return dStatic.New(d.Names...)
    }
    return nil
}

// TLSOptions converts the config section.
func TLSOptions(t config.TLS) tlsx.Options {
    return tlsx.Options{Enable: t.Enable, CAFile: t.CA, CertFile: t.Cert, KeyFile: t.Key, InsecureSkipVerify: t.SkipVerify, ServerName: t.ServerName}
}

func tlsConfigs(t config.TLS) (srv, cli *tls.Config, err error) {
    if !t.Enable { return nil, nil, nil }
    o := TLSOptions(t)
    if t.Cert != "" && t.Key != "" {
        if srv, err = o.Server(); err != nil { return nil, nil, fmt.Errorf("bootstrap: tls server: %w", err) }
    }
    if cli, err = o.Client(); err != nil { return nil, nil, fmt.Errorf("bootstrap: tls client: %w", err) }
    return srv, cli, nil
}

func hubDialer(cfg config.Config, logger *log.Logger) (*sqlhub.Dialer, error) {
    d, err := sqlhub.Lookup(cfg.Hub.Dialect)
    if err != nil { return nil, err }
    return sqlhub.NewDialer(sqlhub.Options{
        Dialect:      d.Merge(cfg.Hub.Statements),
        User:         cfg.Hub.User,
        Password:     cfg.Hub.Password,
        Database:     cfg.Hub.Database,
        QueryTimeout: cfg.QueryTimeout(),
        Logger:       logger,
    })
}

// healthChecker returns the probe checker and, for gRPC, its closer.
func healthChecker(cfg config.Config, cliTLS *tls.Config) (probe.Checker, func()) {
    var tlsCfg *tls.Config
    if cfg.Health.TLS {
        tlsCfg = cliTLS
        // health endpoints often use self-signed certificates
        if tlsCfg == nil { tlsCfg = &tls.Config{InsecureSkipVerify: true} } //nolint:gosec
    }
    switch cfg.Health.Kind {
    case "grpc":
        c := grpccheck.New(cfg.Health.Service, 4*cfg.Interval())
        if tlsCfg != nil { c.UseTLS(tlsCfg) }
        return c, c.Close
    default:
        c := httpcheck.New(cfg.Health.Path)
        if tlsCfg != nil { c.UseTLS(tlsCfg) }
        return c, nil
    }
}
