package grpc

import (
    "context"
    "errors"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"
    "google.golang.org/grpc"
    "google.golang.org/grpc/connectivity"

    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("grpc: connection manager closed")

// DialFunc opens a client connection to target.
type DialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager shares one client connection per address between health
// probes or admin calls. Concurrent first uses of an address share a single
// dial. A background sweep closes connections that have been unused for the
// idle TTL or that gRPC has shut down.
type ConnManager struct {
    idle  time.Duration
    dial  DialFunc
    dials singleflight.Group

    mu     sync.Mutex
    pool   map[string]*pooled
    closed bool

    stop     chan struct{}
    stopOnce sync.Once
}

type pooled struct {
    cc        *grpc.ClientConn
    users     int
    idleSince time.Time
    // dropped entries are out of the pool and close on their last release
    dropped bool
}

// NewConnManager returns a manager evicting connections idle for longer than idle.
func NewConnManager(idle time.Duration, dial DialFunc) *ConnManager {
    if idle <= 0 { idle = 30 * time.Second }
    m := &ConnManager{idle: idle, dial: dial, pool: make(map[string]*pooled), stop: make(chan struct{})}
    go m.sweep()
    return m
}

// Get leases the connection for target. The returned func ends the lease
// and must be called exactly once.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    cc, p, err := m.lease(target)
    if err != nil { return nil, func() {}, err }
    if p != nil {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, m.releaser(p), nil
    }
    _, err, _ = m.dials.Do(target, func() (any, error) {
        m.mu.Lock()
        _, ok := m.pool[target]
        m.mu.Unlock()
        if ok { return nil, nil }
        cc, err := m.dial(ctx, target)
        if err != nil { return nil, err }
        m.mu.Lock()
        defer m.mu.Unlock()
        if m.closed {
            _ = cc.Close()
            return nil, ErrClosed
        }
        m.pool[target] = &pooled{cc: cc, idleSince: time.Now()}
        obsmetrics.GRPCConnDials.Inc()
        obsmetrics.GRPCConnActive.Inc()
        return nil, nil
    })
    if err != nil { return nil, func() {}, err }
    cc, p, err = m.lease(target)
    if err != nil { return nil, func() {}, err }
    if p == nil { return nil, func() {}, errors.New("grpc: connection to " + target + " dropped while dialing") }
    return cc, m.releaser(p), nil
}

// lease returns a nil entry when target has no pooled connection.
func (m *ConnManager) lease(target string) (*grpc.ClientConn, *pooled, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil, nil, ErrClosed }
    p, ok := m.pool[target]
    if !ok { return nil, nil, nil }
    p.users++
    return p.cc, p, nil
}

func (m *ConnManager) releaser(p *pooled) func() {
    var once sync.Once
    return func() {
        once.Do(func() {
            m.mu.Lock()
            defer m.mu.Unlock()
            p.users--
            p.idleSince = time.Now()
            if p.dropped && p.users == 0 { m.closeLocked(p) }
        })
    }
}

// Drop takes the connection to target out of the pool after a transport
// failure, so the next Get dials again. Leases still open keep it usable
// until they end.
func (m *ConnManager) Drop(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    p, ok := m.pool[target]
    if !ok { return }
    delete(m.pool, target)
    p.dropped = true
    if p.users == 0 { m.closeLocked(p) }
}

// Close closes every pooled connection and stops the sweep. Later calls are no-ops.
func (m *ConnManager) Close() {
    m.stopOnce.Do(func() { close(m.stop) })
    m.mu.Lock()
    defer m.mu.Unlock()
    m.closed = true
    for target, p := range m.pool {
        delete(m.pool, target)
        m.closeLocked(p)
    }
}

func (m *ConnManager) closeLocked(p *pooled) {
    if p.cc == nil { return }
    _ = p.cc.Close()
    p.cc = nil
    obsmetrics.GRPCConnActive.Dec()
}

func (m *ConnManager) sweep() {
    t := time.NewTicker(m.idle / 2)
    defer t.Stop()
    for {
        select {
        case <-m.stop:
            return
        case now := <-t.C:
            m.mu.Lock()
            for target, p := range m.pool {
                if p.users > 0 { continue }
                if now.Sub(p.idleSince) < m.idle && p.cc.GetState() != connectivity.Shutdown { continue }
                delete(m.pool, target)
                m.closeLocked(p)
                obsmetrics.GRPCConnEvictions.Inc()
            }
            m.mu.Unlock()
        }
    }
}
