package hub

import (
    "context"
    "errors"
    "log"
    "net"
    "strconv"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/node"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

type Options struct {
    Dialer Dialer
    // ConnectTimeout bounds dial + capability check per candidate, and the ping of a held hub.
    ConnectTimeout time.Duration
    Logger         *log.Logger
    // OnChange, if set, is called on every hub reference transition.
    OnChange func(prev, next Ref)
}

func (o Options) Validate() error {
    if o.Dialer == nil { return errors.New("hub: nil Dialer") }
    return nil
}

// Selector owns the hub connection. It is not safe for concurrent use.
type Selector struct {
    opts Options
    log  logutil.Scoped
    ref  Ref
    conn Conn
    // life is cancelled when the hub is replaced or closed, which aborts any
    // query still running on the old connection.
    life   context.Context
    cancel context.CancelFunc
}

func NewSelector(opts Options) (*Selector, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.ConnectTimeout <= 0 { opts.ConnectTimeout = 2 * time.Second }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Selector{opts: opts, log: logutil.Scoped{L: opts.Logger, Name: "hub"}}, nil
}

// Current returns the hub reference.
func (s *Selector) Current() Ref { return s.ref }

// Conn returns the held hub connection without pinging it, or nil.
func (s *Selector) Conn() Conn {
    if s.conn == nil { return nil }
    return s.bound()
}

// Ensure returns a working hub connection, keeping the current hub when it
// still answers a ping and otherwise trying candidates in order, once each.
func (s *Selector) Ensure(ctx context.Context, candidates []Target) (Conn, error) {
    if s.conn != nil {
        pctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
        err := s.conn.Ping(pctx)
        cancel()
        if err == nil { return s.bound(), nil }
        if ctx.Err() != nil { return nil, ctx.Err() }
        s.log.Warnf("hub %s lost: %v", s.ref.Target, err)
        s.drop()
    }
    for _, c := range candidates {
        if err := ctx.Err(); err != nil { return nil, err }
        conn, err := s.try(ctx, c)
        if err != nil {
            s.log.Debugf("candidate %s rejected: %v", c, err)
            continue
        }
        s.install(c, conn)
        s.log.Infof("selected %s as hub candidate", c)
        return s.bound(), nil
    }
    obsmetrics.HubSelectFailures.Inc()
    return nil, ErrNoHubAvailable
}

func (s *Selector) try(ctx context.Context, c Target) (Conn, error) {
    dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
    defer cancel()
    conn, err := s.opts.Dialer.Dial(dctx, c.Addr)
    if err != nil { return nil, err }
    if err := conn.CheckCapability(dctx); err != nil {
        _ = conn.Close()
        return nil, err
    }
    return conn, nil
}

// Confirm applies a successful membership refresh to the hub reference. A
// Candidate whose node is listed Active becomes Active; a hub whose node is
// missing or not Active is dropped. Without quorum an Active hub falls back to
// Candidate. It reports whether a hub is still held.
func (s *Selector) Confirm(rows []Row, quorum bool) bool {
    if s.conn == nil { return false }
    t := s.ref.Target
    for _, r := range rows {
        if !s.matches(r) { continue }
        if r.State != node.MembershipActive { break }
        t.NodeID = r.NodeID
        next := Ref{State: Active, Target: t}
        if !quorum { next.State = Candidate }
        s.transition(next)
        return true
    }
    s.log.Warnf("hub %s is not active in membership, dropping it", s.ref.Target)
    s.drop()
    return false
}

func (s *Selector) matches(r Row) bool {
    if s.ref.Target.NodeID != 0 { return r.NodeID == s.ref.Target.NodeID }
    host, port, err := net.SplitHostPort(s.ref.Target.Addr)
    if err != nil { return false }
    rp := r.SQLPort
    if rp == 0 { rp = node.DefaultSQLPort }
    return r.Host == host && strconv.Itoa(rp) == port
}

// Invalidate drops the current hub; the next Ensure selects again.
func (s *Selector) Invalidate() {
    if s.conn != nil { s.drop() }
}

// Close releases the hub connection on shutdown.
func (s *Selector) Close() { s.Invalidate() }

func (s *Selector) install(t Target, conn Conn) {
    s.conn = conn
    s.life, s.cancel = context.WithCancel(context.Background())
    obsmetrics.HubUp.Set(1)
    obsmetrics.HubChanges.Inc()
    s.transition(Ref{State: Candidate, Target: t})
}

func (s *Selector) drop() {
    s.cancel()
    if err := s.conn.Close(); err != nil { s.log.Debugf("close %s: %v", s.ref.Target, err) }
    s.conn = nil
    obsmetrics.HubUp.Set(0)
    s.transition(Ref{})
}

func (s *Selector) transition(next Ref) {
    prev := s.ref
    s.ref = next
    if prev != next && s.opts.OnChange != nil { s.opts.OnChange(prev, next) }
}

func (s *Selector) bound() Conn { return &boundConn{Conn: s.conn, life: s.life} }

// boundConn ties every call to the lifetime of the hub it was issued for.
type boundConn struct {
    Conn
    life context.Context
}

func (b *boundConn) scope(ctx context.Context) (context.Context, func()) {
    ctx, cancel := context.WithCancel(ctx)
    stop := context.AfterFunc(b.life, cancel)
    return ctx, func() { stop(); cancel() }
}

func (b *boundConn) call(ctx context.Context, fn func(context.Context) error) error {
    if b.life.Err() != nil { return ErrClosed }
    ctx, done := b.scope(ctx)
    defer done()
    err := fn(ctx)
    if err != nil && b.life.Err() != nil { return errors.Join(ErrClosed, err) }
    return err
}

func (b *boundConn) Ping(ctx context.Context) error { return b.call(ctx, b.Conn.Ping) }

func (b *boundConn) CheckCapability(ctx context.Context) error { return b.call(ctx, b.Conn.CheckCapability) }

func (b *boundConn) Membership(ctx context.Context) ([]Row, error) {
    var rows []Row
    err := b.call(ctx, func(ctx context.Context) error {
        var err error
        rows, err = b.Conn.Membership(ctx)
        return err
    })
    return rows, err
}

func (b *boundConn) Softfail(ctx context.Context, id int) error {
    return b.call(ctx, func(ctx context.Context) error { return b.Conn.Softfail(ctx, id) })
}

func (b *boundConn) Unsoftfail(ctx context.Context, id int) error {
    return b.call(ctx, func(ctx context.Context) error { return b.Conn.Unsoftfail(ctx, id) })
}

// Close is a no-op; the selector owns the underlying connection.
func (b *boundConn) Close() error { return nil }
