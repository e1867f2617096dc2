// Package sqlhub implements hub connections over database/sql, using the
// MySQL wire protocol for Clustrix and pgx for PostgreSQL-compatible clusters.
package sqlhub

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/stdlib"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/node"
)

// Options configures the dialer.
type Options struct {
    Dialect  Dialect
    User     string
    Password string
    Database string
    // QueryTimeout bounds each statement when the caller's context has no deadline.
    QueryTimeout time.Duration
    Logger       *log.Logger
}

func (o Options) Validate() error {
    if o.Dialect.Membership == "" || o.Dialect.NodeInfo == "" { return errors.New("sqlhub: dialect needs membership and node info statements") }
    switch o.Dialect.Driver {
    case "mysql", "pgx":
    default:
        return fmt.Errorf("sqlhub: unsupported driver %q", o.Dialect.Driver)
    }
    return nil
}

// Dialer opens one database/sql pool (single connection) per hub.
type Dialer struct {
    opts Options
    log  logutil.Scoped
    // open is replaced in tests to hand out sqlmock databases.
    open func(ctx context.Context, addr string) (*sql.DB, error)
}

func NewDialer(opts Options) (*Dialer, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.QueryTimeout <= 0 { opts.QueryTimeout = 5 * time.Second }
    if opts.Logger == nil { opts.Logger = log.Default() }
    d := &Dialer{opts: opts, log: logutil.Scoped{L: opts.Logger, Name: "sqlhub"}}
    d.open = d.openDB
    return d, nil
}

func (d *Dialer) openDB(ctx context.Context, addr string) (*sql.DB, error) {
    timeout := d.opts.QueryTimeout
    if dl, ok := ctx.Deadline(); ok { timeout = time.Until(dl) }
    switch d.opts.Dialect.Driver {
    case "pgx":
        host, port, err := net.SplitHostPort(addr)
        if err != nil { return nil, err }
        p, err := strconv.ParseUint(port, 10, 16)
        if err != nil { return nil, fmt.Errorf("sqlhub: bad port in %q", addr) }
        cfg, err := pgx.ParseConfig("")
        if err != nil { return nil, err }
        cfg.Host, cfg.Port = host, uint16(p)
        cfg.User, cfg.Password, cfg.Database = d.opts.User, d.opts.Password, d.opts.Database
        cfg.ConnectTimeout = timeout
        return stdlib.OpenDB(*cfg), nil
    default:
        cfg := mysql.NewConfig()
        cfg.Net = "tcp"
        cfg.Addr = addr
        cfg.User, cfg.Passwd, cfg.DBName = d.opts.User, d.opts.Password, d.opts.Database
        cfg.Timeout = timeout
        cfg.ReadTimeout = d.opts.QueryTimeout
        cfg.WriteTimeout = d.opts.QueryTimeout
        return sql.Open("mysql", cfg.FormatDSN())
    }
}

// Dial opens a connection to addr and verifies it with a ping.
func (d *Dialer) Dial(ctx context.Context, addr string) (hub.Conn, error) {
    db, err := d.open(ctx, addr)
    if err != nil { return nil, fmt.Errorf("sqlhub: open %s: %w", addr, err) }
    db.SetMaxOpenConns(1)
    db.SetMaxIdleConns(1)
    c := &Conn{db: db, addr: addr, dialect: d.opts.Dialect, timeout: d.opts.QueryTimeout, log: d.log}
    if err := c.Ping(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return c, nil
}

// Conn is a hub connection backed by *sql.DB.
type Conn struct {
    db      *sql.DB
    addr    string
    dialect Dialect
    timeout time.Duration
    log     logutil.Scoped
}

func (c *Conn) bound(ctx context.Context) (context.Context, context.CancelFunc) {
    if _, ok := ctx.Deadline(); ok { return context.WithCancel(ctx) }
    return context.WithTimeout(ctx, c.timeout)
}

func (c *Conn) Ping(ctx context.Context) error {
    ctx, cancel := c.bound(ctx)
    defer cancel()
    var one int
    if err := c.db.QueryRowContext(ctx, c.dialect.Ping).Scan(&one); err != nil {
        return fmt.Errorf("sqlhub: ping %s: %w", c.addr, err)
    }
    return nil
}

func (c *Conn) CheckCapability(ctx context.Context) error {
    ctx, cancel := c.bound(ctx)
    defer cancel()
    var status sql.NullString
    err := c.db.QueryRowContext(ctx, c.dialect.Capability).Scan(&status)
    if errors.Is(err, sql.ErrNoRows) { return fmt.Errorf("%w: %s reports no local membership", hub.ErrNotCapable, c.addr) }
    if err != nil { return fmt.Errorf("sqlhub: capability %s: %w", c.addr, err) }
    if !strings.EqualFold(status.String, c.dialect.ActiveStatus) {
        return fmt.Errorf("%w: %s status %q", hub.ErrNotCapable, c.addr, status.String)
    }
    return nil
}

type member struct {
    status   string
    instance int64
    substate string
}

// Membership reads the membership table and node info and joins them by
// node id. Rows missing from either side are logged and left out.
func (c *Conn) Membership(ctx context.Context) ([]hub.Row, error) {
    ctx, cancel := c.bound(ctx)
    defer cancel()
    members, order, err := c.members(ctx)
    if err != nil { return nil, err }

    rs, err := c.db.QueryContext(ctx, c.dialect.NodeInfo)
    if err != nil { return nil, fmt.Errorf("sqlhub: node info: %w", err) }
    defer rs.Close()
    info := map[int]hub.Row{}
    for rs.Next() {
        var (
            id         sql.NullInt64
            host       sql.NullString
            sqlPort    sql.NullInt64
            healthPort sql.NullInt64
        )
        if err := rs.Scan(&id, &host, &sqlPort, &healthPort); err != nil { return nil, fmt.Errorf("sqlhub: node info scan: %w", err) }
        if !id.Valid || !host.Valid {
            c.log.Warnf("node info row without node id or address, ignoring it")
            continue
        }
        r := hub.Row{NodeID: int(id.Int64), Host: host.String, SQLPort: node.DefaultSQLPort, HealthPort: node.DefaultHealthPort, Role: node.RoleHubCandidate}
        if sqlPort.Valid { r.SQLPort = int(sqlPort.Int64) } else { r.Role = node.RoleRegular }
        if healthPort.Valid { r.HealthPort = int(healthPort.Int64) }
        info[r.NodeID] = r
    }
    if err := rs.Err(); err != nil { return nil, fmt.Errorf("sqlhub: node info: %w", err) }

    out := make([]hub.Row, 0, len(order))
    for _, id := range order {
        r, ok := info[id]
        if !ok {
            c.log.Warnf("node %d is a member but has no node info, ignoring it", id)
            continue
        }
        m := members[id]
        r.Instance, r.Substate = m.instance, m.substate
        r.State = node.MembershipUnknown
        if strings.EqualFold(m.status, c.dialect.ActiveStatus) { r.State = node.MembershipActive }
        out = append(out, r)
        delete(info, id)
    }
    for id, r := range info {
        c.log.Warnf("node %d at %s found in node info but not in membership", id, r.SQLAddr())
    }
    return out, nil
}

func (c *Conn) members(ctx context.Context) (map[int]member, []int, error) {
    rs, err := c.db.QueryContext(ctx, c.dialect.Membership)
    if err != nil { return nil, nil, fmt.Errorf("sqlhub: membership: %w", err) }
    defer rs.Close()
    out := map[int]member{}
    var order []int
    for rs.Next() {
        var (
            nid      sql.NullInt64
            status   sql.NullString
            instance sql.NullInt64
            substate sql.NullString
        )
        if err := rs.Scan(&nid, &status, &instance, &substate); err != nil { return nil, nil, fmt.Errorf("sqlhub: membership scan: %w", err) }
        if !nid.Valid {
            c.log.Warnf("membership row without node id, ignoring it")
            continue
        }
        m := member{status: "unknown", instance: -1, substate: "unknown"}
        if status.Valid { m.status = status.String }
        if instance.Valid { m.instance = instance.Int64 }
        if substate.Valid { m.substate = substate.String }
        id := int(nid.Int64)
        if _, dup := out[id]; !dup { order = append(order, id) }
        out[id] = m
    }
    if err := rs.Err(); err != nil { return nil, nil, fmt.Errorf("sqlhub: membership: %w", err) }
    return out, order, nil
}

func (c *Conn) Softfail(ctx context.Context, nodeID int) error {
    return c.exec(ctx, c.dialect.Softfail, nodeID)
}

func (c *Conn) Unsoftfail(ctx context.Context, nodeID int) error {
    return c.exec(ctx, c.dialect.Unsoftfail, nodeID)
}

func (c *Conn) exec(ctx context.Context, stmt string, id int) error {
    ctx, cancel := c.bound(ctx)
    defer cancel()
    q, args := c.dialect.command(stmt, id)
    if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
        return fmt.Errorf("sqlhub: %q on %s: %w", q, c.addr, err)
    }
    c.log.Infof("%s performed on %s", q, c.addr)
    return nil
}

func (c *Conn) Close() error { return c.db.Close() }

var (
    _ hub.Dialer = (*Dialer)(nil)
    _ hub.Conn   = (*Conn)(nil)
)
