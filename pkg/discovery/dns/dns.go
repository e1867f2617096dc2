// Package dns resolves bootstrap servers from SRV or A/AAAA records.
package dns

import (
    "context"
    "log"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/discovery"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/node"
)

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV records or hostnames to resolve.
    // Examples: "_mysql._tcp.db.example.com" (SRV) or "db1.example.com" (A/AAAA).
    Names []string

    // Port used for A/AAAA answers. Defaults to the SQL port.
    Port int

    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration

    // Timeout bounds one full resolution pass; if zero, defaults to 2s.
    Timeout time.Duration

    // Resolver optionally overrides the DNS resolver used.
    Resolver *net.Resolver

    Logger *log.Logger
}

type impl struct {
    opts  Options
    log   logutil.Scoped
    mu    sync.Mutex
    last  time.Time
    cache []string
}

// New returns a DNS-backed discovery that caches answers for Refresh. A
// failed pass keeps serving the previous answer.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Port == 0 { opts.Port = node.DefaultSQLPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &impl{opts: opts, log: logutil.Scoped{L: opts.Logger, Name: "discovery/dns"}}
}

func (d *impl) Seeds() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
        return append([]string(nil), d.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
    defer cancel()
    if res := d.resolveAll(ctx); len(res) > 0 || len(d.cache) == 0 {
        d.cache = res
    }
    d.last = time.Now()
    return append([]string(nil), d.cache...)
}

func (d *impl) resolveAll(ctx context.Context) []string {
    seen := make(map[string]struct{})
    var out []string
    add := func(hp string) {
        if _, ok := seen[hp]; ok { return }
        seen[hp] = struct{}{}
        out = append(out, hp)
    }
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        // already host:port
        if _, _, err := net.SplitHostPort(name); err == nil {
            add(name)
            continue
        }
        if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
            if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
                for _, hp := range recs { add(hp) }
                continue
            }
        }
        for _, hp := range d.lookupHost(ctx, name, d.opts.Port) { add(hp) }
    }
    sort.Strings(out)
    return out
}

func (d *impl) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil }
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        d.log.Debugf("srv %s: %v", fqdn, err)
        return nil
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        host := strings.TrimSuffix(a.Target, ".")
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
    }
    return out
}

func (d *impl) lookupHost(ctx context.Context, host string, port int) []string {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        d.log.Warnf("lookup %s: %v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
    }
    return out
}

// parseSRVName splits _service._proto.name.
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
