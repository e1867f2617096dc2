package hub

import (
    "net"
    "strconv"

    "github.com/amirimatin/go-clustermon/pkg/node"
)

// Order builds the candidate list for one selection attempt: known
// hub-capable nodes by ascending id, with Down or softfailed nodes moved to
// the end, followed by bootstrap addresses whose host is not a known node.
func Order(set *node.Set, bootstrap []string) []Target {
    var good, poor []Target
    known := map[string]bool{}
    set.Each(func(r *node.Record) {
        known[r.Host] = true
        if r.Role == node.RoleRegular { return }
        t := Target{NodeID: r.ID, Addr: r.SQLAddr()}
        if r.Liveness == node.LivenessDown || r.Softfailed {
            poor = append(poor, t)
            return
        }
        good = append(good, t)
    })
    out := append(good, poor...)
    seen := map[string]bool{}
    for _, t := range out { seen[t.Addr] = true }
    for _, addr := range bootstrap {
        addr = withDefaultPort(addr)
        host, _, err := net.SplitHostPort(addr)
        if err != nil || known[host] || seen[addr] { continue }
        seen[addr] = true
        out = append(out, Target{Addr: addr})
    }
    return out
}

func withDefaultPort(addr string) string {
    if _, _, err := net.SplitHostPort(addr); err == nil { return addr }
    return net.JoinHostPort(addr, strconv.Itoa(node.DefaultSQLPort))
}
