// Package hub selects and holds the coordinating node ("hub") through which
// the monitor reads the cluster's membership table and issues admin commands.
package hub

import (
    "context"
    "fmt"
    "net"
    "strconv"

    "github.com/amirimatin/go-clustermon/pkg/node"
)

// Target identifies a hub candidate. NodeID is 0 when the candidate is only
// known by a bootstrap address.
type Target struct {
    NodeID int    `json:"nodeId"`
    Addr   string `json:"addr"`
}

func (t Target) String() string {
    if t.NodeID == 0 { return t.Addr }
    return fmt.Sprintf("%s(nid=%d)", t.Addr, t.NodeID)
}

// State is the hub reference tag.
type State int

const (
    NoHub State = iota
    Candidate
    Active
)

func (s State) String() string {
    switch s {
    case Candidate:
        return "candidate"
    case Active:
        return "active"
    default:
        return "none"
    }
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
    switch string(b) {
    case "none", "":
        *s = NoHub
    case "candidate":
        *s = Candidate
    case "active":
        *s = Active
    default:
        return fmt.Errorf("hub: unknown state %q", b)
    }
    return nil
}

// Ref is the current hub: NoHub, Candidate(target) or Active(target).
// Target is meaningless when State is NoHub.
type Ref struct {
    State  State  `json:"state"`
    Target Target `json:"target"`
}

func (r Ref) String() string {
    if r.State == NoHub { return "none" }
    return r.State.String() + ":" + r.Target.String()
}

// Row is one entry of the hub's membership table, merged with node info.
type Row struct {
    NodeID     int
    Host       string
    SQLPort    int
    HealthPort int
    Role       node.Role
    State      node.Membership
    Instance   int64
    Substate   string
}

// SQLAddr is the host:port a hub connection to this row's node would use.
func (r Row) SQLAddr() string {
    p := r.SQLPort
    if p == 0 { p = node.DefaultSQLPort }
    return net.JoinHostPort(r.Host, strconv.Itoa(p))
}

// Conn is an open connection to a hub. Implementations must honor ctx
// cancellation on every call.
type Conn interface {
    // Ping runs a trivial query to confirm the connection still works.
    Ping(ctx context.Context) error
    // CheckCapability verifies the node is in quorum and can serve the membership table.
    CheckCapability(ctx context.Context) error
    Membership(ctx context.Context) ([]Row, error)
    Softfail(ctx context.Context, nodeID int) error
    Unsoftfail(ctx context.Context, nodeID int) error
    Close() error
}

// Dialer opens hub connections.
type Dialer interface {
    Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) { return f(ctx, addr) }
