// Package node holds the per-node state tracked by the monitor. Records carry
// no logic of their own; the reconciler, the probe policy and the admin
// operations mutate them, always from the monitor's goroutine.
package node

import (
    "net"
    "strconv"
    "time"
)

const (
    DefaultSQLPort    = 3306
    DefaultHealthPort = 3581
)

type Role string

const (
    RoleHubCandidate Role = "hub-candidate"
    RoleRegular      Role = "regular"
)

// Membership is the node state as reported by the hub's membership table.
type Membership string

const (
    MembershipUnknown    Membership = "unknown"
    MembershipActive     Membership = "active"
    MembershipQuorumLost Membership = "quorum-lost"
)

// Liveness is derived from health probes only.
type Liveness string

const (
    LivenessChecking Liveness = "checking"
    LivenessUp       Liveness = "up"
    LivenessDown     Liveness = "down"
)

// Record is the monitor's view of one cluster node.
type Record struct {
    ID         int    `json:"id"`
    Host       string `json:"host"`
    SQLPort    int    `json:"sqlPort"`
    HealthPort int    `json:"healthPort"`
    Role       Role   `json:"role"`

    Membership Membership `json:"membership"`
    Instance   int64      `json:"instance"`
    Substate   string     `json:"substate,omitempty"`
    // Stale is set while the hub is unavailable and membership could not be refreshed.
    Stale bool `json:"stale,omitempty"`
    // Missed counts consecutive successful refreshes that did not list the node.
    Missed int `json:"missed,omitempty"`

    Liveness    Liveness  `json:"liveness"`
    Failures    int       `json:"failures"`
    LastProbe   string    `json:"lastProbe,omitempty"`
    LastProbeAt time.Time `json:"lastProbeAt,omitempty"`

    Softfailed     bool `json:"softfailed"`
    CommandPending bool `json:"commandPending,omitempty"`

    FirstSeen time.Time `json:"firstSeen"`
}

// New returns a record for a node seen for the first time.
func New(id int, host string) *Record {
    return &Record{
        ID:         id,
        Host:       host,
        SQLPort:    DefaultSQLPort,
        HealthPort: DefaultHealthPort,
        Role:       RoleHubCandidate,
        Membership: MembershipUnknown,
        Liveness:   LivenessChecking,
        FirstSeen:  time.Now(),
    }
}

// SQLAddr is the host:port used to open a hub connection to this node.
func (r *Record) SQLAddr() string { return net.JoinHostPort(r.Host, strconv.Itoa(r.SQLPort)) }

// HealthAddr is the host:port of the node's health endpoint.
func (r *Record) HealthAddr() string { return net.JoinHostPort(r.Host, strconv.Itoa(r.HealthPort)) }

// Departing reports whether the last refresh did not list the node.
func (r *Record) Departing() bool { return r.Missed > 0 }
