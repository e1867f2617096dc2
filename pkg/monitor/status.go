package monitor

import (
    "context"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/node"
    "github.com/amirimatin/go-clustermon/pkg/status"
)

// Phase is the step of the cycle the monitor is in.
type Phase string

const (
    PhaseIdle                 Phase = "idle"
    PhaseSelectingHub         Phase = "selecting_hub"
    PhaseRefreshingMembership Phase = "refreshing_membership"
    PhaseProbingNodes         Phase = "probing_nodes"
    PhasePublishingStatus     Phase = "publishing_status"
)

// NodeStatus is a node record together with its published status.
type NodeStatus struct {
    node.Record
    Name   string        `json:"name"`
    Status status.Status `json:"status"`
}

// ClusterStatus is a JSON-serializable snapshot of the monitor suitable for
// status endpoints and tooling.
type ClusterStatus struct {
    Monitor    string       `json:"monitor"`
    Phase      Phase        `json:"phase"`
    Hub        hub.Ref      `json:"hub"`
    Cycle      string       `json:"cycle,omitempty"`
    Cycles     uint64       `json:"cycles"`
    LastCycle  time.Time    `json:"lastCycle,omitempty"`
    QuorumLost bool         `json:"quorumLost"`
    Nodes      []NodeStatus `json:"nodes"`
    // Warnings contains non-fatal observations of the last cycle.
    Warnings []string `json:"warnings,omitempty"`
}

// Status returns the snapshot taken at the end of the last cycle or admin
// operation, with the current phase.
func (m *Monitor) Status(ctx context.Context) (*ClusterStatus, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    m.snapMu.RLock()
    defer m.snapMu.RUnlock()
    out := m.snap
    out.Nodes = append([]NodeStatus(nil), m.snap.Nodes...)
    out.Warnings = append([]string(nil), m.snap.Warnings...)
    return &out, nil
}

func (m *Monitor) setPhase(p Phase) {
    m.snapMu.Lock()
    m.snap.Phase = p
    m.snapMu.Unlock()
}

// snapshot must run on the loop goroutine.
func (m *Monitor) snapshot() {
    nodes := make([]NodeStatus, 0, m.set.Len())
    for _, r := range m.set.Snapshot() {
        nodes = append(nodes, NodeStatus{Record: r, Name: status.ServerName(m.opts.Name, r.ID), Status: status.Compute(r)})
    }
    m.snapMu.Lock()
    m.snap.Hub = m.sel.Current()
    m.snap.QuorumLost = m.quorumLost
    m.snap.Nodes = nodes
    m.snap.Warnings = append([]string(nil), m.warnings...)
    m.snapMu.Unlock()
}
