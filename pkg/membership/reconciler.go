// Package membership reconciles the hub's membership table into node records.
package membership

import (
    "context"
    "fmt"
    "log"
    "strings"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/node"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

// Row is one merged membership entry as returned by a hub connection.
type Row = hub.Row

// SubstateSoftfailed is the substate the cluster reports for drained nodes.
const SubstateSoftfailed = "softfailed"

// RemoveAfter is the number of consecutive refreshes a node may be missing
// before its record is dropped.
const RemoveAfter = 2

// Result summarizes one successful refresh. All id slices are ascending.
type Result struct {
    Rows       []Row
    Added      []int
    Updated    []int
    Removed    []int
    Departing  []int
    QuorumLost bool
}

type Reconciler struct {
    log logutil.Scoped
}

func NewReconciler(l *log.Logger) *Reconciler {
    if l == nil { l = log.Default() }
    return &Reconciler{log: logutil.Scoped{L: l, Name: "membership"}}
}

// Refresh queries conn and applies the result to set. probing reports whether
// a health probe is outstanding for a node; such nodes are never removed. On
// error the set is left untouched.
func (rc *Reconciler) Refresh(ctx context.Context, conn hub.Conn, set *node.Set, probing func(id int) bool) (Result, error) {
    rows, err := conn.Membership(ctx)
    if err != nil {
        obsmetrics.MembershipRefreshes.WithLabelValues("error").Inc()
        return Result{}, fmt.Errorf("%w: %v", ErrMembershipQueryFailed, err)
    }
    if err := validate(rows); err != nil {
        obsmetrics.MembershipRefreshes.WithLabelValues("malformed").Inc()
        return Result{}, fmt.Errorf("%w: %v", ErrMembershipQueryFailed, err)
    }
    obsmetrics.MembershipRefreshes.WithLabelValues("ok").Inc()

    res := Result{Rows: rows, QuorumLost: !hasQuorum(rows)}
    seen := make(map[int]bool, len(rows))
    for _, row := range rows {
        seen[row.NodeID] = true
        rec, ok := set.Get(row.NodeID)
        if !ok {
            rec = node.New(row.NodeID, row.Host)
            set.Upsert(rec)
            res.Added = append(res.Added, row.NodeID)
            rc.log.Infof("node %d at %s joined", row.NodeID, row.Host)
        } else if rc.changed(rec, row) {
            res.Updated = append(res.Updated, row.NodeID)
        }
        rc.apply(rec, row, res.QuorumLost)
    }

    for _, id := range set.IDs() {
        if seen[id] { continue }
        rec, _ := set.Get(id)
        rec.Missed++
        rec.Stale = false
        if res.QuorumLost { rec.Membership = node.MembershipQuorumLost }
        if rec.Missed >= RemoveAfter && (probing == nil || !probing(id)) {
            set.Remove(id)
            res.Removed = append(res.Removed, id)
            rc.log.Infof("node %d at %s removed after %d refreshes without it", id, rec.Host, rec.Missed)
            continue
        }
        res.Departing = append(res.Departing, id)
    }

    if res.QuorumLost {
        obsmetrics.QuorumLost.Set(1)
        rc.log.Warnf("membership reports no single quorum; all nodes marked quorum-lost")
    } else {
        obsmetrics.QuorumLost.Set(0)
    }
    return res, nil
}

func (rc *Reconciler) changed(rec *node.Record, row Row) bool {
    return rec.Host != row.Host || rec.SQLPort != port(row.SQLPort, node.DefaultSQLPort) ||
        rec.HealthPort != port(row.HealthPort, node.DefaultHealthPort) || rec.Role != role(row.Role) ||
        rec.Instance != row.Instance || rec.Substate != row.Substate || rec.Membership != row.State || rec.Missed > 0
}

// apply copies membership fields only; liveness belongs to the probe policy.
func (rc *Reconciler) apply(rec *node.Record, row Row, quorumLost bool) {
    if rec.Host != row.Host {
        rc.log.Infof("node %d moved from %s to %s", rec.ID, rec.Host, row.Host)
    }
    wasSoftfailed := strings.EqualFold(rec.Substate, SubstateSoftfailed)
    rec.Host = row.Host
    rec.SQLPort = port(row.SQLPort, node.DefaultSQLPort)
    rec.HealthPort = port(row.HealthPort, node.DefaultHealthPort)
    rec.Role = role(row.Role)
    rec.Instance = row.Instance
    rec.Substate = row.Substate
    rec.Missed = 0
    rec.Stale = false
    rec.Membership = row.State
    if rec.Membership != node.MembershipActive { rec.Membership = node.MembershipUnknown }
    if quorumLost { rec.Membership = node.MembershipQuorumLost }
    if rec.CommandPending { return }
    isSoftfailed := strings.EqualFold(row.Substate, SubstateSoftfailed)
    switch {
    case isSoftfailed && !rec.Softfailed:
        rec.Softfailed = true
        rc.log.Infof("node %d is softfailed in the cluster, adopting drain", rec.ID)
    case wasSoftfailed && !isSoftfailed && rec.Softfailed:
        // readmitted by another administrator
        rec.Softfailed = false
        rc.log.Infof("node %d is no longer softfailed in the cluster, clearing drain", rec.ID)
    }
}

func validate(rows []Row) error {
    if len(rows) == 0 { return fmt.Errorf("empty membership") }
    ids := make(map[int]bool, len(rows))
    for _, r := range rows {
        if r.NodeID <= 0 { return fmt.Errorf("invalid node id %d", r.NodeID) }
        if r.Host == "" { return fmt.Errorf("node %d has no address", r.NodeID) }
        if ids[r.NodeID] { return fmt.Errorf("duplicate node id %d", r.NodeID) }
        ids[r.NodeID] = true
    }
    return nil
}

// hasQuorum holds when at least one row is Active and all Active rows agree
// on the membership instance.
func hasQuorum(rows []Row) bool {
    var inst int64
    active := 0
    for _, r := range rows {
        if r.State != node.MembershipActive { continue }
        if active > 0 && r.Instance != inst { return false }
        inst = r.Instance
        active++
    }
    return active > 0
}

func port(p, def int) int {
    if p <= 0 { return def }
    return p
}

func role(r node.Role) node.Role {
    if r == "" { return node.RoleHubCandidate }
    return r
}
