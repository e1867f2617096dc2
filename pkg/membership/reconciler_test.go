package membership

import (
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/node"
)

// tableConn serves a fixed membership table.
type tableConn struct {
    rows []Row
    err  error
}

func (c *tableConn) Ping(context.Context) error                    { return nil }
func (c *tableConn) CheckCapability(context.Context) error         { return nil }
func (c *tableConn) Membership(context.Context) ([]Row, error)     { return c.rows, c.err }
func (c *tableConn) Softfail(context.Context, int) error           { return nil }
func (c *tableConn) Unsoftfail(context.Context, int) error         { return nil }
func (c *tableConn) Close() error                                  { return nil }

var _ hub.Conn = (*tableConn)(nil)

func active(id int, host string) Row {
    return Row{NodeID: id, Host: host, SQLPort: 3306, HealthPort: 3581, Role: node.RoleHubCandidate, State: node.MembershipActive, Instance: 1}
}

func notProbing(int) bool { return false }

func TestRefreshAddsAndPreservesLiveness(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    conn := &tableConn{rows: []Row{active(1, "a"), active(2, "b")}}

    res, err := rc.Refresh(context.Background(), conn, set, notProbing)
    require.NoError(t, err)
    assert.Equal(t, []int{1, 2}, res.Added)
    assert.False(t, res.QuorumLost)

    r2, _ := set.Get(2)
    r2.Liveness = node.LivenessDown
    r2.Failures = 3

    res, err = rc.Refresh(context.Background(), conn, set, notProbing)
    require.NoError(t, err)
    assert.Empty(t, res.Added)
    r2, _ = set.Get(2)
    assert.Equal(t, node.LivenessDown, r2.Liveness)
    assert.Equal(t, 3, r2.Failures)
    assert.Equal(t, node.MembershipActive, r2.Membership)
}

func TestRefreshMalformedLeavesSetUnchanged(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    _, err := rc.Refresh(context.Background(), &tableConn{rows: []Row{active(1, "a")}}, set, notProbing)
    require.NoError(t, err)

    bad := [][]Row{
        nil,
        {active(1, "a"), active(1, "b")},
        {active(0, "a")},
        {active(2, "")},
    }
    for _, rows := range bad {
        _, err := rc.Refresh(context.Background(), &tableConn{rows: rows}, set, notProbing)
        assert.ErrorIs(t, err, ErrMembershipQueryFailed)
    }
    _, err = rc.Refresh(context.Background(), &tableConn{err: errors.New("gone")}, set, notProbing)
    assert.ErrorIs(t, err, ErrMembershipQueryFailed)

    assert.Equal(t, []int{1}, set.IDs())
    r1, _ := set.Get(1)
    assert.Equal(t, 0, r1.Missed)
}

func TestRefreshRemovesAfterTwoMisses(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    full := &tableConn{rows: []Row{active(1, "a"), active(2, "b"), active(3, "c")}}
    partial := &tableConn{rows: []Row{active(1, "a"), active(3, "c")}}
    _, err := rc.Refresh(context.Background(), full, set, notProbing)
    require.NoError(t, err)

    res, err := rc.Refresh(context.Background(), partial, set, notProbing)
    require.NoError(t, err)
    assert.Equal(t, []int{2}, res.Departing)
    r2, ok := set.Get(2)
    require.True(t, ok)
    assert.True(t, r2.Departing())

    // a probe is still out for node 2: keep it one more refresh
    res, err = rc.Refresh(context.Background(), partial, set, func(id int) bool { return id == 2 })
    require.NoError(t, err)
    assert.Empty(t, res.Removed)
    assert.Equal(t, []int{2}, res.Departing)

    res, err = rc.Refresh(context.Background(), partial, set, notProbing)
    require.NoError(t, err)
    assert.Equal(t, []int{2}, res.Removed)
    assert.Equal(t, []int{1, 3}, set.IDs())
}

func TestRefreshReappearingResetsMissed(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    full := &tableConn{rows: []Row{active(1, "a"), active(2, "b")}}
    _, _ = rc.Refresh(context.Background(), full, set, notProbing)
    _, _ = rc.Refresh(context.Background(), &tableConn{rows: []Row{active(1, "a")}}, set, notProbing)
    res, err := rc.Refresh(context.Background(), full, set, notProbing)
    require.NoError(t, err)
    assert.Contains(t, res.Updated, 2)
    r2, _ := set.Get(2)
    assert.Equal(t, 0, r2.Missed)
}

func TestRefreshQuorumLost(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    a, b := active(1, "a"), active(2, "b")
    b.Instance = 2
    res, err := rc.Refresh(context.Background(), &tableConn{rows: []Row{a, b}}, set, notProbing)
    require.NoError(t, err)
    assert.True(t, res.QuorumLost)
    set.Each(func(r *node.Record) { assert.Equal(t, node.MembershipQuorumLost, r.Membership) })

    a.State, b.State = node.MembershipUnknown, node.MembershipUnknown
    res, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{a, b}}, set, notProbing)
    require.NoError(t, err)
    assert.True(t, res.QuorumLost)

    a, b = active(1, "a"), active(2, "b")
    res, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{a, b}}, set, notProbing)
    require.NoError(t, err)
    assert.False(t, res.QuorumLost)
    set.Each(func(r *node.Record) { assert.Equal(t, node.MembershipActive, r.Membership) })
}

func TestRefreshAdoptsExternalSoftfail(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    row := active(3, "c")
    row.Substate = "softfailed"
    _, err := rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    r3, _ := set.Get(3)
    assert.True(t, r3.Softfailed)

    // a pending local unsoftfail wins over the cluster's view
    r3.Softfailed = false
    r3.CommandPending = true
    _, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    assert.False(t, r3.Softfailed)
}

func TestRefreshClearsExternalUnsoftfail(t *testing.T) {
    rc := NewReconciler(nil)
    set := node.NewSet()
    row := active(3, "c")
    row.Substate = "softfailed"
    _, err := rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    r3, _ := set.Get(3)
    require.True(t, r3.Softfailed)

    row.Substate = "normal"
    _, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    assert.False(t, r3.Softfailed)

    // a drain issued here is kept while the cluster has not reported it yet
    r3.Softfailed = true
    _, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    assert.True(t, r3.Softfailed)

    // and a pending drain is not undone by a readmission it has not reached
    r3.Substate = "softfailed"
    r3.CommandPending = true
    _, err = rc.Refresh(context.Background(), &tableConn{rows: []Row{row}}, set, notProbing)
    require.NoError(t, err)
    assert.True(t, r3.Softfailed)
}
