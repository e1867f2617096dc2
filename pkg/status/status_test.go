package status

import (
    "testing"

    "github.com/leanovate/gopter"
    "github.com/leanovate/gopter/gen"
    "github.com/leanovate/gopter/prop"
    "github.com/stretchr/testify/assert"

    "github.com/amirimatin/go-clustermon/pkg/node"
)

func rec(l node.Liveness) node.Record {
    r := node.New(1, "a")
    r.Membership = node.MembershipActive
    r.Liveness = l
    return *r
}

func TestComputeRules(t *testing.T) {
    r := rec(node.LivenessUp)
    assert.Equal(t, Running, Compute(r))

    r.Softfailed = true
    assert.Equal(t, Draining, Compute(r))

    r.Missed = 1
    assert.Equal(t, Maintenance, Compute(r))

    r.Liveness = node.LivenessDown
    assert.Equal(t, Down, Compute(r))

    r.Membership = node.MembershipQuorumLost
    assert.Equal(t, Unknown, Compute(r))

    assert.Equal(t, Unknown, Compute(rec(node.LivenessChecking)))
}

func TestSoftfailPrecedence(t *testing.T) {
    r := rec(node.LivenessUp)
    r.Softfailed = true
    assert.Equal(t, Draining, Compute(r))
    r.Liveness = node.LivenessDown
    assert.Equal(t, Down, Compute(r))
}

func genRecord() gopter.Gen {
    return gopter.CombineGens(
        gen.OneConstOf(node.LivenessUp, node.LivenessDown, node.LivenessChecking),
        gen.OneConstOf(node.MembershipActive, node.MembershipUnknown, node.MembershipQuorumLost),
        gen.Bool(),
        gen.IntRange(0, 2),
    ).Map(func(v []interface{}) node.Record {
        r := node.New(1, "a")
        r.Liveness = v[0].(node.Liveness)
        r.Membership = v[1].(node.Membership)
        r.Softfailed = v[2].(bool)
        r.Missed = v[3].(int)
        return *r
    })
}

func TestComputeProperties(t *testing.T) {
    properties := gopter.NewProperties(nil)

    properties.Property("compute is deterministic", prop.ForAll(
        func(r node.Record) bool { return Compute(r) == Compute(r) },
        genRecord(),
    ))

    properties.Property("healthy softfailed nodes are never running", prop.ForAll(
        func(r node.Record) bool {
            if !r.Softfailed { return true }
            return Compute(r) != Running
        },
        genRecord(),
    ))

    properties.Property("quorum loss dominates", prop.ForAll(
        func(r node.Record) bool {
            r.Membership = node.MembershipQuorumLost
            return Compute(r) == Unknown
        },
        genRecord(),
    ))

    properties.TestingRun(t)
}

func TestPublishIdempotent(t *testing.T) {
    reg := NewMemoryRegistry("clustrix")
    var notified int
    reg.OnChange(func(Entry, bool) { notified++ })
    p := NewPublisher(reg, nil)

    set := node.NewSet()
    a := node.New(1, "a")
    a.Liveness = node.LivenessUp
    set.Upsert(a)
    set.Upsert(node.New(2, "b"))

    changes := p.Publish(set, nil)
    assert.Len(t, changes, 2)
    snap := reg.Snapshot()
    assert.Equal(t, "@@clustrix:server-1", snap[0].Name)
    assert.Equal(t, Running, snap[0].Status)
    assert.Equal(t, Unknown, snap[1].Status)

    assert.Empty(t, p.Publish(set, nil))
    assert.Equal(t, snap, reg.Snapshot())
    assert.Equal(t, 2, notified)

    set.Remove(2)
    p.Publish(set, []int{2})
    _, ok := reg.Get(2)
    assert.False(t, ok)
    assert.Equal(t, 3, notified)
}
