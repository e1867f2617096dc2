package node

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestSetOrderingAndLookup(t *testing.T) {
    s := NewSet()
    s.Upsert(New(3, "10.0.0.3"))
    s.Upsert(New(1, "10.0.0.1"))
    s.Upsert(New(2, "10.0.0.2"))

    assert.Equal(t, []int{1, 2, 3}, s.IDs())
    r, ok := s.Get(2)
    require.True(t, ok)
    assert.Equal(t, "10.0.0.2", r.Host)

    assert.True(t, s.Remove(2))
    assert.False(t, s.Remove(2))
    assert.Equal(t, 2, s.Len())
}

func TestSnapshotIsCopy(t *testing.T) {
    s := NewSet()
    s.Upsert(New(1, "10.0.0.1"))
    snap := s.Snapshot()
    snap[0].Softfailed = true
    r, _ := s.Get(1)
    assert.False(t, r.Softfailed)
}

func TestNewRecordDefaults(t *testing.T) {
    r := New(7, "db7")
    assert.Equal(t, LivenessChecking, r.Liveness)
    assert.Equal(t, MembershipUnknown, r.Membership)
    assert.Equal(t, "db7:3306", r.SQLAddr())
    assert.Equal(t, "db7:3581", r.HealthAddr())
    assert.False(t, r.Departing())
}

func TestMarkStale(t *testing.T) {
    s := NewSet()
    s.Upsert(New(1, "a"))
    s.Upsert(New(2, "b"))
    s.MarkStale()
    s.Each(func(r *Record) { assert.True(t, r.Stale) })
}
