package probe

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func recv(t *testing.T, e *Engine) Result {
    t.Helper()
    select {
    case r := <-e.Results():
        e.Complete(r)
        return r
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for probe result")
    }
    return Result{}
}

func TestEngineOptionsValidate(t *testing.T) {
    _, err := New(Options{MaxInFlight: 1})
    require.Error(t, err)
    _, err = New(Options{Checker: CheckerFunc(func(context.Context, string) error { return nil })})
    require.Error(t, err)
}

func TestEngineDispatchAndResults(t *testing.T) {
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        if addr == "b:3581" { return errors.New("connection refused") }
        return nil
    })
    e, err := New(Options{Checker: chk, Timeout: time.Second, MaxInFlight: 4})
    require.NoError(t, err)
    defer e.Cancel()

    started, skipped := e.Dispatch([]Target{{NodeID: 1, Addr: "a:3581"}, {NodeID: 2, Addr: "b:3581"}})
    assert.Equal(t, []int{1, 2}, started)
    assert.Empty(t, skipped)

    got := map[int]Outcome{}
    for i := 0; i < 2; i++ {
        r := recv(t, e)
        got[r.NodeID] = r.Outcome
    }
    assert.Equal(t, Healthy, got[1])
    assert.Equal(t, ConnectionError, got[2])
    assert.Equal(t, 0, e.InFlight())
}

func TestEngineSkipsOutstanding(t *testing.T) {
    release := make(chan struct{})
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        select {
        case <-release:
            return nil
        case <-ctx.Done():
            return ctx.Err()
        }
    })
    e, err := New(Options{Checker: chk, Timeout: 5 * time.Second, MaxInFlight: 4})
    require.NoError(t, err)
    defer e.Cancel()

    e.Dispatch([]Target{{NodeID: 3, Addr: "c:3581"}})
    require.True(t, e.Outstanding(3))

    started, skipped := e.Dispatch([]Target{{NodeID: 3, Addr: "c:3581"}, {NodeID: 4, Addr: "d:3581"}})
    assert.Equal(t, []int{4}, started)
    assert.Equal(t, []int{3}, skipped)

    close(release)
    recv(t, e)
    recv(t, e)
    assert.False(t, e.Outstanding(3))
}

func TestEngineTimeout(t *testing.T) {
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        <-ctx.Done()
        return ctx.Err()
    })
    e, err := New(Options{Checker: chk, Timeout: 20 * time.Millisecond, MaxInFlight: 1})
    require.NoError(t, err)
    defer e.Cancel()

    e.Dispatch([]Target{{NodeID: 1, Addr: "a:3581"}})
    r := recv(t, e)
    assert.Equal(t, TimedOut, r.Outcome)
    assert.ErrorIs(t, r.Err, ErrProbeTimeout)
}

func TestEngineConcurrencyCeiling(t *testing.T) {
    var running, peak int32
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        n := atomic.AddInt32(&running, 1)
        for {
            p := atomic.LoadInt32(&peak)
            if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) { break }
        }
        time.Sleep(10 * time.Millisecond)
        atomic.AddInt32(&running, -1)
        return nil
    })
    e, err := New(Options{Checker: chk, Timeout: time.Second, MaxInFlight: 2})
    require.NoError(t, err)
    defer e.Cancel()

    var targets []Target
    for i := 1; i <= 8; i++ { targets = append(targets, Target{NodeID: i, Addr: "n:3581"}) }
    started, _ := e.Dispatch(targets)
    assert.Len(t, started, 8)
    for i := 0; i < 8; i++ { recv(t, e) }
    assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestEngineCancelDiscards(t *testing.T) {
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        <-ctx.Done()
        return ctx.Err()
    })
    e, err := New(Options{Checker: chk, Timeout: time.Minute, MaxInFlight: 2})
    require.NoError(t, err)
    e.Dispatch([]Target{{NodeID: 1, Addr: "a"}, {NodeID: 2, Addr: "b"}})
    e.Cancel()
    assert.Equal(t, 0, e.InFlight())
    select {
    case r := <-e.Results():
        t.Fatalf("unexpected result after cancel: %+v", r)
    default:
    }
    started, _ := e.Dispatch([]Target{{NodeID: 1, Addr: "a"}})
    assert.Empty(t, started)
}

func TestEngineExpiresStuckCheck(t *testing.T) {
    release := make(chan struct{})
    var calls int32
    chk := CheckerFunc(func(ctx context.Context, addr string) error {
        // the first check ignores its context
        if atomic.AddInt32(&calls, 1) == 1 {
            <-release
            return nil
        }
        return errors.New("connection refused")
    })
    e, err := New(Options{Checker: chk, Timeout: 20 * time.Millisecond, MaxInFlight: 2})
    require.NoError(t, err)
    defer e.Cancel()

    e.Dispatch([]Target{{NodeID: 1, Addr: "a:3581"}})
    assert.Empty(t, e.Expire(time.Now()))
    require.Eventually(t, func() bool { return len(e.Overdue(time.Now())) == 1 }, 2*time.Second, 5*time.Millisecond)

    expired := e.Expire(time.Now())
    require.Len(t, expired, 1)
    assert.Equal(t, TimedOut, expired[0].Outcome)
    assert.ErrorIs(t, expired[0].Err, ErrProbeTimeout)
    assert.Equal(t, "a:3581", expired[0].Addr)
    assert.False(t, e.Outstanding(1))

    started, _ := e.Dispatch([]Target{{NodeID: 1, Addr: "a:3581"}})
    assert.Equal(t, []int{1}, started)
    assert.Equal(t, ConnectionError, recv(t, e).Outcome)

    // the stuck check finally answers; its result belongs to the expired probe
    close(release)
    select {
    case r := <-e.Results():
        assert.Equal(t, Healthy, r.Outcome)
        assert.False(t, e.Complete(r))
    case <-time.After(2 * time.Second):
        t.Fatalf("stuck check never returned")
    }
    assert.Equal(t, 0, e.InFlight())
}
