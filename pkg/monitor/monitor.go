// Package monitor runs the cluster health cycle: select a hub, refresh
// membership through it, probe every node and publish per-node status.
//
// All node records and the hub reference are owned by whichever goroutine
// holds the loop token (Run, Tick, or an admin call made while neither is
// active). Other goroutines reach that state only through requests the loop
// services, or through the Status snapshot.
package monitor

import (
    "context"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/membership"
    "github.com/amirimatin/go-clustermon/pkg/node"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
    "github.com/amirimatin/go-clustermon/pkg/observability/tracing"
    "github.com/amirimatin/go-clustermon/pkg/probe"
    "github.com/amirimatin/go-clustermon/pkg/status"
)

// Monitor is the cluster health monitor.
type Monitor struct {
    opts Options
    log  logutil.Scoped

    // owner is the loop token: a send acquires it, a receive releases it.
    owner   chan struct{}
    reqs    chan request
    running atomic.Bool
    closed  atomic.Bool

    set     *node.Set
    sel     *hub.Selector
    rec     *membership.Reconciler
    engine  *probe.Engine
    pub     *status.Publisher
    delayed delayedCall

    cycle      string
    quorumLost bool
    warnings   []string

    snapMu sync.RWMutex
    snap   ClusterStatus

    eb eventBus
}

// New constructs a Monitor from validated options. It performs no network
// activity; call Tick or Run to start monitoring.
func New(opts Options) (*Monitor, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts = opts.withDefaults()
    m := &Monitor{
        opts:  opts,
        log:   logutil.Scoped{L: opts.Logger, Name: "monitor"},
        owner: make(chan struct{}, 1),
        reqs:  make(chan request),
        set:   node.NewSet(),
        rec:   membership.NewReconciler(opts.Logger),
        pub:   status.NewPublisher(opts.Registry, opts.Logger),
    }
    var err error
    m.sel, err = hub.NewSelector(hub.Options{
        Dialer:         opts.Dialer,
        ConnectTimeout: opts.ConnectTimeout,
        Logger:         opts.Logger,
        OnChange:       m.onHubChange,
    })
    if err != nil { return nil, err }
    m.engine, err = probe.New(probe.Options{
        Checker:     opts.Checker,
        Timeout:     opts.ProbeTimeout,
        MaxInFlight: opts.MaxInFlight,
        Logger:      opts.Logger,
    })
    if err != nil { return nil, err }
    m.snap = ClusterStatus{Monitor: opts.Name, Phase: PhaseIdle, Nodes: []NodeStatus{}}
    return m, nil
}

func (m *Monitor) acquire(ctx context.Context) error {
    select {
    case m.owner <- struct{}{}:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (m *Monitor) release() { <-m.owner }

// Tick runs exactly one cycle synchronously. It is meant for an external
// scheduler; it must not be mixed with Run.
func (m *Monitor) Tick(ctx context.Context) error {
    if m.closed.Load() { return ErrNotRunning }
    if err := m.acquire(ctx); err != nil { return err }
    defer m.release()
    if m.closed.Load() { return ErrNotRunning }
    return m.runCycle(ctx)
}

// Run drives cycles every Interval until ctx is cancelled, servicing admin
// requests and late probe results between cycles. On return the monitor is
// closed.
func (m *Monitor) Run(ctx context.Context) error {
    if m.closed.Load() { return ErrNotRunning }
    if !m.running.CompareAndSwap(false, true) { return ErrAlreadyRunning }
    defer m.running.Store(false)
    if err := m.acquire(ctx); err != nil { return err }
    defer m.release()
    if m.closed.Load() { return ErrNotRunning }

    m.log.Infof("monitor %s started, interval %s", m.opts.Name, m.opts.Interval)
    ticker := time.NewTicker(m.opts.Interval)
    defer ticker.Stop()
    _ = m.runCycle(ctx)
    for {
        select {
        case <-ctx.Done():
            m.shutdown()
            return nil
        case <-ticker.C:
            _ = m.runCycle(ctx)
        case req := <-m.reqs:
            m.serve(req)
        case r := <-m.engine.Results():
            m.applyResult(r, true)
        }
    }
}

// Close cancels outstanding probes and releases the hub. It is only needed
// when the monitor is driven by Tick; Run closes on exit.
func (m *Monitor) Close() error {
    if m.closed.Load() { return nil }
    if err := m.acquire(context.Background()); err != nil { return err }
    defer m.release()
    m.shutdown()
    return nil
}

// shutdown runs with the loop token held.
func (m *Monitor) shutdown() {
    if m.closed.Swap(true) { return }
    m.delayed.cancel()
    m.engine.Cancel()
    m.sel.Close()
    m.setPhase(PhaseIdle)
    m.log.Infof("monitor %s stopped", m.opts.Name)
}

func (m *Monitor) runCycle(ctx context.Context) error {
    start := time.Now()
    m.cycle = uuid.NewString()
    m.warnings = nil
    ctx, span := tracing.StartSpan(ctx, "monitor.cycle")
    span.SetString("cycle.id", m.cycle)
    defer span.End()

    // a new cycle replaces any pending collection
    m.delayed.cancel()
    m.drainResults()
    m.expireOverdue()

    removed, err := m.refresh(ctx)
    if err == nil { err = m.probeNodes(ctx) }
    if err != nil {
        // only cancellation ends a cycle early; records already removed
        // must still leave the registry
        m.pub.Forget(removed)
        span.RecordError(err)
        m.setPhase(PhaseIdle)
        return err
    }
    m.publish(removed)

    span.SetInt("nodes", m.set.Len())
    obsmetrics.Cycles.Inc()
    obsmetrics.CycleDuration.Observe(time.Since(start).Seconds())
    m.snapMu.Lock()
    m.snap.Cycle = m.cycle
    m.snap.Cycles++
    m.snap.LastCycle = time.Now()
    m.snapMu.Unlock()
    m.snapshot()
    m.setPhase(PhaseIdle)
    return nil
}

// refresh selects the hub and reconciles membership through it. Hub and
// query failures are logged and leave the previous records in place, marked
// stale; only ctx errors are returned.
func (m *Monitor) refresh(ctx context.Context) ([]int, error) {
    m.setPhase(PhaseSelectingHub)
    sctx, span := tracing.StartSpan(ctx, "monitor.select_hub")
    conn, err := m.sel.Ensure(sctx, hub.Order(m.set, m.bootstrap()))
    span.End()
    if err != nil {
        if ctx.Err() != nil { return nil, ctx.Err() }
        m.warnf("no hub available, keeping %d nodes as stale: %v", m.set.Len(), err)
        m.set.MarkStale()
        return nil, nil
    }
    m.flushPending(ctx, conn)

    m.setPhase(PhaseRefreshingMembership)
    rctx, span := tracing.StartSpan(ctx, "monitor.refresh_membership")
    res, err := m.rec.Refresh(rctx, conn, m.set, m.engine.Outstanding)
    span.RecordError(err)
    span.End()
    if err != nil {
        if ctx.Err() != nil { return nil, ctx.Err() }
        m.warnf("%v; dropping hub %s", err, m.sel.Current())
        m.sel.Invalidate()
        m.set.MarkStale()
        return nil, nil
    }
    m.sel.Confirm(res.Rows, !res.QuorumLost)

    for _, id := range res.Added { m.emit(Event{Type: EventNodeAdded, NodeID: id}) }
    for _, id := range res.Removed { m.emit(Event{Type: EventNodeRemoved, NodeID: id}) }
    if res.QuorumLost != m.quorumLost {
        m.quorumLost = res.QuorumLost
        if res.QuorumLost {
            m.emit(Event{Type: EventQuorumLost})
        } else {
            m.emit(Event{Type: EventQuorumRestored})
        }
    }
    if res.QuorumLost { m.warnings = append(m.warnings, "cluster reports no quorum") }
    return res.Removed, nil
}

func (m *Monitor) bootstrap() []string {
    out := append([]string(nil), m.opts.Bootstrap...)
    if m.opts.Discovery != nil { out = append(out, m.opts.Discovery.Seeds()...) }
    return out
}

// probeNodes dispatches one probe per node and waits for the results until
// all arrived or the collection window closed. Results still outstanding at
// that point are applied when they arrive, in a later wait.
func (m *Monitor) probeNodes(ctx context.Context) error {
    m.setPhase(PhaseProbingNodes)
    ctx, span := tracing.StartSpan(ctx, "monitor.probe_nodes")
    defer span.End()

    targets := make([]probe.Target, 0, m.set.Len())
    m.set.Each(func(r *node.Record) {
        targets = append(targets, probe.Target{NodeID: r.ID, Addr: r.HealthAddr()})
    })
    started, skipped := m.engine.Dispatch(targets)
    span.SetInt("probes.started", len(started))
    span.SetInt("probes.skipped", len(skipped))
    if len(started) == 0 { return nil }

    pending := make(map[int]bool, len(started))
    for _, id := range started { pending[id] = true }
    m.delayed.arm(m.collectWindow(len(started)))
    defer m.delayed.cancel()

    for len(pending) > 0 {
        select {
        case r := <-m.engine.Results():
            // an expired probe's answer must not stand in for the current one
            if m.applyResult(r, !pending[r.NodeID]) { delete(pending, r.NodeID) }
        case <-m.delayed.C():
            for _, id := range m.expireOverdue() { delete(pending, id) }
            if len(pending) > 0 {
                m.warnf("%d probes still outstanding after collection window", len(pending))
            }
            return nil
        case req := <-m.reqs:
            m.serve(req)
        case <-ctx.Done():
            return ctx.Err()
        }
    }
    return nil
}

// collectWindow covers every wave of probes the semaphore lets through.
func (m *Monitor) collectWindow(n int) time.Duration {
    waves := (n + m.opts.MaxInFlight - 1) / m.opts.MaxInFlight
    w := time.Duration(waves)*m.opts.ProbeTimeout + 100*time.Millisecond
    if w > m.opts.Interval && m.opts.Interval > m.opts.ProbeTimeout { w = m.opts.Interval }
    return w
}

// drainResults applies results that arrived since the last wait without blocking.
func (m *Monitor) drainResults() {
    for {
        select {
        case r := <-m.engine.Results():
            m.applyResult(r, true)
        default:
            return
        }
    }
}

// applyResult reports whether r belonged to the node's current probe.
func (m *Monitor) applyResult(r probe.Result, late bool) bool {
    if !m.engine.Complete(r) {
        obsmetrics.LateResults.WithLabelValues("discarded").Inc()
        m.log.Debugf("discarding result of expired probe for node %d", r.NodeID)
        return false
    }
    m.applyOutcome(r, late)
    return true
}

// expireOverdue counts probes whose checker overran its deadline as timed
// out, so their nodes can be probed, or removed, again.
func (m *Monitor) expireOverdue() []int {
    var ids []int
    for _, r := range m.engine.Expire(time.Now()) {
        m.warnf("probe of node %d at %s overran its %s timeout", r.NodeID, r.Addr, m.opts.ProbeTimeout)
        m.applyOutcome(r, false)
        ids = append(ids, r.NodeID)
    }
    return ids
}

func (m *Monitor) applyOutcome(r probe.Result, late bool) {
    rec, ok := m.set.Get(r.NodeID)
    if !ok {
        if !late { return }
        obsmetrics.LateResults.WithLabelValues("discarded").Inc()
        m.log.Debugf("discarding probe result for removed node %d", r.NodeID)
        return
    }
    if late { obsmetrics.LateResults.WithLabelValues("applied").Inc() }
    prev := rec.Liveness
    if probe.Apply(rec, r, m.opts.HealthCheckThreshold) {
        m.log.Infof("node %d at %s: liveness %s -> %s (%s)", rec.ID, rec.HealthAddr(), prev, rec.Liveness, r.Outcome)
    } else if r.Outcome != probe.Healthy {
        m.log.Debugf("node %d probe %s (%d/%d): %v", rec.ID, r.Outcome, rec.Failures, m.opts.HealthCheckThreshold, r.Err)
    }
}

func (m *Monitor) publish(removed []int) {
    m.setPhase(PhasePublishingStatus)
    m.publishStatuses(removed)
}

// publishStatuses pushes every record's status and emits an event for each
// transition of an already published node.
func (m *Monitor) publishStatuses(removed []int) {
    for _, c := range m.pub.Publish(m.set, removed) {
        if c.From == "" { continue }
        m.emit(Event{Type: EventStatusChanged, NodeID: c.ID, From: c.From, To: c.To})
    }
}

func (m *Monitor) onHubChange(prev, next hub.Ref) {
    ref := next
    switch {
    case next.State == hub.NoHub:
        ref = prev
        m.emit(Event{Type: EventHubLost, Hub: &ref})
    case prev.State == hub.NoHub || prev.Target.Addr != next.Target.Addr:
        m.emit(Event{Type: EventHubChanged, Hub: &ref})
    default:
        m.log.Debugf("hub %s is now %s", next.Target, next.State)
    }
}

func (m *Monitor) emit(ev Event) {
    ev.At = time.Now()
    ev.Cycle = m.cycle
    m.eb.publish(ev)
}

func (m *Monitor) warnf(format string, args ...any) {
    msg := fmt.Sprintf(format, args...)
    m.warnings = append(m.warnings, msg)
    m.log.Warnf("%s", msg)
}
