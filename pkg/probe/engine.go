package probe

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sort"
    "sync"
    "sync/atomic"
    "time"

    "golang.org/x/sync/semaphore"

    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

// Options configures the probe engine.
type Options struct {
    Checker Checker
    // Timeout bounds a single probe once it holds a concurrency slot.
    Timeout time.Duration
    // MaxInFlight caps how many checks run at the same time.
    MaxInFlight int
    Logger      *log.Logger
}

func (o Options) Validate() error {
    if o.Checker == nil { return errors.New("probe: nil Checker") }
    if o.MaxInFlight < 1 { return fmt.Errorf("probe: MaxInFlight must be >= 1, got %d", o.MaxInFlight) }
    return nil
}

type flight struct {
    seq     uint64
    addr    string
    started time.Time
    // deadline is set (unix nanos) by the probe goroutine once it holds a
    // concurrency slot; zero while queued.
    deadline atomic.Int64
}

// Engine fans probes out to goroutines and hands results back through a
// single channel. The in-flight table is only touched by the consumer of
// Results (Dispatch, Complete, Outstanding), so it needs no lock.
type Engine struct {
    opts     Options
    log      logutil.Scoped
    sem      *semaphore.Weighted
    results  chan Result
    inflight map[int]*flight
    seq      uint64
    ctx      context.Context
    cancel   context.CancelFunc
    wg       sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Logger == nil { opts.Logger = log.Default() }
    ctx, cancel := context.WithCancel(context.Background())
    return &Engine{
        opts:     opts,
        log:      logutil.Scoped{L: opts.Logger, Name: "probe"},
        sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
        results:  make(chan Result, 64),
        inflight: make(map[int]*flight),
        ctx:      ctx,
        cancel:   cancel,
    }, nil
}

// Dispatch starts one probe per target and returns without waiting. Targets
// whose previous probe is still outstanding are skipped.
func (e *Engine) Dispatch(targets []Target) (started, skipped []int) {
    if e.ctx.Err() != nil { return nil, nil }
    now := time.Now()
    for _, t := range targets {
        if _, busy := e.inflight[t.NodeID]; busy {
            skipped = append(skipped, t.NodeID)
            obsmetrics.ProbesSkipped.Inc()
            continue
        }
        e.seq++
        f := &flight{seq: e.seq, addr: t.Addr, started: now}
        e.inflight[t.NodeID] = f
        started = append(started, t.NodeID)
        e.wg.Add(1)
        go e.run(t, f)
    }
    obsmetrics.ProbesInFlight.Set(float64(len(e.inflight)))
    if len(skipped) > 0 {
        e.log.Warnf("previous probe still outstanding for nodes %v, not probing them this cycle", skipped)
    }
    return started, skipped
}

func (e *Engine) run(t Target, f *flight) {
    defer e.wg.Done()
    res := Result{NodeID: t.NodeID, Addr: t.Addr, Started: time.Now(), seq: f.seq}
    if err := e.sem.Acquire(e.ctx, 1); err != nil {
        return
    }
    f.deadline.Store(time.Now().Add(e.opts.Timeout).UnixNano())
    ctx, cancel := context.WithTimeout(e.ctx, e.opts.Timeout)
    err := e.opts.Checker.Check(ctx, t.Addr)
    if err != nil && ctx.Err() == context.DeadlineExceeded {
        err = fmt.Errorf("%w: %v", ErrProbeTimeout, err)
    }
    cancel()
    e.sem.Release(1)
    if e.ctx.Err() != nil { return }
    res.Err = err
    res.Outcome = Classify(err)
    res.Finished = time.Now()
    select {
    case e.results <- res:
    case <-e.ctx.Done():
    }
}

// Results delivers probe results. There must be exactly one consumer.
func (e *Engine) Results() <-chan Result { return e.results }

// Complete releases the node's in-flight slot. It must be called by the
// consumer for every received result. It returns false for a result whose
// probe was already expired; such results must be dropped.
func (e *Engine) Complete(r Result) bool {
    f, ok := e.inflight[r.NodeID]
    if !ok || f.seq != r.seq { return false }
    delete(e.inflight, r.NodeID)
    obsmetrics.ProbesInFlight.Set(float64(len(e.inflight)))
    obsmetrics.Probes.WithLabelValues(r.Outcome.String()).Inc()
    return true
}

// Outstanding reports whether a probe for id has been dispatched and not completed.
func (e *Engine) Outstanding(id int) bool {
    _, ok := e.inflight[id]
    return ok
}

func (e *Engine) InFlight() int { return len(e.inflight) }

// Overdue returns, in ascending order, the ids whose probe has held its slot
// for more than twice the timeout, i.e. whose checker ignored cancellation.
// Probes still queued for a slot are never overdue.
func (e *Engine) Overdue(now time.Time) []int {
    var out []int
    for id, f := range e.inflight {
        d := f.deadline.Load()
        if d != 0 && now.After(time.Unix(0, d).Add(e.opts.Timeout)) { out = append(out, id) }
    }
    sort.Ints(out)
    return out
}

// Expire completes every overdue probe as TimedOut and returns those
// results. The node may be probed again; whatever the stuck checker reports
// later is rejected by Complete.
func (e *Engine) Expire(now time.Time) []Result {
    var out []Result
    for _, id := range e.Overdue(now) {
        f := e.inflight[id]
        delete(e.inflight, id)
        out = append(out, Result{
            NodeID:   id,
            Addr:     f.addr,
            Outcome:  TimedOut,
            Err:      fmt.Errorf("%w: no answer %s past the deadline", ErrProbeTimeout, e.opts.Timeout),
            Started:  f.started,
            Finished: now,
        })
        obsmetrics.Probes.WithLabelValues(TimedOut.String()).Inc()
    }
    if len(out) > 0 { obsmetrics.ProbesInFlight.Set(float64(len(e.inflight))) }
    return out
}

// Cancel aborts every outstanding probe and waits for the probe goroutines to
// exit. Partial results are discarded.
func (e *Engine) Cancel() {
    e.cancel()
    e.wg.Wait()
    e.inflight = make(map[int]*flight)
    obsmetrics.ProbesInFlight.Set(0)
}
