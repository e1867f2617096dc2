package probe

import (
    "context"
    "errors"
    "net"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/node"
)

// Outcome is the classified result of one health probe.
type Outcome int

const (
    Healthy Outcome = iota
    Unhealthy
    TimedOut
    ConnectionError
)

func (o Outcome) String() string {
    switch o {
    case Healthy:
        return "healthy"
    case Unhealthy:
        return "unhealthy"
    case TimedOut:
        return "timeout"
    default:
        return "connection_error"
    }
}

var (
    // ErrUnhealthy marks a probe that got a response which did not report the node as alive.
    ErrUnhealthy       = errors.New("probe: node responded unhealthy")
    ErrProbeTimeout    = errors.New("probe: timed out")
    ErrProbeConnection = errors.New("probe: connection error")
)

// Target is a node health endpoint to probe.
type Target struct {
    NodeID int
    Addr   string
}

// Result is reported by value for every dispatched probe.
type Result struct {
    NodeID   int
    Addr     string
    Outcome  Outcome
    Err      error
    Started  time.Time
    Finished time.Time

    seq uint64
}

// Checker performs a single health check against addr (host:port).
// Implementations return nil when the node is healthy, an error wrapping
// ErrUnhealthy when it answered but is not alive, and any other error on
// transport failures.
type Checker interface {
    Check(ctx context.Context, addr string) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, addr string) error

func (f CheckerFunc) Check(ctx context.Context, addr string) error { return f(ctx, addr) }

// Classify maps a checker error to an Outcome.
func Classify(err error) Outcome {
    if err == nil { return Healthy }
    if errors.Is(err, ErrUnhealthy) { return Unhealthy }
    if errors.Is(err, ErrProbeTimeout) || errors.Is(err, context.DeadlineExceeded) { return TimedOut }
    var ne net.Error
    if errors.As(err, &ne) && ne.Timeout() { return TimedOut }
    return ConnectionError
}

// Apply folds one probe result into the record's liveness fields. A node goes
// Down only once Failures reaches threshold and comes back Up on the first
// healthy result. It reports whether the liveness changed.
func Apply(r *node.Record, res Result, threshold int) bool {
    if threshold < 1 { threshold = 1 }
    prev := r.Liveness
    r.LastProbe = res.Outcome.String()
    r.LastProbeAt = res.Finished
    if res.Outcome == Healthy {
        r.Failures = 0
        r.Liveness = node.LivenessUp
    } else {
        r.Failures++
        if r.Failures >= threshold {
            r.Liveness = node.LivenessDown
        }
    }
    return prev != r.Liveness
}
