package monitor

import "time"

// delayedCall is the single armed timer that re-invokes result collection.
// Arming replaces any previous timer; a disarmed token's channel is nil and
// therefore never fires in a select.
type delayedCall struct {
    t *time.Timer
}

func (d *delayedCall) arm(after time.Duration) {
    d.cancel()
    d.t = time.NewTimer(after)
}

func (d *delayedCall) cancel() {
    if d.t == nil { return }
    d.t.Stop()
    d.t = nil
}

func (d *delayedCall) C() <-chan time.Time {
    if d.t == nil { return nil }
    return d.t.C
}
