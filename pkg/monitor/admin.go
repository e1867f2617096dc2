package monitor

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

type adminOp string

const (
    opSoftfail   adminOp = "softfail"
    opUnsoftfail adminOp = "unsoftfail"
)

type request struct {
    ctx   context.Context
    op    adminOp
    id    int
    reply chan error
}

// Softfail drains node id: the flag is set at once and ALTER CLUSTER
// SOFTFAIL is issued through the hub. If the command fails the flag is
// reverted and ErrAdminCommandFailed returned. Without a hub the command is
// queued and issued after the next successful hub selection.
func (m *Monitor) Softfail(ctx context.Context, id int) error {
    return m.admin(ctx, opSoftfail, id)
}

// Unsoftfail readmits a drained node; see Softfail.
func (m *Monitor) Unsoftfail(ctx context.Context, id int) error {
    return m.admin(ctx, opUnsoftfail, id)
}

// admin hands the request to the loop when one is running and otherwise
// takes the loop token and handles it directly.
func (m *Monitor) admin(ctx context.Context, op adminOp, id int) error {
    if m.closed.Load() { return ErrNotRunning }
    req := request{ctx: ctx, op: op, id: id, reply: make(chan error, 1)}
    select {
    case m.owner <- struct{}{}:
        defer m.release()
        if m.closed.Load() { return ErrNotRunning }
        return m.handle(ctx, op, id)
    case m.reqs <- req:
        select {
        case err := <-req.reply:
            return err
        case <-ctx.Done():
            return ctx.Err()
        }
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (m *Monitor) serve(req request) {
    req.reply <- m.handle(req.ctx, req.op, req.id)
}

func (m *Monitor) handle(ctx context.Context, op adminOp, id int) error {
    rec, ok := m.set.Get(id)
    if !ok {
        obsmetrics.AdminCommands.WithLabelValues(string(op), "unknown_node").Inc()
        return fmt.Errorf("%w: %d", ErrUnknownNode, id)
    }
    want := op == opSoftfail
    prevFlag, prevPending := rec.Softfailed, rec.CommandPending
    rec.Softfailed = want

    conn := m.sel.Conn()
    if conn == nil {
        rec.CommandPending = true
        obsmetrics.AdminCommands.WithLabelValues(string(op), "queued").Inc()
        m.log.Warnf("no hub, %s of node %d will be issued once a hub is selected", op, id)
        m.afterAdmin(op, id)
        return nil
    }
    if err := m.command(ctx, conn, want, id); err != nil {
        rec.Softfailed, rec.CommandPending = prevFlag, prevPending
        obsmetrics.AdminCommands.WithLabelValues(string(op), "failed").Inc()
        m.log.Errorf("%s of node %d failed: %v", op, id, err)
        return fmt.Errorf("%w: %s node %d: %v", ErrAdminCommandFailed, op, id, err)
    }
    rec.CommandPending = false
    obsmetrics.AdminCommands.WithLabelValues(string(op), "ok").Inc()
    m.afterAdmin(op, id)
    return nil
}

func (m *Monitor) afterAdmin(op adminOp, id int) {
    ev := EventSoftfail
    if op == opUnsoftfail { ev = EventUnsoftfail }
    m.emit(Event{Type: ev, NodeID: id})
    m.publishStatuses(nil)
    m.snapshot()
}

func (m *Monitor) command(ctx context.Context, conn hub.Conn, softfail bool, id int) error {
    if softfail { return conn.Softfail(ctx, id) }
    return conn.Unsoftfail(ctx, id)
}

// flushPending issues commands queued while no hub was available. A failed
// command reverts the node's flag.
func (m *Monitor) flushPending(ctx context.Context, conn hub.Conn) {
    for _, id := range m.set.IDs() {
        rec, _ := m.set.Get(id)
        if !rec.CommandPending { continue }
        op := opUnsoftfail
        if rec.Softfailed { op = opSoftfail }
        rec.CommandPending = false
        if err := m.command(ctx, conn, rec.Softfailed, id); err != nil {
            rec.Softfailed = !rec.Softfailed
            obsmetrics.AdminCommands.WithLabelValues(string(op), "failed").Inc()
            m.warnf("queued %s of node %d failed, reverting: %v", op, id, err)
            continue
        }
        obsmetrics.AdminCommands.WithLabelValues(string(op), "ok").Inc()
        m.log.Infof("queued %s of node %d performed", op, id)
    }
}
