package status

import (
    "log"

    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/node"
    obsmetrics "github.com/amirimatin/go-clustermon/pkg/observability/metrics"
)

// Change is a status transition observed by the publisher.
type Change struct {
    ID   int
    From Status
    To   Status
}

// Publisher pushes computed statuses to a Registry. It remembers the last
// published value per node only to report changes; every node is still
// written once per Publish.
type Publisher struct {
    reg  Registry
    log  logutil.Scoped
    last map[int]Status
}

func NewPublisher(reg Registry, l *log.Logger) *Publisher {
    if l == nil { l = log.Default() }
    return &Publisher{reg: reg, log: logutil.Scoped{L: l, Name: "status"}, last: make(map[int]Status)}
}

// Publish writes the status of every record in set and removes the given
// ids from the registry. Registry errors are logged and do not stop the pass.
func (p *Publisher) Publish(set *node.Set, removed []int) []Change {
    var changes []Change
    counts := make(map[Status]int, len(All))
    set.Each(func(r *node.Record) {
        s := Compute(*r)
        counts[s]++
        if err := p.reg.SetStatus(r.ID, s); err != nil {
            p.log.Errorf("set status of node %d to %s: %v", r.ID, s, err)
            return
        }
        prev, seen := p.last[r.ID]
        if prev != s {
            changes = append(changes, Change{ID: r.ID, From: prev, To: s})
            if seen { p.log.Infof("node %d at %s: %s -> %s", r.ID, r.Host, prev, s) }
        }
        p.last[r.ID] = s
    })
    p.Forget(removed)
    for _, s := range All {
        obsmetrics.Nodes.WithLabelValues(string(s)).Set(float64(counts[s]))
    }
    return changes
}

// Forget removes the given ids from the registry.
func (p *Publisher) Forget(removed []int) {
    for _, id := range removed {
        if err := p.reg.Remove(id); err != nil {
            p.log.Errorf("remove node %d: %v", id, err)
            continue
        }
        delete(p.last, id)
    }
}
