package monitor

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/status"
)

type EventType string

const (
    EventHubChanged     EventType = "hub_changed"
    EventHubLost        EventType = "hub_lost"
    EventNodeAdded      EventType = "node_added"
    EventNodeRemoved    EventType = "node_removed"
    EventStatusChanged  EventType = "status_changed"
    EventSoftfail       EventType = "softfail"
    EventUnsoftfail     EventType = "unsoftfail"
    EventQuorumLost     EventType = "quorum_lost"
    EventQuorumRestored EventType = "quorum_restored"
)

// Event describes a state change observed by the monitor. Only the fields
// relevant to Type are populated.
type Event struct {
    Type   EventType     `json:"type"`
    At     time.Time     `json:"at"`
    Cycle  string        `json:"cycle,omitempty"`
    NodeID int           `json:"nodeId,omitempty"`
    Hub    *hub.Ref      `json:"hub,omitempty"`
    From   status.Status `json:"from,omitempty"`
    To     status.Status `json:"to,omitempty"`
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// Delivery is best-effort: events are dropped for slow consumers.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    m.eb.add(ch)
    go func() {
        <-ctx.Done()
        m.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
