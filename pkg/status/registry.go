package status

import (
    "fmt"
    "sort"
    "sync"
    "time"
)

// Registry receives published statuses. Implementations must treat repeated
// SetStatus calls with the same value as no-ops.
type Registry interface {
    SetStatus(id int, s Status) error
    Remove(id int) error
}

// Entry is one registered server.
type Entry struct {
    ID        int       `json:"id"`
    Name      string    `json:"name"`
    Status    Status    `json:"status"`
    UpdatedAt time.Time `json:"updatedAt"`
}

// ServerName is the registry name of a node. The "@@" prefix keeps it apart
// from user-created servers and the monitor name apart from other monitors.
func ServerName(monitor string, id int) string {
    return fmt.Sprintf("@@%s:server-%d", monitor, id)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
    monitor string
    mu      sync.RWMutex
    entries map[int]Entry
    subs    []func(e Entry, removed bool)
}

func NewMemoryRegistry(monitor string) *MemoryRegistry {
    return &MemoryRegistry{monitor: monitor, entries: make(map[int]Entry)}
}

// OnChange registers fn to be called after every effective change.
func (m *MemoryRegistry) OnChange(fn func(e Entry, removed bool)) {
    m.mu.Lock()
    m.subs = append(m.subs, fn)
    m.mu.Unlock()
}

func (m *MemoryRegistry) SetStatus(id int, s Status) error {
    m.mu.Lock()
    cur, ok := m.entries[id]
    if ok && cur.Status == s {
        m.mu.Unlock()
        return nil
    }
    e := Entry{ID: id, Name: ServerName(m.monitor, id), Status: s, UpdatedAt: time.Now()}
    m.entries[id] = e
    subs := m.subs
    m.mu.Unlock()
    for _, fn := range subs { fn(e, false) }
    return nil
}

func (m *MemoryRegistry) Remove(id int) error {
    m.mu.Lock()
    e, ok := m.entries[id]
    delete(m.entries, id)
    subs := m.subs
    m.mu.Unlock()
    if ok {
        for _, fn := range subs { fn(e, true) }
    }
    return nil
}

// Get returns the entry for id.
func (m *MemoryRegistry) Get(id int) (Entry, bool) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    e, ok := m.entries[id]
    return e, ok
}

// Snapshot returns all entries by ascending id.
func (m *MemoryRegistry) Snapshot() []Entry {
    m.mu.RLock()
    out := make([]Entry, 0, len(m.entries))
    for _, e := range m.entries { out = append(out, e) }
    m.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

var _ Registry = (*MemoryRegistry)(nil)
