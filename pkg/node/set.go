package node

import "sort"

// Set is the arena of node records keyed by node id. It is not safe for
// concurrent use; the monitor loop is its only writer and reader.
type Set struct {
    recs map[int]*Record
}

func NewSet() *Set { return &Set{recs: make(map[int]*Record)} }

func (s *Set) Len() int { return len(s.recs) }

// Get resolves a record by id. Callers must not keep the pointer beyond the
// current operation.
func (s *Set) Get(id int) (*Record, bool) {
    r, ok := s.recs[id]
    return r, ok
}

// Upsert inserts r, replacing any record with the same id.
func (s *Set) Upsert(r *Record) { s.recs[r.ID] = r }

// Remove deletes the record and reports whether it existed.
func (s *Set) Remove(id int) bool {
    if _, ok := s.recs[id]; !ok { return false }
    delete(s.recs, id)
    return true
}

// IDs returns all node ids in ascending order.
func (s *Set) IDs() []int {
    ids := make([]int, 0, len(s.recs))
    for id := range s.recs { ids = append(ids, id) }
    sort.Ints(ids)
    return ids
}

// Each calls fn for every record in ascending id order.
func (s *Set) Each(fn func(r *Record)) {
    for _, id := range s.IDs() { fn(s.recs[id]) }
}

// Snapshot returns value copies of all records sorted by id.
func (s *Set) Snapshot() []Record {
    out := make([]Record, 0, len(s.recs))
    s.Each(func(r *Record) { out = append(out, *r) })
    return out
}

// MarkStale flags every record as stale (membership could not be refreshed).
func (s *Set) MarkStale() {
    for _, r := range s.recs { r.Stale = true }
}
