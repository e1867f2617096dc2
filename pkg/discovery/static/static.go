// Package static serves a fixed list of bootstrap servers.
package static

import (
    "strings"
    "unicode"

    "github.com/amirimatin/go-clustermon/pkg/discovery"
)

// List is a fixed set of bootstrap servers (host or host:port).
type List []string

// Seeds returns a copy of the list.
func (l List) Seeds() []string { return append([]string(nil), l...) }

var _ discovery.Discovery = List(nil)

// New trims the given servers and drops blanks and repeats, keeping the
// first occurrence so the configured preference order survives.
func New(servers ...string) List {
    var out List
    seen := make(map[string]bool, len(servers))
    for _, s := range servers {
        s = strings.TrimSpace(s)
        if s == "" || seen[s] { continue }
        seen[s] = true
        out = append(out, s)
    }
    return out
}

// Parse reads a --servers value. Entries are separated by commas or
// whitespace.
func Parse(v string) []string {
    return New(strings.FieldsFunc(v, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })...)
}
