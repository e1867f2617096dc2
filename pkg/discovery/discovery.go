// Package discovery supplies bootstrap servers for hub selection beyond the
// ones listed in the configuration.
package discovery

// Discovery returns candidate hub addresses, host or host:port. It is
// consulted once per monitor cycle, so implementations cache.
type Discovery interface {
    Seeds() []string
}

// Func adapts a plain function to Discovery.
type Func func() []string

func (f Func) Seeds() []string { return f() }

// Multi concatenates the seeds of several sources, dropping duplicates and
// keeping first-seen order.
func Multi(srcs ...Discovery) Discovery {
    return Func(func() []string {
        seen := make(map[string]struct{})
        var out []string
        for _, s := range srcs {
            if s == nil { continue }
            for _, v := range s.Seeds() {
                if _, ok := seen[v]; ok { continue }
                seen[v] = struct{}{}
                out = append(out, v)
            }
        }
        return out
    })
}
