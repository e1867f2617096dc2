// Package file reads bootstrap servers from an environment variable or from
// files: plain text (one or more comma-separated entries per line, # for
// comments) or YAML (a list, or a map with a "servers" list).
package file

import (
    "bufio"
    "bytes"
    "log"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-clustermon/pkg/discovery"
    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a file or a glob pattern.
    Path string
    // Env names a variable holding a comma-separated list; it wins over Path
    // when non-empty.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
    Logger  *log.Logger
}

type impl struct {
    opts  Options
    log   logutil.Scoped
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &impl{opts: opts, log: logutil.Scoped{L: opts.Logger, Name: "discovery/file"}}
}

func (i *impl) Seeds() []string {
    i.mu.Lock()
    defer i.mu.Unlock()
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" { return normalize(strings.Split(v, ",")) }
    }
    if i.opts.Path == "" { return nil }
    now := time.Now()
    if stat, err := os.Stat(i.opts.Path); err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            if seeds, err := loadFile(i.opts.Path); err != nil {
                i.log.Warnf("read %s: %v", i.opts.Path, err)
            } else {
                i.cache = seeds
            }
            i.last = now
            i.mtime = stat.ModTime()
        }
        return append([]string(nil), i.cache...)
    }
    if now.Sub(i.last) < i.opts.Refresh && i.cache != nil {
        return append([]string(nil), i.cache...)
    }
    matches, _ := filepath.Glob(i.opts.Path)
    if len(matches) == 0 {
        i.log.Debugf("no files match %s", i.opts.Path)
        return append([]string(nil), i.cache...)
    }
    var all []string
    for _, m := range matches {
        seeds, err := loadFile(m)
        if err != nil { i.log.Warnf("read %s: %v", m, err); continue }
        all = append(all, seeds...)
    }
    i.cache = normalize(all)
    i.last = now
    return append([]string(nil), i.cache...)
}

func loadFile(path string) ([]string, error) {
    b, err := os.ReadFile(path)
    if err != nil { return nil, err }
    switch strings.ToLower(filepath.Ext(path)) {
    case ".yaml", ".yml":
        return parseYAML(b)
    }
    var seeds []string
    s := bufio.NewScanner(bytes.NewReader(b))
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        seeds = append(seeds, strings.Split(line, ",")...)
    }
    if err := s.Err(); err != nil { return nil, err }
    return normalize(seeds), nil
}

func parseYAML(b []byte) ([]string, error) {
    var list []string
    if err := yaml.Unmarshal(b, &list); err == nil { return normalize(list), nil }
    var doc struct {
        Servers []string `yaml:"servers"`
    }
    if err := yaml.Unmarshal(b, &doc); err != nil { return nil, err }
    return normalize(doc.Servers), nil
}

// normalize trims, drops blanks and duplicates, and sorts.
func normalize(in []string) []string {
    set := make(map[string]struct{}, len(in))
    out := make([]string, 0, len(in))
    for _, x := range in {
        x = strings.TrimSpace(x)
        if x == "" { continue }
        if _, ok := set[x]; ok { continue }
        set[x] = struct{}{}
        out = append(out, x)
    }
    sort.Strings(out)
    return out
}
