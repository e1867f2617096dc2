package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("CLUSTERMON_LOG_JSON") == "1" || strings.EqualFold(os.Getenv("CLUSTERMON_LOG_FORMAT"), "json") {
        jsonMode.Store(true)
    }
    if os.Getenv("CLUSTERMON_LOG_DEBUG") == "1" {
        debugMode.Store(true)
    }
}

// SetJSON switches every logger routed through this package to one JSON
// object per line.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// SetDebug enables Debugf output.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", "", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", "", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", "", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", "", f, args...) }

// Scoped tags every line with a component name, e.g. "hub" or "probe".
type Scoped struct {
    L    *log.Logger
    Name string
}

func (s Scoped) Debugf(f string, args ...any) {
    if !debugMode.Load() { return }
    logf(s.L, "debug", s.Name, f, args...)
}
func (s Scoped) Infof(f string, args ...any)  { logf(s.L, "info", s.Name, f, args...) }
func (s Scoped) Warnf(f string, args ...any)  { logf(s.L, "warn", s.Name, f, args...) }
func (s Scoped) Errorf(f string, args ...any) { logf(s.L, "error", s.Name, f, args...) }

func logf(l *log.Logger, level, component, f string, args ...any) {
    if l == nil { l = log.Default() }
    msg := fmt.Sprintf(f, args...)
    if jsonMode.Load() {
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   msg,
        }
        if component != "" { evt["component"] = component }
        b, _ := json.Marshal(evt)
        l.Println(string(b))
        return
    }
    if component != "" { msg = component + ": " + msg }
    l.Printf("%s %s", strings.ToUpper(level), msg)
}
