package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"
)

func TestTextFormat(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Warnf(l, "hub %s lost", "10.0.0.1:3306")
    if got := strings.TrimSpace(buf.String()); got != "WARN hub 10.0.0.1:3306 lost" {
        t.Fatalf("unexpected line %q", got)
    }
}

func TestJSONFormatWithComponent(t *testing.T) {
    SetJSON(true)
    defer SetJSON(false)
    var buf bytes.Buffer
    s := Scoped{L: log.New(&buf, "", 0), Name: "probe"}
    s.Errorf("node %d unreachable", 3)
    var evt map[string]any
    if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil {
        t.Fatalf("decode: %v (%q)", err, buf.String())
    }
    if evt["level"] != "error" || evt["component"] != "probe" || evt["msg"] != "node 3 unreachable" {
        t.Fatalf("unexpected event %#v", evt)
    }
}

func TestDebugGated(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    SetDebug(false)
    Debugf(l, "hidden")
    if buf.Len() != 0 { t.Fatalf("debug line emitted while disabled: %q", buf.String()) }
    SetDebug(true)
    defer SetDebug(false)
    Debugf(l, "shown")
    if !strings.Contains(buf.String(), "DEBUG shown") { t.Fatalf("missing debug line: %q", buf.String()) }
}
