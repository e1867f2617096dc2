package httpcheck

import (
    "context"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/probe"
)

func serve(t *testing.T, h http.HandlerFunc) string {
    t.Helper()
    srv := httptest.NewServer(h)
    t.Cleanup(srv.Close)
    return strings.TrimPrefix(srv.URL, "http://")
}

func TestCheckOutcomes(t *testing.T) {
    cases := []struct {
        name string
        code int
        body string
        want probe.Outcome
    }{
        {"empty 200", 200, "", probe.Healthy},
        {"plain ok", 200, "OK\n", probe.Healthy},
        {"json running", 200, `{"status":"Running"}`, probe.Healthy},
        {"json down", 200, `{"status":"down"}`, probe.Unhealthy},
        {"garbage", 200, "<html>", probe.Unhealthy},
        {"503", 503, "ok", probe.Unhealthy},
    }
    for _, tc := range cases {
        addr := serve(t, func(w http.ResponseWriter, r *http.Request) {
            if r.URL.Path != "/health" { t.Errorf("path = %s", r.URL.Path) }
            w.WriteHeader(tc.code)
            _, _ = w.Write([]byte(tc.body))
        })
        err := New("health").Check(context.Background(), addr)
        if got := probe.Classify(err); got != tc.want {
            t.Fatalf("%s: outcome = %s, want %s (err=%v)", tc.name, got, tc.want, err)
        }
    }
}

func TestCheckTimeout(t *testing.T) {
    addr := serve(t, func(w http.ResponseWriter, r *http.Request) {
        select {
        case <-r.Context().Done():
        case <-time.After(time.Second):
        }
    })
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()
    err := New("/").Check(ctx, addr)
    if got := probe.Classify(err); got != probe.TimedOut {
        t.Fatalf("outcome = %s, want timeout (err=%v)", got, err)
    }
}

func TestCheckConnectionRefused(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    addr := strings.TrimPrefix(srv.URL, "http://")
    srv.Close()
    err := New("/").Check(context.Background(), addr)
    if got := probe.Classify(err); got != probe.ConnectionError {
        t.Fatalf("outcome = %s, want connection_error (err=%v)", got, err)
    }
}
