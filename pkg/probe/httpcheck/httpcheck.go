// Package httpcheck probes a node's HTTP health endpoint.
package httpcheck

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"

    "github.com/amirimatin/go-clustermon/pkg/probe"
)

const maxBody = 4 << 10

// Checker issues one GET per probe. It never retries; a failed probe is
// simply counted toward the node's failure threshold.
type Checker struct {
    httpc     *http.Client
    transport *http.Transport
    path      string
    isTLS     bool
}

// New returns a checker that requests path (default "/") on each node.
func New(path string) *Checker {
    if path == "" { path = "/" }
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    tr := &http.Transport{DisableKeepAlives: true}
    return &Checker{httpc: &http.Client{Transport: tr}, transport: tr, path: path}
}

// UseTLS switches the probe scheme to https with cfg.
func (c *Checker) UseTLS(cfg *tls.Config) *Checker {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

func (c *Checker) Check(ctx context.Context, addr string) error {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    url := fmt.Sprintf("%s://%s%s", scheme, addr, c.path)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil { return fmt.Errorf("%w: %v", probe.ErrProbeConnection, err) }
    resp, err := c.httpc.Do(req)
    if err != nil {
        if errors.Is(ctx.Err(), context.DeadlineExceeded) { return fmt.Errorf("%w: %v", probe.ErrProbeTimeout, err) }
        return fmt.Errorf("%w: %v", probe.ErrProbeConnection, err)
    }
    defer resp.Body.Close()
    body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
    if resp.StatusCode < 200 || resp.StatusCode > 299 {
        return fmt.Errorf("%w: status %d", probe.ErrUnhealthy, resp.StatusCode)
    }
    if !alive(body) {
        return fmt.Errorf("%w: unexpected payload %q", probe.ErrUnhealthy, truncate(body))
    }
    return nil
}

var liveWords = map[string]bool{"ok": true, "up": true, "healthy": true, "running": true}

// alive accepts an empty body, a bare liveness word, or a JSON object whose
// "status" field is a liveness word.
func alive(body []byte) bool {
    s := strings.TrimSpace(string(body))
    if s == "" { return true }
    if strings.HasPrefix(s, "{") {
        var payload struct {
            Status string `json:"status"`
        }
        if err := json.Unmarshal([]byte(s), &payload); err != nil { return false }
        return liveWords[strings.ToLower(payload.Status)]
    }
    return liveWords[strings.ToLower(s)]
}

func truncate(b []byte) string {
    if len(b) > 64 { return string(b[:64]) + "..." }
    return string(b)
}

var _ probe.Checker = (*Checker)(nil)
