package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/transport"
)

// Client is a thin HTTP client for the admin API. It supports optional TLS
// and retries transport errors and 5xx answers with backoff.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// do sends the request built by mk up to three times. Transport errors and
// 5xx answers are retried, except 503 which carries an admin rejection.
func (c *Client) do(ctx context.Context, mk func() (*http.Request, error)) (int, []byte, error) {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := mk()
        if err != nil { return 0, nil, err }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            switch {
            case rerr != nil:
                lastErr = rerr
            case resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable:
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
            default:
                return resp.StatusCode, b, nil
            }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return 0, nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return 0, nil, lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    code, b, err := c.do(ctx, func() (*http.Request, error) {
        return http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
    })
    if err != nil { return nil, err }
    if code != http.StatusOK { return nil, fmt.Errorf("status %d: %s", code, bytes.TrimSpace(b)) }
    return b, nil
}

func (c *Client) PostSoftfail(ctx context.Context, addr string, req transport.SoftfailRequest) (transport.AdminResponse, error) {
    return c.post(ctx, addr, "/softfail", req)
}

func (c *Client) PostUnsoftfail(ctx context.Context, addr string, req transport.SoftfailRequest) (transport.AdminResponse, error) {
    return c.post(ctx, addr, "/unsoftfail", req)
}

func (c *Client) post(ctx context.Context, addr, path string, req transport.SoftfailRequest) (transport.AdminResponse, error) {
    var out transport.AdminResponse
    body, err := json.Marshal(req)
    if err != nil { return out, err }
    code, b, err := c.do(ctx, func() (*http.Request, error) {
        r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, path), bytes.NewReader(body))
        if err != nil { return nil, err }
        r.Header.Set("Content-Type", "application/json")
        return r, nil
    })
    if err != nil { return out, err }
    if err := json.Unmarshal(b, &out); err != nil {
        return out, fmt.Errorf("%s status %d: %s", path, code, bytes.TrimSpace(b))
    }
    return out, out.Err()
}

var _ transport.RPCClient = (*Client)(nil)
