package transport

import (
    "context"
    "fmt"
)

// StatusFunc returns a JSON-encoded status payload for /status.
// Using []byte avoids import cycles on monitor types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// SoftfailRequest names the node to drain or readmit.
type SoftfailRequest struct {
    NodeID int `json:"nodeId"`
}

// Error codes carried in AdminResponse.
const (
    CodeUnknownNode   = "unknown_node"
    CodeCommandFailed = "command_failed"
    CodeUnavailable   = "unavailable"
    CodeBadRequest    = "bad_request"
)

// AdminResponse reports the outcome of a softfail or unsoftfail.
type AdminResponse struct {
    Accepted bool   `json:"accepted"`
    Code     string `json:"code,omitempty"`
    Error    string `json:"error,omitempty"`
}

// AdminFunc handles a softfail or unsoftfail request. Failures are reported
// in the response with a Code; the error return is reserved for faults of
// the handler itself.
type AdminFunc func(ctx context.Context, req SoftfailRequest) (AdminResponse, error)

// Handlers bundles the functions an admin server exposes.
type Handlers struct {
    Status     StatusFunc
    Softfail   AdminFunc
    Unsoftfail AdminFunc
}

// RPCServer exposes the admin endpoints.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls a remote admin endpoint over the chosen protocol
// (HTTP/JSON or gRPC with JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostSoftfail(ctx context.Context, addr string, req SoftfailRequest) (AdminResponse, error)
    PostUnsoftfail(ctx context.Context, addr string, req SoftfailRequest) (AdminResponse, error)
}

// AdminError is returned by clients when the server rejected a command.
type AdminError struct {
    Code string
    Msg  string
}

func (e *AdminError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// Err converts a rejected response into an *AdminError, or nil.
func (r AdminResponse) Err() error {
    if r.Accepted { return nil }
    code := r.Code
    if code == "" { code = CodeCommandFailed }
    return &AdminError{Code: code, Msg: r.Error}
}
