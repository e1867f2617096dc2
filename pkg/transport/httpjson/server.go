package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-clustermon/pkg/internal/logutil"
    "github.com/amirimatin/go-clustermon/pkg/observability/tracing"
    "github.com/amirimatin/go-clustermon/pkg/transport"
)

// Server is a minimal HTTP server exposing status, softfail/unsoftfail,
// metrics and healthz.
type Server struct {
    mu     sync.Mutex
    bind   string
    srv    *http.Server
    ln     net.Listener
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":8089").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the admin mux; Start serves it.
func (s *Server) Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, span := tracing.StartSpan(r.Context(), "http.status")
        defer span.End()
        data, err := h.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/softfail", s.admin("softfail", h.Softfail))
    mux.HandleFunc("/unsoftfail", s.admin("unsoftfail", h.Unsoftfail))
    return mux
}

func (s *Server) admin(name string, fn transport.AdminFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if fn == nil { http.Error(w, name+" not supported", http.StatusNotImplemented); return }
        var req transport.SoftfailRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID <= 0 {
            writeJSON(w, http.StatusBadRequest, transport.AdminResponse{Code: transport.CodeBadRequest, Error: "body must be {\"nodeId\": <positive id>}"})
            return
        }
        ctx, span := tracing.StartSpan(r.Context(), "http."+name)
        defer span.End()
        span.SetInt("node.id", req.NodeID)
        resp, err := fn(ctx, req)
        if err != nil {
            span.RecordError(err)
            if resp.Error == "" { resp.Error = err.Error() }
            if resp.Code == "" { resp.Code = transport.CodeUnavailable }
        }
        writeJSON(w, httpStatus(resp), resp)
    }
}

func httpStatus(resp transport.AdminResponse) int {
    if resp.Accepted { return http.StatusOK }
    switch resp.Code {
    case transport.CodeUnknownNode:
        return http.StatusNotFound
    case transport.CodeBadRequest:
        return http.StatusBadRequest
    case transport.CodeUnavailable:
        return http.StatusServiceUnavailable
    default:
        return http.StatusConflict
    }
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. The server is shut down when ctx is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    srv := &http.Server{Addr: s.bind, Handler: s.Handler(h), ReadHeaderTimeout: 5 * time.Second}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.RPCServer = (*Server)(nil)
