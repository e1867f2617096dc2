package httpjson

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-clustermon/pkg/transport"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) { r.mu.Lock(); r.calls = append(r.calls, s); r.mu.Unlock() }

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func handlers(rec *recorder) transport.Handlers {
	admin := func(name string) transport.AdminFunc {
		return func(_ context.Context, req transport.SoftfailRequest) (transport.AdminResponse, error) {
			rec.add(name)
			switch req.NodeID {
			case 9:
				return transport.AdminResponse{Code: transport.CodeUnknownNode, Error: "unknown node 9"}, nil
			case 7:
				return transport.AdminResponse{Code: transport.CodeCommandFailed, Error: "hub refused"}, nil
			}
			return transport.AdminResponse{Accepted: true}, nil
		}
	}
	return transport.Handlers{
		Status:     func(context.Context) ([]byte, error) { return []byte(`{"monitor":"m1"}`), nil },
		Softfail:   admin("softfail"),
		Unsoftfail: admin("unsoftfail"),
	}
}

func TestServerClientRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := &recorder{}
	s := NewServer("127.0.0.1:0", nil)
	require.NoError(t, s.Start(ctx, handlers(calls)))
	defer s.Stop(context.Background())

	c := NewClient(time.Second)
	b, err := c.GetStatus(ctx, s.Addr())
	require.NoError(t, err)
	assert.JSONEq(t, `{"monitor":"m1"}`, string(b))

	resp, err := c.PostSoftfail(ctx, s.Addr(), transport.SoftfailRequest{NodeID: 3})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	_, err = c.PostUnsoftfail(ctx, s.Addr(), transport.SoftfailRequest{NodeID: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"softfail", "unsoftfail"}, calls.get())

	_, err = c.PostSoftfail(ctx, s.Addr(), transport.SoftfailRequest{NodeID: 9})
	var ae *transport.AdminError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, transport.CodeUnknownNode, ae.Code)

	_, err = c.PostSoftfail(ctx, s.Addr(), transport.SoftfailRequest{NodeID: 7})
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, transport.CodeCommandFailed, ae.Code)
}

func TestAdminStatusCodes(t *testing.T) {
	h := NewServer("", nil).Handler(handlers(&recorder{}))
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/softfail", `{"nodeId":1}`, http.StatusOK},
		{http.MethodPost, "/softfail", `{"nodeId":9}`, http.StatusNotFound},
		{http.MethodPost, "/softfail", `{"nodeId":7}`, http.StatusConflict},
		{http.MethodPost, "/softfail", `{"nodeId":0}`, http.StatusBadRequest},
		{http.MethodPost, "/unsoftfail", `garbage`, http.StatusBadRequest},
		{http.MethodGet, "/softfail", ``, http.StatusMethodNotAllowed},
		{http.MethodGet, "/healthz", ``, http.StatusOK},
		{http.MethodGet, "/metrics", ``, http.StatusOK},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, tc.want, rec.Code, "%s %s %s", tc.method, tc.path, tc.body)
	}
}

func TestHandlerErrorIsUnavailable(t *testing.T) {
	h := NewServer("", nil).Handler(transport.Handlers{
		Softfail: func(context.Context, transport.SoftfailRequest) (transport.AdminResponse, error) {
			return transport.AdminResponse{}, errors.New("monitor stopped")
		},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/softfail", strings.NewReader(`{"nodeId":2}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), transport.CodeUnavailable)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	b, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
	assert.Equal(t, int32(3), n.Load())
}
