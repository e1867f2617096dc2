package sqlhub

import (
    "context"
    "io"
    "log"
    "net"
    "net/http"
    "net/http/httptest"
    "strconv"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-clustermon/pkg/monitor"
    "github.com/amirimatin/go-clustermon/pkg/probe/httpcheck"
    "github.com/amirimatin/go-clustermon/pkg/status"
)

func healthServer(t *testing.T, code int) int {
    t.Helper()
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
        w.WriteHeader(code)
    }))
    t.Cleanup(ts.Close)
    _, port, err := net.SplitHostPort(ts.Listener.Addr().String())
    require.NoError(t, err)
    p, err := strconv.Atoi(port)
    require.NoError(t, err)
    return p
}

// TestMonitorOverSQLHub drives two cycles and a softfail through the SQL
// adapter and the HTTP checker: node 1 answers its health check, node 2
// returns 503 and goes down at the threshold.
func TestMonitorOverSQLHub(t *testing.T) {
    up, down := healthServer(t, http.StatusOK), healthServer(t, http.StatusServiceUnavailable)
    dl, mock := mockDialer(t, Clustrix)

    membership := func() {
        mock.ExpectQuery(Clustrix.Membership).WillReturnRows(
            sqlmock.NewRows([]string{"nid", "status", "instance", "substate"}).
                AddRow(1, "quorum", 3, "normal").
                AddRow(2, "quorum", 3, "normal"))
        mock.ExpectQuery(Clustrix.NodeInfo).WillReturnRows(
            sqlmock.NewRows([]string{"nodeid", "iface_ip", "mysql_port", "healthmon_port"}).
                AddRow(1, "127.0.0.1", 3306, up).
                AddRow(2, "127.0.0.1", 3307, down))
    }
    // cycle 1: dial the bootstrap server, check it, read membership
    mock.ExpectQuery(Clustrix.Ping).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
    mock.ExpectQuery(Clustrix.Capability).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("quorum"))
    membership()
    // cycle 2: the held hub is pinged, then membership again
    mock.ExpectQuery(Clustrix.Ping).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
    membership()
    mock.ExpectExec("ALTER CLUSTER SOFTFAIL 1").WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectClose()

    reg := status.NewMemoryRegistry("e2e")
    m, err := monitor.New(monitor.Options{
        Name:                 "e2e",
        Interval:             5 * time.Second,
        HealthCheckThreshold: 2,
        ProbeTimeout:         time.Second,
        Bootstrap:            []string{"127.0.0.1:3306"},
        Dialer:               dl,
        Checker:              httpcheck.New("/"),
        Registry:             reg,
        Logger:               log.New(io.Discard, "", 0),
    })
    require.NoError(t, err)

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    require.NoError(t, m.Tick(ctx))
    require.NoError(t, m.Tick(ctx))

    e, ok := reg.Get(1)
    require.True(t, ok)
    assert.Equal(t, status.Running, e.Status)
    assert.Equal(t, "@@e2e:server-1", e.Name)
    e, _ = reg.Get(2)
    assert.Equal(t, status.Down, e.Status)

    require.NoError(t, m.Softfail(ctx, 1))
    e, _ = reg.Get(1)
    assert.Equal(t, status.Draining, e.Status)

    st, err := m.Status(ctx)
    require.NoError(t, err)
    assert.Equal(t, "active", st.Hub.State.String())
    assert.Equal(t, 1, st.Hub.Target.NodeID)

    require.NoError(t, m.Close())
    require.NoError(t, mock.ExpectationsWereMet())
}
