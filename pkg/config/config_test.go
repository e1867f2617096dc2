package config

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
    t.Helper()
    p := filepath.Join(t.TempDir(), "clustermon.yaml")
    require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
    return p
}

func TestLoadAppliesDefaults(t *testing.T) {
    cfg, err := Load(write(t, "servers: [10.0.0.1, 10.0.0.2:3306]\n"))
    require.NoError(t, err)
    assert.Equal(t, 2000*time.Millisecond, cfg.Interval())
    assert.Equal(t, 2, cfg.HealthCheckThreshold)
    assert.Equal(t, 64, cfg.MaxInFlight)
    assert.Equal(t, "clustrix", cfg.Hub.Dialect)
    assert.Equal(t, "http", cfg.Health.Kind)
    assert.Equal(t, []string{"10.0.0.1", "10.0.0.2:3306"}, cfg.Servers)
}

func TestLoadOverrides(t *testing.T) {
    cfg, err := Load(write(t, `
name: east
cluster_monitor_interval: 5000
health_check_threshold: 3
probe_timeout: 800
servers: [db1]
hub:
  dialect: postgres
  user: monitor
  statements:
    membership: SELECT node_id, state, instance, substate FROM ops.members
health:
  kind: grpc
  service: db.health
log:
  json: true
`))
    require.NoError(t, err)
    assert.Equal(t, "east", cfg.Name)
    assert.Equal(t, 5*time.Second, cfg.Interval())
    assert.Equal(t, 3, cfg.HealthCheckThreshold)
    assert.Equal(t, "postgres", cfg.Hub.Dialect)
    assert.Equal(t, "SELECT node_id, state, instance, substate FROM ops.members", cfg.Hub.Statements.Membership)
    assert.Equal(t, "grpc", cfg.Health.Kind)
    assert.True(t, cfg.Log.JSON)
}

func TestValidateRejects(t *testing.T) {
    cases := map[string]string{
        "no servers":        "name: x\n",
        "threshold":         "servers: [a]\nhealth_check_threshold: 0\n",
        "max in flight":     "servers: [a]\nmax_in_flight: 0\n",
        "dialect":           "servers: [a]\nhub: {dialect: oracle}\n",
        "probe > interval":  "servers: [a]\ncluster_monitor_interval: 500\nprobe_timeout: 900\n",
        "dns without names": "discovery: {kind: dns}\n",
        "tls without cert":  "servers: [a]\ntls: {enable: true}\n",
    }
    for name, body := range cases {
        _, err := Load(write(t, body))
        if err == nil {
            t.Fatalf("%s: expected validation error", name)
        }
        if !strings.HasPrefix(err.Error(), "config: ") {
            t.Fatalf("%s: unexpected error format %q", name, err)
        }
    }
}

func TestLoadMissingFile(t *testing.T) {
    _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
    require.Error(t, err)
}
