package sqlhub

import (
    "fmt"
    "strings"
)

// Dialect holds the statements used against one flavour of cluster catalog.
//
// Membership must return (node id, status, instance, substate) and NodeInfo
// (node id, host, sql port, health port); NULL ports fall back to defaults
// and a NULL sql port marks the node as not hub-capable. Softfail and
// Unsoftfail are either formatted with the node id (when they contain %d) or
// executed with the id as the only argument.
type Dialect struct {
    Name       string `yaml:"name"`
    Driver     string `yaml:"driver"`
    Ping       string `yaml:"ping"`
    Capability string `yaml:"capability"`
    // ActiveStatus is the membership status meaning "in quorum".
    ActiveStatus string `yaml:"active_status"`
    Membership   string `yaml:"membership"`
    NodeInfo     string `yaml:"node_info"`
    Softfail     string `yaml:"softfail"`
    Unsoftfail   string `yaml:"unsoftfail"`
}

var Clustrix = Dialect{
    Name:         "clustrix",
    Driver:       "mysql",
    Ping:         "SELECT 1",
    Capability:   "SELECT status FROM system.membership WHERE nid = gtmnid()",
    ActiveStatus: "quorum",
    Membership:   "SELECT nid, status, instance, substate FROM system.membership",
    NodeInfo:     "SELECT nodeid, iface_ip, mysql_port, healthmon_port FROM system.nodeinfo",
    Softfail:     "ALTER CLUSTER SOFTFAIL %d",
    Unsoftfail:   "ALTER CLUSTER UNSOFTFAIL %d",
}

var Postgres = Dialect{
    Name:         "postgres",
    Driver:       "pgx",
    Ping:         "SELECT 1",
    Capability:   "SELECT state FROM cluster_membership WHERE is_local",
    ActiveStatus: "active",
    Membership:   "SELECT node_id, state, instance, substate FROM cluster_membership",
    NodeInfo:     "SELECT node_id, host, sql_port, health_port FROM cluster_nodes",
    Softfail:     "SELECT cluster_softfail($1)",
    Unsoftfail:   "SELECT cluster_unsoftfail($1)",
}

// Lookup returns the built-in dialect with the given name.
func Lookup(name string) (Dialect, error) {
    switch strings.ToLower(name) {
    case "", "clustrix", "mysql":
        return Clustrix, nil
    case "postgres", "postgresql", "pgx":
        return Postgres, nil
    default:
        return Dialect{}, fmt.Errorf("sqlhub: unknown dialect %q", name)
    }
}

// Merge returns d with every non-empty field of o applied on top.
func (d Dialect) Merge(o Dialect) Dialect {
    set := func(dst *string, v string) {
        if v != "" { *dst = v }
    }
    set(&d.Ping, o.Ping)
    set(&d.Capability, o.Capability)
    set(&d.ActiveStatus, o.ActiveStatus)
    set(&d.Membership, o.Membership)
    set(&d.NodeInfo, o.NodeInfo)
    set(&d.Softfail, o.Softfail)
    set(&d.Unsoftfail, o.Unsoftfail)
    return d
}

func (d Dialect) command(stmt string, id int) (string, []any) {
    if strings.Contains(stmt, "%d") { return fmt.Sprintf(stmt, id), nil }
    return stmt, []any{id}
}
