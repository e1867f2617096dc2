package monitor

import (
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-clustermon/pkg/discovery"
    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/probe"
    "github.com/amirimatin/go-clustermon/pkg/status"
)

const (
    DefaultInterval       = 2000 * time.Millisecond
    DefaultThreshold      = 2
    DefaultMaxInFlight    = 64
    DefaultProbeTimeout   = time.Second
    DefaultConnectTimeout = 2 * time.Second
)

// Options carries the collaborators and tuning of a Monitor. Instances are
// typically produced by bootstrap from a config file.
type Options struct {
    // Name identifies this monitor in registry server names.
    Name string
    // Interval between cycles when driven by Run.
    Interval time.Duration
    // HealthCheckThreshold is the number of consecutive failed probes after
    // which a node is considered down.
    HealthCheckThreshold int
    ProbeTimeout         time.Duration
    ConnectTimeout       time.Duration
    MaxInFlight          int

    // Bootstrap lists hub addresses tried after all known nodes.
    Bootstrap []string
    // Discovery, if set, supplies additional bootstrap addresses each cycle.
    Discovery discovery.Discovery

    Dialer   hub.Dialer
    Checker  probe.Checker
    Registry status.Registry
    Logger   *log.Logger
}

func (o Options) withDefaults() Options {
    if o.Name == "" { o.Name = "clustermon" }
    if o.Interval <= 0 { o.Interval = DefaultInterval }
    if o.HealthCheckThreshold == 0 { o.HealthCheckThreshold = DefaultThreshold }
    if o.MaxInFlight == 0 { o.MaxInFlight = DefaultMaxInFlight }
    if o.ProbeTimeout <= 0 { o.ProbeTimeout = DefaultProbeTimeout }
    if o.ConnectTimeout <= 0 { o.ConnectTimeout = DefaultConnectTimeout }
    if o.Logger == nil { o.Logger = log.Default() }
    return o
}

// Validate checks required collaborators and tuning bounds. Zero tuning
// values are replaced by defaults in New and are therefore accepted.
func (o Options) Validate() error {
    if o.Dialer == nil { return errors.New("monitor: nil Dialer") }
    if o.Checker == nil { return errors.New("monitor: nil Checker") }
    if o.Registry == nil { return errors.New("monitor: nil Registry") }
    if o.HealthCheckThreshold < 0 { return fmt.Errorf("monitor: health check threshold must be >= 1, got %d", o.HealthCheckThreshold) }
    if o.MaxInFlight < 0 { return fmt.Errorf("monitor: max in flight must be >= 1, got %d", o.MaxInFlight) }
    if len(o.Bootstrap) == 0 && o.Discovery == nil { return errors.New("monitor: no bootstrap servers and no discovery") }
    return nil
}
