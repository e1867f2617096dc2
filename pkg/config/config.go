// Package config loads the monitor configuration from YAML.
package config

import (
    "errors"
    "fmt"
    "os"
    "time"

    "github.com/go-playground/validator/v10"
    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-clustermon/pkg/hub/sqlhub"
)

var validate = validator.New()

// Config is the file format of clustermon. Durations are in milliseconds.
type Config struct {
    Name string `yaml:"name" validate:"required,max=64"`
    // Interval between monitor cycles.
    IntervalMS int `yaml:"cluster_monitor_interval" validate:"min=100"`
    // HealthCheckThreshold failed probes in a row mark a node down.
    HealthCheckThreshold int `yaml:"health_check_threshold" validate:"min=1"`
    MaxInFlight          int `yaml:"max_in_flight" validate:"min=1"`
    ProbeTimeoutMS       int `yaml:"probe_timeout" validate:"min=10"`
    ConnectTimeoutMS     int `yaml:"connect_timeout" validate:"min=10"`
    QueryTimeoutMS       int `yaml:"query_timeout" validate:"min=10"`

    // Servers are the bootstrap hub addresses (host or host:port).
    Servers   []string  `yaml:"servers" validate:"dive,required"`
    Discovery Discovery `yaml:"discovery"`
    Hub       Hub       `yaml:"hub"`
    Health    Health    `yaml:"health"`
    Admin     Admin     `yaml:"admin"`
    TLS       TLS       `yaml:"tls"`
    Log       Log       `yaml:"log"`
    Tracing   bool      `yaml:"tracing"`
}

// Discovery supplies additional bootstrap servers.
type Discovery struct {
    Kind      string   `yaml:"kind" validate:"omitempty,oneof=static dns file"`
    Names     []string `yaml:"names"`
    Port      int      `yaml:"port" validate:"omitempty,min=1,max=65535"`
    File      string   `yaml:"file"`
    Env       string   `yaml:"env"`
    RefreshMS int      `yaml:"refresh" validate:"omitempty,min=100"`
}

type Hub struct {
    Dialect  string `yaml:"dialect" validate:"omitempty,oneof=clustrix mysql postgres postgresql pgx"`
    User     string `yaml:"user"`
    Password string `yaml:"password"`
    Database string `yaml:"database"`
    // Statements override individual dialect statements.
    Statements sqlhub.Dialect `yaml:"statements"`
}

type Health struct {
    Kind    string `yaml:"kind" validate:"oneof=http grpc"`
    Path    string `yaml:"path"`
    Service string `yaml:"service"`
    TLS     bool   `yaml:"tls"`
}

// Admin is the management endpoint serving status and softfail commands.
type Admin struct {
    Addr  string `yaml:"addr"`
    Proto string `yaml:"proto" validate:"oneof=http grpc"`
}

type TLS struct {
    Enable     bool   `yaml:"enable"`
    CA         string `yaml:"ca"`
    Cert       string `yaml:"cert"`
    Key        string `yaml:"key"`
    ServerName string `yaml:"server_name"`
    SkipVerify bool   `yaml:"skip_verify"`
}

type Log struct {
    JSON  bool `yaml:"json"`
    Debug bool `yaml:"debug"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
    return Config{
        Name:                 "clustermon",
        IntervalMS:           2000,
        HealthCheckThreshold: 2,
        MaxInFlight:          64,
        ProbeTimeoutMS:       1000,
        ConnectTimeoutMS:     2000,
        QueryTimeoutMS:       5000,
        Hub:                  Hub{Dialect: "clustrix"},
        Health:               Health{Kind: "http", Path: "/"},
        Admin:                Admin{Addr: "127.0.0.1:8089", Proto: "http"},
    }
}

// Load reads path over the defaults and validates the result. An empty
// path yields the defaults, which still need servers or discovery to pass
// validation.
func Load(path string) (Config, error) {
    cfg := Default()
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return Config{}, fmt.Errorf("config: %w", err) }
        if err := Parse(b, &cfg); err != nil { return Config{}, err }
    }
    if err := cfg.Validate(); err != nil { return Config{}, err }
    return cfg, nil
}

// Parse decodes YAML into cfg; fields absent from b keep their value.
func Parse(b []byte, cfg *Config) error {
    if err := yaml.Unmarshal(b, cfg); err != nil { return fmt.Errorf("config: %w", err) }
    return nil
}

func (c Config) Validate() error {
    if err := validate.Struct(c); err != nil { return formatValidationError(err) }
    if len(c.Servers) == 0 && c.Discovery.Kind == "" {
        return errors.New("config: servers: at least one bootstrap server or a discovery kind is required")
    }
    switch c.Discovery.Kind {
    case "dns":
        if len(c.Discovery.Names) == 0 { return errors.New("config: discovery.names: required for dns discovery") }
    case "file":
        if c.Discovery.File == "" && c.Discovery.Env == "" { return errors.New("config: discovery.file: file or env required for file discovery") }
    }
    if c.ProbeTimeoutMS > c.IntervalMS {
        return fmt.Errorf("config: probe_timeout (%dms) must not exceed cluster_monitor_interval (%dms)", c.ProbeTimeoutMS, c.IntervalMS)
    }
    if c.TLS.Enable && c.Admin.Addr != "" && (c.TLS.Cert == "" || c.TLS.Key == "") {
        return errors.New("config: tls: cert and key required when tls is enabled for the admin endpoint")
    }
    return nil
}

func (c Config) Interval() time.Duration       { return ms(c.IntervalMS) }
func (c Config) ProbeTimeout() time.Duration   { return ms(c.ProbeTimeoutMS) }
func (c Config) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMS) }
func (c Config) QueryTimeout() time.Duration   { return ms(c.QueryTimeoutMS) }
func (d Discovery) Refresh() time.Duration     { return ms(d.RefreshMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func formatValidationError(err error) error {
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) { return fmt.Errorf("config: %w", err) }
    e := verrs[0]
    field := e.Namespace()
    switch e.Tag() {
    case "required":
        return fmt.Errorf("config: %s: field is required", field)
    case "min":
        return fmt.Errorf("config: %s: must be at least %s", field, e.Param())
    case "max":
        return fmt.Errorf("config: %s: must not exceed %s", field, e.Param())
    case "oneof":
        return fmt.Errorf("config: %s: must be one of [%s], got %v", field, e.Param(), e.Value())
    default:
        return fmt.Errorf("config: %s: failed %s validation", field, e.Tag())
    }
}
