// Package cli provides the cobra commands of clustermon so services can
// embed them under their own root command.
package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-clustermon/pkg/bootstrap"
    "github.com/amirimatin/go-clustermon/pkg/config"
    dStatic "github.com/amirimatin/go-clustermon/pkg/discovery/static"
    "github.com/amirimatin/go-clustermon/pkg/transport"
)

// AddAll attaches run/status/softfail/unsoftfail to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewSoftfailCmd())
    root.AddCommand(NewUnsoftfailCmd())
}

// NewRunCmd returns the "run" command that starts the monitor.
func NewRunCmd() *cobra.Command {
    var (
        cfgPath, name, servers, adminAddr, adminProto, dialect, user, password string
        interval, threshold                                                   int
        trace, jsonLogs, debug                                                bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run the cluster health monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := loadConfig(cfgPath, func(c *config.Config) {
                fs := cmd.Flags()
                setIf(fs, "name", &c.Name, name)
                if fs.Changed("servers") { c.Servers = dStatic.Parse(servers) }
                setIf(fs, "admin-addr", &c.Admin.Addr, adminAddr)
                setIf(fs, "admin-proto", &c.Admin.Proto, adminProto)
                setIf(fs, "dialect", &c.Hub.Dialect, dialect)
                setIf(fs, "user", &c.Hub.User, user)
                setIf(fs, "password", &c.Hub.Password, password)
                setIf(fs, "interval", &c.IntervalMS, interval)
                setIf(fs, "threshold", &c.HealthCheckThreshold, threshold)
                setIf(fs, "trace", &c.Tracing, trace)
                setIf(fs, "log-json", &c.Log.JSON, jsonLogs)
                setIf(fs, "debug", &c.Log.Debug, debug)
            })
            if err != nil { return err }

            ctx, cancel := signalContext()
            defer cancel()
            n, err := bootstrap.Run(ctx, cfg, log.Default())
            if err != nil { return err }
            defer n.Close()

            fmt.Fprintf(cmd.OutOrStdout(), "clustermon %s running. Press Ctrl+C to exit.\n", cfg.Name)
            select {
            case <-ctx.Done():
            case err := <-n.Done():
                if err != nil { return err }
            }
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfgPath, "config", "", "path to the YAML config file")
    f.StringVar(&name, "name", "", "monitor name used in server names")
    f.StringVar(&servers, "servers", "", "comma-separated bootstrap hub addresses (host[:port])")
    f.StringVar(&adminAddr, "admin-addr", "", "admin endpoint address (host:port); empty disables it")
    f.StringVar(&adminProto, "admin-proto", "", "admin protocol: http|grpc")
    f.StringVar(&dialect, "dialect", "", "hub SQL dialect: clustrix|postgres")
    f.StringVar(&user, "user", "", "hub SQL user")
    f.StringVar(&password, "password", "", "hub SQL password")
    f.IntVar(&interval, "interval", 0, "cluster_monitor_interval in milliseconds")
    f.IntVar(&threshold, "threshold", 0, "health_check_threshold")
    f.BoolVar(&trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    f.BoolVar(&jsonLogs, "log-json", false, "log one JSON object per line")
    f.BoolVar(&debug, "debug", false, "enable debug logs")
    return cmd
}

// clientFlags are shared by the commands that talk to a running monitor.
type clientFlags struct {
    addr, proto                                 string
    timeout                                     time.Duration
    tlsEnable, tlsSkip                          bool
    tlsCA, tlsCert, tlsKey, tlsServerName       string
}

func (c *clientFlags) register(cmd *cobra.Command) {
    f := cmd.Flags()
    f.StringVar(&c.addr, "addr", "127.0.0.1:8089", "admin address of a monitor (host:port)")
    f.StringVar(&c.proto, "proto", "http", "admin protocol: http|grpc")
    f.DurationVar(&c.timeout, "timeout", 3*time.Second, "request timeout")
    f.BoolVar(&c.tlsEnable, "tls-enable", false, "enable mTLS for the admin transport")
    f.StringVar(&c.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&c.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    f.StringVar(&c.tlsKey, "tls-key", "", "path to client private key (PEM)")
    f.BoolVar(&c.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&c.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (c *clientFlags) client() (transport.RPCClient, error) {
    var cliTLS *tls.Config
    if c.tlsEnable {
        var err error
        cliTLS, err = bootstrap.TLSOptions(config.TLS{Enable: true, CA: c.tlsCA, Cert: c.tlsCert, Key: c.tlsKey, SkipVerify: c.tlsSkip, ServerName: c.tlsServerName}).Client()
        if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    return bootstrap.NewClient(c.proto, c.timeout, cliTLS), nil
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch the monitor's cluster status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            _, _ = out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
            return nil
        },
    }
    cf.register(cmd)
    return cmd
}

// NewSoftfailCmd returns the "softfail <node-id>" command.
func NewSoftfailCmd() *cobra.Command {
    return adminCmd("softfail", "Drain a node so it is reported as draining", transport.RPCClient.PostSoftfail)
}

// NewUnsoftfailCmd returns the "unsoftfail <node-id>" command.
func NewUnsoftfailCmd() *cobra.Command {
    return adminCmd("unsoftfail", "Readmit a drained node", transport.RPCClient.PostUnsoftfail)
}

type adminCall func(transport.RPCClient, context.Context, string, transport.SoftfailRequest) (transport.AdminResponse, error)

func adminCmd(use, short string, call adminCall) *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   use + " <node-id>",
        Short: short,
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            id, err := strconv.Atoi(args[0])
            if err != nil || id <= 0 { return fmt.Errorf("node id must be a positive integer, got %q", args[0]) }
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := call(client, ctx, cf.addr, transport.SoftfailRequest{NodeID: id})
            if err != nil { return fmt.Errorf("%s error: %w", use, err) }
            return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
        },
    }
    cf.register(cmd)
    return cmd
}

// loadConfig reads path (optional) then applies flag overrides before
// validation.
func loadConfig(path string, override func(*config.Config)) (config.Config, error) {
    cfg := config.Default()
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return config.Config{}, fmt.Errorf("config: %w", err) }
        if err := config.Parse(b, &cfg); err != nil { return config.Config{}, err }
    }
    override(&cfg)
    if err := cfg.Validate(); err != nil { return config.Config{}, err }
    return cfg, nil
}

func setIf[T any](fs *pflag.FlagSet, name string, dst *T, v T) {
    if fs.Changed(name) { *dst = v }
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
