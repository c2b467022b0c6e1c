// cachepool checks and exercises connections to a distributed cache server.
//
// It builds the same connection pool an application would use, so a probe
// goes through dialing, TLS and protocol version negotiation exactly as
// production traffic does.
//
// Usage:
//
//	cachepool [flags] probe [-n count] [-hold duration]
//	cachepool [flags] serve [-listen addr] [-versions list] [-cert file -key file]
//	cachepool [flags] init <path>
//
// Flags:
//
//	-config string
//	    Path to a TOML or YAML configuration file
//	-host string
//	    Cache server host (overrides config)
//	-port int
//	    Cache server port (overrides config)
//	-timeout int
//	    Network timeout in milliseconds (overrides config)
//	-tls
//	    Enable TLS (overrides config)
//	-ca string
//	    CA certificate file (implies -tls)
//	-metrics string
//	    Address to serve /metrics on
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/distcache/cachepool/lib/core"
	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/distcache/cachepool/lib/pool"
	"github.com/distcache/cachepool/lib/stubserver"
	"github.com/distcache/cachepool/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	host       string
	port       int
	timeout    int
	tls        bool
	caFile     string
	metrics    string
	verbose    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cachepool", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts globalOptions
	fs.StringVar(&opts.configPath, "config", "", "Path to a TOML or YAML configuration file")
	fs.StringVar(&opts.host, "host", "", "Cache server host (overrides config)")
	fs.IntVar(&opts.port, "port", 0, "Cache server port (overrides config)")
	fs.IntVar(&opts.timeout, "timeout", 0, "Network timeout in milliseconds (overrides config)")
	fs.BoolVar(&opts.tls, "tls", false, "Enable TLS (overrides config)")
	fs.StringVar(&opts.caFile, "ca", "", "CA certificate file (implies -tls)")
	fs.StringVar(&opts.metrics, "metrics", "", "Address to serve /metrics on")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")
	showVersion := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "cachepool - distributed cache connection pool tool\n\n")
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  cachepool [flags] probe     Acquire pooled connections and report\n")
		fmt.Fprintf(stderr, "  cachepool [flags] serve     Run a handshake-only cache server\n")
		fmt.Fprintf(stderr, "  cachepool [flags] init PATH Write a default configuration file\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "cachepool version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	switch rest[0] {
	case "probe":
		return handleProbe(rest[1:], opts, logger, stdout, stderr)
	case "serve":
		return handleServe(rest[1:], opts, logger, stdout, stderr)
	case "init":
		return handleInit(rest[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", rest[0])
		fs.Usage()
		return 2
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts globalOptions) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := core.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.host != "" {
		cfg.Cache.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Cache.Port = opts.port
	}
	if opts.timeout != 0 {
		cfg.Cache.TimeoutMillis = opts.timeout
	}
	if opts.tls || opts.caFile != "" {
		cfg.TLS.Enabled = true
	}
	if opts.caFile != "" {
		cfg.TLS.CAFile = opts.caFile
	}
	if opts.metrics != "" {
		cfg.Metrics.Listen = opts.metrics
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// probeResult is one acquired connection in the probe report.
type probeResult struct {
	Conn    uint64 `json:"conn,omitempty"`
	Version int32  `json:"version,omitempty"`
	Elapsed string `json:"elapsed"`
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// probeReport is printed by the probe command.
type probeReport struct {
	Address string        `json:"address"`
	Results []probeResult `json:"results"`
	Stats   pool.Stats    `json:"stats"`
}

// handleProbe handles the "probe" subcommand.
func handleProbe(args []string, opts globalOptions, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 1, "Number of connections to acquire concurrently")
	hold := fs.Duration("hold", 0, "How long to hold the connections before releasing")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *n < 1 {
		fmt.Fprintln(stderr, "Error: -n must be at least 1")
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client, err := core.NewClient(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := signalContext()
	defer cancel()
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	p := client.Pool()
	results := make([]probeResult, *n)
	conns := make([]*pool.Conn, *n)

	var g errgroup.Group
	for i := range *n {
		g.Go(func() error {
			start := time.Now()
			c, err := p.Acquire(ctx)
			results[i].Elapsed = time.Since(start).Round(time.Microsecond).String()
			if err != nil {
				results[i].Error = err.Error()
				results[i].Code = apperrors.CodeOf(err)
				return err
			}
			conns[i] = c
			results[i].Conn = c.ID()
			results[i].Version = int32(c.Version())
			return nil
		})
	}
	probeErr := g.Wait()

	if *hold > 0 && probeErr == nil {
		logger.Info("holding connections", "count", *n, "duration", *hold)
		select {
		case <-time.After(*hold):
		case <-ctx.Done():
		}
	}

	report := probeReport{Address: p.Address(), Results: results, Stats: p.Stats()}
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		printReport(stdout, report)
	}

	if probeErr != nil {
		if apperrors.IsUnreachable(probeErr) {
			fmt.Fprintf(stderr, "Server unreachable: %v\n", probeErr)
		}
		return 1
	}
	return 0
}

func printReport(w io.Writer, r probeReport) {
	fmt.Fprintf(w, "Address:      %s\n\n", r.Address)
	fmt.Fprintf(w, "%-6s %-8s %-12s %s\n", "CONN", "VERSION", "ELAPSED", "ERROR")
	fmt.Fprintf(w, "%-6s %-8s %-12s %s\n", "----", "-------", "-------", "-----")
	for _, res := range r.Results {
		conn, ver := "-", "-"
		if res.Error == "" {
			conn = strconv.FormatUint(res.Conn, 10)
			ver = strconv.Itoa(int(res.Version))
		}
		fmt.Fprintf(w, "%-6s %-8s %-12s %s\n", conn, ver, res.Elapsed, res.Error)
	}
	fmt.Fprintf(w, "\nOpen: %d  Idle: %d  In use: %d  Pending: %d  Max: %d\n",
		r.Stats.NumOpen, r.Stats.NumIdle, r.Stats.NumInUse, r.Stats.NumPending, r.Stats.MaxConnections)
}

// handleServe handles the "serve" subcommand.
func handleServe(args []string, opts globalOptions, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:4557", "Address to listen on")
	versionList := fs.String("versions", "1", "Comma-separated protocol versions to accept")
	certFile := fs.String("cert", "", "Server certificate file (enables TLS)")
	keyFile := fs.String("key", "", "Server key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	versions, err := parseVersions(*versionList)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg := stubserver.Config{Addr: *listen, Versions: versions}
	if *certFile != "" || *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading key pair: %v\n", err)
			return 1
		}
		cfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	srv, err := stubserver.Start(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Close()

	fmt.Fprintf(stdout, "Listening on %s (versions %s, tls %t)\n", srv.Addr(), versions, cfg.TLSConfig != nil)

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down", "accepted", srv.Accepted(), "negotiated", srv.Negotiated())
	return 0
}

// handleInit handles the "init" subcommand.
func handleInit(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: cachepool init <path.toml|path.yaml>")
		return 2
	}
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", path)
		return 1
	}
	if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", filepath.Clean(path))
	return 0
}

// parseVersions parses a comma-separated list of protocol versions.
func parseVersions(s string) (negotiation.VersionSet, error) {
	var versions []negotiation.Version
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid version %q", part)
		}
		versions = append(versions, negotiation.Version(v))
	}
	if len(versions) == 0 {
		return nil, errors.New("no versions given")
	}
	return negotiation.NewVersionSet(versions...), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
