// udprouterd is the payload-steered UDP router daemon: it attaches the
// compiled XDP packet rewriter to an interface and serves the ConnectRPC
// control plane and Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/xdp-tools/udprouter/internal/attach"
	"github.com/xdp-tools/udprouter/internal/config"
	"github.com/xdp-tools/udprouter/internal/control"
	"github.com/xdp-tools/udprouter/internal/metrics"
	"github.com/xdp-tools/udprouter/internal/server"
	appversion "github.com/xdp-tools/udprouter/internal/version"
)

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// statsPollInterval is how often the daemon polls the control actor for a
// fresh stats snapshot to mirror into the Prometheus gauges.
const statsPollInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("udprouterd starting",
		slog.String("version", appversion.Version),
		slog.String("interface", cfg.XDP.Interface),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	loaded, err := attach.Load(logger, cfg.XDP.ObjectPath, cfg.XDP.Interface, attachPolicy(cfg.XDP))
	if err != nil {
		logger.Error("failed to load and attach packet rewriter", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := loaded.Close(); err != nil {
			logger.Warn("error detaching packet rewriter", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	actor, handle := control.New(loaded.Maps, logger)
	defer actor.Wait()
	defer handle.Close()

	if err := applyStartupConfig(context.Background(), handle, cfg.XDP, logger); err != nil {
		logger.Error("failed to apply startup configuration", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, handle, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("udprouterd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("udprouterd stopped")
	return 0
}

// runServers sets up and runs the control and metrics HTTP servers using an
// errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	handle *control.Handle,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(cfg.Control, handle, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, controlSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, cfg.Daemon.WatchdogInterval, logger)
	startStatsPoller(gCtx, g, handle, collector, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, cfg.Daemon.ShutdownTimeout, logger, fr, controlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the control and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	controlSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}
	controlLC := reusePortListenConfig()

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(ctx, controlLC, controlSrv, cfg.Control.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	watchdogOverride time.Duration,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, watchdogOverride, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// startStatsPoller registers the goroutine that periodically mirrors the
// control actor's counters into the Prometheus gauges.
func startStatsPoller(ctx context.Context, g *errgroup.Group, handle *control.Handle, collector *metrics.Collector, logger *slog.Logger) {
	g.Go(func() error {
		ticker := time.NewTicker(statsPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				stats, err := handle.GetStats(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					logger.Warn("failed to poll stats", slog.String("error", err.Error()))
					continue
				}
				collector.SetStats(stats)
			}
		}
	})
}

// -------------------------------------------------------------------------
// Startup configuration
// -------------------------------------------------------------------------

// applyStartupConfig pushes the XDP config section's local/backend
// net-and-mask filters and gateway MAC address into the maps through the
// control actor, skipping any field left empty in the configuration.
func applyStartupConfig(ctx context.Context, handle *control.Handle, xdp config.XDPConfig, logger *slog.Logger) error {
	if xdp.LocalNet != "" || xdp.LocalMask != "" {
		net, mask, err := parseNetAndMask(xdp.LocalNet, xdp.LocalMask)
		if err != nil {
			return fmt.Errorf("xdp.local_net/local_mask: %w", err)
		}
		if err := handle.SetLocalNetAndMask(ctx, net, mask); err != nil {
			return fmt.Errorf("set local net/mask: %w", err)
		}
		logger.Info("applied local net/mask", slog.String("net", xdp.LocalNet), slog.String("mask", xdp.LocalMask))
	}

	if xdp.BackendNet != "" || xdp.BackendMask != "" {
		net, mask, err := parseNetAndMask(xdp.BackendNet, xdp.BackendMask)
		if err != nil {
			return fmt.Errorf("xdp.backend_net/backend_mask: %w", err)
		}
		if err := handle.SetBackendNetAndMask(ctx, net, mask); err != nil {
			return fmt.Errorf("set backend net/mask: %w", err)
		}
		logger.Info("applied backend net/mask", slog.String("net", xdp.BackendNet), slog.String("mask", xdp.BackendMask))
	}

	if xdp.GatewayMAC != "" {
		mac, err := parseMACAddress(xdp.GatewayMAC)
		if err != nil {
			return fmt.Errorf("xdp.gateway_mac: %w", err)
		}
		if err := handle.SetGatewayMacAddress(ctx, mac); err != nil {
			return fmt.Errorf("set gateway mac: %w", err)
		}
		logger.Info("applied gateway mac", slog.String("mac", xdp.GatewayMAC))
	}

	return nil
}

func parseNetAndMask(network, mask string) (net, maskVal uint32, err error) {
	n, err := parseIPv4(network)
	if err != nil {
		return 0, 0, fmt.Errorf("network: %w", err)
	}
	m, err := parseIPv4(mask)
	if err != nil {
		return 0, 0, fmt.Errorf("mask: %w", err)
	}
	return n, m, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("not an IP address: %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return binary.BigEndian.Uint32(v4), nil
}

func parseMACAddress(s string) (uint64, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return 0, fmt.Errorf("not a MAC address: %q", s)
	}
	var buf [8]byte
	copy(buf[2:], hw)
	return binary.BigEndian.Uint64(buf[:]), nil
}

// attachPolicy translates the XDP config section into an attach.Policy.
func attachPolicy(xdp config.XDPConfig) attach.Policy {
	return attach.Policy{
		ForceHW:  xdp.ForceHW,
		ForceDRV: xdp.ForceDRV,
		ForceSKB: xdp.ForceSKB,
		AllowSKB: xdp.AllowSKB,
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. override, when
// positive, takes precedence over the interval systemd reports through
// WATCHDOG_USEC; otherwise the daemon auto-detects via SdWatchdogEnabled.
// The interval used for keepalives is half of whichever value applies, as
// recommended by the systemd documentation. If no watchdog is configured
// either way, the goroutine exits immediately.
func runWatchdog(ctx context.Context, override time.Duration, logger *slog.Logger) error {
	interval := override
	if interval <= 0 {
		detected, err := daemon.SdWatchdogEnabled(false)
		if err != nil {
			logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
			return nil
		}
		interval = detected
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_interval", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads the dynamic log level from a
// fresh read of the configuration file. The rewriter's live network/MAC
// configuration is left untouched; operators push those changes through
// the control-plane API, not by restarting or signalling the daemon.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, stops the
// flight recorder, then drains the HTTP servers. The control actor and XDP
// attachment are closed by deferred calls in run, after this returns.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(ctx context.Context, shutdownTimeout time.Duration, logger *slog.Logger, fr *trace.FlightRecorder, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder for
// post-mortem debugging of rewriter misbehavior. The recorder maintains a
// rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newControlServer creates an HTTP server for the ConnectRPC control-plane
// endpoint. The handler is wrapped with h2c to support HTTP/2 without TLS,
// required for gRPC-style clients connecting over plaintext.
func newControlServer(cfg config.ControlConfig, handle *control.Handle, collector *metrics.Collector, logger *slog.Logger) *http.Server {
	handler := server.New(handle, logger, server.MetricsInterceptor(collector))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
