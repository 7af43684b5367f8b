// Package config manages the router daemon's configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete udprouterd configuration.
type Config struct {
	XDP     XDPConfig     `koanf:"xdp"`
	Control ControlConfig `koanf:"control"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Daemon  DaemonConfig  `koanf:"daemon"`
}

// XDPConfig holds packet-rewriter attachment configuration.
type XDPConfig struct {
	// Interface is the network interface the program attaches to.
	Interface string `koanf:"interface"`
	// ObjectPath is the path to the compiled BPF object.
	ObjectPath string `koanf:"object_path"`
	// ForceHW, ForceDRV, ForceSKB pin attachment to exactly that mode,
	// skipping the HW -> DRV -> SKB probe. At most one may be set.
	ForceHW  bool `koanf:"force_hw"`
	ForceDRV bool `koanf:"force_drv"`
	ForceSKB bool `koanf:"force_skb"`
	// AllowSKB permits falling back to generic (SKB) mode during probing.
	AllowSKB bool `koanf:"allow_skb"`

	// LocalNet/LocalMask is the local-subnet filter applied at startup.
	LocalNet  string `koanf:"local_net"`
	LocalMask string `koanf:"local_mask"`
	// BackendNet/BackendMask identifies the backend subnet at startup.
	BackendNet  string `koanf:"backend_net"`
	BackendMask string `koanf:"backend_mask"`
	// GatewayMAC is the next-hop MAC address forwarded packets are sent to.
	GatewayMAC string `koanf:"gateway_mac"`
}

// ControlConfig holds the ConnectRPC control-plane server configuration.
type ControlConfig struct {
	// Addr is the control-plane listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DaemonConfig holds process lifecycle tunables.
type DaemonConfig struct {
	// ShutdownTimeout bounds how long graceful shutdown waits for the HTTP
	// servers to drain. The control actor's shutdown is not bounded by it.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// WatchdogInterval, when positive, overrides the systemd watchdog
	// interval; sd_notify WATCHDOG=1 is sent every half interval. 0 uses the
	// interval systemd reports in WATCHDOG_USEC, if any.
	WatchdogInterval time.Duration `koanf:"watchdog_interval"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. Network
// filter fields are left empty, so the maps keep their all-zero values: a
// zero local net/mask matches every source, so the router hands all UDP
// traffic to the host stack and forwards nothing, which is the safe starting
// point before the control plane sets real values.
func DefaultConfig() *Config {
	return &Config{
		XDP: XDPConfig{
			Interface:  "eth0",
			ObjectPath: "/etc/udprouter/udprouter.bpf.o",
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:8888",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Daemon: DaemonConfig{
			ShutdownTimeout:  10 * time.Second,
			WatchdogInterval: 0,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for udprouterd configuration.
// Variables are named UDPROUTERD_<section>_<key>, e.g. UDPROUTERD_XDP_INTERFACE.
const envPrefix = "UDPROUTERD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (UDPROUTERD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	UDPROUTERD_XDP_INTERFACE    -> xdp.interface
//	UDPROUTERD_CONTROL_ADDR     -> control.addr
//	UDPROUTERD_METRICS_ADDR     -> metrics.addr
//	UDPROUTERD_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms UDPROUTERD_XDP_INTERFACE -> xdp.interface.
// Strips the UDPROUTERD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"xdp.interface":           defaults.XDP.Interface,
		"xdp.object_path":         defaults.XDP.ObjectPath,
		"xdp.allow_skb":           defaults.XDP.AllowSKB,
		"control.addr":            defaults.Control.Addr,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"daemon.shutdown_timeout": defaults.Daemon.ShutdownTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyInterface indicates no network interface was configured.
	ErrEmptyInterface = errors.New("xdp.interface must not be empty")

	// ErrEmptyObjectPath indicates no compiled BPF object path was configured.
	ErrEmptyObjectPath = errors.New("xdp.object_path must not be empty")

	// ErrMultipleForcedModes indicates more than one of force_hw/force_drv/force_skb is set.
	ErrMultipleForcedModes = errors.New("at most one of xdp.force_hw, xdp.force_drv, xdp.force_skb may be set")

	// ErrEmptyControlAddr indicates the control-plane listen address is empty.
	ErrEmptyControlAddr = errors.New("control.addr must not be empty")

	// ErrInvalidShutdownTimeout indicates a non-positive shutdown timeout.
	ErrInvalidShutdownTimeout = errors.New("daemon.shutdown_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.XDP.Interface == "" {
		return ErrEmptyInterface
	}
	if cfg.XDP.ObjectPath == "" {
		return ErrEmptyObjectPath
	}

	forced := 0
	if cfg.XDP.ForceHW {
		forced++
	}
	if cfg.XDP.ForceDRV {
		forced++
	}
	if cfg.XDP.ForceSKB {
		forced++
	}
	if forced > 1 {
		return ErrMultipleForcedModes
	}

	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}

	if cfg.Daemon.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
