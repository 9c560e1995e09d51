// Package config loads the server's process-wide, read-only configuration:
// a TOML file on disk, overlaid with the values of the CONFIG_FILE and
// SIGN_KEY_PATHS environment variables that the caller passes in. RUST_LOG
// is not read here.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// File mirrors the TOML config file's keys. Unknown keys are ignored with a
// warning by the loader, not rejected.
type File struct {
	Bind              string   `toml:"bind"`
	Workers           int      `toml:"workers"`
	MaxConnectionRate int      `toml:"max_connection_rate"`
	Priority          int      `toml:"priority"`
	VirtualNixStore   string   `toml:"virtual_nix_store"`
	RealNixStore      string   `toml:"real_nix_store"`
	SignKeyPaths      []string `toml:"sign_key_paths"`
	TLSCertPath       string   `toml:"tls_cert_path"`
	TLSKeyPath        string   `toml:"tls_key_path"`

	// Not named in the external config-key table; needed to reach the
	// daemon and to run the metrics listener the supplemented feature set
	// adds, so they get the same TOML-plus-default treatment as everything
	// else rather than being hardcoded.
	NixDaemonSocket string `toml:"nix_daemon_socket"`
	DaemonPoolSize  int    `toml:"daemon_pool_size"`
	MetricsBind     string `toml:"metrics_bind"`
}

// Config is the fully resolved, immutable configuration used for the
// lifetime of the process. It is constructed once at startup and never
// mutated; every worker reads it without locking.
type Config struct {
	Bind              string
	Workers           int
	MaxConnectionRate int
	Priority          int
	VirtualNixStore   string
	RealNixStore      string
	SignKeyPaths      []string
	TLSCertPath       string
	TLSKeyPath        string

	NixDaemonSocket string
	DaemonPoolSize  int
	MetricsBind     string
}

// Defaults used when neither the TOML file nor the environment set a value.
const (
	DefaultBind              = ":8080"
	DefaultWorkers           = 4
	DefaultMaxConnectionRate = 256
	DefaultPriority          = 30
	DefaultVirtualNixStore   = "/nix/store"
	DefaultRealNixStore      = "/nix/store"
	DefaultNixDaemonSocket   = "/nix/var/nix/daemon-socket/socket"
	DefaultDaemonPoolSize    = 8
	DefaultMetricsBind       = ":9090"
)

// Load reads CONFIG_FILE (if set) as TOML, overlays SIGN_KEY_PATHS from the
// environment, and fills in defaults for anything left unset. configFile and
// signKeyPathsEnv are passed in explicitly (rather than read from os.Getenv
// here) so callers - and tests - control the environment precisely; main
// wires them from os.Getenv("CONFIG_FILE") / os.Getenv("SIGN_KEY_PATHS").
func Load(configFile, signKeyPathsEnv string) (Config, error) {
	var f File
	if configFile != "" {
		meta, err := toml.DecodeFile(configFile, &f)
		if err != nil {
			return Config{}, fmt.Errorf("load config file %q: %w", configFile, err)
		}
		for _, key := range meta.Undecoded() {
			fmt.Fprintf(os.Stderr, "warning: unknown config key %q in %s\n", key, configFile)
		}
	}

	cfg := Config{
		Bind:              orDefault(f.Bind, DefaultBind),
		Workers:           orDefaultInt(f.Workers, DefaultWorkers),
		MaxConnectionRate: orDefaultInt(f.MaxConnectionRate, DefaultMaxConnectionRate),
		Priority:          orDefaultInt(f.Priority, DefaultPriority),
		VirtualNixStore:   orDefault(f.VirtualNixStore, DefaultVirtualNixStore),
		RealNixStore:      orDefault(f.RealNixStore, DefaultRealNixStore),
		SignKeyPaths:      append([]string(nil), f.SignKeyPaths...),
		TLSCertPath:       f.TLSCertPath,
		TLSKeyPath:        f.TLSKeyPath,

		NixDaemonSocket: orDefault(f.NixDaemonSocket, DefaultNixDaemonSocket),
		DaemonPoolSize:  orDefaultInt(f.DaemonPoolSize, DefaultDaemonPoolSize),
		MetricsBind:     orDefault(f.MetricsBind, DefaultMetricsBind),
	}

	if signKeyPathsEnv = strings.TrimSpace(signKeyPathsEnv); signKeyPathsEnv != "" {
		cfg.SignKeyPaths = append(cfg.SignKeyPaths, strings.Fields(signKeyPathsEnv)...)
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
