package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/nixcached/nixcached/internal/config"
	"github.com/nixcached/nixcached/internal/httpserver"
	"github.com/nixcached/nixcached/internal/metrics"
	"github.com/nixcached/nixcached/internal/signing"
	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/worker"
)

type CLI struct {
	Verbose bool `help:"Enable debug logging" short:"v" env:"RUST_LOG"`
	Version bool `help:"Print version information and exit"`
}

var Version = "dev"

func run(cli *CLI) error {
	opts := &slog.HandlerOptions{}
	if cli.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), os.Getenv("SIGN_KEY_PATHS"))
	if err != nil {
		log.Error("failed to load configuration", slog.String("error", err.Error()))
		return err
	}

	keys, err := signing.LoadKeys(cfg.SignKeyPaths)
	if err != nil {
		log.Error("failed to load signing keys", slog.String("error", err.Error()))
		return err
	}
	for _, k := range keys {
		log.Info("loaded signing key", slog.String("name", k.Name))
	}

	adapter, err := storeadapter.New(cfg.NixDaemonSocket, cfg.RealNixStore, cfg.DaemonPoolSize)
	if err != nil {
		log.Error("failed to connect to nix daemon", slog.String("socket", cfg.NixDaemonSocket), slog.String("error", err.Error()))
		return err
	}
	defer adapter.Close()

	m, err := metrics.New()
	if err != nil {
		log.Error("failed to initialize metrics", slog.String("error", err.Error()))
		return err
	}
	go func() {
		if err := metrics.ListenAndServe(cfg.MetricsBind); err != nil {
			log.Error("metrics server exited", slog.String("addr", cfg.MetricsBind), slog.String("error", err.Error()))
		}
	}()

	handler := httpserver.New(httpserver.Config{
		Log:        log,
		Adapter:    adapter,
		Keys:       keys,
		Metrics:    m,
		VirtualDir: cfg.VirtualNixStore,
		Priority:   cfg.Priority,
		Version:    Version,
	})

	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		log.Error("failed to bind", slog.String("addr", cfg.Bind), slog.String("error", err.Error()))
		return err
	}

	pool := worker.New(handler, worker.Config{
		Workers:           cfg.Workers,
		MaxConnectionRate: cfg.MaxConnectionRate,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting server",
		slog.String("bind", cfg.Bind),
		slog.String("metricsBind", cfg.MetricsBind),
		slog.Int("workers", cfg.Workers),
		slog.String("realNixStore", cfg.RealNixStore),
		slog.String("virtualNixStore", cfg.VirtualNixStore),
	)
	err = pool.Serve(ctx, ln)
	log.Info("server shutdown complete", slog.String("error", errString(err)))
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("nixcached"),
		kong.Description("Read-only HTTP binary cache server for a Nix store"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	if cli.Version {
		fmt.Println(Version)
		return
	}

	ctx.FatalIfErrorf(run(&cli))
}
