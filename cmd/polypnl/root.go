package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypnl/config"
	"github.com/alejandrodnm/polypnl/internal/adapters/cache"
	"github.com/alejandrodnm/polypnl/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypnl/internal/adapters/storage"
	"github.com/alejandrodnm/polypnl/internal/application/collector"
	"github.com/alejandrodnm/polypnl/internal/application/report"
	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/observability"
	"github.com/alejandrodnm/polypnl/internal/ports"
	"github.com/alejandrodnm/polypnl/internal/trace"
)

// rootFlags son los flags persistentes de todos los comandos.
type rootFlags struct {
	configPath string
	verbose    bool
	logFormat  string
	noArchive  bool
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "polypnl",
		Short:        "Polymarket account activity and PnL reports",
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&rf.configPath, "config", "config/config.yaml", "path to config file (defaults apply if missing)")
	pf.BoolVarP(&rf.verbose, "verbose", "v", false, "set log level to debug")
	pf.StringVar(&rf.logFormat, "log-format", "", "log format: text|json (overrides config)")
	pf.BoolVar(&rf.noArchive, "no-archive", false, "do not read or write the local activity archive")

	cmd.AddCommand(
		newCollectCmd(rf),
		newReportCmd(rf),
	)
	return cmd
}

// app agrupa las dependencias construidas a partir de la config.
type app struct {
	cfg      *config.Config
	client   *polymarket.Client
	service  *report.Service
	closers  []func()
	registry *prometheus.Registry
}

// newApp carga la config y construye el grafo de dependencias.
func newApp(ctx context.Context, rf *rootFlags) (*app, error) {
	cfg, err := config.LoadOrDefault(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.verbose {
		cfg.Log.Level = "debug"
	}
	if rf.logFormat != "" {
		cfg.Log.Format = rf.logFormat
	}
	setupLogger(cfg.Log)

	a := &app{cfg: cfg}

	if err := trace.Init(ctx, cfg.Trace.Enabled, os.Stderr); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			slog.Warn("trace shutdown failed", "err", err)
		}
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(a.registry, "polypnl")
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := observability.Serve(ctx, addr, a.registry); err != nil {
				slog.Error("metrics endpoint failed", "err", err, "addr", addr)
			}
		}()
	}

	a.client = polymarket.NewClient(polymarket.Options{
		DataAPIBase: cfg.Feed.DataAPIBase,
		CLOBBase:    cfg.Feed.CLOBBase,
		RatePerSec:  cfg.Feed.RatePerSec,
		Burst:       cfg.Feed.Burst,
		Timeout:     cfg.FeedTimeout(),
		MaxRetries:  cfg.Feed.MaxRetries,
	})

	mode, _ := domain.ParsePaginationMode(cfg.Collector.Mode)
	coll := collector.New(collector.Config{
		Mode:             mode,
		PageSize:         cfg.Collector.PageSize,
		MaxPageSize:      cfg.Feed.MaxPageSize,
		MaxEvents:        cfg.Collector.MaxEvents,
		EmptyWindowLimit: cfg.Collector.EmptyWindowLimit,
		MaxPages:         cfg.Collector.MaxPages,
		PageTimeout:      cfg.PageTimeout(),
		FanOut:           cfg.Collector.FanOut,
	}, a.client, metrics)

	var archive ports.ActivityArchive
	if !rf.noArchive {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		archive = store
		a.closers = append(a.closers, func() { store.Close() })
	}

	resultCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		// el cache es una optimización: sin él se recalcula
		slog.Warn("result cache unavailable, continuing without it", "backend", cfg.Cache.Backend, "err", err)
	} else if c, ok := resultCache.(*cache.Redis); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}

	a.service = report.NewService(report.Deps{
		Collector: coll,
		Archive:   archive,
		Cache:     resultCache,
		Prices:    a.client,
		Metrics:   metrics,
		CacheTTL:  cfg.CacheTTL(),
	})

	slog.Debug("polypnl configured",
		"config", rf.configPath,
		"mode", mode,
		"page_size", cfg.Collector.PageSize,
		"cache", cfg.Cache.Backend,
		"archive", !rf.noArchive,
		"trace", cfg.Trace.Enabled,
	)
	return a, nil
}

// Close libera recursos en orden inverso de creación.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openCache devuelve nil (sin error) para el backend "none".
func openCache(ctx context.Context, cfg config.CacheConfig) (ports.ResultCache, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return cache.NewMemory(), nil
	}
}

// setupLogger configura slog. Los logs van a stderr para no mezclarse con el output JSON.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
