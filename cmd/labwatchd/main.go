package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/labwatch/labwatch/internal/api"
	"github.com/labwatch/labwatch/internal/cache"
	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/internal/health"
	"github.com/labwatch/labwatch/internal/ingest"
	"github.com/labwatch/labwatch/internal/journal"
	"github.com/labwatch/labwatch/internal/metrics"
	"github.com/labwatch/labwatch/internal/notify"
	"github.com/labwatch/labwatch/internal/pipeline"
	"github.com/labwatch/labwatch/internal/query"
	"github.com/labwatch/labwatch/internal/ws"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("labwatchd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"devices", len(cfg.Devices),
		"sources", len(cfg.Sources),
		"journal_dir", cfg.Journal.Dir,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Journal: replay persisted history, then accept appends.
	j, stats, err := journal.Open(cfg.Journal.Dir, cfg.Journal.Sync)
	if err != nil {
		slog.Error("failed to open journal", "dir", cfg.Journal.Dir, "err", err)
		os.Exit(1)
	}
	slog.Info("journal replayed",
		"records", stats.Records,
		"last_seq", stats.LastSeq,
		"skipped_ranges", len(stats.Skipped),
	)
	for _, skip := range stats.Skipped {
		slog.Warn("journal: corrupt range skipped during replay",
			"file", skip.File, "offset", skip.Offset, "length", skip.Length)
	}

	devices := cfg.DeviceList()
	scorer := health.NewScorer(cfg.Engine, devices)
	queryEngine := query.New(j, devices)

	// Optional Redis mirror of latest values.
	mirror := cache.New(cfg.Cache)
	if mirror != nil {
		if err := mirror.Ping(ctx); err != nil {
			slog.Warn("cache: redis unreachable, mirroring best-effort", "addr", cfg.Cache.Addr, "err", err)
		} else {
			slog.Info("cache: mirroring latest values", "addr", cfg.Cache.Addr)
		}
	}

	notifier := notify.New(cfg.Notify)
	hub := ws.New(scorer.Snapshots, cfg.Server.BroadcastInterval)
	go hub.Run(ctx)

	// The pipeline engine: one worker per device, fanning committed insights
	// out to webhooks and live WebSocket clients.
	engine := pipeline.New(cfg.Engine, cfg.Devices, j, scorer,
		pipeline.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		pipeline.OnSample(mirror.StoreSample),
		pipeline.OnInsight(func(in telemetry.Insight) {
			notifier.Evaluate(in)
			hub.Announce(in)
		}),
		pipeline.OnHealth(mirror.StoreHealth),
	)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			slog.Error("pipeline stopped with error", "err", err)
		}
	}()

	startSources(ctx, cfg, engine)

	// Reload notify settings when the config file changes. Device topology and
	// detector tunables are fixed for the process lifetime.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			notifier.SetConfig(next.Notify)
		}); err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// Combined HTTP server: REST API, WebSocket stream, and Prometheus metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(queryEngine, scorer, notifier, j.Healthy, cfg.Server.Auth))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("labwatchd shutting down")

	// Sources stop with ctx; wait for the pipeline to drain queued samples,
	// then release the read surface and storage.
	<-engineDone
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
	mirror.Close()                         //nolint:errcheck
	if err := j.Close(); err != nil {
		slog.Error("journal close failed", "err", err)
	}
	slog.Info("labwatchd stopped")
}

// setupLogging re-points the default logger once the config is known. Logs
// always go to stdout; with log.file set they are also written to a
// size-rotated file.
func setupLogging(cfg config.LogConfig) {
	if cfg.File == "" {
		return
	}
	out := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// startSources builds and launches one poll loop per configured source.
func startSources(ctx context.Context, cfg *config.Config, engine *pipeline.Engine) {
	byID := make(map[string]telemetry.Device, len(cfg.Devices))
	for _, d := range cfg.Devices {
		byID[d.ID] = d.Device()
	}

	for _, src := range cfg.Sources {
		source, err := ingest.New(src, byID[src.Device])
		if err != nil {
			slog.Error("skipping source", "device", src.Device, "err", err)
			continue
		}
		runner := ingest.NewRunner(src, source, engine)
		go runner.Run(ctx)
		slog.Info("source started",
			"device", src.Device, "type", src.Type, "poll_interval", src.PollInterval)
	}
}
