package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/observe"
	"github.com/example/go-avatar-perf/internal/server"
	"github.com/example/go-avatar-perf/internal/synth"
	"github.com/example/go-avatar-perf/internal/transform"
	"github.com/spf13/cobra"
)

// version is reported as the service version on exported telemetry.
var version = "dev"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the avatarperf HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, shutdown, err := buildServer(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					slog.Warn("telemetry shutdown", slog.Any("error", err))
				}
			}()

			slog.Info("serving",
				slog.String("addr", cfg.Server.ListenAddr),
				slog.String("mode", cfg.Animation.Mode),
				slog.Int("sample_rate", cfg.Audio.SampleRate),
				slog.Bool("metrics", cfg.Metrics.Enabled),
			)
			return srv.Start(ctx)
		},
	}

	return cmd
}

// buildServer wires the engine and telemetry into a server. The returned
// function flushes telemetry providers.
func buildServer(ctx context.Context, cfg config.Config) (*server.Server, func(context.Context) error, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	shutdown := func(context.Context) error { return nil }
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "avatarperf",
			ServiceVersion: version,
		})
		if err != nil {
			return nil, nil, err
		}
		metricsHandler = provider.Handler()
		shutdown = provider.Shutdown
	}

	logger := slog.Default()
	srv := server.New(cfg, server.Deps{
		Synth:          synth.New(synth.WithSampleRate(cfg.Audio.SampleRate), synth.WithLogger(logger)),
		Transformer:    transform.New(transform.WithLogger(logger)),
		Catalog:        catalog,
		Logger:         logger,
		Metrics:        observe.DefaultMetrics(),
		MetricsHandler: metricsHandler,
	})
	return srv, shutdown, nil
}
