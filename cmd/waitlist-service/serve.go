package main

import (
	"context"
	"net/http"
	"time"

	"qms/waitlist-service/internal/config"
	"qms/waitlist-service/internal/httpapi"
	"qms/waitlist-service/internal/logging"
	"qms/waitlist-service/internal/realtime"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/internal/store/memory"
	"qms/waitlist-service/internal/telemetry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type sweeper interface {
	Sweep(ctx context.Context) int
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	shutdownTelemetry := telemetry.Setup(serviceName, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown")
		}
	}()

	hub := realtime.New(logger)
	queue := memory.NewStore(memory.Options{
		Capacity:   cfg.QueueCapacity,
		TTL:        cfg.QueueTTL,
		FullPolicy: store.FullPolicy(cfg.QueueFullPolicy),
		Observer:   hub,
		Logger:     logger,
	})
	handler := httpapi.NewHandler(queue, logger)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(
		httpapi.RequestIDMiddleware(httpapi.LoggingMiddleware(logger, newRouter(handler, hub, limiter))),
		serviceName,
	)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":        server.Addr,
			"capacity":    cfg.QueueCapacity,
			"ttl":         cfg.QueueTTL.String(),
			"full_policy": cfg.QueueFullPolicy,
		}).Info("waitlist-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		runSweeper(gctx, queue, cfg.SweepInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		logger.Info("waitlist-service stopped")
		return nil
	})
	return g.Wait()
}

// newRouter mounts the live board outside the rate limiter so polling
// display boards do not spend request tokens.
func newRouter(handler *httpapi.Handler, hub *realtime.Hub, limiter *httpapi.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/realtime/", hub.Handler("/realtime"))
	mux.Handle("/", limiter.Middleware(handler.Routes()))
	return mux
}

// runSweeper purges expired entries every interval until ctx is done. A
// non-positive interval disables it; reads still filter expired entries.
func runSweeper(ctx context.Context, s sweeper, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count := s.Sweep(ctx); count > 0 {
				logger.WithField("count", count).Info("expired queue entries removed")
			}
		}
	}
}
