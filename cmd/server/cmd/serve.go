package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ignite-health/funnel/internal/api"
	"github.com/ignite-health/funnel/internal/api/handlers"
	"github.com/ignite-health/funnel/internal/api/middleware"
	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background workers",
	Long: `Start the funnel HTTP server and, when DATABASE_URL is set, the River
background workers.

Examples:
  # Start with configuration from the environment
  funnel serve

  # Start on a specific port with debug logging
  funnel serve --port 9090 --log-level debug

  # Start from a config file
  funnel serve --config /etc/funnel/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting funnel")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	a, err := newApp(ctx, cfg, logger, appOptions{workers: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.pool != nil {
		unregister, err := metrics.RegisterPool(a.pool)
		if err != nil {
			return fmt.Errorf("register pool metrics: %w", err)
		}
		defer unregister()
	}

	if a.river != nil {
		riverCtx, riverCancel := context.WithCancel(ctx)
		defer riverCancel()
		if err := a.river.Start(riverCtx); err != nil {
			return fmt.Errorf("river workers failed to start: %w", err)
		}
		logger.Info().Msg("river background job workers started")
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			if err := a.river.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("river workers shutdown error")
			} else {
				logger.Info().Msg("river workers stopped")
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Environment)
	defer limiter.Stop()

	health := handlers.NewHealthChecker(a.pool, a.river, Version, GitCommit,
		handlers.WithAudience(a.audience),
		handlers.WithRelay(a.relay),
		handlers.WithTelegram(a.notifier),
		handlers.WithEmail(a.mailer),
	)

	handler, err := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      logger,
		Service:     a.service,
		Audit:       a.audit,
		Health:      health,
		Pool:        a.pool,
		RateLimiter: limiter,
		Version:     Version,
		GitCommit:   GitCommit,
		BuildDate:   BuildDate,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := newHTTPServer(cfg.Server, handler)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	return gracefulShutdown(server, serveErr, cfg.Server.ShutdownTimeout, logger)
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func gracefulShutdown(server *http.Server, serveErr <-chan error, timeout time.Duration, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
