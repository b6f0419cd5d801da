package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ricochet.sh/internal/callback"
	"ricochet.sh/internal/config"
	"ricochet.sh/internal/correlator"
	"ricochet.sh/internal/database"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/store"
	"ricochet.sh/internal/tracing"

	"go.uber.org/zap"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and DNS callback listeners and the findings poller",
	Long: `Serve starts ricochet's out-of-band callback listeners (HTTP and DNS),
the adaptive findings poller, and — unless disabled — a Prometheus metrics
endpoint, then blocks until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve Prometheus metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Features.LogLevel,
		Format:      "json",
		OutputPath:  "stdout",
		ServiceName: "ricochet",
		Environment: "production",
	})
	defer logger.Sync()

	if cfg.Features.TracingEnabled {
		tracingCfg := tracing.LoadFromEnvironment("ricochet")
		tracingCfg.Enabled = true
		_, shutdown, err := tracing.Initialize(tracingCfg)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize tracing, continuing without it")
		} else {
			defer shutdown()
		}
	}

	dbConfig := database.DefaultConfig(cfg.Store.Driver)
	dbConfig.DSN = cfg.Store.DSN
	dbConfig.MaxOpenConns = cfg.Store.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Store.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Store.ConnMaxLifetime

	db, err := database.New(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	st := store.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	httpServer := callback.NewHTTPServer(httpAddr, st, logger, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)

	dnsAddr := net.JoinHostPort(cfg.DNS.Host, strconv.Itoa(cfg.DNS.Port))
	dnsServer, err := callback.NewDNSServer(dnsAddr, st, logger, cfg.DNS.SocketTimeout)
	if err != nil {
		return fmt.Errorf("failed to bind DNS callback listener: %w", err)
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Info("starting HTTP callback listener", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("HTTP callback listener: %w", err)
		}
	}()

	go func() {
		logger.Info("starting DNS callback listener", zap.String("addr", dnsAddr))
		if err := dnsServer.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("DNS callback listener: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Features.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("starting metrics listener", zap.String("addr", metricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	pollerConfig := correlator.PollerConfig{
		BaseInterval:    cfg.Poller.BaseInterval,
		MaxInterval:     cfg.Poller.MaxInterval,
		BackoffFactor:   cfg.Poller.BackoffFactor,
		ResetOnCallback: cfg.Poller.ResetOnCallback,
		Timeout:         cfg.Poller.Timeout,
	}
	minSeverity := store.ParseSeverity(cfg.Poller.MinSeverity)

	go func() {
		total, err := correlator.Poll(ctx, st, pollerConfig, minSeverity, func(findings []store.Finding) {
			for _, f := range findings {
				logger.WithInjection(f.ID, f.Parameter, f.TargetURL).Info("finding correlated",
					zap.String("severity", f.Severity().String()),
					zap.String("source_ip", f.SourceIP),
				)
			}
		})
		if err != nil && err != context.Canceled {
			logger.WithError(err).Warn("poller stopped")
		} else {
			logger.Info("poller finished", zap.Int("findings", total))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.WithError(err).Error("listener failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down HTTP callback listener")
	}
	if err := dnsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down DNS callback listener")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("error shutting down metrics listener")
		}
	}

	return nil
}
