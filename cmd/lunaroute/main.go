// Command lunaroute runs the reverse proxy: it accepts chat-completion
// requests in one vendor dialect, translates them to an upstream
// provider's dialect (or passes them through untouched when the dialects
// match), and records a session trail of the exchange.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/relaycore/lunaroute/pkg/config"
	"github.com/relaycore/lunaroute/pkg/dialect/anthropic"
	"github.com/relaycore/lunaroute/pkg/dialect/openai"
	"github.com/relaycore/lunaroute/pkg/internal/retry"
	"github.com/relaycore/lunaroute/pkg/metrics"
	"github.com/relaycore/lunaroute/pkg/server"
	"github.com/relaycore/lunaroute/pkg/session"
	"github.com/relaycore/lunaroute/pkg/session/jsonlwriter"
	"github.com/relaycore/lunaroute/pkg/session/pgwriter"
	"github.com/relaycore/lunaroute/pkg/session/sqlitewriter"
	"github.com/relaycore/lunaroute/pkg/transport"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	serverCfg, err := config.ServerConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid server config")
	}
	sessionCfg, err := config.SessionConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid session config")
	}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	busMetrics := session.NewBusMetrics(reg)

	writers, err := buildWriters(sessionCfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize session writers")
	}

	bus := session.New(writers, busMetrics, log, sessionCfg.QueueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("session bus exited")
		}
	}()

	anthropicUpstream, err := config.NewUpstreamConfig("anthropic", "anthropic", "https://api.anthropic.com", "")
	if err != nil {
		log.WithError(err).Warn("anthropic upstream not configured, routes relying on it will fail at request time")
	}
	openaiUpstream, err := config.NewUpstreamConfig("openai", "openai", "https://api.openai.com", "")
	if err != nil {
		log.WithError(err).Warn("openai upstream not configured, routes relying on it will fail at request time")
	}

	routes := []server.Route{
		{
			Path:         "/v1/messages",
			Ingress:      anthropic.NewIngress(),
			Egress:       anthropic.NewEgress(),
			Upstream:     newTransport(anthropicUpstream),
			UpstreamPath: "/v1/messages",
			Provider:     "anthropic",
		},
		{
			Path:         "/v1/chat/completions",
			Ingress:      openai.NewIngress(),
			Egress:       openai.NewEgress(),
			Upstream:     newTransport(openaiUpstream),
			UpstreamPath: "/v1/chat/completions",
			Provider:     "openai",
		},
	}

	handler := server.NewHandler(routes, bus, log)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(serverCfg.WriteTimeout))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	handler.Mount(r.Post)

	httpServer := &http.Server{
		Addr:         serverCfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	go func() {
		log.WithField("addr", serverCfg.ListenAddr).Info("lunaroute listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	cancel()
}

func newTransport(cfg config.UpstreamConfig) *transport.Client {
	return transport.New(transport.Config{
		BaseURL: cfg.BaseURL,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		Timeout: 5 * time.Minute,
		Retry: retry.Config{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
			ShouldRetry:  transport.IsRetryableHTTP,
		},
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}

func buildWriters(cfg config.SessionConfig, log *logrus.Entry) ([]session.Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var writers []session.Writer

	if cfg.JSONLDir != "" {
		w, err := jsonlwriter.New(jsonlwriter.Config{
			SessionsDir:        cfg.JSONLDir,
			CacheSize:          cfg.JSONLCacheSize,
			EncryptionPassword: cfg.EncryptionPassword,
		})
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	if cfg.SQLitePath != "" {
		w, err := sqlitewriter.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	if cfg.PostgresURL != "" {
		w, err := pgwriter.Open(context.Background(), cfg.PostgresURL, pgwriter.TenantID(cfg.PostgresTenantID))
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		log.Warn("session recording enabled but no writer configured; events will be dropped")
	}
	return writers, nil
}
