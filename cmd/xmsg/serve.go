package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimte/xmsg/config"
	"github.com/glimte/xmsg/messaging"
	"github.com/glimte/xmsg/monitor"
	"github.com/glimte/xmsg/transports/rabbitmq"
	"github.com/glimte/xmsg/transports/redis"
	"github.com/glimte/xmsg/transports/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(g *globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a background context",
		Long: `Serve answers requests with a set of demo background handlers. With the
websocket transport clients connect to /ws; with rabbitmq the request queue
is consumed. /metrics, /healthz and /livez are served on the listen address
either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger, listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":8787", "HTTP listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, listen string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := monitor.NewPrometheusCollector(cfg.MetricsNamespace, reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	router := messaging.NewRouter(
		messaging.WithRouterLogger(logger),
		messaging.WithMiddleware(
			messaging.RecoveryMiddleware(logger),
			messaging.LoggingMiddleware(logger),
			monitor.DispatchMiddleware(metrics),
		),
	)

	health := monitor.NewRegistry()
	health.SetMetadata("version", version)
	health.SetMetadata("transport", cfg.Transport)
	health.Register(monitor.NewRouterChecker("handlers", router))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", monitor.NewHandler(health, 5*time.Second))
	mux.Handle("/livez", monitor.LivenessHandler())

	// Result updates go over Redis when configured, else over the transport
	var results messaging.BroadcastPublisher
	if cfg.RedisURL != "" {
		rb, err := redis.Dial(ctx, cfg.RedisURL, redis.WithChannel(cfg.RedisChannel), redis.WithLogger(logger))
		if err != nil {
			return err
		}
		defer rb.Close()
		results = rb
		health.Register(monitor.NewConnectionChecker("redis", rb.Done()))
	}

	group, ctx := errgroup.WithContext(ctx)

	switch cfg.Transport {
	case config.TransportWebSocket:
		hub := websocket.NewHub(router, websocket.WithHubLogger(logger))
		mux.Handle("/ws", hub)
		if results == nil {
			results = hub
		}
		if err := registerDemoHandlers(router, messaging.NewResultPublisher(results, messaging.WithPublisherLogger(logger))); err != nil {
			return err
		}
		health.Register(monitor.NewCheckerFunc("hub", func(ctx context.Context) monitor.CheckResult {
			return monitor.CheckResult{
				Name:      "hub",
				Status:    monitor.StatusHealthy,
				Details:   map[string]any{"clients": hub.Clients()},
				Timestamp: time.Now(),
			}
		}))
		group.Go(func() error {
			<-ctx.Done()
			return hub.Close()
		})

	case config.TransportRabbitMQ:
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithDialRetry(cfg.DialRetryPolicy()))
		if err != nil {
			return err
		}
		defer conn.Close()

		server, err := rabbitmq.NewServer(conn, router, rabbitmq.WithServerLogger(logger))
		if err != nil {
			return err
		}
		defer server.Close()

		if results == nil {
			results = server
		}
		if err := registerDemoHandlers(router, messaging.NewResultPublisher(results, messaging.WithPublisherLogger(logger))); err != nil {
			return err
		}
		health.Register(monitor.NewConnectionChecker("rabbitmq", conn.Done()))
		group.Go(func() error {
			return server.Serve(ctx)
		})
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		logger.Info("listening", "addr", listen, "transport", cfg.Transport, "actions", router.Actions())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
