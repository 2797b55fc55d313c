package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/admin"
	ratelimitconfig "github.com/secprog/poor-man-ratelimiter/internal/ratelimit/config"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/counter"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/gatewaydemo"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/identifier"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/metrics"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/pipeline"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/queue"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
	pkgLogger "github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "ratelimiter",
		Short: "Rate-limit core decision engine and admin surface",
	}

	var upstream string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the data-path demo proxy and the admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(upstream)
		},
	}
	serve.Flags().StringVar(&upstream, "upstream", "", "upstream base URL for the demo reverse proxy (toy passthrough if empty)")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(upstream string) error {
	cfg, err := ratelimitconfig.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := pkgLogger.New("ratelimit-core")
	defer log.Sync()

	log.Info("starting rate-limit core", map[string]interface{}{"environment": cfg.Environment})

	ratelimitconfig.Watch(func(reloaded *ratelimitconfig.Config) {
		log.Info("ambient config file changed, picked up new values", map[string]interface{}{
			"admin_throttle_rps":   reloaded.Admin.ThrottleRPS,
			"admin_throttle_burst": reloaded.Admin.ThrottleBurst,
			"logging_level":        reloaded.Logging.Level,
		})
	}, func(reloadErr error) {
		log.Warn("ambient config reload failed, keeping previous values", map[string]interface{}{"error": reloadErr.Error()})
	})

	redisStore, err := store.NewRedisStore(&cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ruleCache := rules.NewCache(redisStore, log)
	if err := ruleCache.Refresh(context.Background()); err != nil {
		log.Warn("initial rule refresh failed, starting with an empty rule set", map[string]interface{}{"error": err.Error()})
	}

	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()

	counterEngine := counter.NewEngine(redisStore, zapLogger, log, counter.WithFailOpenHook(func() {
		m.StoreFailOpenTotal.Inc()
	}))
	stopBreakerPoll := startBreakerStatePoll(counterEngine, m, log)
	defer close(stopBreakerPoll)

	queueManager := queue.NewManager(cfg.Queue.SweepInterval, log, queue.WithDepthHook(func(ruleID string, depth int) {
		m.QueueDepth.WithLabelValues(ruleID).Set(float64(depth))
	}))
	queueManager.StartSweeper()
	defer queueManager.Stop()

	resolver := identifier.New(log)
	hub := pipeline.NewHub(log)

	if cfg.Kafka.Enabled {
		sink := pipeline.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		hub.AddSink(sink)
		defer sink.Close()
	}

	p := pipeline.New(pipeline.Config{
		RuleCache:          ruleCache,
		Resolver:           resolver,
		Counter:            counterEngine,
		Queue:              queueManager,
		Hub:                hub,
		Metrics:            m,
		TrustXForwardedFor: cfg.Identifier.TrustXForwardedFor,
	}, log)

	var upstreamURL *url.URL
	if upstream != "" {
		upstreamURL, err = url.Parse(upstream)
		if err != nil {
			return fmt.Errorf("parsing --upstream: %w", err)
		}
	}

	dataServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gatewaydemo.Handler(p, upstreamURL, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	adminServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler: admin.NewRouter(admin.Config{
			RuleStore:   redisStore,
			Cache:       ruleCache,
			Config:      redisStore,
			Pingable:    redisStore,
			Hub:         hub,
			Registry:    reg,
			CORSOrigins: cfg.Admin.CORSOrigins,
			AdminRPS:    cfg.Admin.ThrottleRPS,
			AdminBurst:  cfg.Admin.ThrottleBurst,
		}, log),
	}

	go func() {
		log.Info("data-path server listening", map[string]interface{}{"addr": dataServer.Addr})
		if err := dataServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("data-path server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		log.Info("admin server listening", map[string]interface{}{"addr": adminServer.Addr})
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dataServer.Shutdown(ctx); err != nil {
		log.Error("data-path server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Error("admin server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func startBreakerStatePoll(e *counter.Engine, m *metrics.Metrics, log *pkgLogger.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CircuitBreakerState.Set(float64(e.BreakerState()))
			case <-stop:
				return
			}
		}
	}()
	return stop
}
