package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/tickrelay/configs"
	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/internal/api"
	"github.com/navid-fn/tickrelay/internal/control"
	"github.com/navid-fn/tickrelay/internal/drivers"
	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/ingest"
	"github.com/navid-fn/tickrelay/internal/session"
	"github.com/navid-fn/tickrelay/internal/sink"
	"github.com/navid-fn/tickrelay/internal/storage"
	"github.com/navid-fn/tickrelay/internal/venue"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Relay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configs.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	ftLogger := faulttolerance.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drivers.RegisterAll()
	binding, ok := venue.Lookup(cfg.Upstream.Venue)
	if !ok {
		return &configs.ConfigError{Field: "UPSTREAM_VENUE", Reason: fmt.Sprintf("unknown venue %q, have %v", cfg.Upstream.Venue, venue.Names())}
	}
	endpoint, err := venue.Endpoint(binding, cfg.Upstream.URL, cfg.Upstream.APIKey)
	if err != nil {
		return &configs.ConfigError{Field: "UPSTREAM_URL", Reason: err.Error()}
	}
	feedCfg := feed.Config{
		URL:                  endpoint,
		Pairs:                cfg.Upstream.Pairs,
		ReconnectBase:        cfg.Upstream.ReconnectBase,
		ReconnectMax:         cfg.Upstream.ReconnectMax,
		MaxReconnectAttempts: cfg.Upstream.MaxReconnectAttempts,
	}

	var wg sync.WaitGroup
	monitor := faulttolerance.NewHealthMonitor(ftLogger, 30*time.Second)

	sinks, err := buildTradeSinks(ctx, cfg, monitor, logger, ftLogger)
	if err != nil {
		return err
	}
	var pump *sink.Pump
	if len(sinks) > 0 {
		pump = sink.NewPump(logger, sink.DefaultPumpQueue, sinks...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump.Run(ctx)
		}()
	}

	hub := feed.NewHub(func() *feed.Feed {
		f := feed.New(binding, feedCfg, feed.WithLogger(logger))
		if pump != nil {
			f.AddSink(pump.Offer)
		}
		return f
	})

	store, err := buildStore(ctx, cfg, monitor)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, monitor, logger, ftLogger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	engine := alerts.NewEngine(store, notifier, logger, alerts.WithMaxTriggered(cfg.Alerts.MaxTriggered))
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	worker := ingest.NewWorker(ingest.HubOpener(hub), engine, logger, ingest.WithFlushInterval(cfg.Ingest.FlushInterval))
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	worker.Connect(ingest.ConnectConfig{Feed: feedCfg, MaxItems: cfg.Ingest.MaxItems})

	var health *control.Server
	if cfg.GRPCPort > 0 {
		health, err = control.Listen(fmt.Sprintf(":%d", cfg.GRPCPort), logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Serve(ctx); err != nil {
				logger.Error("gRPC health service failed", "error", err)
			}
		}()
	}

	if health != nil {
		monitor.OnChange(health.SetDependency)
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		watchStatus(ctx, worker, health, logger)
	}()

	sessions := session.NewManager(hub, session.Config{ThrottleInterval: cfg.ThrottleInterval}, logger)
	router := api.NewRouter(&api.Config{
		Engine:   engine,
		Ingest:   worker,
		Sessions: sessions,
		Hub:      hub,
		Health:   monitor,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay listening",
			"port", cfg.Port,
			"venue", binding.Name(),
			"pairs", len(cfg.Upstream.Pairs),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Warn("Shutdown signal received, stopping relay...")
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	wg.Wait()
	logger.Info("Relay stopped")
	return nil
}

// watchStatus mirrors worker status into the health service and the log.
func watchStatus(ctx context.Context, worker *ingest.Worker, health *control.Server, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-worker.Status():
			switch st.Kind {
			case ingest.StatusConnected, ingest.StatusDisconnected:
				connected := st.Kind == ingest.StatusConnected
				logger.Info("Upstream status", "connected", connected)
				if health != nil {
					health.SetUpstream(connected)
				}
			case ingest.StatusError:
				logger.Warn("Upstream error", "reason", st.Reason)
			case ingest.StatusNewMessage:
				logger.Debug("Trade batch flushed", "size", len(st.Trades))
			}
		}
	}
}

func buildStore(ctx context.Context, cfg *configs.AppConfig, monitor *faulttolerance.HealthMonitor) (storage.RuleStore, error) {
	switch cfg.Rules.Store {
	case "redis":
		client, err := storage.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		monitor.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return storage.NewRedisStore(client, cfg.Rules.Key), nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewFileStore(cfg.Rules.File, cfg.Rules.Key), nil
	}
}

func buildTradeSinks(ctx context.Context, cfg *configs.AppConfig, monitor *faulttolerance.HealthMonitor, logger *slog.Logger, ftLogger *logrus.Logger) ([]sink.TradeSink, error) {
	var sinks []sink.TradeSink

	if cfg.Kafka.Broker != "" {
		sender := sink.NewKafkaSender(sink.NewKafkaWriter(cfg.Kafka.Broker, cfg.Kafka.Topic), logger)
		breaker := newBreaker("kafka", ftLogger)
		sinks = append(sinks, sink.NewGuard(sender, breaker))
		monitor.AddCheck("kafka", func(context.Context) error {
			if breaker.State() == faulttolerance.StateOpen {
				return faulttolerance.ErrCircuitBreakerOpen
			}
			return nil
		})
		logger.Info("Kafka trade sink enabled", "broker", cfg.Kafka.Broker, "topic", cfg.Kafka.Topic)
	}

	if cfg.NATS.URL != "" {
		retryer := faulttolerance.NewRetryer(faulttolerance.DefaultRetryConfig("nats"), ftLogger)
		conn, err := sink.DialNATS(ctx, cfg.NATS.URL, retryer, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewGuard(sink.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix), newBreaker("nats", ftLogger)))
		monitor.AddCheck("nats", func(context.Context) error {
			if !conn.IsConnected() {
				return fmt.Errorf("nats status %s", conn.Status())
			}
			return nil
		})
	}

	return sinks, nil
}

func newBreaker(name string, ftLogger *logrus.Logger) *faulttolerance.CircuitBreaker {
	return faulttolerance.NewCircuitBreaker(faulttolerance.CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 1,
		Name:             name,
	}, ftLogger)
}

func buildNotifier(ctx context.Context, cfg *configs.AppConfig, monitor *faulttolerance.HealthMonitor, logger *slog.Logger, ftLogger *logrus.Logger) (alerts.Notifier, func(), error) {
	notifiers := alerts.Notifiers{alerts.LogNotifier{Logger: logger}}
	if cfg.AMQP.URL == "" {
		return notifiers, func() {}, nil
	}

	retryer := faulttolerance.NewRetryer(faulttolerance.DefaultRetryConfig("amqp"), ftLogger)
	conn, ch, err := sink.SetupAMQP(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, retryer, logger)
	if err != nil {
		return nil, nil, err
	}
	monitor.AddCheck("amqp", func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("amqp connection closed")
		}
		return nil
	})
	amqpNotifier := sink.NewAMQPNotifier(conn, ch, cfg.AMQP.Exchange)
	notifiers = append(notifiers, amqpNotifier)
	return notifiers, func() { amqpNotifier.Close() }, nil
}
