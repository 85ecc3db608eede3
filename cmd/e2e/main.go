package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"eventbus/internal/couchbase"
	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/couchlog"
	"eventbus/internal/eventbus/deadletter"
	"eventbus/internal/eventbus/kafka"
	"eventbus/internal/eventbus/metrics"
	"eventbus/internal/eventbus/publisher"
	"eventbus/internal/eventbus/subscription"
	"eventbus/internal/eventbus/tracing"
	"eventbus/internal/integration"
	"eventbus/internal/scope"
)

const deadLetterReportLimit = 20

type Config struct {
	// Broker selects the log backend: kafka or couchbase.
	Broker       string `env:"EVENTBUS_BROKER" envDefault:"kafka"`
	Kafka        kafka.Config
	CouchLog     couchlog.Config
	Subscription subscription.Config
	Metrics      metrics.ServerConfig
	Tracing      tracing.Config
	Couchbase    couchbase.ConnConfig
	DeadLetter   deadletter.Config

	EventCount      int           `env:"EVENT_COUNT" envDefault:"100"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	RunTimeout      time.Duration `env:"RUN_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("e2e run failed", zap.Error(err))
	}
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := metrics.NewRegistry()
	registry.SetSystemInfo("e2e", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, registry, logger)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer := tracing.Global("eventbus")
	if cfg.Tracing.Enabled {
		t, cleanup, err := tracing.NewTracer(cfg.Tracing)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := cleanup(shutdownCtx); err != nil {
				logger.Error("failed to cleanup tracing", zap.Error(err))
			}
		}()
		tracer = t
		logger.Info("tracing initialized",
			zap.String("service", cfg.Tracing.ServiceName),
			zap.String("endpoint", cfg.Tracing.Endpoint),
			zap.Float64("sample_rate", cfg.Tracing.SampleRate),
		)
	}

	tracer = tracer.WithSystem(cfg.Broker)

	var (
		cluster *gocb.Cluster
		bucket  *gocb.Bucket
	)
	if cfg.Couchbase.Enabled() {
		var err error
		cluster, bucket, err = couchbase.Connect(cfg.Couchbase)
		if err != nil {
			return fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		defer cluster.Close(nil)
	}

	producer, consumers, err := newBroker(cfg, logger, registry, tracer, cluster, bucket)
	if err != nil {
		return err
	}
	defer producer.Close()

	basePublisher, err := publisher.NewPublisher(producer, logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	pub := publisher.NewTracedPublisher(publisher.NewMetricsPublisher(basePublisher, registry), tracer)

	progress := newProgress(cfg.EventCount)
	container := scope.New()
	scope.Provide(container, func(*scope.Scope) (*OrderCreatedHandler, error) {
		return NewOrderCreatedHandler(logger, progress), nil
	})
	scope.Provide(container, func(*scope.Scope) (*OrderShippedHandler, error) {
		return NewOrderShippedHandler(logger, progress), nil
	})

	opts := []subscription.Option{
		subscription.WithRecorder(registry),
		subscription.WithTracer(tracer),
	}
	var letters *deadletter.Store
	if cluster != nil {
		letters, err = deadletter.NewStore(cluster, bucket, cfg.Couchbase.Scope, cfg.DeadLetter)
		if err != nil {
			return fmt.Errorf("failed to create dead-letter store: %w", err)
		}
		opts = append(opts, subscription.WithDeadLetters(letters))
	}

	manager, err := subscription.NewManager(consumers, container, logger, cfg.Subscription, opts...)
	if err != nil {
		return fmt.Errorf("failed to create subscription manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Error("failed to stop consumer loops", zap.Error(err))
		}
	}()

	bus := eventbus.NewEventBus(pub, manager)
	processor, err := integration.NewProcessor(bus, logger, integration.WithTypeCounter(registry))
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	events, err := integration.NewEventPublisher(bus, logger)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}

	if err := integration.Subscribe[*OrderCreatedEvent, *OrderCreatedHandler](ctx, processor); err != nil {
		return err
	}
	if err := integration.Subscribe[*OrderShippedEvent, *OrderShippedHandler](ctx, processor); err != nil {
		return err
	}

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		created, shipped := orders(cfg.EventCount)
		for i := range created {
			if err := events.Publish(gctx, created[i]); err != nil {
				return err
			}
			if err := events.Publish(gctx, shipped[i]); err != nil {
				return err
			}
		}
		logger.Info(fmt.Sprintf("published %d orders", len(created)))
		return nil
	})
	g.Go(func() error {
		timeout := time.NewTimer(cfg.RunTimeout)
		defer timeout.Stop()

		select {
		case <-progress.done:
			logger.Info("all events handled",
				zap.Int64("created", progress.created.Load()),
				zap.Int64("shipped", progress.shipped.Load()),
			)
			return nil
		case <-timeout.C:
			return fmt.Errorf("timed out after %s with %d/%d created and %d/%d shipped handled",
				cfg.RunTimeout, progress.created.Load(), progress.target, progress.shipped.Load(), progress.target)
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if letters != nil {
		reportDeadLetters(shutdownCtx, letters, processor, logger)
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())

	return nil
}

// reportDeadLetters logs the messages parked for every subscribed event type.
func reportDeadLetters(ctx context.Context, letters *deadletter.Store, processor *integration.Processor, logger *zap.Logger) {
	for topic := range processor.EventTypes() {
		parked, err := letters.List(ctx, topic, deadLetterReportLimit)
		if err != nil {
			logger.Error("failed to list dead letters", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if len(parked) == 0 {
			continue
		}

		ids := make([]string, 0, len(parked))
		for _, l := range parked {
			ids = append(ids, l.ID)
		}
		logger.Warn("messages parked in dead-letter store",
			zap.String("topic", topic),
			zap.Int("count", len(parked)),
			zap.Strings("ids", ids),
		)
	}
}

// newBroker builds the producer and consumer factory of the configured
// backend. The Couchbase log needs a connected cluster.
func newBroker(
	cfg Config,
	logger *zap.Logger,
	registry *metrics.Registry,
	tracer *tracing.Tracer,
	cluster *gocb.Cluster,
	bucket *gocb.Bucket,
) (eventbus.Producer, eventbus.ConsumerFactory, error) {
	switch cfg.Broker {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create producer: %w", err)
		}
		consumers, err := kafka.NewConsumerFactory(cfg.Kafka, logger)
		if err != nil {
			_ = producer.Close()
			return nil, nil, fmt.Errorf("failed to create consumer factory: %w", err)
		}
		return producer, consumers, nil

	case "couchbase":
		if cluster == nil {
			return nil, nil, errors.New("couchbase broker requires COUCHBASE_CONNECTION_STRING")
		}
		store, err := couchlog.NewStore(cluster, bucket, cfg.Couchbase.Scope, cfg.CouchLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create log store: %w", err)
		}
		ctrl := couchlog.NewTracedController(couchlog.NewMetricsController(store, registry), tracer)
		broker, err := couchlog.NewBroker(ctrl, cfg.CouchLog, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create couchlog broker: %w", err)
		}
		return broker, broker, nil

	default:
		return nil, nil, fmt.Errorf("unknown broker %q, want kafka or couchbase", cfg.Broker)
	}
}
