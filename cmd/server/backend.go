package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"contentsync/internal/changesource/kafka"
	"contentsync/internal/changesource/memory"
	"contentsync/internal/changesource/postgres"
	csredis "contentsync/internal/changesource/redis"
	handlerkafka "contentsync/internal/handler/kafka"
	"contentsync/internal/handler/logging"
	"contentsync/internal/platform/config"
	platformkafka "contentsync/internal/platform/kafka"
	platformredis "contentsync/internal/platform/redis"
	httptransport "contentsync/internal/transport/http"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/circuit"
)

// backend bundles the session provider of the selected change source with
// the publisher and health checks exposed on the admin server.
type backend struct {
	provider  trigger.SessionProvider
	publisher httptransport.EventPublisher
	checks    map[string]httptransport.HealthCheck
	closers   []func() error
	log       *slog.Logger
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.log.Warn("close backend", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	b := &backend{
		checks: make(map[string]httptransport.HealthCheck),
		log:    log,
	}
	logger := log.With("component", "changesource", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendMemory:
		repo := memory.New(memory.WithLogger(logger), memory.WithServiceUsers(cfg.Trigger.ServiceID))
		b.provider, b.publisher = repo, repo
		b.closers = append(b.closers, repo.Close)

	case config.BackendRedis:
		opts, err := platformredis.Options(cfg.Redis)
		if err != nil {
			return nil, err
		}
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		provider := csredis.NewProvider(opts, cfg.Redis.Channel, csredis.WithLogger(logger))
		b.provider = provider
		b.publisher = csredis.NewPublisher(client.Client, cfg.Redis.Channel)
		b.checks["redis"] = client.Health
		b.closers = append(b.closers, client.Close, provider.Close)

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		provider := postgres.NewProvider(cfg.Postgres.DSN, cfg.Postgres.Channel,
			postgres.WithLogger(logger),
			postgres.WithReconnectInterval(cfg.Postgres.MinReconnectInterval, cfg.Postgres.MaxReconnectInterval),
		)
		b.provider = provider
		b.publisher = postgres.NewPublisher(db, cfg.Postgres.Channel)
		b.checks["postgres"] = db.PingContext
		b.closers = append(b.closers, db.Close, provider.Close)

	case config.BackendKafka:
		client, err := platformkafka.NewClient(ctx, cfg.Kafka.Brokers, kgo.ClientID(cfg.OTel.ServiceName))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { client.Close(); return nil })
		if cfg.Kafka.EnsureTopics {
			if err := platformkafka.EnsureTopics(ctx, client, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.ChangesTopic); err != nil {
				b.close()
				return nil, err
			}
		}
		provider := kafka.NewProvider(cfg.Kafka.Brokers, cfg.Kafka.ChangesTopic, kafka.WithLogger(logger))
		b.provider = provider
		b.publisher = kafka.NewPublisher(client, cfg.Kafka.ChangesTopic)
		b.checks["kafka"] = client.Ping
		b.closers = append(b.closers, provider.Close)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return b, nil
}

// newRequestHandler returns the handler replication requests are sent to and
// a function releasing its resources.
func newRequestHandler(ctx context.Context, cfg config.Config, log *slog.Logger) (trigger.RequestHandler, func(), error) {
	if cfg.Kafka.RequestsTopic == "" {
		return logging.New(cfg.Trigger.HandlerID, log.With("component", "handler")), func() {}, nil
	}

	client, err := platformkafka.NewClient(ctx, cfg.Kafka.Brokers,
		kgo.ClientID(cfg.Trigger.HandlerID),
		kgo.DefaultProduceTopic(cfg.Kafka.RequestsTopic),
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Kafka.EnsureTopics {
		if err := platformkafka.EnsureTopics(ctx, client, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.RequestsTopic); err != nil {
			client.Close()
			return nil, nil, err
		}
	}
	breaker := circuit.New(cfg.Kafka.RequestsTopic,
		circuit.WithFailureThreshold(cfg.Kafka.BreakerThreshold),
		circuit.WithCooldown(cfg.Kafka.BreakerCooldown),
	)
	h := handlerkafka.New(cfg.Trigger.HandlerID, client, cfg.Kafka.RequestsTopic, handlerkafka.WithBreaker(breaker))
	return h, client.Close, nil
}
