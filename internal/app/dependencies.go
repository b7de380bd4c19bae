package app

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/cache"
	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/messaging/kafka"
	"github.com/upside/order-processing/internal/storage/memory"
	"github.com/upside/order-processing/internal/storage/postgres"
)

// Dependencies содержит внешние зависимости приложения: хранилище, кэш
// и (опционально) продьюсер событий. Конкретные реализации выбираются
// по переменным окружения, чтобы сервис поднимался и без инфраструктуры.
type Dependencies struct {
	Repo   domain.OrderRepository
	Cache  cache.OrderCache
	Events domain.EventPublisher
	Logger *log.Entry

	store       *postgres.Store
	redisClient *redis.Client
	producer    *kafka.Producer
}

// NewDependencies собирает зависимости по окружению:
//
//	ORDERPROC_DB_DSN     — Postgres-хранилище; пусто — in-memory.
//	ORDERPROC_REDIS_ADDR — Redis-кэш; пусто — in-process кэш.
//	KAFKA_BROKERS        — продьюсер событий; пусто — noop.
func NewDependencies(ctx context.Context, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Events: domain.NoopPublisher{},
		Logger: logger,
	}

	if dsn := os.Getenv("ORDERPROC_DB_DSN"); dsn != "" {
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := postgres.Open(openCtx, dsn)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(openCtx); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.store = store
		deps.Repo = postgres.NewOrderRepository(store)
		logger.Info("хранилище: postgres")
	} else {
		deps.Repo = memory.NewOrderRepository()
		logger.Info("хранилище: in-memory")
	}

	if addr := os.Getenv("ORDERPROC_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis недоступен, используем in-process кэш")
			_ = client.Close()
			deps.Cache = cache.NewOrderCache()
		} else {
			deps.redisClient = client
			deps.Cache = cache.NewRedisOrderCache(client, logger.WithField("component", "cache"))
			logger.WithField("addr", addr).Info("кэш: redis")
		}
	} else {
		deps.Cache = cache.NewOrderCache()
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		producer, err := kafka.NewProducer(strings.Split(brokers, ","))
		if err != nil {
			logger.WithError(err).Warn("kafka недоступен, события публиковаться не будут")
		} else {
			deps.producer = producer
			deps.Events = producer
			logger.WithField("brokers", brokers).Info("kafka producer инициализирован")
		}
	}

	return deps, nil
}

// PingStorage проверяет доступность хранилища; для in-memory — всегда успех.
func (d *Dependencies) PingStorage(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

// PingCache проверяет доступность кэша; для in-process кэша — всегда успех.
func (d *Dependencies) PingCache(ctx context.Context) error {
	if d.redisClient == nil {
		return nil
	}
	return d.redisClient.Ping(ctx).Err()
}

// Close освобождает внешние ресурсы в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			d.Logger.WithError(err).Warn("не удалось закрыть kafka producer")
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("не удалось закрыть redis client")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.Logger.WithError(err).Warn("не удалось закрыть соединение с БД")
		}
	}
}
