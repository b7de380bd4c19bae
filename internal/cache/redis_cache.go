package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/domain"
)

// orderCacheRedis — Redis-реализация OrderCache для многопроцессных
// развёртываний. Значения хранятся как JSON без TTL; согласованность
// обеспечивается теми же событиями инвалидации, что и для in-process кэша.
type orderCacheRedis struct {
	client *redis.Client
	logger *log.Entry
}

// NewRedisOrderCache создаёт кэш поверх существующего Redis-клиента.
func NewRedisOrderCache(client *redis.Client, logger *log.Entry) OrderCache {
	if logger == nil {
		logger = log.WithField("component", "order-cache")
	}
	return &orderCacheRedis{client: client, logger: logger}
}

func (c *orderCacheRedis) GetByID(ctx context.Context, id int64) (domain.Order, bool) {
	return c.get(ctx, idKey(id))
}

func (c *orderCacheRedis) GetByNumber(ctx context.Context, number string) (domain.Order, bool) {
	return c.get(ctx, numberKey(number))
}

func (c *orderCacheRedis) get(ctx context.Context, key string) (domain.Order, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return domain.Order{}, false
	}

	var order domain.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		// Битую запись вытесняем, чтобы не отдавать её повторно.
		_ = c.client.Del(ctx, key).Err()
		return domain.Order{}, false
	}
	return order, true
}

func (c *orderCacheRedis) Put(ctx context.Context, order domain.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		c.logger.WithError(err).Warn("cache marshal failed")
		return
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, idKey(order.ID), payload, 0)
	if order.OrderNumber != "" {
		pipe.Set(ctx, numberKey(order.OrderNumber), payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("cache write failed")
	}
}

func (c *orderCacheRedis) Evict(ctx context.Context, id int64, number string) {
	if number == "" {
		if cached, ok := c.get(ctx, idKey(id)); ok {
			number = cached.OrderNumber
		}
	}

	keys := []string{idKey(id)}
	if number != "" {
		keys = append(keys, numberKey(number))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).WithField("order_id", id).Warn("cache evict failed")
	}
}

var _ OrderCache = (*orderCacheRedis)(nil)
