package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/upside/order-processing/internal/domain"
)

// OrderCache — кэш последних прочитанных/записанных заказов с двумя
// независимыми пространствами ключей (id и номер заказа), которые могут
// указывать на один и тот же заказ. Любая мутация обязана вытеснять оба
// алиаса синхронно, иначе пути чтения разойдутся на устаревших данных.
type OrderCache interface {
	// GetByID возвращает закэшированный заказ по идентификатору.
	GetByID(ctx context.Context, id int64) (domain.Order, bool)
	// GetByNumber возвращает закэшированный заказ по внешнему номеру.
	GetByNumber(ctx context.Context, number string) (domain.Order, bool)
	// Put кладёт заказ под оба ключа; повторная запись идемпотентна.
	Put(ctx context.Context, order domain.Order)
	// Evict вытесняет оба алиаса заказа. Пустой number допустим, если номер
	// не был разрешён на момент мутации.
	Evict(ctx context.Context, id int64, number string)
}

// orderCacheInMemory — in-process реализация без TTL; время жизни записи
// ограничено только событиями инвалидации.
type orderCacheInMemory struct {
	mu       sync.RWMutex
	byID     map[int64]domain.Order
	byNumber map[string]domain.Order
}

// NewOrderCache возвращает in-process кэш заказов.
func NewOrderCache() OrderCache {
	return &orderCacheInMemory{
		byID:     make(map[int64]domain.Order),
		byNumber: make(map[string]domain.Order),
	}
}

func (c *orderCacheInMemory) GetByID(_ context.Context, id int64) (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	order, ok := c.byID[id]
	return order, ok
}

func (c *orderCacheInMemory) GetByNumber(_ context.Context, number string) (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	order, ok := c.byNumber[number]
	return order, ok
}

func (c *orderCacheInMemory) Put(_ context.Context, order domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID[order.ID] = order
	if order.OrderNumber != "" {
		c.byNumber[order.OrderNumber] = order
	}
}

// Evict удаляет оба алиаса под одним локом: конкурентный читатель не может
// увидеть один алиас вытесненным, а второй — живым.
func (c *orderCacheInMemory) Evict(_ context.Context, id int64, number string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if number == "" {
		if cached, ok := c.byID[id]; ok {
			number = cached.OrderNumber
		}
	}
	delete(c.byID, id)
	if number != "" {
		delete(c.byNumber, number)
	}
}

var _ OrderCache = (*orderCacheInMemory)(nil)

func idKey(id int64) string {
	return "order:id:" + strconv.FormatInt(id, 10)
}

func numberKey(number string) string {
	return "order:number:" + number
}
