package memory

import (
	"context"
	"sync"
	"time"

	"github.com/upside/order-processing/internal/domain"
)

// streamBuffer — размер буфера канала при ленивой выдаче заказов.
const streamBuffer = 64

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Order
	// byNumber ускоряет поиск по внешнему номеру заказа.
	byNumber map[string]int64
	// insertionOrder фиксирует естественный порядок сканирования.
	insertionOrder []int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[int64]domain.Order),
		byNumber: make(map[string]int64),
	}
}

// Save создаёт заказ (при нулевом ID) или перезаписывает его с проверкой версии.
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if order.ID == 0 {
		if _, exists := r.byNumber[order.OrderNumber]; exists {
			return domain.Order{}, domain.ErrOrderVersionConflict
		}
		r.nextID++
		order.ID = r.nextID
		order.Version = 1
		order.CreatedAt = now
		order.UpdatedAt = now
		r.items[order.ID] = order
		r.byNumber[order.OrderNumber] = order.ID
		r.insertionOrder = append(r.insertionOrder, order.ID)
		return order, nil
	}

	current, ok := r.items[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	// OrderNumber и CreatedAt неизменны после создания.
	order.OrderNumber = current.OrderNumber
	order.CreatedAt = current.CreatedAt
	order.Version++
	order.UpdatedAt = now
	r.items[order.ID] = order
	return order, nil
}

// FindByID возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) FindByID(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// FindByOrderNumber возвращает заказ по внешнему номеру или ErrOrderNotFound.
func (r *orderRepositoryInMemory) FindByOrderNumber(_ context.Context, number string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id], nil
}

// StreamByStatus лениво отдаёт заказы в порядке вставки. Снимок подходящих
// заказов делается под локом, дальше продюсер работает без блокировок и
// останавливается при отмене ctx.
func (r *orderRepositoryInMemory) StreamByStatus(ctx context.Context, status domain.OrderStatus, limit int) (<-chan domain.Order, error) {
	r.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, id := range r.insertionOrder {
		order := r.items[id]
		if order.Status != status {
			continue
		}
		matched = append(matched, order)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	r.mu.RUnlock()

	out := make(chan domain.Order, streamBuffer)
	go func() {
		defer close(out)
		for _, order := range matched {
			select {
			case <-ctx.Done():
				return
			case out <- order:
			}
		}
	}()

	return out, nil
}

// UpdateStatus выполняет условное обновление статуса; запись не создаётся.
func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return 0, nil
	}
	order.Status = status
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order
	return 1, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
