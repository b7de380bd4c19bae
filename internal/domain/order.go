package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в конвейере обработки.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, но обработка ещё не началась.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing — заказ проходит через конвейер.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusCompleted — обработка завершена; терминальный статус.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusFailed — обработка прервана; терминальный статус, достижим из PENDING и PROCESSING.
	OrderStatusFailed OrderStatus = "FAILED"
)

// Statuses перечисляет допустимые статусы в порядке жизненного цикла.
// Порядок фиксирован: на индексы опираются лок-фри счётчики распределения.
var Statuses = [...]OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusFailed,
}

// ParseStatus преобразует строку в OrderStatus или возвращает ErrUnknownStatus.
func ParseStatus(value string) (OrderStatus, error) {
	for _, s := range Statuses {
		if string(s) == value {
			return s, nil
		}
	}
	return "", ErrUnknownStatus
}

// IsTerminal сообщает, запрещены ли дальнейшие переходы из статуса.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// CanTransitionTo проверяет допустимость перехода статуса.
// Переходы однонаправленные: PENDING → PROCESSING → COMPLETED, FAILED достижим
// из любого нетерминального статуса. Хранилище переходы не проверяет —
// это зона ответственности конвейера.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case OrderStatusProcessing:
		return s == OrderStatusPending || s == OrderStatusProcessing
	case OrderStatusCompleted:
		return s == OrderStatusProcessing
	case OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Order агрегирует состояние заказа, проходящего через конвейер.
type Order struct {
	// ID присваивается хранилищем при создании и далее неизменен.
	ID int64 `json:"id"`
	// OrderNumber — уникальный внешний номер заказа, неизменен после создания.
	OrderNumber string          `json:"orderNumber"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CustomerID  string          `json:"customerId"`
	ProductID   string          `json:"productId"`
	Quantity    int32           `json:"quantity"`
	// Version растёт на единицу при каждом успешном обновлении (optimistic locking).
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate проверяет базовые инварианты заказа до входа в конвейер.
func (o *Order) Validate() []error {
	var errs []error

	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if o.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}
