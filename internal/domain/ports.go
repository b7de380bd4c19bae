package domain

// OrderEvent описывает событие жизненного цикла заказа для внешних потребителей.
type OrderEvent struct {
	Type        string `json:"event_type"`
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

// Типы публикуемых событий.
const (
	EventOrderProcessed     = "order.processed"
	EventOrderStatusChanged = "order.status_changed"
	EventStressCompleted    = "stress.completed"
)

// EventPublisher публикует события заказов наружу; публикация best-effort,
// ошибки не влияют на результат операции конвейера.
type EventPublisher interface {
	PublishOrderEvent(event OrderEvent) error
}

// NoopPublisher используется, когда брокер сообщений не настроен.
type NoopPublisher struct{}

// PublishOrderEvent ничего не делает.
func (NoopPublisher) PublishOrderEvent(OrderEvent) error { return nil }

var _ EventPublisher = NoopPublisher{}
