package kafka

import "time"

// Topic для событий конвейера обработки заказов.
const TopicOrderEvents = "orderproc.order.events"

// Envelope оборачивает доменное событие перед публикацией.
type Envelope struct {
	EventType   string    `json:"event_type"`
	OrderID     int64     `json:"order_id,omitempty"`
	OrderNumber string    `json:"order_number,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
