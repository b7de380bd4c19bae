package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/domain"
)

// Producer публикует события заказов в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает новый Kafka producer.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // требование идемпотентного продюсера

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishOrderEvent публикует событие жизненного цикла заказа.
// Ключ партиционирования — идентификатор заказа, чтобы события одного
// заказа попадали в одну партицию и сохраняли порядок.
func (p *Producer) PublishOrderEvent(event domain.OrderEvent) error {
	envelope := Envelope{
		EventType:   event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		Status:      event.Status,
		Timestamp:   time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     TopicOrderEvents,
		Key:       sarama.StringEncoder(strconv.FormatInt(event.OrderID, 10)),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"event_type": event.Type,
			"order_id":   event.OrderID,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*Producer)(nil)
