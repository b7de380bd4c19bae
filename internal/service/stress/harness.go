package stress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/metrics"
	"github.com/upside/order-processing/internal/service/pipeline"
)

const (
	// MaxOrders — верхняя граница admission control для одного стресс-рана.
	MaxOrders = 10000
	// defaultConcurrency — параллелизм обработки внутри батча.
	defaultConcurrency = 8

	rejectionTooMany        = "TooManyOrders"
	rejectionAlreadyRunning = "AlreadyRunning"
)

// stressAmount — фиксированная сумма синтетического заказа.
var stressAmount = decimal.RequireFromString("100.00")

// Summary — итог стресс-рана.
type Summary struct {
	TotalOrders      int     `json:"totalOrders"`
	ProcessedOrders  int     `json:"processedOrders"`
	SuccessfulOrders int     `json:"successfulOrders"`
	FailedOrders     int     `json:"failedOrders"`
	DurationMillis   int64   `json:"durationMillis"`
	Throughput       float64 `json:"throughput"`
}

// Harness — ограниченный single-flight генератор нагрузки. Синтезирует
// заказы и прогоняет их через конвейер на общих правилах admission:
// одновременно допускается не более одного рана на процесс.
type Harness struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.PipelineMetrics
	events   domain.EventPublisher
	logger   *log.Entry

	// running — единственный примитив взаимного исключения ядра; занимается
	// строго через CAS и освобождается на каждом пути выхода из Run.
	running atomic.Bool
}

// New конструирует харнесс поверх конвейера.
func New(
	p *pipeline.Pipeline,
	pipelineMetrics *metrics.PipelineMetrics,
	events domain.EventPublisher,
	logger *log.Entry,
) *Harness {
	if logger == nil {
		logger = log.New().WithField("component", "stress")
	}
	if events == nil {
		events = domain.NoopPublisher{}
	}
	return &Harness{
		pipeline: p,
		metrics:  pipelineMetrics,
		events:   events,
		logger:   logger,
	}
}

// Run выполняет стресс-ран: синтезирует orderCount заказов, разбивает на
// батчи по batchSize и прогоняет через конвейер. Отказы admission control
// возвращаются как типизированные ошибки (ErrTooManyOrders,
// ErrStressAlreadyRunning), отличимые от инфраструктурных сбоев.
func (h *Harness) Run(ctx context.Context, orderCount, batchSize int) (Summary, error) {
	if orderCount <= 0 || batchSize <= 0 {
		return Summary{}, fmt.Errorf("%w: orderCount and batchSize must be positive", domain.ErrValidation)
	}
	if orderCount > MaxOrders {
		h.metrics.RecordStressRejected(rejectionTooMany)
		return Summary{}, fmt.Errorf("%w: limit is %d", domain.ErrTooManyOrders, MaxOrders)
	}
	if !h.running.CompareAndSwap(false, true) {
		h.metrics.RecordStressRejected(rejectionAlreadyRunning)
		return Summary{}, domain.ErrStressAlreadyRunning
	}
	// Гарда освобождается безусловно, иначе все будущие раны заблокированы
	// до перезапуска процесса.
	defer func() {
		h.running.Store(false)
		h.metrics.RecordStressFinished()
	}()
	h.metrics.RecordStressAdmitted()

	h.logger.WithFields(log.Fields{
		"order_count": orderCount,
		"batch_size":  batchSize,
	}).Info("стресс-ран допущен")

	start := time.Now()
	var processed, successful, failed int

	for offset := 0; offset < orderCount; offset += batchSize {
		size := batchSize
		if remaining := orderCount - offset; remaining < size {
			size = remaining
		}

		in := make(chan domain.Order, size)
		for i := 0; i < size; i++ {
			in <- syntheticOrder()
		}
		close(in)

		emitted := 0
		for result := range h.pipeline.ProcessBatch(ctx, in, defaultConcurrency) {
			emitted++
			processed++
			switch {
			case result.Err != nil:
				failed++
			case result.Order.Status == domain.OrderStatusProcessing:
				successful++
			default:
				failed++
			}
		}
		// Ошибки уровня батча (ранняя остановка) конвертируются в отказы
		// по каждому необработанному заказу, ран продолжается.
		if emitted < size {
			failed += size - emitted
		}
	}

	duration := time.Since(start)
	summary := Summary{
		TotalOrders:      orderCount,
		ProcessedOrders:  processed,
		SuccessfulOrders: successful,
		FailedOrders:     failed,
		DurationMillis:   duration.Milliseconds(),
		Throughput:       throughput(processed, duration),
	}

	h.logger.WithFields(log.Fields{
		"processed": summary.ProcessedOrders,
		"success":   summary.SuccessfulOrders,
		"failed":    summary.FailedOrders,
		"duration":  duration,
	}).Info("стресс-ран завершён")

	if err := h.events.PublishOrderEvent(domain.OrderEvent{Type: domain.EventStressCompleted}); err != nil {
		h.logger.WithError(err).Warn("не удалось опубликовать событие о завершении")
	}

	return summary, nil
}

// Running сообщает, удерживается ли сейчас single-flight гарда.
func (h *Harness) Running() bool {
	return h.running.Load()
}

// syntheticOrder собирает заказ с детерминированной формой полей:
// уникальный номер, фиксированная сумма, количество 1.
func syntheticOrder() domain.Order {
	id := uuid.NewString()
	return domain.Order{
		OrderNumber: "STRESS-" + id,
		Status:      domain.OrderStatusPending,
		TotalAmount: stressAmount,
		CustomerID:  "CUST-" + id[:8],
		ProductID:   "PROD-" + id[:8],
		Quantity:    1,
	}
}

func throughput(processed int, duration time.Duration) float64 {
	millis := duration.Milliseconds()
	if millis <= 0 {
		return 0
	}
	return float64(processed) / float64(millis) * 1000
}
