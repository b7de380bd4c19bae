package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/cache"
	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/metrics"
)

// defaultConcurrency — параллелизм обработки батча по умолчанию.
const defaultConcurrency = 8

// BatchResult — исход обработки одного элемента батча. Ошибки отдельных
// элементов изолированы: соседние элементы продолжают обрабатываться.
type BatchResult struct {
	Order domain.Order
	Err   error
}

// Pipeline превращает поток входящих заказов в персистентные записи со
// сменой статуса. Сам переходов не ретраит и компенсирующих записей не
// делает: ошибки хранилища поднимаются вызывающему как типизированные.
type Pipeline struct {
	repo    domain.OrderRepository
	cache   cache.OrderCache
	metrics *metrics.PipelineMetrics
	events  domain.EventPublisher
	logger  *log.Entry
}

// New конструирует конвейер с зависимостями.
func New(
	repo domain.OrderRepository,
	orderCache cache.OrderCache,
	pipelineMetrics *metrics.PipelineMetrics,
	events domain.EventPublisher,
	logger *log.Entry,
) *Pipeline {
	if logger == nil {
		logger = log.New().WithField("component", "pipeline")
	}
	if events == nil {
		events = domain.NoopPublisher{}
	}
	return &Pipeline{
		repo:    repo,
		cache:   orderCache,
		metrics: pipelineMetrics,
		events:  events,
		logger:  logger,
	}
}

// ProcessOne принимает заказ в любом статусе, принудительно ставит PROCESSING
// и сохраняет его. Возвращает сохранённый заказ с присвоенным id и версией.
func (p *Pipeline) ProcessOne(ctx context.Context, order domain.Order) (domain.Order, error) {
	if errs := order.Validate(); len(errs) > 0 {
		p.metrics.RecordFailure()
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrValidation, errors.Join(errs...))
	}

	start := time.Now()
	order.Status = domain.OrderStatusProcessing

	saved, err := p.repo.Save(ctx, order)
	if err != nil {
		p.metrics.RecordFailure()
		p.logger.WithError(err).WithField("order_number", order.OrderNumber).Error("ошибка обработки заказа")
		return domain.Order{}, err
	}

	// Мутация состояния: оба алиаса кэша вытесняются до возврата.
	p.cache.Evict(ctx, saved.ID, saved.OrderNumber)

	p.metrics.RecordProcessed(time.Since(start), domain.OrderStatusProcessing)
	p.publish(domain.OrderEvent{
		Type:        domain.EventOrderProcessed,
		OrderID:     saved.ID,
		OrderNumber: saved.OrderNumber,
		Status:      string(saved.Status),
	})

	p.logger.WithField("order_number", saved.OrderNumber).Debug("заказ обработан")
	return saved, nil
}

// ProcessBatch применяет ProcessOne к каждому элементу входного канала
// независимо; исход каждого элемента отдаётся отдельным BatchResult.
// При concurrency == 1 порядок результатов совпадает с порядком входа;
// при concurrency > 1 порядок не гарантируется. Выходной канал закрывается
// после обработки всех элементов или отмены ctx.
func (p *Pipeline) ProcessBatch(ctx context.Context, in <-chan domain.Order, concurrency int) <-chan BatchResult {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	out := make(chan BatchResult, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for order := range in {
				saved, err := p.ProcessOne(ctx, order)
				result := BatchResult{Order: saved, Err: err}
				if err != nil {
					// Маркер ошибки сохраняет исходный заказ для отчёта.
					result.Order = order
				}
				select {
				case <-ctx.Done():
					return
				case out <- result:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// GetByID возвращает заказ, предпочитая кэш; промах заполняет кэш.
func (p *Pipeline) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	if order, ok := p.cache.GetByID(ctx, id); ok {
		return order, nil
	}

	order, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	p.cache.Put(ctx, order)
	return order, nil
}

// GetByOrderNumber возвращает заказ по внешнему номеру, предпочитая кэш.
func (p *Pipeline) GetByOrderNumber(ctx context.Context, number string) (domain.Order, error) {
	if order, ok := p.cache.GetByNumber(ctx, number); ok {
		return order, nil
	}

	order, err := p.repo.FindByOrderNumber(ctx, number)
	if err != nil {
		return domain.Order{}, err
	}

	p.cache.Put(ctx, order)
	return order, nil
}

// UpdateStatus выполняет условное обновление статуса. Жизненный цикл
// enforce-ится здесь: хранилище переходы не проверяет. После успеха оба
// алиаса кэша вытесняются синхронно и возвращается свежая версия заказа.
func (p *Pipeline) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (domain.Order, error) {
	current, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if !current.Status.CanTransitionTo(status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	affected, err := p.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return domain.Order{}, err
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	p.cache.Evict(ctx, id, current.OrderNumber)

	refreshed, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	p.metrics.RecordStatusUpdate(status)
	p.publish(domain.OrderEvent{
		Type:        domain.EventOrderStatusChanged,
		OrderID:     refreshed.ID,
		OrderNumber: refreshed.OrderNumber,
		Status:      string(refreshed.Status),
	})

	return refreshed, nil
}

// StreamByStatus лениво отдаёт заказы с указанным статусом в естественном
// порядке сканирования хранилища. Потребитель может перестать читать в любой
// момент: побочных эффектов у чтения нет, отмена ctx останавливает продюсера.
func (p *Pipeline) StreamByStatus(ctx context.Context, status domain.OrderStatus, limit int) (<-chan domain.Order, error) {
	return p.repo.StreamByStatus(ctx, status, limit)
}

// publish отправляет событие best-effort: сбой брокера логируется и не
// влияет на результат операции.
func (p *Pipeline) publish(event domain.OrderEvent) {
	if err := p.events.PublishOrderEvent(event); err != nil {
		p.logger.WithError(err).WithField("event_type", event.Type).Warn("не удалось опубликовать событие")
	}
}
