package metrics

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/upside/order-processing/internal/domain"
)

// PipelineMetrics агрегирует счётчики конвейера обработки заказов.
// Экземпляр создаётся один раз при старте процесса и передаётся по ссылке
// конвейеру и стресс-харнессу; скрытого глобального состояния нет.
// Все мутации лок-фри и безопасны при неограниченном числе конкурентных
// писателей; значения монотонно неубывающие до перезапуска процесса.
type PipelineMetrics struct {
	totalRequests         atomic.Int64
	totalProcessingMicros atomic.Int64
	// statusCounts индексируется позицией статуса в domain.Statuses;
	// закрытый enum позволяет обойтись массивом атомиков вместо map+lock.
	statusCounts [len(domain.Statuses)]atomic.Int64

	// Зеркальные Prometheus-коллекторы для /metrics.
	ordersProcessed    prometheus.Counter
	ordersFailed       prometheus.Counter
	processingDuration prometheus.Histogram
	statusUpdates      *prometheus.CounterVec
	stressRuns         prometheus.Counter
	stressRejected     *prometheus.CounterVec
	stressActive       prometheus.Gauge
}

// Snapshot — производные read-only статистики на момент вызова.
type Snapshot struct {
	TotalRequests             int64                        `json:"totalRequests"`
	TotalProcessingTimeMicros int64                        `json:"totalProcessingTimeMicros"`
	AverageProcessingTime     float64                      `json:"averageProcessingTime"`
	StatusDistribution        map[domain.OrderStatus]int64 `json:"statusDistribution"`
}

// NewPipelineMetrics создаёт метрики с регистрацией в DefaultRegisterer.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsForTesting создаёт метрики с изолированным registerer,
// чтобы тесты разных пакетов не делили DefaultRegisterer.
func NewPipelineMetricsForTesting(registerer prometheus.Registerer) *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(registerer)
}

func newPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		ordersProcessed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderproc_orders_processed_total",
			Help: "Total number of orders accepted by the pipeline",
		})),
		ordersFailed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderproc_orders_failed_total",
			Help: "Total number of orders rejected by persistence or validation",
		})),
		processingDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderproc_processing_duration_seconds",
			Help:    "Duration of single-order pipeline processing in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		})),
		statusUpdates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderproc_status_updates_total",
			Help: "Total number of successful status transitions by target status",
		}, []string{"status"})),
		stressRuns: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderproc_stress_runs_total",
			Help: "Total number of admitted stress-test runs",
		})),
		stressRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderproc_stress_rejected_total",
			Help: "Total number of rejected stress-test admissions by reason",
		}, []string{"reason"})),
		stressActive: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderproc_stress_active",
			Help: "Whether a stress-test run currently holds the single-flight guard",
		})),
	}
}

// register регистрирует коллектор, переиспользуя уже зарегистрированный
// экземпляр при повторной инициализации (например, в тестах).
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
				return existing
			}
			panic(fmt.Sprintf("collector already registered with unexpected type: %v", err))
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordProcessed фиксирует успешно обработанную единицу работы:
// общее число запросов, затраченное время и счётчик итогового статуса.
func (m *PipelineMetrics) RecordProcessed(elapsed time.Duration, status domain.OrderStatus) {
	m.totalRequests.Add(1)
	m.totalProcessingMicros.Add(elapsed.Microseconds())
	if idx, ok := statusIndex(status); ok {
		m.statusCounts[idx].Add(1)
	}

	m.ordersProcessed.Inc()
	m.processingDuration.Observe(elapsed.Seconds())
}

// RecordFailure фиксирует отказ обработки; счётчики пропускной способности
// не трогаются — проваленная единица работы не является завершённой.
func (m *PipelineMetrics) RecordFailure() {
	m.ordersFailed.Inc()
}

// RecordStatusUpdate фиксирует успешный переход статуса.
func (m *PipelineMetrics) RecordStatusUpdate(status domain.OrderStatus) {
	if idx, ok := statusIndex(status); ok {
		m.statusCounts[idx].Add(1)
	}
	m.statusUpdates.WithLabelValues(string(status)).Inc()
}

// RecordStressAdmitted фиксирует допущенный стресс-ран и занимает гейдж гарды.
func (m *PipelineMetrics) RecordStressAdmitted() {
	m.stressRuns.Inc()
	m.stressActive.Set(1)
}

// RecordStressFinished освобождает гейдж гарды.
func (m *PipelineMetrics) RecordStressFinished() {
	m.stressActive.Set(0)
}

// RecordStressRejected фиксирует отказ admission control по причине.
func (m *PipelineMetrics) RecordStressRejected(reason string) {
	m.stressRejected.WithLabelValues(reason).Inc()
}

// Snapshot возвращает согласованный для чтения срез счётчиков.
// averageProcessingTime — в микросекундах; 0 при отсутствии запросов.
func (m *PipelineMetrics) Snapshot() Snapshot {
	requests := m.totalRequests.Load()
	micros := m.totalProcessingMicros.Load()

	var avg float64
	if requests > 0 {
		avg = float64(micros) / float64(requests)
	}

	distribution := make(map[domain.OrderStatus]int64, len(domain.Statuses))
	for i, status := range domain.Statuses {
		distribution[status] = m.statusCounts[i].Load()
	}

	return Snapshot{
		TotalRequests:             requests,
		TotalProcessingTimeMicros: micros,
		AverageProcessingTime:     avg,
		StatusDistribution:        distribution,
	}
}

func statusIndex(status domain.OrderStatus) (int, bool) {
	for i, s := range domain.Statuses {
		if s == status {
			return i, true
		}
	}
	return 0, false
}

// RuntimeStats — хост-уровневые показатели процесса, отдаваемые как есть.
type RuntimeStats struct {
	HeapAllocBytes  uint64 `json:"heapAllocBytes"`
	HeapSysBytes    uint64 `json:"heapSysBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	Goroutines      int    `json:"goroutines"`
	CPUs            int    `json:"cpus"`
}

// ReadRuntimeStats снимает текущие показатели рантайма.
func ReadRuntimeStats() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return RuntimeStats{
		HeapAllocBytes:  ms.HeapAlloc,
		HeapSysBytes:    ms.HeapSys,
		TotalAllocBytes: ms.TotalAlloc,
		SysBytes:        ms.Sys,
		NumGC:           ms.NumGC,
		Goroutines:      runtime.NumGoroutine(),
		CPUs:            runtime.NumCPU(),
	}
}
