package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/metrics"
	"github.com/upside/order-processing/internal/service/pipeline"
	"github.com/upside/order-processing/internal/service/stress"
)

const (
	defaultBatchSize        = 100
	defaultBatchConcurrency = 8
)

// Server реализует HTTP/JSON API поверх конвейера обработки заказов.
// Сам сервер — тонкий слой: вся семантика живёт в pipeline и stress.
type Server struct {
	pipeline *pipeline.Pipeline
	harness  *stress.Harness
	metrics  *metrics.PipelineMetrics
	logger   *log.Entry
}

// NewServer конструирует API-слой с зависимостями.
func NewServer(
	p *pipeline.Pipeline,
	harness *stress.Harness,
	pipelineMetrics *metrics.PipelineMetrics,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	return &Server{
		pipeline: p,
		harness:  harness,
		metrics:  pipelineMetrics,
		logger:   logger,
	}
}

// Register вешает маршруты на роутер. Конкретные шаблоны (stream,
// stress-test, by-number) регистрируются раньше параметризованных.
func (s *Server) Register(r *mux.Router) {
	orders := r.PathPrefix("/api/orders").Subrouter()
	orders.HandleFunc("/batch", s.handleBatch).Methods(http.MethodPost)
	orders.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	orders.HandleFunc("/stress-test", s.handleStressTest).Methods(http.MethodPost)
	orders.HandleFunc("/by-number/{number}", s.handleGetByNumber).Methods(http.MethodGet)
	orders.HandleFunc("/{id:[0-9]+}", s.handleGetByID).Methods(http.MethodGet)
	orders.HandleFunc("/{id:[0-9]+}/status", s.handleUpdateStatus).Methods(http.MethodPut)

	analytics := r.PathPrefix("/api/analytics").Subrouter()
	analytics.HandleFunc("/throughput", s.handleThroughput).Methods(http.MethodGet)
	analytics.HandleFunc("/latency", s.handleLatency).Methods(http.MethodGet)
	analytics.HandleFunc("/bottlenecks", s.handleBottlenecks).Methods(http.MethodGet)

	system := r.PathPrefix("/api/system").Subrouter()
	system.HandleFunc("/memory", s.handleMemory).Methods(http.MethodGet)
	system.HandleFunc("/performance", s.handlePerformance).Methods(http.MethodGet)
	system.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// handleBatch принимает поток заказов (NDJSON либо последовательность
// JSON-объектов) и отдаёт поток результатов в том же формате. Ошибка
// отдельного элемента не прерывает ни чтение, ни обработку остальных.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	concurrency := defaultBatchConcurrency
	if raw := r.URL.Query().Get("concurrency"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, domain.ErrValidation)
			return
		}
		concurrency = parsed
	}

	ctx := r.Context()
	in := make(chan domain.Order, concurrency)
	decodeErr := make(chan error, 1)

	go func() {
		defer close(in)
		decoder := json.NewDecoder(r.Body)
		for {
			var order domain.Order
			if err := decoder.Decode(&order); err != nil {
				if !errors.Is(err, io.EOF) {
					decodeErr <- err
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case in <- order:
			}
		}
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	for result := range s.pipeline.ProcessBatch(ctx, in, concurrency) {
		if result.Err != nil {
			_ = encoder.Encode(map[string]string{
				"orderNumber": result.Order.OrderNumber,
				"error":       result.Err.Error(),
			})
		} else {
			_ = encoder.Encode(result.Order)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	select {
	case err := <-decodeErr:
		_ = encoder.Encode(map[string]string{"error": "malformed order payload: " + err.Error()})
	default:
	}
}

func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, domain.ErrValidation)
		return
	}

	order, err := s.pipeline.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := s.pipeline.GetByOrderNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, domain.ErrValidation)
		return
	}

	status, err := domain.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	order, err := s.pipeline.UpdateStatus(r.Context(), id, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

// handleStream отдаёт заказы с указанным статусом как server-sent events.
// limit=0 означает неограниченную выборку; отключение клиента отменяет
// продюсера через контекст запроса.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, domain.ErrValidation)
			return
		}
	}

	stream, err := s.pipeline.StreamByStatus(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	for order := range stream {
		payload, marshalErr := json.Marshal(order)
		if marshalErr != nil {
			continue
		}
		if _, writeErr := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); writeErr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleStressTest запускает стресс-ран. Отказы admission control — это
// структурированные результаты с машиночитаемой причиной, не сбои.
func (s *Server) handleStressTest(w http.ResponseWriter, r *http.Request) {
	orderCount, err := strconv.Atoi(r.URL.Query().Get("orderCount"))
	if err != nil {
		s.writeError(w, domain.ErrValidation)
		return
	}

	batchSize := defaultBatchSize
	if raw := r.URL.Query().Get("batchSize"); raw != "" {
		batchSize, err = strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, domain.ErrValidation)
			return
		}
	}

	summary, err := s.harness.Run(r.Context(), orderCount, batchSize)
	if err != nil {
		if domain.IsRejection(err) {
			reason := "TooManyOrders"
			if errors.Is(err, domain.ErrStressAlreadyRunning) {
				reason = "AlreadyRunning"
			}
			s.writeJSON(w, http.StatusOK, map[string]string{
				"status": "rejected",
				"reason": reason,
				"error":  err.Error(),
			})
			return
		}
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "completed",
		"totalOrders":      summary.TotalOrders,
		"processedOrders":  summary.ProcessedOrders,
		"successfulOrders": summary.SuccessfulOrders,
		"failedOrders":     summary.FailedOrders,
		"durationMillis":   summary.DurationMillis,
		"throughput":       summary.Throughput,
	})
}

func (s *Server) handleThroughput(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"totalRequests":         snap.TotalRequests,
		"averageProcessingTime": snap.AverageProcessingTime,
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"averageLatency":      snap.AverageProcessingTime,
		"totalProcessingTime": snap.TotalProcessingTimeMicros,
	})
}

func (s *Server) handleBottlenecks(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	runtimeStats := metrics.ReadRuntimeStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"statusDistribution": snap.StatusDistribution,
		"memoryUsage": map[string]uint64{
			"heapAllocBytes": runtimeStats.HeapAllocBytes,
			"sysBytes":       runtimeStats.SysBytes,
		},
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, metrics.ReadRuntimeStats())
}

func (s *Server) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	runtimeStats := metrics.ReadRuntimeStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"availableProcessors": runtimeStats.CPUs,
		"goroutines":          runtimeStats.Goroutines,
		"totalAllocBytes":     runtimeStats.TotalAllocBytes,
		"sysBytes":            runtimeStats.SysBytes,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("не удалось записать ответ")
	}
}

// writeError транслирует доменные ошибки в HTTP-статусы.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusBadRequest
	case domain.IsVersionConflict(err):
		code = http.StatusConflict
	}

	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
