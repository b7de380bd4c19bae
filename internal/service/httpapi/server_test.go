package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/upside/order-processing/internal/cache"
	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/metrics"
	"github.com/upside/order-processing/internal/service/httpapi"
	"github.com/upside/order-processing/internal/service/pipeline"
	"github.com/upside/order-processing/internal/service/stress"
	"github.com/upside/order-processing/internal/storage/memory"
)

func newTestServer(t *testing.T) (*mux.Router, *pipeline.Pipeline) {
	t.Helper()

	repo := memory.NewOrderRepository()
	pipelineMetrics := metrics.NewPipelineMetricsForTesting(prometheus.NewRegistry())
	p := pipeline.New(repo, cache.NewOrderCache(), pipelineMetrics, nil, nil)
	harness := stress.New(p, pipelineMetrics, nil, nil)

	router := mux.NewRouter()
	httpapi.NewServer(p, harness, pipelineMetrics, nil).Register(router)
	return router, p
}

func testOrder(number string) domain.Order {
	return domain.Order{
		OrderNumber: number,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(42),
		CustomerID:  "CUST-1",
		ProductID:   "PROD-1",
		Quantity:    1,
	}
}

func seedOrder(t *testing.T, p *pipeline.Pipeline, number string) domain.Order {
	t.Helper()
	order, err := p.ProcessOne(testContext(t), testOrder(number))
	require.NoError(t, err)
	return order
}

func TestBatchEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for i := 0; i < 3; i++ {
		require.NoError(t, encoder.Encode(testOrder(fmt.Sprintf("ORD-%d", i))))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/batch", &body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var processed int
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var order domain.Order
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &order))
		require.Equal(t, domain.OrderStatusProcessing, order.Status)
		require.NotZero(t, order.ID)
		processed++
	}
	require.Equal(t, 3, processed)
}

func TestBatchEndpointIsolatesFailures(t *testing.T) {
	router, _ := newTestServer(t)

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	require.NoError(t, encoder.Encode(testOrder("ORD-GOOD")))
	invalid := testOrder("ORD-BAD")
	invalid.Quantity = 0
	require.NoError(t, encoder.Encode(invalid))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/batch?concurrency=1", &body))

	require.Equal(t, http.StatusOK, rec.Code)

	var successes, failures int
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var line map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if _, failed := line["error"]; failed {
			failures++
		} else {
			successes++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)
}

func TestGetByID(t *testing.T) {
	router, p := newTestServer(t)
	seeded := seedOrder(t, p, "ORD-100")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/orders/%d", seeded.ID), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, seeded.OrderNumber, got.OrderNumber)
}

func TestGetByIDNotFound(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/9999", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetByNumber(t *testing.T) {
	router, p := newTestServer(t)
	seedOrder(t, p, "ORD-BY-NUM")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/by-number/ORD-BY-NUM", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "ORD-BY-NUM", got.OrderNumber)
}

func TestUpdateStatus(t *testing.T) {
	router, p := newTestServer(t)
	seeded := seedOrder(t, p, "ORD-UPD")

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/api/orders/%d/status?status=COMPLETED", seeded.ID)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.Greater(t, got.Version, seeded.Version)
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	router, p := newTestServer(t)
	seeded := seedOrder(t, p, "ORD-UNK")

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/api/orders/%d/status?status=SHIPPED", seeded.ID)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, url, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusForbiddenTransition(t *testing.T) {
	router, p := newTestServer(t)
	seeded := seedOrder(t, p, "ORD-TERM")
	_, err := p.UpdateStatus(testContext(t), seeded.ID, domain.OrderStatusCompleted)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/api/orders/%d/status?status=PROCESSING", seeded.ID)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, url, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamEndpoint(t *testing.T) {
	router, p := newTestServer(t)
	seedOrder(t, p, "ORD-S1")
	seedOrder(t, p, "ORD-S2")
	completed := seedOrder(t, p, "ORD-S3")
	_, err := p.UpdateStatus(testContext(t), completed.ID, domain.OrderStatusCompleted)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/stream?status=PROCESSING", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var numbers []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var order domain.Order
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &order))
		numbers = append(numbers, order.OrderNumber)
	}
	require.Equal(t, []string{"ORD-S1", "ORD-S2"}, numbers)
}

func TestStreamEndpointRejectsBadStatus(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/stream?status=NOPE", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStressEndpointCompletes(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/stress-test?orderCount=50&batchSize=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Equal(t, "completed", payload["status"])
	require.EqualValues(t, 50, payload["processedOrders"])
}

func TestStressEndpointRejectsOverLimit(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/api/orders/stress-test?orderCount=%d", stress.MaxOrders+1)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))

	// Отказ admission control — валидный результат, а не ошибка HTTP.
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Equal(t, "rejected", payload["status"])
	require.Equal(t, "TooManyOrders", payload["reason"])
}

func TestStressEndpointValidatesCount(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/stress-test?orderCount=0", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsThroughput(t *testing.T) {
	router, p := newTestServer(t)
	seedOrder(t, p, "ORD-AN")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/throughput", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]float64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.EqualValues(t, 1, payload["totalRequests"])
}

func TestSystemEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	for _, path := range []string{"/api/system/memory", "/api/system/performance", "/api/system/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
