package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/upside/order-processing/internal/domain"
)

func newTestMetrics() *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(prometheus.NewRegistry())
}

func TestSnapshotEmpty(t *testing.T) {
	m := newTestMetrics()

	snap := m.Snapshot()
	if snap.TotalRequests != 0 {
		t.Fatalf("expected 0 requests, got %d", snap.TotalRequests)
	}
	if snap.AverageProcessingTime != 0 {
		t.Fatalf("average must be exactly 0 without requests, got %f", snap.AverageProcessingTime)
	}
	for status, count := range snap.StatusDistribution {
		if count != 0 {
			t.Fatalf("expected zero count for %s, got %d", status, count)
		}
	}
}

func TestRecordProcessed(t *testing.T) {
	m := newTestMetrics()

	m.RecordProcessed(100*time.Microsecond, domain.OrderStatusProcessing)
	m.RecordProcessed(300*time.Microsecond, domain.OrderStatusProcessing)

	snap := m.Snapshot()
	if snap.TotalRequests != 2 {
		t.Fatalf("expected 2 requests, got %d", snap.TotalRequests)
	}
	if snap.TotalProcessingTimeMicros != 400 {
		t.Fatalf("expected 400 micros, got %d", snap.TotalProcessingTimeMicros)
	}
	if snap.AverageProcessingTime != 200 {
		t.Fatalf("expected average 200, got %f", snap.AverageProcessingTime)
	}
	if snap.StatusDistribution[domain.OrderStatusProcessing] != 2 {
		t.Fatalf("expected 2 PROCESSING, got %d", snap.StatusDistribution[domain.OrderStatusProcessing])
	}
}

func TestRecordStatusUpdateDoesNotTouchRequests(t *testing.T) {
	m := newTestMetrics()

	m.RecordStatusUpdate(domain.OrderStatusCompleted)

	snap := m.Snapshot()
	if snap.TotalRequests != 0 {
		t.Fatalf("status update must not increment requests, got %d", snap.TotalRequests)
	}
	if snap.StatusDistribution[domain.OrderStatusCompleted] != 1 {
		t.Fatalf("expected 1 COMPLETED, got %d", snap.StatusDistribution[domain.OrderStatusCompleted])
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := newTestMetrics()
	m.RecordProcessed(time.Microsecond, domain.OrderStatusProcessing)

	snap := m.Snapshot()
	snap.StatusDistribution[domain.OrderStatusProcessing] = 999

	if m.Snapshot().StatusDistribution[domain.OrderStatusProcessing] != 1 {
		t.Fatal("snapshot mutation must not leak into the aggregator")
	}
}

func TestConcurrentWriters(t *testing.T) {
	m := newTestMetrics()

	const writers = 32
	const perWriter = 100

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				m.RecordProcessed(10*time.Microsecond, domain.OrderStatusProcessing)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.TotalRequests != writers*perWriter {
		t.Fatalf("expected %d requests, got %d", writers*perWriter, snap.TotalRequests)
	}
	if snap.TotalProcessingTimeMicros != writers*perWriter*10 {
		t.Fatalf("expected %d micros, got %d", writers*perWriter*10, snap.TotalProcessingTimeMicros)
	}
}

func TestPrometheusCounterMirrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newPipelineMetricsWithRegisterer(reg)

	m.RecordProcessed(time.Millisecond, domain.OrderStatusProcessing)
	m.RecordFailure()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var processed, failed *dto.MetricFamily
	for _, mf := range families {
		switch mf.GetName() {
		case "orderproc_orders_processed_total":
			processed = mf
		case "orderproc_orders_failed_total":
			failed = mf
		}
	}

	if processed == nil || processed.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected processed counter to be 1")
	}
	if failed == nil || failed.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected failed counter to be 1")
	}
}

func TestReadRuntimeStats(t *testing.T) {
	stats := ReadRuntimeStats()
	if stats.CPUs <= 0 {
		t.Fatal("expected at least one CPU")
	}
	if stats.Goroutines <= 0 {
		t.Fatal("expected at least one goroutine")
	}
	if stats.SysBytes == 0 {
		t.Fatal("expected non-zero sys bytes")
	}
}
