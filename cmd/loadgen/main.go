package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultAmount = "1000.00"
	defaultQty    = int32(1)
)

type loadMode string

const (
	modeIngest       loadMode = "ingest"
	modeIngestLookup loadMode = "ingest-lookup"
	modeIngestStatus loadMode = "ingest-status"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	batchSize   int
	timeout     time.Duration
	mode        loadMode
	amount      decimal.Decimal
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type operationReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                  `json:"started_at"`
	DurationSeconds   float64                    `json:"duration_seconds"`
	TotalScenarios    int64                      `json:"total_scenarios"`
	SuccessScenarios  int64                      `json:"success_scenarios"`
	FailedScenarios   int64                      `json:"failed_scenarios"`
	ErrorRate         float64                    `json:"error_rate"`
	RPS               float64                    `json:"rps"`
	ScenarioLatencyMs latencySummary             `json:"scenario_latency_ms"`
	Operations        map[string]operationReport `json:"operations"`
}

type operationStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu         sync.Mutex
	operations map[string]*operationStats
}

func newCollector() *collector {
	return &collector{
		operations: make(map[string]*operationStats),
	}
}

func (c *collector) record(operation string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.operations[operation]
	if !ok {
		stats = &operationStats{
			statuses: make(map[string]int64),
		}
		c.operations[operation] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Operations:      make(map[string]operationReport, len(c.operations)),
	}

	scenarioStats := c.operations["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.operations {
		statusesCopy := make(map[string]int64, len(stats.statuses))
		for status, count := range stats.statuses {
			statusesCopy[status] = count
		}
		result.Operations[name] = operationReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statusesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func statusLabel(status int) string {
	if status <= 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", status)
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string
	var amountValue string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.batchSize, "batch-size", 10, "orders per batch request")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeIngest), "load mode: ingest | ingest-lookup | ingest-status")
	flag.StringVar(&amountValue, "amount", defaultAmount, "order total amount")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	amount, err := decimal.NewFromString(strings.TrimSpace(amountValue))
	if err != nil {
		return cfg, fmt.Errorf("parse amount: %w", err)
	}
	cfg.amount = amount

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if _, err := url.ParseRequestURI(cfg.baseURL); err != nil {
		return cfg, fmt.Errorf("parse url: %w", err)
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.batchSize <= 0 {
		return cfg, errors.New("batch-size must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.amount.IsNegative() || cfg.amount.IsZero() {
		return cfg, errors.New("amount must be > 0")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeIngest:
		return modeIngest, nil
	case modeIngestLookup:
		return modeIngestLookup, nil
	case modeIngestStatus:
		return modeIngestStatus, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.timeout}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type orderPayload struct {
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CustomerID  string          `json:"customerId"`
	ProductID   string          `json:"productId"`
	Quantity    int32           `json:"quantity"`
}

type orderResult struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Error       string `json:"error"`
}

func runScenario(client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	ids, status, err := callBatch(client, cfg, index, runID, col)
	if err != nil {
		scenarioStatus = status
		return err
	}
	if len(ids) == 0 {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("batch returned no processed orders")
	}

	if cfg.mode == modeIngest {
		return nil
	}

	orderID := ids[index%len(ids)]
	if cfg.mode == modeIngestLookup {
		if status, err := callGetOrder(client, cfg, orderID, col); err != nil {
			scenarioStatus = status
			return err
		}
		return nil
	}

	if status, err := callUpdateStatus(client, cfg, orderID, "COMPLETED", col); err != nil {
		scenarioStatus = status
		return err
	}
	return nil
}

// callBatch отправляет NDJSON-батч и возвращает идентификаторы принятых заказов.
func callBatch(client *http.Client, cfg config, index int, runID string, col *collector) ([]int64, int, error) {
	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for i := 0; i < cfg.batchSize; i++ {
		payload := orderPayload{
			OrderNumber: fmt.Sprintf("LOAD-%s-%d-%d", runID, index, i),
			Status:      "PENDING",
			TotalAmount: cfg.amount,
			CustomerID:  fmt.Sprintf("%s-%s", cfg.customerTag, uuid.NewString()[:8]),
			ProductID:   "PROD-" + uuid.NewString()[:8],
			Quantity:    defaultQty,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, 0, err
		}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/orders/batch", &body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := client.Do(req)
	if err != nil {
		col.record("batch", time.Since(start), 0)
		return nil, 0, err
	}
	defer resp.Body.Close()

	var ids []int64
	decoder := json.NewDecoder(resp.Body)
	for {
		var line orderResult
		if decodeErr := decoder.Decode(&line); decodeErr != nil {
			if !errors.Is(decodeErr, io.EOF) {
				col.record("batch", time.Since(start), resp.StatusCode)
				return nil, resp.StatusCode, decodeErr
			}
			break
		}
		if line.Error == "" && line.ID != 0 {
			ids = append(ids, line.ID)
		}
	}

	col.record("batch", time.Since(start), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("batch request returned %d", resp.StatusCode)
	}
	return ids, resp.StatusCode, nil
}

func callGetOrder(client *http.Client, cfg config, orderID int64, col *collector) (int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/orders/%d", cfg.baseURL, orderID), nil)
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		col.record("get", time.Since(start), 0)
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	col.record("get", time.Since(start), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("get order returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func callUpdateStatus(client *http.Client, cfg config, orderID int64, status string, col *collector) (int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/api/orders/%d/status?status=%s", cfg.baseURL, orderID, status), nil)
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		col.record("update_status", time.Since(start), 0)
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	col.record("update_status", time.Since(start), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("update status returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load run summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	operationNames := make([]string, 0, len(result.Operations))
	for name := range result.Operations {
		if name == "scenario" {
			continue
		}
		operationNames = append(operationNames, name)
	}
	sort.Strings(operationNames)
	for _, name := range operationNames {
		stats := result.Operations[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
