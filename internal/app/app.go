package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/upside/order-processing/internal/health"
	"github.com/upside/order-processing/internal/metrics"
	"github.com/upside/order-processing/internal/service/httpapi"
	"github.com/upside/order-processing/internal/service/pipeline"
	"github.com/upside/order-processing/internal/service/stress"
	"github.com/upside/order-processing/internal/version"
)

// Config описывает минимальные настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
}

// DefaultConfig возвращает базовые адреса API и HTTP-метрик,
// с возможностью переопределить их через окружение.
func DefaultConfig() Config {
	cfg := Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
	}
	if addr := os.Getenv("ORDERPROC_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if addr := os.Getenv("ORDERPROC_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	return cfg
}

// Run собирает зависимости, сервисы и HTTP-серверы и блокируется до
// отмены контекста либо падения API-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	pipelineMetrics := metrics.NewPipelineMetrics()
	orderPipeline := pipeline.New(
		deps.Repo,
		deps.Cache,
		pipelineMetrics,
		deps.Events,
		logger.WithField("component", "pipeline"),
	)
	harness := stress.New(
		orderPipeline,
		pipelineMetrics,
		deps.Events,
		logger.WithField("component", "stress"),
	)

	router := mux.NewRouter()
	api := httpapi.NewServer(orderPipeline, harness, pipelineMetrics, logger.WithField("component", "httpapi"))
	api.Register(router)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", 2*time.Second, deps.PingStorage))
	healthHandler.RegisterChecker("cache", healthcheck.NewPingChecker("cache", 2*time.Second, deps.PingCache))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// вместе с health-пробами на отдельном порту.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	serveMux := http.NewServeMux()
	serveMux.Handle("/metrics", promhttp.Handler())
	serveMux.Handle("/healthz", healthHandler)
	serveMux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	serveMux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: serveMux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("shutdown завершился с ошибкой")
	}
}
