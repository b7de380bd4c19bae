package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/upside/order-processing/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level := log.InfoLevel
	if raw := os.Getenv("ORDERPROC_LOG_LEVEL"); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
}

func main() {
	setupLogger()
	cfg := app.DefaultConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем order-processor")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order-processor остановлен")
}
