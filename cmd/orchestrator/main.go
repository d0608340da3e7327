package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
	"github.com/vladislavdragonenkov/ordersaga/internal/telemetry"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

const tracerShutdownTimeout = 5 * time.Second

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	_ = godotenv.Load()

	for _, warning := range app.ConfigureLogging(app.OSLookup, nil) {
		log.Warn(warning)
	}
	cfg, warnings := app.ReadOrchestratorConfigFromEnv(app.OSLookup)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"version":      version.String(),
	}).Info("запускаем orchestrator")

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}
	log.Info("orchestrator остановлен")
}

// run поднимает трейсинг и сервис. Отмена ctx считается штатной остановкой.
func run(ctx context.Context, cfg app.OrchestratorConfig) error {
	shutdownTracer, err := telemetry.SetupTracer(app.OrchestratorName)
	if err != nil {
		return fmt.Errorf("setup tracer: %w", err)
	}

	runErr := app.RunOrchestrator(ctx, cfg)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown with error")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
