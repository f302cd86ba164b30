// Herald Worker — claim'ит due work items и доставляет уведомления.
//
// Worker:
//   - Периодически claim'ит due напоминания о событиях и follow-up уведомления
//   - Публикует по одному сообщению на канал в RabbitMQ
//   - Записывает результат каждой попытки
//   - Подхватывает брошенные claims после stale timeout
//
// Workers масштабируются горизонтально: claim выдаёт экземплярам
// непересекающиеся наборы items.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/dispatch"
	"github.com/shaiso/Herald/internal/engine"
	"github.com/shaiso/Herald/internal/followups"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/reminders"
	"github.com/shaiso/Herald/internal/scheduler"
	"github.com/shaiso/Herald/internal/storage"
	"github.com/shaiso/Herald/internal/telemetry"
	"github.com/shaiso/Herald/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("herald-worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting herald-worker", "store", cfg.Store)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "herald-worker", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	schedule, err := scheduler.ParsePollSchedule(cfg.PollSchedule)
	if err != nil {
		return err
	}

	// Хранилище
	backend, err := storage.Open(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()
	logger.Info("store connected", "store", backend.Name)

	// RabbitMQ обязателен: без него доставлять некуда
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	engineCfg := engine.Config{
		Store:        backend,
		StaleTimeout: cfg.StaleClaimTimeout,
		Notifier:     publisher,
		Metrics:      metrics,
		Logger:       logger,
	}
	eventEngine, err := reminders.NewEngine(engineCfg)
	if err != nil {
		return err
	}
	followUpEngine, err := followups.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	tickers := []worker.Ticker{
		scheduler.New(scheduler.Config{
			Engine:     eventEngine,
			Dispatcher: dispatch.New(publisher, reminders.Composer{}, logger),
			Logger:     logger,
			BatchSize:  cfg.BatchSize,
		}),
		scheduler.New(scheduler.Config{
			Engine:     followUpEngine,
			Dispatcher: dispatch.New(publisher, followups.Composer{}, logger),
			Logger:     logger,
			BatchSize:  cfg.BatchSize,
		}),
	}

	w, err := worker.New(worker.Config{
		Tickers:  tickers,
		Schedule: schedule,
		Conn:     mqConn,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := backend.Ping(pingCtx); err != nil {
			http.Error(rw, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		if !mqConn.IsConnected() || !w.Running() {
			http.Error(rw, "worker not ready", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	// Останавливаем worker
	w.Stop()
	logger.Info("herald-worker stopped")
	return nil
}
