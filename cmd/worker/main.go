package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskhubdev/taskhub/internal/config"
	"github.com/taskhubdev/taskhub/internal/db"
	"github.com/taskhubdev/taskhub/internal/notifications"
	"github.com/taskhubdev/taskhub/internal/observability"
	"github.com/taskhubdev/taskhub/internal/queue/worker"
	"github.com/taskhubdev/taskhub/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	prom := observability.NewProm(prometheus.NewRegistry())

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	todosRepo := postgres.NewTodosRepo(pool, prom)

	notifier := notifications.NewProtectedNotifier(
		notifications.NewLogNotifier(),
		notifications.ProtectedNotifierConfig{},
	)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval:  500 * time.Millisecond,
		WorkerID:      workerID,
		Concurrency:   4,
		ShutdownGrace: 10 * time.Second,
		ExportsDir:    os.Getenv("EXPORTS_DIR"),
	}, jobsRepo, todosRepo, notifier, prom)

	healthAddr := os.Getenv("WORKER_HEALTH_ADDR")

	if healthAddr == "" {
		healthAddr = ":8081"
	}

	healthSrv := &http.Server{
		Addr:              healthAddr,
		Handler:           w.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := healthSrv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker started", "worker_id", workerID)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	_ = healthSrv.Shutdown(shutdownCtx)
	cancel()

	log.Info("worker shutdown complete")
}
