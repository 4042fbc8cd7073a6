package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhubdev/taskhub/internal/domain/job"
	"github.com/taskhubdev/taskhub/internal/domain/todo"
	"github.com/taskhubdev/taskhub/internal/notifications"
	"github.com/taskhubdev/taskhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
}

type TodosLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]todo.Todo, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	ExportsDir    string
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	todos    TodosLister
	notifier notifications.Notifier
	prom     *observability.Prom

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, todos TodosLister, notifier notifications.Notifier, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		todos:    todos,
		notifier: notifier,
		prom:     prom,
	}
}

// Run polls for due jobs until ctx is cancelled. Up to Concurrency
// drainer goroutines claim and process jobs at a time.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.setReady(true)
	defer w.setReady(false)

	sem := make(chan struct{}, w.cfg.Concurrency)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			slog.Default().Info("worker received shutdown signal", "worker_id", w.cfg.WorkerID)
			w.setReady(false)

			done := make(chan struct{})

			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(w.cfg.ShutdownGrace):
				slog.Default().Warn("worker shutdown grace elapsed with jobs in flight")
			}

			return nil

		case <-ticker.C:
		claim:
			for {
				select {
				case sem <- struct{}{}:
				default:
					break claim
				}

				wg.Add(1)

				go func() {
					defer wg.Done()
					defer func() { <-sem }()

					// drain until the queue is empty
					for ctx.Err() == nil {
						processed, err := w.ProcessOne(ctx)

						if err != nil {
							slog.Default().Error("job processing error", "error", err, "worker_id", w.cfg.WorkerID)
							return
						}

						if !processed {
							return
						}
					}
				}()
			}
		}
	}
}

func (w *Worker) setReady(ready bool) {
	w.readyMu.Lock()
	w.ready = ready
	w.readyMu.Unlock()
}
