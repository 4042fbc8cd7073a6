package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taskhubdev/taskhub/internal/domain/job"
	"github.com/taskhubdev/taskhub/internal/jobs"
	"github.com/taskhubdev/taskhub/internal/notifications"
)

// ProcessOne claims a single due job and executes it. The bool reports
// whether a job was claimed at all.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()

	err = w.execute(ctx, j)

	if err != nil {
		w.handleFailure(ctx, j, err)
		w.observeJob(j.Type, resultFor(j, err), time.Since(start))
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.observeJob(j.Type, "failed", time.Since(start))
		return true, err
	}

	w.observeJob(j.Type, "done", time.Since(start))

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	payload, err := jobs.DecodePayload(jobs.JobType(j.Type), j.Payload)

	if err != nil {
		return err
	}

	if err := jobs.ValidatePayload(jobs.JobType(j.Type), payload); err != nil {
		return err
	}

	switch p := payload.(type) {
	case jobs.SendWelcomePayload:
		return w.notifier.SendWelcome(ctx, notifications.SendWelcomeInput{
			UserID: p.UserID,
			Email:  p.Email,
			Name:   p.Name,
		})

	case jobs.ExportTodosCSVPayload:
		return w.exportTodosCSV(ctx, p)

	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	// malformed jobs never succeed, park them right away
	if isPermanent(execErr) || j.Attempts >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			slog.Default().Error("mark failed error", "error", err, "job_id", j.ID)
		}
		return
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		slog.Default().Error("reschedule error", "error", err, "job_id", j.ID)
		return
	}

	slog.Default().Info("job rescheduled",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempt", j.Attempts,
		"run_at", runAt,
	)
}

func isPermanent(err error) bool {
	return errors.Is(err, jobs.ErrInvalidJobType) ||
		errors.Is(err, jobs.ErrInvalidJobPayload) ||
		errors.Is(err, jobs.ErrPayloadTypeMismatch)
}

func resultFor(j job.Job, err error) string {
	if isPermanent(err) || j.Attempts >= j.MaxAttempts {
		return "failed"
	}

	return "retry"
}

func (w *Worker) observeJob(jobType, result string, elapsed time.Duration) {
	if w.prom == nil {
		return
	}

	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(elapsed.Seconds())
}
