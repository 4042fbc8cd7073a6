package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/taskhubdev/taskhub/internal/domain/job"
	"github.com/taskhubdev/taskhub/internal/jobs"
	"github.com/taskhubdev/taskhub/internal/notifications"
	"github.com/taskhubdev/taskhub/internal/queue/worker"
)

type fakeJobsRepo struct {
	claimFn func(ctx context.Context, workerID string) (job.Job, error)

	doneIDs        []string
	failedIDs      []string
	failedMsgs     []string
	rescheduledIDs []string
	rescheduledAt  []time.Time
}

func (f *fakeJobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, workerID)
	}

	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeJobsRepo) MarkDone(ctx context.Context, id string) error {
	f.doneIDs = append(f.doneIDs, id)
	return nil
}

func (f *fakeJobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	f.failedIDs = append(f.failedIDs, id)
	f.failedMsgs = append(f.failedMsgs, errMsg)
	return nil
}

func (f *fakeJobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	f.rescheduledIDs = append(f.rescheduledIDs, id)
	f.rescheduledAt = append(f.rescheduledAt, runAt)
	return nil
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) SendWelcome(ctx context.Context, in notifications.SendWelcomeInput) error {
	s.calls++
	return s.err
}

func welcomeJob(t *testing.T, attempts, maxAttempts int) job.Job {
	t.Helper()

	raw, err := jobs.EncodePayload(jobs.JobSendWelcome, jobs.SendWelcomePayload{
		UserID: uuid.NewString(),
		Email:  "ada@example.com",
		Name:   "Ada",
	})

	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	return job.Job{
		ID:          uuid.NewString(),
		Type:        string(jobs.JobSendWelcome),
		Payload:     raw,
		Status:      job.StatusProcessing,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func newWorker(repo worker.JobsRepository, n notifications.Notifier) *worker.Worker {
	return worker.New(worker.Config{WorkerID: "test-worker"}, repo, nil, n, nil)
}

func TestProcessOneNoJob(t *testing.T) {
	repo := &fakeJobsRepo{}

	w := newWorker(repo, &stubNotifier{})

	processed, err := w.ProcessOne(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if processed {
		t.Fatal("processed=true with an empty queue")
	}
}

func TestProcessOneSuccessMarksDone(t *testing.T) {
	j := welcomeJob(t, 1, 5)

	repo := &fakeJobsRepo{
		claimFn: func(ctx context.Context, workerID string) (job.Job, error) {
			return j, nil
		},
	}

	notifier := &stubNotifier{}

	w := newWorker(repo, notifier)

	processed, err := w.ProcessOne(context.Background())

	if err != nil || !processed {
		t.Fatalf("processed=%v err=%v", processed, err)
	}

	if notifier.calls != 1 {
		t.Fatalf("notifier called %d times, want 1", notifier.calls)
	}

	if len(repo.doneIDs) != 1 || repo.doneIDs[0] != j.ID {
		t.Fatalf("done IDs = %v, want [%s]", repo.doneIDs, j.ID)
	}

	if len(repo.failedIDs) != 0 || len(repo.rescheduledIDs) != 0 {
		t.Fatalf("unexpected failure bookkeeping: failed=%v rescheduled=%v", repo.failedIDs, repo.rescheduledIDs)
	}
}

func TestProcessOneFailureReschedulesWithBackoff(t *testing.T) {
	j := welcomeJob(t, 1, 5)

	repo := &fakeJobsRepo{
		claimFn: func(ctx context.Context, workerID string) (job.Job, error) {
			return j, nil
		},
	}

	notifier := &stubNotifier{err: errors.New("provider down")}

	w := newWorker(repo, notifier)

	before := time.Now().UTC()

	processed, err := w.ProcessOne(context.Background())

	if err != nil || !processed {
		t.Fatalf("processed=%v err=%v", processed, err)
	}

	if len(repo.rescheduledIDs) != 1 || repo.rescheduledIDs[0] != j.ID {
		t.Fatalf("rescheduled IDs = %v, want [%s]", repo.rescheduledIDs, j.ID)
	}

	if len(repo.doneIDs) != 0 || len(repo.failedIDs) != 0 {
		t.Fatalf("unexpected bookkeeping: done=%v failed=%v", repo.doneIDs, repo.failedIDs)
	}

	// attempt 1 backs off at least the 4s base delay
	if repo.rescheduledAt[0].Before(before.Add(3 * time.Second)) {
		t.Fatalf("runAt %v too soon after %v", repo.rescheduledAt[0], before)
	}
}

func TestProcessOneExhaustedAttemptsMarksFailed(t *testing.T) {
	j := welcomeJob(t, 5, 5)

	repo := &fakeJobsRepo{
		claimFn: func(ctx context.Context, workerID string) (job.Job, error) {
			return j, nil
		},
	}

	w := newWorker(repo, &stubNotifier{err: errors.New("provider down")})

	processed, err := w.ProcessOne(context.Background())

	if err != nil || !processed {
		t.Fatalf("processed=%v err=%v", processed, err)
	}

	if len(repo.failedIDs) != 1 || repo.failedIDs[0] != j.ID {
		t.Fatalf("failed IDs = %v, want [%s]", repo.failedIDs, j.ID)
	}

	if len(repo.rescheduledIDs) != 0 {
		t.Fatalf("exhausted job was rescheduled: %v", repo.rescheduledIDs)
	}
}

func TestProcessOneMalformedPayloadFailsImmediately(t *testing.T) {
	j := job.Job{
		ID:          uuid.NewString(),
		Type:        string(jobs.JobSendWelcome),
		Payload:     []byte("{broken"),
		Attempts:    1,
		MaxAttempts: 5,
	}

	repo := &fakeJobsRepo{
		claimFn: func(ctx context.Context, workerID string) (job.Job, error) {
			return j, nil
		},
	}

	notifier := &stubNotifier{}

	w := newWorker(repo, notifier)

	processed, err := w.ProcessOne(context.Background())

	if err != nil || !processed {
		t.Fatalf("processed=%v err=%v", processed, err)
	}

	if notifier.calls != 0 {
		t.Fatal("notifier reached with a malformed payload")
	}

	if len(repo.failedIDs) != 1 {
		t.Fatalf("failed IDs = %v, want one entry", repo.failedIDs)
	}

	if len(repo.rescheduledIDs) != 0 {
		t.Fatal("malformed job must not be retried")
	}
}

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)

	for attempt := 0; attempt < 5; attempt++ {
		d := worker.ExponentialBackoff(attempt)

		if d <= prev {
			t.Fatalf("attempt %d: %v not greater than %v", attempt, d, prev)
		}

		prev = d
	}

	if d := worker.ExponentialBackoff(20); d > 5*time.Minute+time.Second {
		t.Fatalf("backoff exceeds cap: %v", d)
	}
}
