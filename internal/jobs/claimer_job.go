package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
)

// DispatchFunc hands a claimed post to the dispatch queue under its job id.
type DispatchFunc func(postID int64, jobID string) error

// ErrDuplicateJob marks a dispatch rejected because the job id is already
// enqueued; redundant dispatches of the same post collapse onto it.
var ErrDuplicateJob = errors.New("job id already enqueued")

func AsynqDispatcher(client *asynq.Client) DispatchFunc {
	return func(postID int64, jobID string) error {
		err := queue.EnqueuePost(client, queue.PublishPostPayload{PostID: postID}, jobID)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrDuplicateJob
		}
		return err
	}
}

// ClaimerJob is the scheduler loop: every tick it promotes due scheduled
// posts to queued and dispatches them. On a lower sub-cadence it reaps posts
// stuck in queued/publishing and checks store/process clock drift.
type ClaimerJob struct {
	pr       repository.PostRepository
	dispatch DispatchFunc
	cfg      config.Scheduler

	mu   sync.Mutex
	tick int
}

func NewClaimerJob(pr repository.PostRepository, dispatch DispatchFunc, cfg config.Scheduler) *ClaimerJob {
	return &ClaimerJob{
		pr:       pr,
		dispatch: dispatch,
		cfg:      cfg,
	}
}

// reapEvery spaces the reaper roughly one minute apart regardless of tick
// interval.
func (j *ClaimerJob) reapEvery() int {
	ticks := int(time.Minute / j.cfg.TickInterval)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// Tick runs one claim cycle. Claim cycles never overlap: if the previous one
// is still running this tick is skipped.
func (j *ClaimerJob) Tick() {
	if !j.mu.TryLock() {
		slog.Warn("previous claim cycle still running, skipping tick")
		return
	}
	defer j.mu.Unlock()

	ctx := context.Background()

	if n := j.enqueueDue(ctx); n > 0 {
		slog.Info("enqueued due posts", "count", n)
	}

	if j.tick%j.reapEvery() == 0 {
		if reaped := j.reapStuck(ctx); reaped > 0 {
			slog.Info("reaped stuck posts", "count", reaped)
		}
		j.warnClockDrift(ctx)
	}
	j.tick++
}

func (j *ClaimerJob) enqueueDue(ctx context.Context) int {
	claimed, err := j.pr.ClaimDue(ctx, j.cfg.Lookahead, j.cfg.ClaimBatchSize)
	if err != nil {
		slog.Error("claim cycle failed", "error", err.Error())
		return 0
	}

	enqueued := 0
	for _, c := range claimed {
		if err := j.dispatch(c.ID, c.JobID); err != nil {
			if errors.Is(err, ErrDuplicateJob) {
				// A previous cycle already enqueued it.
				continue
			}
			// The row stays queued; the reaper recovers it if the job never
			// actually runs.
			slog.Error("failed to dispatch post", "post_id", c.ID, "job_id", c.JobID, "error", err.Error())
			continue
		}
		enqueued++
	}
	return enqueued
}

func (j *ClaimerJob) reapStuck(ctx context.Context) int64 {
	reaped, err := j.pr.ReapStuck(ctx, j.cfg.ReapPublishing, j.cfg.ReapQueued)
	if err != nil {
		slog.Error("reap cycle failed", "error", err.Error())
		return 0
	}
	return reaped
}

// warnClockDrift compares the store clock with the process clock. Large
// drift corrupts the lookahead and staleness arithmetic.
func (j *ClaimerJob) warnClockDrift(ctx context.Context) {
	dbNow, err := j.pr.Now(ctx)
	if err != nil {
		slog.Error("clock drift check failed", "error", err.Error())
		return
	}
	drift := time.Since(dbNow)
	if drift < 0 {
		drift = -drift
	}
	if drift > j.cfg.DriftWarn {
		slog.Warn("db/process clock drift", "drift", drift.String())
	}
}
