package queue

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePost dispatches a claimed post. The caller supplies the job id
// derived from the post id; enqueueing the same id twice is rejected by the
// queue with asynq.ErrTaskIDConflict, which callers treat as benign.
// The pipeline owns retries, so queue-level retry is disabled.
func EnqueuePost(asynqClient *asynq.Client, payload PublishPostPayload, jobID string) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task,
		asynq.Queue(PublishQueueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return err
	}

	slog.Info("task enqueued", "job_id", jobID, "post_id", payload.PostID)
	return nil
}
