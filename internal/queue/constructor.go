package queue

import (
	"github.com/maheshrc27/postflow/internal/service"
)

type Queue struct {
	publisher service.PublisherService
}

func NewQueue(publisher service.PublisherService) *Queue {
	return &Queue{publisher: publisher}
}

const (
	TaskTypePublishPost = "publish:post"
	PublishQueueName    = "publish"
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}
