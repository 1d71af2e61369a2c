package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the post lifecycle state. Transitions form a DAG with one
// controlled cycle: queued -> publishing -> scheduled (retry) -> queued.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusQueued     Status = "queued"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

var ErrInvalidTransition = fmt.Errorf("invalid post status transition")

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusQueued, StatusFailed, StatusCanceled},
	StatusQueued:     {StatusPublishing, StatusScheduled, StatusCanceled},
	StatusPublishing: {StatusPublished, StatusScheduled, StatusFailed},
	StatusPublished:  {},
	StatusFailed:     {},
	StatusCanceled:   {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	ts, ok := transitions[s]
	return ok && len(ts) == 0
}

// Active reports whether the post still occupies a slot for spacing and
// daily-capacity purposes.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusQueued || s == StatusPublishing
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when the edge s -> next is not
// part of the lifecycle graph.
func (s Status) CheckTransition(next Status) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

type PostType string

const (
	PostTypePhoto    PostType = "photo"
	PostTypeReelFeed PostType = "reel_feed"
	PostTypeReelOnly PostType = "reel_only"
	PostTypeCarousel PostType = "carousel"
)

type Post struct {
	ID              int64           `db:"id" json:"id"`
	AccountID       int64           `db:"account_id" json:"account_id"`
	Platform        string          `db:"platform" json:"platform"`
	PostType        PostType        `db:"post_type" json:"post_type"`
	MediaURL        string          `db:"media_url" json:"media_url"`
	Caption         string          `db:"caption" json:"caption"`
	ScheduledAt     time.Time       `db:"scheduled_at" json:"scheduled_at"`
	Status          Status          `db:"status" json:"status"`
	RetryCount      int             `db:"retry_count" json:"retry_count"`
	NextAttemptAt   sql.NullTime    `db:"next_attempt_at" json:"next_attempt_at"`
	ErrorCode       sql.NullString  `db:"error_code" json:"error_code"`
	PublishResult   json.RawMessage `db:"publish_result" json:"publish_result"`
	LockedAt        sql.NullTime    `db:"locked_at" json:"locked_at"`
	LockedBy        sql.NullString  `db:"locked_by" json:"locked_by"`
	JobID           sql.NullString  `db:"job_id" json:"job_id"`
	ClientRequestID sql.NullString  `db:"client_request_id" json:"client_request_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Well-known error codes persisted on retry/terminal transitions.
const (
	ErrCodeStuckRecovered      = "stuck_recovered"
	ErrCodeAccountPaused       = "account_paused"
	ErrCodeMissingAccessToken  = "missing_access_token"
	ErrCodeUnsupportedPostType = "unsupported_post_type"
	ErrCodeDisabled            = "disabled"
	ErrCodeTransientIO         = "transient_io"
	ErrCodeDBError             = "db_error"
	ErrCodeException           = "exception"
)

// RetryCountDisabled forces terminal failure in a single step for post types
// that are administratively switched off.
const RetryCountDisabled = 999
