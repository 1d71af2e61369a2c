package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// ErrNotClaimed means a conditional claim matched no row: another worker won
// the transition or the post no longer exists. Callers treat it as a no-op.
var ErrNotClaimed = fmt.Errorf("post not claimed")

// ClaimedPost is a row promoted to queued by ClaimDue, paired with its
// deterministic dispatch id.
type ClaimedPost struct {
	ID    int64
	JobID string
}

// UpsertResult says whether the idempotent insert created a new row or
// updated the row already holding the idempotency key.
type UpsertResult struct {
	ID       int64
	Inserted bool
}

type PostRepository interface {
	Upsert(ctx context.Context, tx *sql.Tx, post *models.Post) (UpsertResult, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByRange(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error)
	FindSpacingConflict(ctx context.Context, accountID int64, at time.Time, spacing time.Duration) (*models.Post, error)

	CountActiveInWindow(ctx context.Context, accountID int64, start, end time.Time) (int, error)
	ListActiveTimesInWindow(ctx context.Context, accountID int64, start, end time.Time) ([]time.Time, error)
	CancelNewestInWindow(ctx context.Context, tx *sql.Tx, accountID int64, start, end time.Time, limit int) (int64, error)

	ClaimDue(ctx context.Context, lookahead time.Duration, limit int) ([]ClaimedPost, error)
	ReapStuck(ctx context.Context, publishingAfter, queuedAfter time.Duration) (int64, error)
	ClaimForPublish(ctx context.Context, id int64, workerID string) (*models.Post, error)
	Heartbeat(ctx context.Context, id int64, workerID string) error

	MarkPublished(ctx context.Context, id int64, result json.RawMessage) error
	ScheduleRetry(ctx context.Context, id int64, code string, payload json.RawMessage, delay time.Duration) error
	MarkFailed(ctx context.Context, id int64, code string, payload json.RawMessage) error

	ListRecentByAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error)
	FailScheduledForAccount(ctx context.Context, accountID int64, code string) (int64, error)

	Now(ctx context.Context) (time.Time, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, account_id, platform, post_type, media_url, caption,
	scheduled_at, status, retry_count, next_attempt_at, error_code,
	COALESCE(publish_result, '{}'::jsonb), locked_at, locked_by, job_id,
	client_request_id, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var p models.Post
	err := row.Scan(
		&p.ID, &p.AccountID, &p.Platform, &p.PostType, &p.MediaURL, &p.Caption,
		&p.ScheduledAt, &p.Status, &p.RetryCount, &p.NextAttemptAt, &p.ErrorCode,
		&p.PublishResult, &p.LockedAt, &p.LockedBy, &p.JobID,
		&p.ClientRequestID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert inserts a post, or updates the existing row when the account already
// holds the same client_request_id. Inserted is derived from xmax so callers
// get one well-typed answer instead of guessing from affected rows.
func (r *postRepository) Upsert(ctx context.Context, tx *sql.Tx, post *models.Post) (UpsertResult, error) {
	query := `
		INSERT INTO posts (account_id, platform, post_type, media_url, caption, scheduled_at, client_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled')
		ON CONFLICT (account_id, client_request_id) WHERE client_request_id IS NOT NULL
		DO UPDATE SET
			media_url = EXCLUDED.media_url,
			caption = EXCLUDED.caption,
			scheduled_at = EXCLUDED.scheduled_at,
			updated_at = now()
		RETURNING id, (xmax = 0) AS inserted
	`

	var res UpsertResult
	var err error
	args := []any{post.AccountID, post.Platform, post.PostType, post.MediaURL, post.Caption, post.ScheduledAt, post.ClientRequestID}
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&res.ID, &res.Inserted)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&res.ID, &res.Inserted)
	}
	if err != nil {
		slog.Info(err.Error())
		return UpsertResult{}, err
	}
	return res, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) ListByRange(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE account_id = $1 AND scheduled_at BETWEEN $2 AND $3
		ORDER BY scheduled_at ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID, start, end)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// FindSpacingConflict returns the nearest active post within spacing of the
// requested instant, or nil when the slot is free.
func (r *postRepository) FindSpacingConflict(ctx context.Context, accountID int64, at time.Time, spacing time.Duration) (*models.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE account_id = $1
		  AND scheduled_at > $2 AND scheduled_at < $3
		  AND status IN ('scheduled', 'queued', 'publishing')
		ORDER BY scheduled_at ASC
		LIMIT 1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, accountID, at.Add(-spacing), at.Add(spacing)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) CountActiveInWindow(ctx context.Context, accountID int64, start, end time.Time) (int, error) {
	query := `
		SELECT count(*) FROM posts
		WHERE account_id = $1
		  AND status IN ('scheduled', 'queued', 'publishing')
		  AND scheduled_at >= $2 AND scheduled_at < $3`

	var count int
	if err := r.db.QueryRowContext(ctx, query, accountID, start, end).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *postRepository) ListActiveTimesInWindow(ctx context.Context, accountID int64, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT scheduled_at FROM posts
		WHERE account_id = $1
		  AND status IN ('scheduled', 'queued', 'publishing')
		  AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID, start, end)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// CancelNewestInWindow frees capacity for a batch override by canceling the
// most recently scheduled bookings in the window, newest first.
func (r *postRepository) CancelNewestInWindow(ctx context.Context, tx *sql.Tx, accountID int64, start, end time.Time, limit int) (int64, error) {
	query := `
		WITH to_cancel AS (
			SELECT id FROM posts
			WHERE account_id = $1
			  AND status IN ('scheduled', 'queued')
			  AND scheduled_at >= $2 AND scheduled_at < $3
			ORDER BY scheduled_at DESC
			LIMIT $4
		)
		UPDATE posts p
		   SET status = 'canceled', updated_at = now()
		  FROM to_cancel tc
		 WHERE p.id = tc.id`

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, accountID, start, end, limit)
	} else {
		res, err = r.db.ExecContext(ctx, query, accountID, start, end, limit)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimDue atomically promotes due scheduled posts to queued, in ascending
// (scheduled_at, id) order, stamping a fresh lock and a job id derived from
// the post id so redundant dispatches collapse on the queue side.
func (r *postRepository) ClaimDue(ctx context.Context, lookahead time.Duration, limit int) ([]ClaimedPost, error) {
	query := `
		WITH due AS (
			SELECT p.id, 'publish-' || p.id AS job_id
			  FROM posts p
			  JOIN accounts a ON a.id = p.account_id
			 WHERE p.status = 'scheduled'
			   AND p.scheduled_at <= now() + make_interval(secs => $1)
			   AND now() >= COALESCE(p.next_attempt_at, now())
			   AND a.active = true
			 ORDER BY p.scheduled_at ASC, p.id ASC
			 LIMIT $2
		)
		UPDATE posts AS p
		   SET status = 'queued',
		       locked_at = now(),
		       job_id = due.job_id,
		       updated_at = now()
		  FROM due
		 WHERE p.id = due.id
		RETURNING p.id, p.job_id`

	rows, err := r.db.QueryContext(ctx, query, lookahead.Seconds(), limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var claimed []ClaimedPost
	for rows.Next() {
		var c ClaimedPost
		if err := rows.Scan(&c.ID, &c.JobID); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		claimed = append(claimed, c)
	}
	return claimed, rows.Err()
}

// ReapStuck returns posts abandoned in queued/publishing to scheduled once
// their lock is older than the staleness timeout. A reclaimed publishing post
// may already have published remotely before its worker died; the retry is an
// accepted at-least-once duplicate risk.
func (r *postRepository) ReapStuck(ctx context.Context, publishingAfter, queuedAfter time.Duration) (int64, error) {
	query := `
		WITH u AS (
			UPDATE posts
			   SET status = 'scheduled',
			       locked_at = NULL,
			       locked_by = NULL,
			       retry_count = retry_count + 1,
			       error_code = 'stuck_recovered',
			       updated_at = now()
			 WHERE (status = 'publishing' AND locked_at < now() - make_interval(secs => $1))
			    OR (status = 'queued'     AND locked_at < now() - make_interval(secs => $2))
			RETURNING id
		)
		SELECT count(*) FROM u`

	var reaped int64
	if err := r.db.QueryRowContext(ctx, query, publishingAfter.Seconds(), queuedAfter.Seconds()).Scan(&reaped); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return reaped, nil
}

// ClaimForPublish is the queued -> publishing conditional transition. At most
// one worker wins the row; losers get ErrNotClaimed and must treat it as a
// no-op.
func (r *postRepository) ClaimForPublish(ctx context.Context, id int64, workerID string) (*models.Post, error) {
	query := `
		UPDATE posts
		   SET status = 'publishing',
		       locked_at = now(),
		       locked_by = $1,
		       updated_at = now()
		 WHERE id = $2 AND status = 'queued'
		RETURNING ` + postColumns

	post, err := scanPost(r.db.QueryRowContext(ctx, query, workerID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotClaimed
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

// Heartbeat refreshes the lock so the reaper does not reclaim a post that is
// legitimately mid-publish.
func (r *postRepository) Heartbeat(ctx context.Context, id int64, workerID string) error {
	query := `UPDATE posts SET locked_at = now(), locked_by = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, workerID, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkPublished(ctx context.Context, id int64, result json.RawMessage) error {
	query := `
		UPDATE posts
		   SET status = 'published',
		       publish_result = $1,
		       retry_count = 0,
		       error_code = NULL,
		       next_attempt_at = NULL,
		       locked_at = NULL,
		       locked_by = NULL,
		       updated_at = now()
		 WHERE id = $2 AND status = 'publishing'`

	return r.execTransition(ctx, query, result, id)
}

// ScheduleRetry sends a publishing post back to scheduled with its next
// attempt gated by the fixed delay. Diagnostics are merged onto prior
// attempts, never replaced.
func (r *postRepository) ScheduleRetry(ctx context.Context, id int64, code string, payload json.RawMessage, delay time.Duration) error {
	query := `
		UPDATE posts
		   SET status = 'scheduled',
		       retry_count = retry_count + 1,
		       next_attempt_at = now() + make_interval(secs => $1),
		       error_code = $2,
		       publish_result = COALESCE(publish_result, '{}'::jsonb) || $3::jsonb,
		       locked_at = NULL,
		       locked_by = NULL,
		       updated_at = now()
		 WHERE id = $4 AND status = 'publishing'`

	return r.execTransition(ctx, query, delay.Seconds(), truncateCode(code), payload, id)
}

func (r *postRepository) MarkFailed(ctx context.Context, id int64, code string, payload json.RawMessage) error {
	query := `
		UPDATE posts
		   SET status = 'failed',
		       retry_count = retry_count + 1,
		       error_code = $1,
		       publish_result = COALESCE(publish_result, '{}'::jsonb) || $2::jsonb,
		       locked_at = NULL,
		       locked_by = NULL,
		       updated_at = now()
		 WHERE id = $3 AND status = 'publishing'`

	return r.execTransition(ctx, query, truncateCode(code), payload, id)
}

// execTransition runs a guarded status update and surfaces a zero-row match
// as an invalid transition instead of letting it pass silently.
func (r *postRepository) execTransition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *postRepository) ListRecentByAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE account_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// FailScheduledForAccount force-fails every pending scheduled post after an
// auto-pause so the backlog surfaces as failed instead of sitting scheduled
// on a dead account.
func (r *postRepository) FailScheduledForAccount(ctx context.Context, accountID int64, code string) (int64, error) {
	query := `
		UPDATE posts
		   SET status = 'failed',
		       error_code = $1,
		       publish_result = COALESCE(publish_result, '{}'::jsonb) || '{"paused": true}'::jsonb,
		       updated_at = now()
		 WHERE account_id = $2 AND status = 'scheduled'`

	res, err := r.db.ExecContext(ctx, query, truncateCode(code), accountID)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// Now reads the store clock, used for drift warnings against the process
// clock.
func (r *postRepository) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := r.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		slog.Info(err.Error())
		return time.Time{}, err
	}
	return now, nil
}

func truncateCode(code string) string {
	if len(code) > 200 {
		return code[:200]
	}
	return code
}
