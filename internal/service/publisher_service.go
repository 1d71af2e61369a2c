package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// PublisherService is the worker side of the post lifecycle: it claims a
// queued post into publishing, performs the remote publish, and resolves the
// post to published, a scheduled retry, or failed.
type PublisherService interface {
	PublishOne(ctx context.Context, postID int64) error
}

type publisherService struct {
	cfg   config.Config
	pr    repository.PostRepository
	ar    repository.AccountRepository
	graph InstagramService
}

func NewPublisherService(
	cfg config.Config,
	pr repository.PostRepository,
	ar repository.AccountRepository,
	graph InstagramService) PublisherService {
	return &publisherService{
		cfg:   cfg,
		pr:    pr,
		ar:    ar,
		graph: graph,
	}
}

func (s *publisherService) PublishOne(ctx context.Context, postID int64) error {
	post, err := s.pr.ClaimForPublish(ctx, postID, s.cfg.WorkerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotClaimed) {
			// Another worker won the row, or the post was deleted.
			slog.Info("post not claimable", "post_id", postID)
			return nil
		}
		return fmt.Errorf("claiming post %d: %w", postID, err)
	}

	// Defensive re-stamp after resolution, success or failure.
	defer func() {
		if err := s.pr.Heartbeat(context.Background(), post.ID, s.cfg.WorkerID); err != nil {
			slog.Info("final heartbeat failed", "post_id", post.ID)
		}
	}()

	mediaURL := ResolveMediaURL(s.cfg.AppBaseURL, post.MediaURL)

	account, err := s.ar.GetActive(ctx, post.AccountID)
	if err != nil {
		return s.failOrRetry(ctx, post, post.RetryCount, models.ErrCodeDBError, errPayload(err))
	}

	accessToken := ""
	if account != nil && account.AccessToken != "" {
		accessToken, err = utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
		if err != nil {
			slog.Info("token decrypt failed", "account_id", post.AccountID)
			accessToken = ""
		}
	}
	if account == nil || accessToken == "" {
		return s.failOrRetry(ctx, post, post.RetryCount, models.ErrCodeMissingAccessToken,
			mustJSON(map[string]string{"message": "no active account or token"}))
	}

	if err := s.pr.Heartbeat(ctx, post.ID, s.cfg.WorkerID); err != nil {
		slog.Info("heartbeat failed", "post_id", post.ID)
	}

	result, err := s.publish(ctx, post, account.IGUserID, accessToken, mediaURL)
	if err != nil {
		var disabled *disabledPostTypeError
		if errors.As(err, &disabled) {
			// Sentinel retry count forces terminal failure in one step.
			return s.failOrRetry(ctx, post, models.RetryCountDisabled, disabled.code, disabled.payload)
		}
		code, payload := classify(err)
		return s.failOrRetry(ctx, post, post.RetryCount, code, payload)
	}

	if err := s.pr.MarkPublished(ctx, post.ID, result); err != nil {
		return s.failOrRetry(ctx, post, post.RetryCount, models.ErrCodeDBError, errPayload(err))
	}

	slog.Info("post published", "post_id", post.ID, "account_id", post.AccountID)
	return nil
}

// disabledPostTypeError marks a post type that is administratively switched
// off; it bypasses the retry budget entirely.
type disabledPostTypeError struct {
	code    string
	payload json.RawMessage
}

func (e *disabledPostTypeError) Error() string { return e.code }

func (s *publisherService) publish(ctx context.Context, post *models.Post, igUserID, accessToken, mediaURL string) (json.RawMessage, error) {
	if s.cfg.MockMeta {
		time.Sleep(200 * time.Millisecond)
		return json.Marshal(map[string]any{
			"mock":      true,
			"at":        time.Now().UTC().Format(time.RFC3339),
			"post_type": post.PostType,
		})
	}

	heartbeat := func() {
		if err := s.pr.Heartbeat(ctx, post.ID, s.cfg.WorkerID); err != nil {
			slog.Info("poll heartbeat failed", "post_id", post.ID)
		}
	}

	switch post.PostType {
	case models.PostTypePhoto:
		return s.graph.PublishPhoto(ctx, igUserID, accessToken, mediaURL, post.Caption)
	case models.PostTypeReelFeed:
		return s.graph.PublishReel(ctx, igUserID, accessToken, mediaURL, post.Caption, true, heartbeat)
	case models.PostTypeReelOnly:
		return s.graph.PublishReel(ctx, igUserID, accessToken, mediaURL, post.Caption, false, heartbeat)
	case models.PostTypeCarousel:
		return nil, &disabledPostTypeError{
			code:    models.ErrCodeDisabled,
			payload: mustJSON(map[string]string{"message": "carousels_disabled_v1"}),
		}
	default:
		return nil, &disabledPostTypeError{
			code:    models.ErrCodeUnsupportedPostType,
			payload: mustJSON(map[string]string{"message": fmt.Sprintf("unsupported post type %q", post.PostType)}),
		}
	}
}

// failOrRetry is the single retry/backoff decision every failure routes
// through: one more attempt while the budget lasts, then terminal failure and
// an auto-pause check.
func (s *publisherService) failOrRetry(ctx context.Context, post *models.Post, retryCount int, code string, payload json.RawMessage) error {
	if retryCount < s.cfg.Scheduler.RetryBudget {
		if err := s.pr.ScheduleRetry(ctx, post.ID, code, payload, s.cfg.Scheduler.RetryDelay); err != nil {
			return fmt.Errorf("scheduling retry for post %d: %w", post.ID, err)
		}
		slog.Info("post retry scheduled", "post_id", post.ID, "error_code", code)
		return nil
	}

	if err := s.pr.MarkFailed(ctx, post.ID, code, payload); err != nil {
		return fmt.Errorf("failing post %d: %w", post.ID, err)
	}
	slog.Info("post failed", "post_id", post.ID, "error_code", code)

	s.maybeAutoPause(ctx, post.AccountID)
	return nil
}

// maybeAutoPause freezes the account when its most recent posts all ended in
// hard failure, then force-fails the remaining backlog so it surfaces
// immediately instead of burning through per-post retry delays.
func (s *publisherService) maybeAutoPause(ctx context.Context, accountID int64) {
	threshold := s.cfg.Scheduler.PauseOnConsecFail
	recent, err := s.pr.ListRecentByAccount(ctx, accountID, threshold)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if len(recent) < threshold {
		return
	}
	for _, p := range recent {
		if p.Status != models.StatusFailed || p.RetryCount < 2 {
			return
		}
	}

	if err := s.ar.SetActive(ctx, accountID, false); err != nil {
		slog.Info(err.Error())
		return
	}
	failed, err := s.pr.FailScheduledForAccount(ctx, accountID, models.ErrCodeAccountPaused)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	slog.Warn("account auto-paused", "account_id", accountID, "failed_pending", failed)
}

// classify maps a publish failure onto an error code and diagnostic payload
// for the retry decision.
func classify(err error) (string, json.RawMessage) {
	var graphErr *GraphError
	if errors.As(err, &graphErr) {
		return fmt.Sprintf("http_%d", graphErr.StatusCode), graphErr.Body
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return models.ErrCodeTransientIO, errPayload(err)
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return models.ErrCodeDBError, errPayload(err)
	}

	return models.ErrCodeException, errPayload(err)
}

func errPayload(err error) json.RawMessage {
	return mustJSON(map[string]string{"message": err.Error()})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
