package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// SpacingConflictError reports that another active post sits within the
// minimum spacing of the requested slot.
type SpacingConflictError struct {
	Conflict   *models.Post
	MinSpacing time.Duration
}

func (e *SpacingConflictError) Error() string {
	return fmt.Sprintf("a post is already scheduled near this time (post %d at %s)",
		e.Conflict.ID, e.Conflict.ScheduledAt.Format(time.RFC3339))
}

type PostService interface {
	CreatePost(ctx context.Context, pc *transfer.PostCreation) (int64, error)
	PostInfo(ctx context.Context, postID int64) (*models.Post, error)
	ListByRange(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error)
}

type postService struct {
	cfg config.Config
	pr  repository.PostRepository
}

func NewPostService(cfg config.Config, pr repository.PostRepository) PostService {
	return &postService{cfg: cfg, pr: pr}
}

// CreatePost schedules a single post. Spacing against the account's other
// active posts is enforced unless the caller overrides it; the insert is
// idempotent on client_request_id.
func (s *postService) CreatePost(ctx context.Context, pc *transfer.PostCreation) (int64, error) {
	if pc == nil {
		return 0, errors.New("post creation data is nil")
	}
	if pc.MediaURL == "" {
		return 0, errors.New("media_url is required")
	}
	postType := models.PostType(pc.PostType)
	switch postType {
	case models.PostTypePhoto, models.PostTypeReelFeed, models.PostTypeReelOnly, models.PostTypeCarousel:
	default:
		return 0, fmt.Errorf("unknown post_type %q", pc.PostType)
	}

	if !pc.OverrideSpacing {
		conflict, err := s.pr.FindSpacingConflict(ctx, pc.AccountID, pc.ScheduledAt, s.cfg.Scheduler.MinSpacing)
		if err != nil {
			return 0, fmt.Errorf("checking spacing: %w", err)
		}
		if conflict != nil {
			return 0, &SpacingConflictError{Conflict: conflict, MinSpacing: s.cfg.Scheduler.MinSpacing}
		}
	}

	post := &models.Post{
		AccountID:   pc.AccountID,
		Platform:    "instagram",
		PostType:    postType,
		MediaURL:    pc.MediaURL,
		Caption:     pc.Caption,
		ScheduledAt: pc.ScheduledAt,
	}
	if pc.ClientRequestID != "" {
		post.ClientRequestID = sql.NullString{String: pc.ClientRequestID, Valid: true}
	}

	res, err := s.pr.Upsert(ctx, nil, post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}
	if !res.Inserted {
		slog.Info("post create matched existing request id", "post_id", res.ID, "client_request_id", pc.ClientRequestID)
	}
	return res.ID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID int64) (*models.Post, error) {
	if postID == 0 {
		return nil, errors.New("post id is not valid")
	}
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info: %w", err)
	}
	if post == nil {
		return nil, nil
	}
	return post, nil
}

func (s *postService) ListByRange(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	posts, err := s.pr.ListByRange(ctx, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	return posts, nil
}
