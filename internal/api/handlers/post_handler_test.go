package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type stubPostService struct {
	createID  int64
	createErr error
	post      *models.Post
	listed    []*models.Post
}

func (s *stubPostService) CreatePost(context.Context, *transfer.PostCreation) (int64, error) {
	return s.createID, s.createErr
}

func (s *stubPostService) PostInfo(context.Context, int64) (*models.Post, error) {
	return s.post, nil
}

func (s *stubPostService) ListByRange(context.Context, int64, time.Time, time.Time) ([]*models.Post, error) {
	return s.listed, nil
}

type stubBatchService struct {
	preflight *transfer.PreflightResult
	commit    *transfer.BatchResult
	err       error
}

func (s *stubBatchService) Preflight(context.Context, *transfer.BatchRequest) (*transfer.PreflightResult, error) {
	return s.preflight, s.err
}

func (s *stubBatchService) Commit(context.Context, *transfer.BatchRequest) (*transfer.BatchResult, error) {
	return s.commit, s.err
}

func newTestApp(posts service.PostService, batch service.BatchService) *fiber.App {
	app := fiber.New()
	h := NewPostHandler(posts, batch)
	app.Post("/api/posts/create", h.CreatePost)
	app.Get("/api/posts/:id", h.GetPost)
	app.Get("/api/posts", h.QueryPosts)
	app.Post("/api/posts/batch/commit", h.BatchCommit)
	return app
}

func postJSON(app *fiber.App, path, body string) (int, map[string]any, error) {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return 0, nil, err
		}
	}
	return resp.StatusCode, decoded, nil
}

func TestCreatePostReturnsID(t *testing.T) {
	app := newTestApp(&stubPostService{createID: 7}, &stubBatchService{})

	status, body, err := postJSON(app, "/api/posts/create",
		`{"account_id": 1, "post_type": "photo", "media_url": "a.png", "scheduled_at": "2026-01-05T12:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(7), body["id"])
}

func TestCreatePostSpacingConflictIs409(t *testing.T) {
	conflictErr := &service.SpacingConflictError{
		Conflict: &models.Post{
			ID:          3,
			ScheduledAt: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			Status:      models.StatusScheduled,
		},
		MinSpacing: 15 * time.Minute,
	}
	app := newTestApp(&stubPostService{createErr: conflictErr}, &stubBatchService{})

	status, body, err := postJSON(app, "/api/posts/create",
		`{"account_id": 1, "post_type": "photo", "media_url": "a.png", "scheduled_at": "2026-01-05T12:05:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "SPACING_CONFLICT", body["code"])
	assert.Equal(t, float64(15), body["min_spacing_minutes"])
}

func TestGetPostNotFound(t *testing.T) {
	app := newTestApp(&stubPostService{}, &stubBatchService{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/posts/99", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestQueryPostsValidatesParams(t *testing.T) {
	app := newTestApp(&stubPostService{}, &stubBatchService{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/posts?account_id=1&start=yesterday&end=today", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET",
		"/api/posts?account_id=1&start=2026-01-01T00:00:00Z&end=2026-02-01T00:00:00Z", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestBatchCommitPassesThrough(t *testing.T) {
	app := newTestApp(&stubPostService{}, &stubBatchService{
		commit: &transfer.BatchResult{Created: 4, DailyLimit: 15},
	})

	status, body, err := postJSON(app, "/api/posts/batch/commit",
		`{"account_id": 1, "start_date": "2026-01-05", "end_date": "2026-01-18", "weekly_plan": {"mon": 2}}`)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(4), body["created"])
}
