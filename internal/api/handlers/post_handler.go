package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	posts service.PostService
	batch service.BatchService
}

func NewPostHandler(posts service.PostService, batch service.BatchService) *PostHandler {
	return &PostHandler{posts: posts, batch: batch}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.PostCreation
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	postID, err := h.posts.CreatePost(c.Context(), &req)
	if err != nil {
		var conflict *service.SpacingConflictError
		if errors.As(err, &conflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"code":    "SPACING_CONFLICT",
				"message": "A post is already scheduled near this time.",
				"conflict_with": fiber.Map{
					"id":           conflict.Conflict.ID,
					"scheduled_at": conflict.Conflict.ScheduledAt,
					"status":       conflict.Conflict.Status,
				},
				"min_spacing_minutes": int(conflict.MinSpacing / time.Minute),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": postID})
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid post id",
		})
	}

	post, err := h.posts.PostInfo(c.Context(), int64(postID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to get post",
		})
	}
	if post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) QueryPosts(c *fiber.Ctx) error {
	accountID := c.QueryInt("account_id", 0)
	start, err1 := time.Parse(time.RFC3339, c.Query("start"))
	end, err2 := time.Parse(time.RFC3339, c.Query("end"))
	if accountID == 0 || err1 != nil || err2 != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid account_id/start/end",
		})
	}

	posts, err := h.posts.ListByRange(c.Context(), int64(accountID), start, end)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to query posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": posts})
}

func (h *PostHandler) BatchPreflight(c *fiber.Ctx) error {
	var req transfer.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	res, err := h.batch.Preflight(c.Context(), &req)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *PostHandler) BatchCommit(c *fiber.Ctx) error {
	var req transfer.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	res, err := h.batch.Commit(c.Context(), &req)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(res)
}
