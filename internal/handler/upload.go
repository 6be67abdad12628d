package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/service"
	"github.com/transflow/api/pkg/response"
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

func (h *UploadHandler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrStorageDisabled) {
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceError, "Object storage is not configured", nil)
	}
	return response.FromError(c, err)
}

// UploadURL handles POST /api/uploads/url
// @Summary      Presigned upload URL
// @Description  Get a presigned PUT URL for a source document; register the returned key afterwards
// @Tags         Upload
// @Accept       json
// @Produce      json
// @Param        request body model.UploadURLRequest true "File description"
// @Success      200 {object} model.UploadURLResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/uploads/url [post]
func (h *UploadHandler) UploadURL(c *fiber.Ctx) error {
	var req model.UploadURLRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.UploadURL(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// FileURL handles GET /api/uploads/file-url?key=
// @Summary      Presigned download URL
// @Tags         Upload
// @Produce      json
// @Param        key query string true "Object key"
// @Success      200 {object} model.FileURLResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/uploads/file-url [get]
func (h *UploadHandler) FileURL(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return response.ValidationError(c, "key is required", nil)
	}

	result, err := h.service.FileURL(c.UserContext(), key)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}
