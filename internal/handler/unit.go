package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/service"
	"github.com/transflow/api/pkg/response"
)

type UnitHandler struct {
	service   *service.UnitService
	validator *validator.Validate
}

func NewUnitHandler(svc *service.UnitService, v *validator.Validate) *UnitHandler {
	return &UnitHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/documents/:id/units
// @Summary      List units
// @Tags         Units
// @Produce      json
// @Param        id       path  string true  "Document ID"
// @Param        page     query int    false "Page, from 1"
// @Param        pageSize query int    false "Page size, max 500"
// @Success      200 {object} model.UnitListResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/units [get]
func (h *UnitHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.UserContext(), c.Params("id"), c.QueryInt("page", 1), c.QueryInt("pageSize", service.DefaultPageSize))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Get handles GET /api/units/:id
// @Summary      Get unit
// @Tags         Units
// @Produce      json
// @Param        id path string true "Unit ID"
// @Success      200 {object} model.Unit
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id} [get]
func (h *UnitHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Save handles PUT /api/units/:id
// @Summary      Save unit
// @Description  Direct single-unit save from the editor
// @Tags         Units
// @Accept       json
// @Produce      json
// @Param        id      path string                true "Unit ID"
// @Param        request body model.SaveUnitRequest true "Fields to save"
// @Success      200 {object} model.Unit
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id} [put]
func (h *UnitHandler) Save(c *fiber.Ctx) error {
	var req model.SaveUnitRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Save(c.UserContext(), c.Params("id"), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Advance handles POST /api/units/:id/stage
// @Summary      Advance unit stage
// @Tags         Units
// @Accept       json
// @Produce      json
// @Param        id      path string                    true "Unit ID"
// @Param        request body model.AdvanceStageRequest true "Target stage"
// @Success      200 {object} model.StageRecord
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id}/stage [post]
func (h *UnitHandler) Advance(c *fiber.Ctx) error {
	var req model.AdvanceStageRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.AdvanceStage(c.UserContext(), c.Params("id"), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Record handles POST /api/units/:id/transitions
// @Summary      Record transition
// @Tags         Units
// @Accept       json
// @Produce      json
// @Param        id      path string                        true "Unit ID"
// @Param        request body model.RecordTransitionRequest true "Record"
// @Success      201 {object} model.StageRecord
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id}/transitions [post]
func (h *UnitHandler) Record(c *fiber.Ctx) error {
	var req model.RecordTransitionRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}
	actor := req.ActorType
	if actor == "" {
		actor = model.ActorUser
	}
	status := req.Status
	if status == "" {
		status = model.StepSuccess
	}

	result, err := h.service.RecordTransition(c.UserContext(), c.Params("id"), req.StepKey, actor, middleware.GetUserID(c), status)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, result)
}

// Transitions handles GET /api/units/:id/transitions
// @Summary      List transitions
// @Description  The unit's stage audit trail, oldest first
// @Tags         Units
// @Produce      json
// @Param        id path string true "Unit ID"
// @Success      200 {object} model.TransitionListResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id}/transitions [get]
func (h *UnitHandler) Transitions(c *fiber.Ctx) error {
	result, err := h.service.ListTransitions(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Previous handles POST /api/units/:id/previous
// @Summary      Go to previous stage
// @Description  Revert the latest record of a stage; the trail keeps both records
// @Tags         Units
// @Accept       json
// @Produce      json
// @Param        id      path string               true "Unit ID"
// @Param        request body model.GoBackRequest true "Stage to revert"
// @Success      200 {object} model.StageRecord
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/units/{id}/previous [post]
func (h *UnitHandler) Previous(c *fiber.Ctx) error {
	var req model.GoBackRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.GoToPrevious(c.UserContext(), c.Params("id"), middleware.GetUserID(c), req.StepKey)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}
