package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/service"
	"github.com/transflow/api/pkg/response"
)

type AgentHandler struct {
	service   *service.AgentService
	validator *validator.Validate
}

func NewAgentHandler(svc *service.AgentService, v *validator.Validate) *AgentHandler {
	return &AgentHandler{
		service:   svc,
		validator: v,
	}
}

// Stages handles GET /api/agents
// @Summary      List agent stages
// @Tags         Agents
// @Produce      json
// @Success      200 {object} map[string][]string
// @Security     BearerAuth
// @Router       /api/agents [get]
func (h *AgentHandler) Stages(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"stages": h.service.Stages()})
}

// Run handles POST /api/agents/:stage
// @Summary      Run agent stage
// @Description  Run a single pipeline stage on the supplied text, outside any batch
// @Tags         Agents
// @Accept       json
// @Produce      json
// @Param        stage   path string                true "Stage name"
// @Param        request body model.AgentRunRequest true "Stage inputs"
// @Success      200 {object} model.AgentRunResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/agents/{stage} [post]
func (h *AgentHandler) Run(c *fiber.Ctx) error {
	var req model.AgentRunRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Run(c.UserContext(), c.Params("stage"), &req, middleware.Scope(c, c.Query("projectId")))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}
