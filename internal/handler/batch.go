package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/pkg/response"
)

type BatchHandler struct {
	orchestrator *batch.Orchestrator
	validator    *validator.Validate
}

func NewBatchHandler(o *batch.Orchestrator, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		orchestrator: o,
		validator:    v,
	}
}

func phaseParam(c *fiber.Ctx) (model.Phase, bool) {
	return model.ParsePhase(c.Params("phase"))
}

// Start handles POST /api/batches/:phase/start
// @Summary      Start batch
// @Description  Queue one job per eligible unit for a pipeline phase
// @Tags         Batches
// @Accept       json
// @Produce      json
// @Param        phase   path string                  true "pretranslate, qa or postedit"
// @Param        request body model.BatchStartRequest true "Batch start request"
// @Success      202 {object} model.BatchStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches/{phase}/start [post]
func (h *BatchHandler) Start(c *fiber.Ctx) error {
	phase, ok := phaseParam(c)
	if !ok {
		return response.ValidationError(c, "Unknown phase", nil)
	}

	var req model.BatchStartRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.orchestrator.Start(c.UserContext(), phase, batch.StartRequest{
		BatchID:   req.BatchID,
		ItemIDs:   req.ItemIDs,
		Options:   req.Options,
		UserID:    middleware.GetUserID(c),
		TenantID:  middleware.GetTenantID(c),
		ProjectID: req.ProjectID,
	})
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Progress handles GET /api/batches/:phase/progress?batchId=
// @Summary      Batch progress
// @Tags         Batches
// @Produce      json
// @Param        phase   path  string true "pretranslate, qa or postedit"
// @Param        batchId query string true "Batch ID"
// @Success      200 {object} model.BatchProgress
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches/{phase}/progress [get]
func (h *BatchHandler) Progress(c *fiber.Ctx) error {
	phase, ok := phaseParam(c)
	if !ok {
		return response.ValidationError(c, "Unknown phase", nil)
	}
	batchID := c.Query("batchId")
	if batchID == "" {
		return response.ValidationError(c, "batchId is required", nil)
	}

	result, err := h.orchestrator.Progress(c.UserContext(), phase, batchID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/batches/:phase/cancel
// @Summary      Cancel batch
// @Description  Flag a batch canceled; queued units are skipped and counted as failed
// @Tags         Batches
// @Accept       json
// @Produce      json
// @Param        phase   path string         true "pretranslate, qa or postedit"
// @Param        request body model.BatchRef true "Batch reference"
// @Success      200 {object} model.BatchCancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches/{phase}/cancel [post]
func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	phase, ok := phaseParam(c)
	if !ok {
		return response.ValidationError(c, "Unknown phase", nil)
	}

	var req model.BatchRef
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	if err := h.orchestrator.Cancel(c.UserContext(), phase, req.BatchID); err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, model.BatchCancelResponse{OK: true})
}

// Persist handles POST /api/batches/:phase/persist
// @Summary      Persist batch
// @Description  Write finished unit results into the unit store and drop the batch keys
// @Tags         Batches
// @Accept       json
// @Produce      json
// @Param        phase   path string         true "pretranslate, qa or postedit"
// @Param        request body model.BatchRef true "Batch reference"
// @Success      200 {object} model.BatchPersistResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches/{phase}/persist [post]
func (h *BatchHandler) Persist(c *fiber.Ctx) error {
	phase, ok := phaseParam(c)
	if !ok {
		return response.ValidationError(c, "Unknown phase", nil)
	}

	var req model.BatchRef
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.orchestrator.Persist(c.UserContext(), phase, req.BatchID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
