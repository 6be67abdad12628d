package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/jobcancel"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/pkg/response"
)

// JobHandler exposes the in-process cancel registry
type JobHandler struct {
	jobs *jobcancel.Registry
}

func NewJobHandler(jobs *jobcancel.Registry) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Status handles GET /api/jobs/:jobId
// @Summary      Job status
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	st, known := h.jobs.Get(c.Params("jobId"))
	return response.OK(c, model.JobStatusResponse{JobID: st.JobID, Known: known, Canceled: st.Canceled})
}

// Cancel handles POST /api/jobs/:jobId/cancel
// @Summary      Cancel job
// @Description  Flag a running job canceled; unknown ids report known=false
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("jobId")
	known := h.jobs.Cancel(id)
	return response.OK(c, model.JobStatusResponse{JobID: id, Known: known, Canceled: known})
}
