package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/service"
	"github.com/transflow/api/pkg/response"
)

type DocumentHandler struct {
	service   *service.DocumentService
	validator *validator.Validate
}

func NewDocumentHandler(svc *service.DocumentService, v *validator.Validate) *DocumentHandler {
	return &DocumentHandler{
		service:   svc,
		validator: v,
	}
}

// Register handles POST /api/documents
// @Summary      Register document
// @Description  Register an uploaded source file; the document starts in WAITING
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        request body model.RegisterDocumentRequest true "Document"
// @Success      201 {object} model.Document
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents [post]
func (h *DocumentHandler) Register(c *fiber.Ctx) error {
	var req model.RegisterDocumentRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	doc, err := h.service.Register(c.UserContext(), &req, middleware.Scope(c, req.ProjectID))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, doc)
}

// Get handles GET /api/documents/:id
// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Param        id path string true "Document ID"
// @Success      200 {object} model.Document
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id} [get]
func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	doc, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, doc)
}

// Parse handles POST /api/documents/:id/parse
// @Summary      Parse document
// @Description  Download and structure the source file, storing the result under the batch
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        id      path string             true  "Document ID"
// @Param        request body model.ParseRequest false "Parse options"
// @Success      200 {object} model.ParseResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/parse [post]
func (h *DocumentHandler) Parse(c *fiber.Ctx) error {
	var req model.ParseRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Parse(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Segment handles POST /api/documents/:id/segment
// @Summary      Segment document
// @Description  Split the parsed document into units, or return a bounded preview
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        id      path string               true  "Document ID"
// @Param        request body model.SegmentRequest false "Segment options"
// @Success      200 {object} model.SegmentResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/segment [post]
func (h *DocumentHandler) Segment(c *fiber.Ctx) error {
	var req model.SegmentRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Segment(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// StartTerms handles POST /api/documents/:id/terms
// @Summary      Extract document terms
// @Description  Queue document-wide term extraction
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        id      path string             true  "Document ID"
// @Param        request body model.TermsRequest false "Terms options"
// @Success      202 {object} model.TermsResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/terms [post]
func (h *DocumentHandler) StartTerms(c *fiber.Ctx) error {
	var req model.TermsRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.StartTerms(c.UserContext(), c.Params("id"), &req, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, result)
}

// Terms handles GET /api/documents/:id/terms?batchId=
// @Summary      Get document terms
// @Tags         Documents
// @Produce      json
// @Param        id      path  string true  "Document ID"
// @Param        batchId query string false "Batch ID"
// @Success      200 {object} model.TermsResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/terms [get]
func (h *DocumentHandler) Terms(c *fiber.Ctx) error {
	result, err := h.service.Terms(c.UserContext(), c.Params("id"), c.Query("batchId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Apply handles POST /api/documents/:id/apply
// @Summary      Apply terms
// @Description  Write extracted or supplied terms into a glossary and mark the document PREPROCESSED
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        id      path string                  true "Document ID"
// @Param        request body model.ApplyTermsRequest true "Apply request"
// @Success      200 {object} model.ApplyTermsResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/apply [post]
func (h *DocumentHandler) Apply(c *fiber.Ctx) error {
	var req model.ApplyTermsRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Apply(c.UserContext(), c.Params("id"), &req, middleware.Scope(c, ""))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Complete handles POST /api/documents/:id/complete
// @Summary      Complete document
// @Tags         Documents
// @Produce      json
// @Param        id path string true "Document ID"
// @Success      200 {object} model.PhaseResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/documents/{id}/complete [post]
func (h *DocumentHandler) Complete(c *fiber.Ctx) error {
	result, err := h.service.Complete(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}
