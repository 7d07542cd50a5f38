package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type PostingService interface {
	Ingest(ctx context.Context, scope tenancy.Scope, parsed models.ParsedPosting) (*models.IngestResult, error)
	Get(ctx context.Context, scope tenancy.Scope, id string) (*models.LoadPosting, error)
	List(ctx context.Context, scope tenancy.Scope, status models.PostingStatus, limit, offset int) ([]models.LoadPosting, error)
	MarkProcessingFailed(ctx context.Context, scope tenancy.Scope, id, reason string) (*models.LoadPosting, error)
}

// PostingHandler handles load posting endpoints
type PostingHandler struct {
	service PostingService
	logger  ectologger.Logger
}

func NewPostingHandler(service PostingService, logger ectologger.Logger) *PostingHandler {
	return &PostingHandler{
		service: service,
		logger:  logger,
	}
}

type MarkFailedRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (h *PostingHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Ingest)
	g.GET("/:id", h.Get)
	g.POST("/:id/failed", h.MarkFailed)
}

// Ingest accepts parser output over HTTP, the same as the postings topic
func (h *PostingHandler) Ingest(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PostingHandler.Ingest")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}

	var req models.ParsedPosting
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	result, err := h.service.Ingest(ctx, scope, req)
	if err != nil {
		return err
	}
	if result.Duplicate {
		return SuccessResponse(c, result)
	}
	return CreatedResponse(c, result)
}

func (h *PostingHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PostingHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	limit, err := QueryInt(c, "limit", 100)
	if err != nil {
		return err
	}
	offset, err := QueryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	postings, err := h.service.List(ctx, scope, models.PostingStatus(c.QueryParam("status")), limit, offset)
	if err != nil {
		return err
	}
	return SuccessResponse(c, postings)
}

func (h *PostingHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PostingHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	posting, err := h.service.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, posting)
}

func (h *PostingHandler) MarkFailed(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PostingHandler.MarkFailed")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	var req MarkFailedRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	posting, err := h.service.MarkProcessingFailed(ctx, scope, id, req.Reason)
	if err != nil {
		return err
	}
	return SuccessResponse(c, posting)
}
