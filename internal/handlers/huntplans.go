package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type HuntPlanService interface {
	Create(ctx context.Context, scope tenancy.Scope, req models.CreateHuntPlanRequest) (*models.HuntPlanResult, error)
	Update(ctx context.Context, scope tenancy.Scope, id string, req models.UpdateHuntPlanRequest) (*models.HuntPlanResult, error)
	Deactivate(ctx context.Context, scope tenancy.Scope, id string) (*models.HuntPlanResult, error)
	Get(ctx context.Context, scope tenancy.Scope, id string) (*models.HuntPlan, error)
	List(ctx context.Context, scope tenancy.Scope) ([]models.HuntPlan, error)
	ListActive(ctx context.Context, scope tenancy.Scope) ([]models.HuntPlan, error)
}

// HuntPlanHandler handles hunt plan endpoints
type HuntPlanHandler struct {
	service HuntPlanService
	logger  ectologger.Logger
}

func NewHuntPlanHandler(service HuntPlanService, logger ectologger.Logger) *HuntPlanHandler {
	return &HuntPlanHandler{
		service: service,
		logger:  logger,
	}
}

func (h *HuntPlanHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.POST("/:id/deactivate", h.Deactivate)
}

// List returns active plans unless all=true
func (h *HuntPlanHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "HuntPlanHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}

	var plans []models.HuntPlan
	if c.QueryParam("all") == "true" {
		plans, err = h.service.List(ctx, scope)
	} else {
		plans, err = h.service.ListActive(ctx, scope)
	}
	if err != nil {
		return err
	}
	return SuccessResponse(c, plans)
}

func (h *HuntPlanHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "HuntPlanHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	var req models.CreateHuntPlanRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	result, err := h.service.Create(ctx, scope, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, result)
}

func (h *HuntPlanHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "HuntPlanHandler.Get")
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

	plan, err := h.service.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, plan)
}

func (h *HuntPlanHandler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "HuntPlanHandler.Update")
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
	var req models.UpdateHuntPlanRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	result, err := h.service.Update(ctx, scope, id, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *HuntPlanHandler) Deactivate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "HuntPlanHandler.Deactivate")
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

	result, err := h.service.Deactivate(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
