package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type ReversalGuard interface {
	Check(ctx context.Context, scope tenancy.Scope, invoiceID string) (models.ReversalEligibility, error)
	Reverse(ctx context.Context, scope tenancy.Scope, invoiceID string) (*models.ReversalResult, error)
}

// InvoiceHandler exposes invoice reversal
type InvoiceHandler struct {
	guard  ReversalGuard
	logger ectologger.Logger
}

func NewInvoiceHandler(guard ReversalGuard, logger ectologger.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		guard:  guard,
		logger: logger,
	}
}

func (h *InvoiceHandler) Register(g *echo.Group) {
	g.GET("/:id/reversibility", h.Reversibility)
	g.POST("/:id/reverse", h.Reverse)
}

func (h *InvoiceHandler) Reversibility(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "InvoiceHandler.Reversibility")
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

	eligibility, err := h.guard.Check(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, eligibility)
}

func (h *InvoiceHandler) Reverse(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "InvoiceHandler.Reverse")
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

	result, err := h.guard.Reverse(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
