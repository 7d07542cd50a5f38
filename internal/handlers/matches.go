package handlers

import (
	"context"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/projection"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type MatchEngine interface {
	Get(ctx context.Context, scope tenancy.Scope, matchID string) (*models.Match, error)
	List(ctx context.Context, scope tenancy.Scope, filter models.MatchFilter) ([]models.Match, error)
	Transition(ctx context.Context, scope tenancy.Scope, matchID string, target models.MatchStatus, payload models.TransitionPayload) (*models.TransitionResult, error)
	ReReview(ctx context.Context, scope tenancy.Scope, matchID string) (*models.TransitionResult, error)
}

type Booker interface {
	Book(ctx context.Context, scope tenancy.Scope, matchID string) (*models.BookingResult, error)
	Resume(ctx context.Context, scope tenancy.Scope, matchID, loadID string) (*models.BookingResult, error)
}

type CountReader interface {
	Counts(ctx context.Context, scope tenancy.Scope) ([]projection.TenantCounts, error)
}

// MatchHandler handles match review, booking and count endpoints
type MatchHandler struct {
	engine MatchEngine
	booker Booker
	counts CountReader
	logger ectologger.Logger
}

func NewMatchHandler(engine MatchEngine, booker Booker, counts CountReader, logger ectologger.Logger) *MatchHandler {
	return &MatchHandler{
		engine: engine,
		booker: booker,
		counts: counts,
		logger: logger,
	}
}

func (h *MatchHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/grouped", h.Grouped)
	g.GET("/counts", h.Counts)
	g.GET("/:id", h.Get)
	g.POST("/:id/transition", h.Transition)
	g.POST("/:id/re-review", h.ReReview)
	g.POST("/:id/book", h.Book)
	g.POST("/:id/book/resume", h.Resume)
}

// filter reads ?status=a,b&posting_id=&vehicle_id=&limit=&offset=
func (h *MatchHandler) filter(c echo.Context) (models.MatchFilter, error) {
	filter := models.MatchFilter{
		PostingID: c.QueryParam("posting_id"),
		VehicleID: c.QueryParam("vehicle_id"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.MatchStatus(strings.TrimSpace(s))
			if !status.Valid() {
				return filter, BadRequest("invalid status: " + string(status))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	var err error
	if filter.Limit, err = QueryInt(c, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = QueryInt(c, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *MatchHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	filter, err := h.filter(c)
	if err != nil {
		return err
	}

	matches, err := h.engine.List(ctx, scope, filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, matches)
}

// Grouped returns the same listing grouped by posting for display
func (h *MatchHandler) Grouped(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Grouped")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}
	filter, err := h.filter(c)
	if err != nil {
		return err
	}

	matches, err := h.engine.List(ctx, scope, filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, matching.GroupByPosting(matches))
}

func (h *MatchHandler) Counts(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Counts")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	scope, err := Scope(c)
	if err != nil {
		return err
	}

	counts, err := h.counts.Counts(ctx, scope)
	if err != nil {
		return err
	}
	if !scope.CrossTenant {
		// a single tenant reads one object, not a list
		tenantCounts := ectolinq.Filter(counts, func(tc projection.TenantCounts) bool { return tc.TenantID == scope.TenantID })
		if len(tenantCounts) == 1 {
			return SuccessResponse(c, tenantCounts[0])
		}
	}
	return SuccessResponse(c, counts)
}

func (h *MatchHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Get")
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

	match, err := h.engine.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, match)
}

// Transition applies a reviewer decision: skipped, waitlist or bid. Booking has its own route.
func (h *MatchHandler) Transition(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Transition")
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
	var req models.TransitionRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	payload := models.TransitionPayload{
		BidBy: req.BidBy,
		Notes: req.Notes,
	}
	if req.BidRate != nil {
		payload.BidRate = decimal.NewNullDecimal(*req.BidRate)
	}

	result, err := h.engine.Transition(ctx, scope, id, req.Status, payload)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *MatchHandler) ReReview(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.ReReview")
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

	result, err := h.engine.ReReview(ctx, scope, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *MatchHandler) Book(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Book")
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

	result, err := h.booker.Book(ctx, scope, id)
	if err != nil {
		return err
	}
	if result.AlreadyBooked || result.Resumed {
		return SuccessResponse(c, result)
	}
	return CreatedResponse(c, result)
}

// Resume finishes a booking whose load was created but whose match was not linked
func (h *MatchHandler) Resume(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Resume")
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
	var req models.ResumeBookingRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	result, err := h.booker.Resume(ctx, scope, id, req.LoadID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
