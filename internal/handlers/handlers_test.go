package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sage/internal/handlers"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/projection"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

var testScope = tenancy.Scope{TenantID: uuid.New().String(), ActorID: "dispatcher-1"}

// newServer wires the handler behind the error renderer with a fixed scope.
func newServer(scope tenancy.Scope, register func(g *echo.Group)) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(getTestLogger())
	e.Use(middleware.Context(true))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(tenancy.WithScope(c.Request().Context(), scope)))
			return next(c)
		}
	})
	register(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type fakeEngine struct {
	target  models.MatchStatus
	payload models.TransitionPayload
	filter  models.MatchFilter
	matches []models.Match
	err     error
}

func (f *fakeEngine) Get(_ context.Context, _ tenancy.Scope, id string) (*models.Match, error) {
	return &models.Match{ID: id}, f.err
}

func (f *fakeEngine) List(_ context.Context, _ tenancy.Scope, filter models.MatchFilter) ([]models.Match, error) {
	f.filter = filter
	return f.matches, f.err
}

func (f *fakeEngine) Transition(_ context.Context, _ tenancy.Scope, id string, target models.MatchStatus, payload models.TransitionPayload) (*models.TransitionResult, error) {
	f.target, f.payload = target, payload
	if f.err != nil {
		return nil, f.err
	}
	return &models.TransitionResult{Match: &models.Match{ID: id, Status: target}}, nil
}

func (f *fakeEngine) ReReview(_ context.Context, _ tenancy.Scope, id string) (*models.TransitionResult, error) {
	return &models.TransitionResult{Match: &models.Match{ID: id, Status: models.MatchStatusUnreviewed}}, f.err
}

type fakeBooker struct {
	result   *models.BookingResult
	err      error
	resumeID string
}

func (f *fakeBooker) Book(context.Context, tenancy.Scope, string) (*models.BookingResult, error) {
	return f.result, f.err
}

func (f *fakeBooker) Resume(_ context.Context, _ tenancy.Scope, _, loadID string) (*models.BookingResult, error) {
	f.resumeID = loadID
	return f.result, f.err
}

type fakeCounts struct{ counts []projection.TenantCounts }

func (f fakeCounts) Counts(context.Context, tenancy.Scope) ([]projection.TenantCounts, error) {
	return f.counts, nil
}

func matchServer(engine *fakeEngine, booker *fakeBooker, counts fakeCounts, scope tenancy.Scope) *echo.Echo {
	h := handlers.NewMatchHandler(engine, booker, counts, getTestLogger())
	return newServer(scope, func(g *echo.Group) { h.Register(g.Group("/matches")) })
}

func TestMatchHandler_Transition(t *testing.T) {
	engine := &fakeEngine{}
	e := matchServer(engine, &fakeBooker{}, fakeCounts{}, testScope)
	id := uuid.New().String()

	rec := do(e, http.MethodPost, "/api/v1/matches/"+id+"/transition", `{"status":"bid","bid_rate":"1250.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.MatchStatusBid, engine.target)
	require.True(t, engine.payload.BidRate.Valid)
	assert.True(t, engine.payload.BidRate.Decimal.Equal(decimal.RequireFromString("1250.50")))

	rec = do(e, http.MethodPost, "/api/v1/matches/"+id+"/transition", `{"status":"booked"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "booking only goes through the booking route")

	rec = do(e, http.MethodPost, "/api/v1/matches/not-a-uuid/transition", `{"status":"skipped"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHandler_TransitionConflict(t *testing.T) {
	engine := &fakeEngine{err: apperrors.InvalidTransition("booked", "skipped")}
	e := matchServer(engine, &fakeBooker{}, fakeCounts{}, testScope)

	rec := do(e, http.MethodPost, "/api/v1/matches/"+uuid.New().String()+"/transition", `{"status":"skipped"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_transition", body.Meta["kind"])
}

func TestMatchHandler_ListFilters(t *testing.T) {
	postingID := uuid.New().String()
	engine := &fakeEngine{matches: []models.Match{
		{ID: "m1", PostingID: postingID},
		{ID: "m2", PostingID: postingID},
	}}
	e := matchServer(engine, &fakeBooker{}, fakeCounts{}, testScope)

	rec := do(e, http.MethodGet, "/api/v1/matches/grouped?status=unreviewed,bid&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.MatchStatus{models.MatchStatusUnreviewed, models.MatchStatusBid}, engine.filter.Statuses)
	assert.Equal(t, 20, engine.filter.Limit)

	var groups []models.PostingGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].MatchCount)

	rec = do(e, http.MethodGet, "/api/v1/matches?status=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHandler_Book(t *testing.T) {
	loadID := uuid.New().String()

	t.Run("new booking is created", func(t *testing.T) {
		booker := &fakeBooker{result: &models.BookingResult{Load: &models.Load{ID: loadID}}}
		e := matchServer(&fakeEngine{}, booker, fakeCounts{}, testScope)
		rec := do(e, http.MethodPost, "/api/v1/matches/"+uuid.New().String()+"/book", "")
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("partial failure carries the load id", func(t *testing.T) {
		matchID := uuid.New().String()
		booker := &fakeBooker{err: apperrors.PartialBookingFailure(matchID, loadID, assert.AnError)}
		e := matchServer(&fakeEngine{}, booker, fakeCounts{}, testScope)

		rec := do(e, http.MethodPost, "/api/v1/matches/"+matchID+"/book", "")
		assert.Equal(t, http.StatusConflict, rec.Code)

		var body middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, loadID, body.Meta["load_id"])
	})

	t.Run("resume", func(t *testing.T) {
		booker := &fakeBooker{result: &models.BookingResult{Load: &models.Load{ID: loadID}, Resumed: true}}
		e := matchServer(&fakeEngine{}, booker, fakeCounts{}, testScope)

		rec := do(e, http.MethodPost, "/api/v1/matches/"+uuid.New().String()+"/book/resume", `{"load_id":"`+loadID+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, loadID, booker.resumeID)

		rec = do(e, http.MethodPost, "/api/v1/matches/"+uuid.New().String()+"/book/resume", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMatchHandler_Counts(t *testing.T) {
	other := uuid.New().String()
	counts := fakeCounts{counts: []projection.TenantCounts{
		{TenantID: testScope.TenantID, Counts: map[models.MatchStatus]int64{models.MatchStatusBid: 2}, Total: 2},
		{TenantID: other, Counts: map[models.MatchStatus]int64{models.MatchStatusBid: 1}, Total: 1},
	}}

	e := matchServer(&fakeEngine{}, &fakeBooker{}, fakeCounts{counts: counts.counts[:1]}, testScope)
	rec := do(e, http.MethodGet, "/api/v1/matches/counts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var single projection.TenantCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, int64(2), single.Total)

	cross := testScope
	cross.CrossTenant = true
	e = matchServer(&fakeEngine{}, &fakeBooker{}, counts, cross)
	rec = do(e, http.MethodGet, "/api/v1/matches/counts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []projection.TenantCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

type fakeGuard struct {
	eligibility models.ReversalEligibility
	err         error
}

func (f fakeGuard) Check(context.Context, tenancy.Scope, string) (models.ReversalEligibility, error) {
	return f.eligibility, nil
}

func (f fakeGuard) Reverse(context.Context, tenancy.Scope, string) (*models.ReversalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReversalResult{AffectedLoadIDs: []string{}}, nil
}

func TestInvoiceHandler_SentInvoice(t *testing.T) {
	reason := `Invoice status is "sent"`
	guard := fakeGuard{
		eligibility: models.ReversalEligibility{Allowed: false, Reason: reason, RequiresFormalReversal: true},
		err:         apperrors.ReversalBlocked(reason, true),
	}
	h := handlers.NewInvoiceHandler(guard, getTestLogger())
	e := newServer(testScope, func(g *echo.Group) { h.Register(g.Group("/invoices")) })
	id := uuid.New().String()

	rec := do(e, http.MethodGet, "/api/v1/invoices/"+id+"/reversibility", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var eligibility models.ReversalEligibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eligibility))
	assert.Equal(t, guard.eligibility, eligibility)

	rec = do(e, http.MethodPost, "/api/v1/invoices/"+id+"/reverse", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, reason, body.Message)
	assert.Equal(t, true, body.Meta["requires_formal_reversal"])
}

func TestHandlers_RequireScope(t *testing.T) {
	h := handlers.NewInvoiceHandler(fakeGuard{}, getTestLogger())
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(getTestLogger())
	h.Register(e.Group("/api/v1/invoices"))

	rec := do(e, http.MethodGet, "/api/v1/invoices/"+uuid.New().String()+"/reversibility", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
