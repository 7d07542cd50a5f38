package load

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var (
	ErrDuplicateLoadNumber = errors.New("load number already in use")
	ErrDuplicateMatch      = errors.New("match already has a load")
)

var selectColumns = []string{
	"id", "tenant_id", "load_number", "match_id", "load_email_id", "vehicle_id", "carrier_id", "customer_id",
	"status", "financial_status", "carrier_approved", "rate", "carrier_rate", "truck_type_at_booking",
	"broker_name", "broker_email",
	`origin_city AS "origin.city"`, `origin_state AS "origin.state"`, `origin_zip AS "origin.zip"`,
	`origin_lat AS "origin.lat"`, `origin_lng AS "origin.lng"`,
	`destination_city AS "destination.city"`, `destination_state AS "destination.state"`,
	`destination_zip AS "destination.zip"`, `destination_lat AS "destination.lat"`, `destination_lng AS "destination.lng"`,
	"pickup_window_start", "pickup_window_end", "delivery_window_start", "delivery_window_end",
	"weight_lbs", "pieces", "equipment_type", "reference_numbers", "booked_by", "created_at", "updated_at",
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the load. A clash on load number returns ErrDuplicateLoadNumber and a second
// load for the same match returns ErrDuplicateMatch.
func (r *Repository) Create(ctx context.Context, l *models.Load) error {
	ctx, span := tracing.StartSpan(ctx, "load.Repository.Create")
	defer span.End()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.ReferenceNumbers == nil {
		l.ReferenceNumbers = pq.StringArray{}
	}
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt

	ib := database.NewInsertBuilder()
	ib.InsertInto("loads")
	ib.Cols(
		"id", "tenant_id", "load_number", "match_id", "load_email_id", "vehicle_id", "carrier_id", "customer_id",
		"status", "financial_status", "carrier_approved", "rate", "carrier_rate", "truck_type_at_booking",
		"broker_name", "broker_email",
		"origin_city", "origin_state", "origin_zip", "origin_lat", "origin_lng",
		"destination_city", "destination_state", "destination_zip", "destination_lat", "destination_lng",
		"pickup_window_start", "pickup_window_end", "delivery_window_start", "delivery_window_end",
		"weight_lbs", "pieces", "equipment_type", "reference_numbers", "booked_by", "created_at", "updated_at",
	)
	ib.Values(
		l.ID, l.TenantID, l.LoadNumber, l.MatchID, l.LoadEmailID, l.VehicleID, l.CarrierID, l.CustomerID,
		l.Status, l.FinancialStatus, l.CarrierApproved, l.Rate, l.CarrierRate, l.TruckTypeAtBooking,
		l.BrokerName, l.BrokerEmail,
		l.Origin.City, l.Origin.State, l.Origin.Zip, l.Origin.Lat, l.Origin.Lng,
		l.Destination.City, l.Destination.State, l.Destination.Zip, l.Destination.Lat, l.Destination.Lng,
		l.PickupWindowStart, l.PickupWindowEnd, l.DeliveryWindowStart, l.DeliveryWindowEnd,
		l.WeightLbs, l.Pieces, l.EquipmentType, l.ReferenceNumbers, l.BookedBy, l.CreatedAt, l.UpdatedAt,
	)

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		switch {
		case database.IsUniqueViolation(err, "uq_loads_load_number"):
			return ErrDuplicateLoadNumber
		case database.IsUniqueViolation(err, "uq_loads_match"):
			return ErrDuplicateMatch
		}
		r.logger.WithContext(ctx).WithError(err).WithField("match_id", l.MatchID).Error("Failed to create load")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create load")
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Load, error) {
	ctx, span := tracing.StartSpan(ctx, "load.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("loads")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var l models.Load
	if err := r.db.Conn(ctx).GetContext(ctx, &l, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("load", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("load_id", id).Error("Failed to get load")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get load")
	}

	return &l, nil
}

// GetByMatch returns the load booked from the match, or nil when none exists.
func (r *Repository) GetByMatch(ctx context.Context, tenantID, matchID string) (*models.Load, error) {
	ctx, span := tracing.StartSpan(ctx, "load.Repository.GetByMatch")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("loads")
	sb.Where(sb.Equal("match_id", matchID), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var l models.Load
	if err := r.db.Conn(ctx).GetContext(ctx, &l, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("match_id", matchID).Error("Failed to get load by match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get load")
	}

	return &l, nil
}

// UpdateFinancialStatus sets financial_status on every listed load. When status is non-empty the
// operational status is set as well.
func (r *Repository) UpdateFinancialStatus(ctx context.Context, tenantID string, ids []string, financialStatus, status string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "load.Repository.UpdateFinancialStatus")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update("loads")
	assignments := []string{
		ub.Assign("financial_status", financialStatus),
		ub.Assign("updated_at", time.Now().UTC()),
	}
	if status != "" {
		assignments = append(assignments, ub.Assign("status", status))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("tenant_id", tenantID), ub.In("id", database.Args(ids)...))

	query, args := ub.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update load financial status")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update loads")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
