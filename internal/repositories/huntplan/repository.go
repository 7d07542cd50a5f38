package huntplan

import (
	"context"
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

var selectColumns = []string{
	"id", "tenant_id", "vehicle_id", "name",
	`origin_city AS "origin.city"`, `origin_state AS "origin.state"`, `origin_zip AS "origin.zip"`,
	`origin_lat AS "origin.lat"`, `origin_lng AS "origin.lng"`,
	"radius_miles", "equipment_types", "available_feet", "max_weight_lbs",
	"available_from", "available_until", "active", "created_by", "created_at", "updated_at",
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

func (r *Repository) Create(ctx context.Context, plan *models.HuntPlan) (*models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Repository.Create")
	defer span.End()

	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.EquipmentTypes == nil {
		plan.EquipmentTypes = pq.StringArray{}
	}
	plan.CreatedAt = time.Now().UTC()
	plan.UpdatedAt = plan.CreatedAt

	ib := database.NewInsertBuilder()
	ib.InsertInto("hunt_plans")
	ib.Cols(
		"id", "tenant_id", "vehicle_id", "name",
		"origin_city", "origin_state", "origin_zip", "origin_lat", "origin_lng",
		"radius_miles", "equipment_types", "available_feet", "max_weight_lbs",
		"available_from", "available_until", "active", "created_by", "created_at", "updated_at",
	)
	ib.Values(
		plan.ID, plan.TenantID, plan.VehicleID, plan.Name,
		plan.Origin.City, plan.Origin.State, plan.Origin.Zip, plan.Origin.Lat, plan.Origin.Lng,
		plan.RadiusMiles, plan.EquipmentTypes, plan.AvailableFeet, plan.MaxWeightLbs,
		plan.AvailableFrom, plan.AvailableUntil, plan.Active, plan.CreatedBy, plan.CreatedAt, plan.UpdatedAt,
	)

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("vehicle_id", plan.VehicleID).Error("Failed to create hunt plan")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create hunt plan")
	}

	return plan, nil
}

// Update writes the mutable fields of plan back.
func (r *Repository) Update(ctx context.Context, plan *models.HuntPlan) (*models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Repository.Update")
	defer span.End()

	plan.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update("hunt_plans")
	ub.Set(
		ub.Assign("name", plan.Name),
		ub.Assign("origin_city", plan.Origin.City),
		ub.Assign("origin_state", plan.Origin.State),
		ub.Assign("origin_zip", plan.Origin.Zip),
		ub.Assign("origin_lat", plan.Origin.Lat),
		ub.Assign("origin_lng", plan.Origin.Lng),
		ub.Assign("radius_miles", plan.RadiusMiles),
		ub.Assign("equipment_types", plan.EquipmentTypes),
		ub.Assign("available_feet", plan.AvailableFeet),
		ub.Assign("max_weight_lbs", plan.MaxWeightLbs),
		ub.Assign("available_from", plan.AvailableFrom),
		ub.Assign("available_until", plan.AvailableUntil),
		ub.Assign("active", plan.Active),
		ub.Assign("updated_at", plan.UpdatedAt),
	)
	ub.Where(ub.Equal("id", plan.ID), ub.Equal("tenant_id", plan.TenantID))

	query, args := ub.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("hunt_plan_id", plan.ID).Error("Failed to update hunt plan")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update hunt plan")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, apperrors.NotFound("hunt plan", plan.ID)
	}

	return plan, nil
}

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("hunt_plans")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var plan models.HuntPlan
	if err := r.db.Conn(ctx).GetContext(ctx, &plan, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("hunt plan", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("hunt_plan_id", id).Error("Failed to get hunt plan")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get hunt plan")
	}

	return &plan, nil
}

// List returns the tenant's plans. activeOnly limits the result to plans currently hunting.
func (r *Repository) List(ctx context.Context, tenantID string, activeOnly bool) ([]models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("hunt_plans")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if activeOnly {
		where = append(where, sb.Equal("active", true))
	}
	sb.Where(where...)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var plans []models.HuntPlan
	if err := r.db.Conn(ctx).SelectContext(ctx, &plans, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list hunt plans")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list hunt plans")
	}

	return plans, nil
}
