package vehicle

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var selectColumns = []string{
	"id", "tenant_id", "unit_number", "truck_type", "equipment_type", "contractor_percentage",
	"requires_load_approval", "carrier_id", "max_weight_lbs", "active", "created_at", "updated_at",
}

// Repository reads vehicles. Fleet management owns the writes.
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

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("vehicles")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var v models.Vehicle
	if err := r.db.Conn(ctx).GetContext(ctx, &v, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("vehicle", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("vehicle_id", id).Error("Failed to get vehicle")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get vehicle")
	}

	return &v, nil
}

// GetMany returns the tenant's vehicles keyed by id. Unknown ids are omitted.
func (r *Repository) GetMany(ctx context.Context, tenantID string, ids []string) (map[string]*models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.GetMany")
	defer span.End()

	result := make(map[string]*models.Vehicle, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("vehicles")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.In("id", database.Args(ids)...))

	query, args := sb.Build()
	var vehicles []models.Vehicle
	if err := r.db.Conn(ctx).SelectContext(ctx, &vehicles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list vehicles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vehicles")
	}

	for i := range vehicles {
		result[vehicles[i].ID] = &vehicles[i]
	}
	return result, nil
}
