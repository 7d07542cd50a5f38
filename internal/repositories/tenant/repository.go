package tenant

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Repository reads tenant memberships. Writes belong to the tenant mapping admin tool.
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

func (r *Repository) ListMemberships(ctx context.Context, userID string) ([]models.TenantMembership, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.ListMemberships")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("tenant_id", "user_id", "role", "is_default")
	sb.From("tenant_memberships")
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var memberships []models.TenantMembership
	if err := r.db.Conn(ctx).SelectContext(ctx, &memberships, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to list tenant memberships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve tenant")
	}

	return memberships, nil
}

func (r *Repository) HasPlatformGrant(ctx context.Context, userID, grant string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "tenant.Repository.HasPlatformGrant")
	defer span.End()

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM platform_grants WHERE user_id = $1 AND grant_name = $2)`
	if err := r.db.Conn(ctx).GetContext(ctx, &exists, query, userID, grant); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to check platform grant")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve tenant")
	}

	return exists, nil
}
