package customer

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

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

// FindByName matches case-insensitively. A miss returns nil, nil.
func (r *Repository) FindByName(ctx context.Context, tenantID, name string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.FindByName")
	defer span.End()

	return r.findOne(ctx, `SELECT id, tenant_id, name, email, created_at FROM customers
		WHERE tenant_id = $1 AND lower(name) = lower($2) ORDER BY created_at LIMIT 1`, tenantID, name)
}

// FindByEmail matches case-insensitively. A miss returns nil, nil.
func (r *Repository) FindByEmail(ctx context.Context, tenantID, email string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.FindByEmail")
	defer span.End()

	return r.findOne(ctx, `SELECT id, tenant_id, name, email, created_at FROM customers
		WHERE tenant_id = $1 AND lower(email) = lower($2) ORDER BY created_at LIMIT 1`, tenantID, email)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.Conn(ctx).GetContext(ctx, &c, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find customer")
	}
	return &c, nil
}
