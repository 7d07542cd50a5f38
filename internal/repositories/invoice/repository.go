package invoice

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var selectColumns = []string{
	"id", "tenant_id", "invoice_number", "customer_id", "status", "total", "amount_paid",
	"otr_submitted_at", "created_at", "updated_at",
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

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.Get")
	defer span.End()

	return r.get(ctx, tenantID, id, false)
}

// GetForUpdate locks the invoice row for the caller's transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tenantID, id string) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, tenantID, id, true)
}

func (r *Repository) get(ctx context.Context, tenantID, id string, lock bool) (*models.Invoice, error) {
	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("invoices")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	if lock {
		query = database.ForUpdate(query)
	}

	var inv models.Invoice
	if err := r.db.Conn(ctx).GetContext(ctx, &inv, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("invoice", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("invoice_id", id).Error("Failed to get invoice")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get invoice")
	}

	return &inv, nil
}

// LatestDeliveryLog returns the most recent email delivery attempt, or nil when none exists.
func (r *Repository) LatestDeliveryLog(ctx context.Context, tenantID, invoiceID string) (*models.InvoiceDeliveryLog, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.LatestDeliveryLog")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "tenant_id", "invoice_id", "status", "recipient", "created_at")
	sb.From("invoice_delivery_logs")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("invoice_id", invoiceID))
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var entry models.InvoiceDeliveryLog
	if err := r.db.Conn(ctx).GetContext(ctx, &entry, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("invoice_id", invoiceID).Error("Failed to get invoice delivery log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get invoice delivery log")
	}

	return &entry, nil
}

func (r *Repository) ListLoadIDs(ctx context.Context, tenantID, invoiceID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.ListLoadIDs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("load_id")
	sb.From("invoice_loads")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("invoice_id", invoiceID))
	sb.OrderBy("created_at", "load_id")

	query, args := sb.Build()
	ids := []string{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("invoice_id", invoiceID).Error("Failed to list invoice loads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list invoice loads")
	}

	return ids, nil
}

func (r *Repository) DeleteLoadLinks(ctx context.Context, tenantID, invoiceID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.DeleteLoadLinks")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("invoice_loads")
	db.Where(db.Equal("tenant_id", tenantID), db.Equal("invoice_id", invoiceID))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("invoice_id", invoiceID).Error("Failed to delete invoice load links")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to unlink invoice loads")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, tenantID, invoiceID string, status models.InvoiceStatus) error {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("invoices")
	ub.Set(ub.Assign("status", status), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", invoiceID), ub.Equal("tenant_id", tenantID))

	query, args := ub.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("invoice_id", invoiceID).Error("Failed to update invoice status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update invoice")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("invoice", invoiceID)
	}

	return nil
}
