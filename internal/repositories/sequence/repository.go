package sequence

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Repository hands out per-tenant, per-prefix counters.
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

// Next atomically increments the counter for prefix and returns the new value. The first call
// for a prefix returns 1.
func (r *Repository) Next(ctx context.Context, tenantID, prefix string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sequence.Repository.Next")
	defer span.End()

	query := `
		INSERT INTO load_number_sequences (tenant_id, prefix, last_value, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (tenant_id, prefix)
		DO UPDATE SET last_value = load_number_sequences.last_value + 1, updated_at = EXCLUDED.updated_at
		RETURNING last_value`

	var value int
	if err := r.db.Conn(ctx).GetContext(ctx, &value, query, tenantID, prefix, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"prefix":    prefix,
		}).Error("Failed to increment sequence")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to generate load number")
	}

	return value, nil
}

// Advance moves the counter for prefix to at least value, so the next call to Next returns a
// larger number. It never moves the counter backwards.
func (r *Repository) Advance(ctx context.Context, tenantID, prefix string, value int) error {
	ctx, span := tracing.StartSpan(ctx, "sequence.Repository.Advance")
	defer span.End()

	query := `
		INSERT INTO load_number_sequences (tenant_id, prefix, last_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, prefix)
		DO UPDATE SET last_value = GREATEST(load_number_sequences.last_value, EXCLUDED.last_value), updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, tenantID, prefix, value, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"prefix":    prefix,
			"value":     value,
		}).Error("Failed to advance sequence")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance load number sequence")
	}

	return nil
}
