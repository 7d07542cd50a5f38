package audit

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

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

// Insert appends entries in one statement. Errors are returned raw; the recorder classifies them.
func (r *Repository) Insert(ctx context.Context, entries ...models.AuditLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.Insert")
	defer span.End()

	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("audit_log")
	ib.Cols("id", "tenant_id", "entity_type", "entity_id", "action", "before", "after", "actor_id", "created_at")
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		ib.Values(e.ID, e.TenantID, e.EntityType, e.EntityID, e.Action, nullableJSON(e.Before), nullableJSON(e.After), e.ActorID, e.CreatedAt)
	}

	query, args := ib.Build()
	_, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	return err
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
