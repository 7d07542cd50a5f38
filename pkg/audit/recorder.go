// Package audit writes append-only audit entries for state-changing operations.
package audit

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
)

const (
	ActionMatchTransition = "match.transition"
	ActionMatchReReview   = "match.re_review"
	ActionMatchExpired    = "match.expired"
	ActionLoadBooked      = "load.booked"
	ActionInvoiceReversed = "invoice.reversed"
	ActionHuntPlanChanged = "hunt_plan.changed"
)

type Store interface {
	Insert(ctx context.Context, entries ...models.AuditLogEntry) error
}

type Recorder struct {
	store  Store
	logger ectologger.Logger
}

func NewRecorder(store Store, logger ectologger.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
	}
}

// Record writes the entries. A failure is logged, counted and returned as an
// AuditLogWriteFailure; the caller decides whether the surrounding operation degrades.
func (r *Recorder) Record(ctx context.Context, entries ...models.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if err := r.store.Insert(ctx, entries...); err != nil {
		action := entries[0].Action
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":      action,
			"entity_type": entries[0].EntityType,
			"entity_id":   entries[0].EntityID,
			"entries":     len(entries),
		}).Error("Failed to write audit log")
		metrics.AuditWriteFailuresTotal.WithLabelValues(entries[0].EntityType).Add(float64(len(entries)))
		return apperrors.AuditLogWriteFailure(action, err)
	}

	return nil
}

// Entry builds an audit entry, encoding before and after as JSON. Nil snapshots are omitted.
func Entry(tenantID, actorID, entityType, entityID, action string, before, after any) models.AuditLogEntry {
	return models.AuditLogEntry{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     snapshot(before),
		After:      snapshot(after),
		ActorID:    actorID,
	}
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
