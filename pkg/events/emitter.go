// Package events publishes dispatch lifecycle events.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const SchemaVersion = "1.0"

const (
	EventTypeMatchesCreated    = "matches.created"
	EventTypeMatchTransitioned = "match.transitioned"
	EventTypeLoadBooked        = "load.booked"
	EventTypeInvoiceReversed   = "invoice.reversed"
	EventTypePostingIngested   = "posting.ingested"
)

type Publisher interface {
	Publish(ctx context.Context, events ...*kafka.Event) error
}

// Emitter builds typed events. Publishing failures are logged and returned; callers treat them
// as non-fatal.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) PostingIngested(ctx context.Context, posting *models.LoadPosting, matchCount int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.PostingIngested")
	defer span.End()

	return e.emit(ctx, newEvent(EventTypePostingIngested, posting.TenantID, posting.ID, models.EntityTypePosting, "", map[string]any{
		"source_message_id": posting.SourceMessageID,
		"is_update":         posting.IsUpdate,
		"match_count":       matchCount,
	}))
}

func (e *Emitter) MatchesCreated(ctx context.Context, matches []models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchesCreated")
	defer span.End()

	batch := make([]*kafka.Event, 0, len(matches))
	for _, m := range matches {
		batch = append(batch, newEvent(EventTypeMatchesCreated, m.TenantID, m.ID, models.EntityTypeMatch, "", map[string]any{
			"posting_id":     m.PostingID,
			"vehicle_id":     m.VehicleID,
			"hunt_plan_id":   m.HuntPlanID,
			"distance_miles": m.DistanceMiles,
		}))
	}
	return e.emit(ctx, batch...)
}

func (e *Emitter) MatchesTransitioned(ctx context.Context, actorID string, transitions ...models.StatusTransition) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchesTransitioned")
	defer span.End()

	batch := make([]*kafka.Event, 0, len(transitions))
	for _, t := range transitions {
		batch = append(batch, newEvent(EventTypeMatchTransitioned, t.TenantID, t.MatchID, models.EntityTypeMatch, actorID, map[string]any{
			"from": t.From,
			"to":   t.To,
		}))
	}
	return e.emit(ctx, batch...)
}

func (e *Emitter) LoadBooked(ctx context.Context, actorID string, load *models.Load) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.LoadBooked")
	defer span.End()

	return e.emit(ctx, newEvent(EventTypeLoadBooked, load.TenantID, load.ID, models.EntityTypeLoad, actorID, map[string]any{
		"load_number":      load.LoadNumber,
		"match_id":         load.MatchID,
		"vehicle_id":       load.VehicleID,
		"status":           load.Status,
		"carrier_approved": load.CarrierApproved,
		"rate":             load.Rate,
		"carrier_rate":     load.CarrierRate,
	}))
}

func (e *Emitter) InvoiceReversed(ctx context.Context, actorID string, result *models.ReversalResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.InvoiceReversed")
	defer span.End()

	inv := result.Invoice
	return e.emit(ctx, newEvent(EventTypeInvoiceReversed, inv.TenantID, inv.ID, models.EntityTypeInvoice, actorID, map[string]any{
		"invoice_number":    inv.InvoiceNumber,
		"affected_load_ids": result.AffectedLoadIDs,
	}))
}

func (e *Emitter) emit(ctx context.Context, batch ...*kafka.Event) error {
	if e == nil || e.publisher == nil || len(batch) == 0 {
		return nil
	}
	if err := e.publisher.Publish(ctx, batch...); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", batch[0].EventType).Error("Failed to emit event")
		return err
	}
	return nil
}

func newEvent(eventType, tenantID, entityID, entityType, actorID string, data map[string]any) *kafka.Event {
	raw, _ := json.Marshal(data)
	return &kafka.Event{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      tenantID,
		EntityID:      entityID,
		EntityType:    entityType,
		ActorID:       actorID,
		Data:          raw,
	}
}
