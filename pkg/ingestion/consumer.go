package ingestion

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

type Ingester interface {
	Ingest(ctx context.Context, scope tenancy.Scope, parsed models.ParsedPosting) (*models.IngestResult, error)
}

// MessageHandler adapts parsed-posting messages to Ingest. The tenant comes from the tenant_id
// header. Messages that can never be ingested are reported as kafka.ErrPermanent so the consumer
// commits past them; everything else is retried by redelivery.
func MessageHandler(ingester Ingester, logger ectologger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.IncomingMessage) error {
		log := logger.WithContext(ctx).WithFields(map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})

		tenantID := msg.TenantID()
		if _, err := uuid.Parse(tenantID); err != nil {
			log.WithField("tenant_id", tenantID).Warn("Parsed posting has no usable tenant header")
			return errors.Wrap(kafka.ErrPermanent, "missing or malformed tenant_id header")
		}

		var parsed models.ParsedPosting
		if err := json.Unmarshal(msg.Value, &parsed); err != nil {
			log.WithError(err).Warn("Parsed posting is not valid JSON")
			return errors.Wrap(kafka.ErrPermanent, err.Error())
		}
		if parsed.SourceMessageID == "" {
			parsed.SourceMessageID = msg.Key
		}

		_, err := ingester.Ingest(ctx, tenancy.System(tenantID), parsed)
		if err == nil {
			return nil
		}
		if apperrors.Is(err, apperrors.KindValidation) || apperrors.Is(err, apperrors.KindTenantScopeViolation) {
			return errors.Wrap(kafka.ErrPermanent, err.Error())
		}
		return err
	}
}
