// Package invoicing guards the reversal of an invoice back to a pre-invoiced state. A reversal
// is only possible while the invoice is still internal: not sent, unpaid, not factored and not
// emailed.
package invoicing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sage/pkg/audit"
	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var (
	blockedStatuses = []models.InvoiceStatus{
		models.InvoiceStatusPaid,
		models.InvoiceStatusOverdue,
		models.InvoiceStatusCancelled,
		models.InvoiceStatusSent,
	}
	blockedDeliveryStatuses = []models.DeliveryLogStatus{
		models.DeliveryLogStatusSent,
		models.DeliveryLogStatusDelivered,
	}
)

// CanReverse decides whether invoice may still be reversed internally. lastDelivery is the most
// recent delivery log entry, or nil. The first failing check supplies the reason.
func CanReverse(invoice *models.Invoice, lastDelivery *models.InvoiceDeliveryLog) models.ReversalEligibility {
	blocked := func(reason string) models.ReversalEligibility {
		return models.ReversalEligibility{Allowed: false, Reason: reason, RequiresFormalReversal: true}
	}

	if ectolinq.Contains(blockedStatuses, invoice.Status) {
		return blocked(fmt.Sprintf("Invoice status is %q", string(invoice.Status)))
	}
	if invoice.AmountPaid.GreaterThan(decimal.Zero) {
		return blocked(fmt.Sprintf("Invoice has payments recorded ($%s)", invoice.AmountPaid.StringFixed(2)))
	}
	if invoice.OTRSubmittedAt != nil {
		return blocked(fmt.Sprintf("Invoice was submitted to OTR factoring on %s", invoice.OTRSubmittedAt.UTC().Format("2006-01-02")))
	}
	if lastDelivery != nil && ectolinq.Contains(blockedDeliveryStatuses, lastDelivery.Status) {
		return blocked(fmt.Sprintf("Invoice email was already %s", lastDelivery.Status))
	}

	return models.ReversalEligibility{Allowed: true}
}

// ReversalPolicy controls whether a reversal also restores the loads' operational status. By
// default only the financial status changes.
type ReversalPolicy struct {
	RestoreLoadStatus  bool
	RestoredLoadStatus string
}

func DefaultReversalPolicy() ReversalPolicy {
	return ReversalPolicy{
		RestoreLoadStatus:  false,
		RestoredLoadStatus: models.LoadStatusPendingDispatch,
	}
}

type InvoiceStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Invoice, error)
	GetForUpdate(ctx context.Context, tenantID, id string) (*models.Invoice, error)
	LatestDeliveryLog(ctx context.Context, tenantID, invoiceID string) (*models.InvoiceDeliveryLog, error)
	ListLoadIDs(ctx context.Context, tenantID, invoiceID string) ([]string, error)
	DeleteLoadLinks(ctx context.Context, tenantID, invoiceID string) (int64, error)
	UpdateStatus(ctx context.Context, tenantID, invoiceID string, status models.InvoiceStatus) error
}

type LoadStore interface {
	UpdateFinancialStatus(ctx context.Context, tenantID string, ids []string, financialStatus, status string) (int64, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entries ...models.AuditLogEntry) error
}

type EventEmitter interface {
	InvoiceReversed(ctx context.Context, actorID string, result *models.ReversalResult) error
}

type Guard struct {
	invoices InvoiceStore
	loads    LoadStore
	tx       database.Transactor
	audit    AuditRecorder
	events   EventEmitter
	policy   ReversalPolicy
	logger   ectologger.Logger
}

func NewGuard(invoices InvoiceStore, loads LoadStore, tx database.Transactor, auditRecorder AuditRecorder, events EventEmitter, policy ReversalPolicy, logger ectologger.Logger) *Guard {
	if policy.RestoredLoadStatus == "" {
		policy.RestoredLoadStatus = DefaultReversalPolicy().RestoredLoadStatus
	}
	return &Guard{
		invoices: invoices,
		loads:    loads,
		tx:       tx,
		audit:    auditRecorder,
		events:   events,
		policy:   policy,
		logger:   logger,
	}
}

// Check reports whether the invoice can be reversed right now. Nothing is locked.
func (g *Guard) Check(ctx context.Context, scope tenancy.Scope, invoiceID string) (models.ReversalEligibility, error) {
	ctx, span := tracing.StartSpan(ctx, "invoicing.Guard.Check")
	defer span.End()

	if err := scope.Require(); err != nil {
		return models.ReversalEligibility{}, err
	}

	invoice, err := g.invoices.Get(ctx, scope.TenantID, invoiceID)
	if err != nil {
		return models.ReversalEligibility{}, err
	}
	if err := scope.Owns(invoice.TenantID); err != nil {
		return models.ReversalEligibility{}, err
	}

	lastDelivery, err := g.invoices.LatestDeliveryLog(ctx, scope.TenantID, invoiceID)
	if err != nil {
		return models.ReversalEligibility{}, err
	}

	return CanReverse(invoice, lastDelivery), nil
}

type reversalSnapshot struct {
	InvoiceNumber   string               `json:"invoice_number"`
	Status          models.InvoiceStatus `json:"status"`
	AffectedLoadIDs []string             `json:"affected_load_ids"`
	RestoredStatus  string               `json:"restored_load_status,omitempty"`
}

// Reverse unlinks the invoice's loads, returns them to pending_invoice and cancels the invoice,
// all in one transaction with the invoice row locked. A blocked reversal changes nothing.
func (g *Guard) Reverse(ctx context.Context, scope tenancy.Scope, invoiceID string) (*models.ReversalResult, error) {
	ctx, span := tracing.StartSpan(ctx, "invoicing.Guard.Reverse")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	var (
		before models.Invoice
		result *models.ReversalResult
	)
	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		invoice, err := g.invoices.GetForUpdate(ctx, scope.TenantID, invoiceID)
		if err != nil {
			return err
		}
		if err := scope.Owns(invoice.TenantID); err != nil {
			return err
		}

		lastDelivery, err := g.invoices.LatestDeliveryLog(ctx, scope.TenantID, invoiceID)
		if err != nil {
			return err
		}
		eligibility := CanReverse(invoice, lastDelivery)
		if !eligibility.Allowed {
			return apperrors.ReversalBlocked(eligibility.Reason, eligibility.RequiresFormalReversal).With("invoice_id", invoiceID)
		}
		before = *invoice

		loadIDs, err := g.invoices.ListLoadIDs(ctx, scope.TenantID, invoiceID)
		if err != nil {
			return err
		}

		// links go first so a cancelled invoice never references invoiced loads
		if _, err := g.invoices.DeleteLoadLinks(ctx, scope.TenantID, invoiceID); err != nil {
			return err
		}

		restored := ""
		if g.policy.RestoreLoadStatus {
			restored = g.policy.RestoredLoadStatus
		}
		if len(loadIDs) > 0 {
			if _, err := g.loads.UpdateFinancialStatus(ctx, scope.TenantID, loadIDs, models.FinancialStatusPendingInvoice, restored); err != nil {
				return err
			}
		}

		if err := g.invoices.UpdateStatus(ctx, scope.TenantID, invoiceID, models.InvoiceStatusCancelled); err != nil {
			return err
		}

		after := *invoice
		after.Status = models.InvoiceStatusCancelled
		result = &models.ReversalResult{
			Invoice:         &after,
			AffectedLoadIDs: loadIDs,
			RestoredStatus:  restored,
		}
		return nil
	})
	if err != nil {
		metrics.InvoiceReversalsTotal.WithLabelValues(reversalOutcome(err)).Inc()
		return nil, err
	}

	entry := audit.Entry(scope.TenantID, scope.ActorID, models.EntityTypeInvoice, invoiceID, audit.ActionInvoiceReversed,
		reversalSnapshot{InvoiceNumber: before.InvoiceNumber, Status: before.Status, AffectedLoadIDs: result.AffectedLoadIDs},
		reversalSnapshot{
			InvoiceNumber:   result.Invoice.InvoiceNumber,
			Status:          result.Invoice.Status,
			AffectedLoadIDs: result.AffectedLoadIDs,
			RestoredStatus:  result.RestoredStatus,
		},
	)
	if err := g.audit.Record(ctx, entry); err != nil {
		result.Degraded = true
	}

	if g.events != nil {
		_ = g.events.InvoiceReversed(ctx, scope.ActorID, result)
	}

	metrics.InvoiceReversalsTotal.WithLabelValues(ectolinq.Ternary(result.Degraded, "degraded", "reversed")).Inc()
	g.logger.WithContext(ctx).WithFields(map[string]any{
		"invoice_id":     invoiceID,
		"invoice_number": before.InvoiceNumber,
		"load_count":     len(result.AffectedLoadIDs),
	}).Info("Reversed invoice")
	return result, nil
}

func reversalOutcome(err error) string {
	if e, ok := apperrors.As(err); ok && e.Kind == apperrors.KindReversalBlocked {
		return "blocked"
	}
	return "error"
}
