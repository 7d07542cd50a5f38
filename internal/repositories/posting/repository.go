package posting

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var selectColumns = []string{
	"id", "tenant_id", "source_channel", "source_message_id", "sender", "subject", "raw_body",
	"broker_name", "broker_email", "status", "failure_reason", "is_update", "assigned_load_id",
	`origin_city AS "origin.city"`, `origin_state AS "origin.state"`, `origin_zip AS "origin.zip"`,
	`origin_lat AS "origin.lat"`, `origin_lng AS "origin.lng"`,
	`destination_city AS "destination.city"`, `destination_state AS "destination.state"`,
	`destination_zip AS "destination.zip"`, `destination_lat AS "destination.lat"`, `destination_lng AS "destination.lng"`,
	"pickup_window_start", "pickup_window_end", "delivery_window_start", "delivery_window_end",
	"rate", "weight_lbs", "pieces", "length_feet", "equipment_type", "reference_numbers",
	"received_at", "expires_at", "created_at", "updated_at",
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

// Create inserts a posting unless one with the same source message already exists for the
// tenant, in which case the stored posting is returned with duplicate=true.
func (r *Repository) Create(ctx context.Context, p *models.LoadPosting) (*models.LoadPosting, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.Create")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PostingStatusNew
	}
	if p.ReferenceNumbers == nil {
		p.ReferenceNumbers = pq.StringArray{}
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	ib := database.NewInsertBuilder()
	ib.InsertInto("load_postings")
	ib.Cols(
		"id", "tenant_id", "source_channel", "source_message_id", "sender", "subject", "raw_body",
		"broker_name", "broker_email", "status", "failure_reason", "is_update",
		"origin_city", "origin_state", "origin_zip", "origin_lat", "origin_lng",
		"destination_city", "destination_state", "destination_zip", "destination_lat", "destination_lng",
		"pickup_window_start", "pickup_window_end", "delivery_window_start", "delivery_window_end",
		"rate", "weight_lbs", "pieces", "length_feet", "equipment_type", "reference_numbers",
		"received_at", "expires_at", "created_at", "updated_at",
	)
	ib.Values(
		p.ID, p.TenantID, p.SourceChannel, p.SourceMessageID, p.Sender, p.Subject, p.RawBody,
		p.BrokerName, p.BrokerEmail, p.Status, p.FailureReason, p.IsUpdate,
		p.Origin.City, p.Origin.State, p.Origin.Zip, p.Origin.Lat, p.Origin.Lng,
		p.Destination.City, p.Destination.State, p.Destination.Zip, p.Destination.Lat, p.Destination.Lng,
		p.PickupWindowStart, p.PickupWindowEnd, p.DeliveryWindowStart, p.DeliveryWindowEnd,
		p.Rate, p.WeightLbs, p.Pieces, p.LengthFeet, p.EquipmentType, p.ReferenceNumbers,
		p.ReceivedAt, p.ExpiresAt, p.CreatedAt, p.UpdatedAt,
	)

	query, args := ib.Build()
	query = database.Returning(database.OnConflictDoNothing(query, "tenant_id", "source_message_id"), "id")

	var id string
	err := r.db.Conn(ctx).GetContext(ctx, &id, query, args...)
	if database.IsNoRows(err) {
		existing, err := r.GetBySourceMessage(ctx, p.TenantID, p.SourceMessageID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id":         p.TenantID,
			"source_message_id": p.SourceMessageID,
		}).Error("Failed to create load posting")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create load posting")
	}

	return p, false, nil
}

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("load_postings")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	return r.getOne(ctx, sb.Build)
}

func (r *Repository) GetBySourceMessage(ctx context.Context, tenantID, sourceMessageID string) (*models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.GetBySourceMessage")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("load_postings")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("source_message_id", sourceMessageID))

	return r.getOne(ctx, sb.Build)
}

func (r *Repository) getOne(ctx context.Context, build func() (string, []any)) (*models.LoadPosting, error) {
	query, args := build()
	var p models.LoadPosting
	if err := r.db.Conn(ctx).GetContext(ctx, &p, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.New(apperrors.KindNotFound, "load posting not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get load posting")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get load posting")
	}
	return &p, nil
}

// List returns the tenant's postings, newest first.
func (r *Repository) List(ctx context.Context, tenantID string, status models.PostingStatus, limit, offset int) ([]models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.List")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("load_postings")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if status != "" {
		where = append(where, sb.Equal("status", status))
	}
	sb.Where(where...)
	sb.OrderBy("received_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var postings []models.LoadPosting
	if err := r.db.Conn(ctx).SelectContext(ctx, &postings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list load postings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list load postings")
	}

	return postings, nil
}

// SeenRecently reports whether the broker already sent a posting sharing a reference number
// since the given time.
func (r *Repository) SeenRecently(ctx context.Context, tenantID, brokerEmail string, references []string, since time.Time, excludeID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.SeenRecently")
	defer span.End()

	if brokerEmail == "" || len(references) == 0 {
		return false, nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM load_postings
			WHERE tenant_id = $1
			AND lower(broker_email) = lower($2)
			AND reference_numbers && $3
			AND received_at >= $4
			AND id <> $5
		)`

	var seen bool
	if err := r.db.Conn(ctx).GetContext(ctx, &seen, query, tenantID, brokerEmail, pq.Array(references), since, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check for earlier postings")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check for earlier postings")
	}

	return seen, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, status models.PostingStatus, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("load_postings")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("failure_reason", reason),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id), ub.Equal("tenant_id", tenantID))

	query, args := ub.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("posting_id", id).Error("Failed to update load posting status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update load posting")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("load posting", id)
	}

	return nil
}

// AssignLoad links the posting to a load. Re-linking the same load is a no-op; a posting
// already linked to another load fails.
func (r *Repository) AssignLoad(ctx context.Context, tenantID, postingID, loadID string) error {
	ctx, span := tracing.StartSpan(ctx, "posting.Repository.AssignLoad")
	defer span.End()

	query := `
		UPDATE load_postings
		SET assigned_load_id = $1, status = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5
		AND (assigned_load_id IS NULL OR assigned_load_id = $1)`

	result, err := r.db.Conn(ctx).ExecContext(ctx, query, loadID, models.PostingStatusMatched, time.Now().UTC(), postingID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"posting_id": postingID,
			"load_id":    loadID,
		}).Error("Failed to assign load to posting")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to link load posting")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := r.Get(ctx, tenantID, postingID); err != nil {
			return err
		}
		return apperrors.Precondition("load posting is already assigned to another load").With("posting_id", postingID)
	}

	return nil
}
