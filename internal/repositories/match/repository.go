package match

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const livePairConstraint = "uq_matches_live_pair"

var selectColumns = []string{
	"id", "tenant_id", "hunt_plan_id", "vehicle_id", "posting_id", "distance_miles", "status",
	"bid_rate", "bid_by", "bid_at", "booked_load_id", "reviewed_by", "reviewed_at", "notes",
	"created_at", "updated_at",
}

// ErrLivePairExists is returned when a status change would leave two live matches for one
// vehicle and posting.
var ErrLivePairExists = apperrors.Precondition("another active match already exists for this vehicle and posting")

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

// InsertCandidate creates an unreviewed match unless the (vehicle, posting) pair already has a
// match in any status. It reports whether a row was created.
func (r *Repository) InsertCandidate(ctx context.Context, m *models.Match) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.InsertCandidate")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Status = models.MatchStatusUnreviewed
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt

	query := `
		INSERT INTO matches (id, tenant_id, hunt_plan_id, vehicle_id, posting_id, distance_miles, status, created_at, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::uuid, $6::double precision, $7::text, $8::timestamptz, $8::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM matches
			WHERE tenant_id = $2::uuid AND vehicle_id = $4::uuid AND posting_id = $5::uuid
		)
		ON CONFLICT DO NOTHING
		RETURNING id`

	var id string
	err := r.db.Conn(ctx).GetContext(ctx, &id, query,
		m.ID, m.TenantID, m.HuntPlanID, m.VehicleID, m.PostingID, m.DistanceMiles, m.Status, m.CreatedAt)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"vehicle_id": m.VehicleID,
			"posting_id": m.PostingID,
		}).Error("Failed to insert match candidate")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match")
	}

	return true, nil
}

func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("matches")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	return r.getOne(ctx, id, query, args)
}

// GetAcrossTenants looks a match up by id alone. Callers check the scope's read grant.
func (r *Repository) GetAcrossTenants(ctx context.Context, id string) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.GetAcrossTenants")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("matches")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	return r.getOne(ctx, id, query, args)
}

// GetForUpdate locks the match row for the rest of the caller's transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tenantID, id string) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.GetForUpdate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("matches")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	return r.getOne(ctx, id, database.ForUpdate(query), args)
}

func (r *Repository) getOne(ctx context.Context, id, query string, args []any) (*models.Match, error) {
	var m models.Match
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("match", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("match_id", id).Error("Failed to get match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match")
	}
	return &m, nil
}

func (r *Repository) List(ctx context.Context, tenantID string, filter models.MatchFilter) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.List")
	defer span.End()

	sb := r.listBuilder(filter)
	sb.Where(sb.Equal("tenant_id", tenantID))

	return r.list(ctx, sb)
}

// ListAcrossTenants is only reachable through a cross-tenant scope.
func (r *Repository) ListAcrossTenants(ctx context.Context, filter models.MatchFilter) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.ListAcrossTenants")
	defer span.End()

	return r.list(ctx, r.listBuilder(filter))
}

func (r *Repository) listBuilder(filter models.MatchFilter) *sqlbuilder.SelectBuilder {
	limit := filter.Limit
	if limit < 1 || limit > 1000 {
		limit = 200
	}

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("matches")
	if len(filter.Statuses) > 0 {
		sb.Where(sb.In("status", database.Args(filter.Statuses)...))
	}
	if filter.PostingID != "" {
		sb.Where(sb.Equal("posting_id", filter.PostingID))
	}
	if filter.VehicleID != "" {
		sb.Where(sb.Equal("vehicle_id", filter.VehicleID))
	}
	sb.OrderBy("created_at DESC", "id")
	sb.Limit(limit)
	sb.Offset(filter.Offset)
	return sb
}

func (r *Repository) list(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Match, error) {
	query, args := sb.Build()
	matches := []models.Match{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &matches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list matches")
	}
	return matches, nil
}

// UpdateStatus persists m only if the stored status is still from. It reports whether the row
// was updated; false means a concurrent writer moved the match first.
func (r *Repository) UpdateStatus(ctx context.Context, m *models.Match, from models.MatchStatus) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.UpdateStatus")
	defer span.End()

	m.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update("matches")
	ub.Set(
		ub.Assign("status", m.Status),
		ub.Assign("bid_rate", m.BidRate),
		ub.Assign("bid_by", m.BidBy),
		ub.Assign("bid_at", m.BidAt),
		ub.Assign("booked_load_id", m.BookedLoadID),
		ub.Assign("reviewed_by", m.ReviewedBy),
		ub.Assign("reviewed_at", m.ReviewedAt),
		ub.Assign("notes", m.Notes),
		ub.Assign("updated_at", m.UpdatedAt),
	)
	ub.Where(ub.Equal("id", m.ID), ub.Equal("tenant_id", m.TenantID), ub.Equal("status", from))

	query, args := ub.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err, livePairConstraint) {
			return false, ErrLivePairExists
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": m.ID,
			"from":     from,
			"to":       m.Status,
		}).Error("Failed to update match status")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match")
	}
	return rows == 1, nil
}

// HasLivePair reports whether another live match exists for the vehicle and posting.
func (r *Repository) HasLivePair(ctx context.Context, tenantID, vehicleID, postingID, excludeID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.HasLivePair")
	defer span.End()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM matches
			WHERE tenant_id = $1 AND vehicle_id = $2 AND posting_id = $3 AND id <> $4
			AND status NOT IN ('skipped', 'missed')
		)`

	var exists bool
	if err := r.db.Conn(ctx).GetContext(ctx, &exists, query, tenantID, vehicleID, postingID, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check for live match")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check matches")
	}
	return exists, nil
}

// SweepExpired moves non-terminal matches whose posting expired at or before now to missed.
// It runs across tenants and processes at most limit rows per call; rows locked by a concurrent
// transition are skipped and picked up by the next sweep. A match that already has a load is
// mid-booking and is left for the booking to finish.
func (r *Repository) SweepExpired(ctx context.Context, now time.Time, limit int) ([]models.StatusTransition, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.SweepExpired")
	defer span.End()

	query := `
		WITH expired AS (
			SELECT m.id, m.status AS from_status
			FROM matches m
			JOIN load_postings p ON p.id = m.posting_id
			WHERE m.status IN ('unreviewed', 'waitlist', 'bid', 'skipped')
			AND p.expires_at IS NOT NULL
			AND p.expires_at <= $1
			AND NOT EXISTS (SELECT 1 FROM loads l WHERE l.tenant_id = m.tenant_id AND l.match_id = m.id)
			ORDER BY p.expires_at
			LIMIT $2
			FOR UPDATE OF m SKIP LOCKED
		)
		UPDATE matches m
		SET status = 'missed', updated_at = $1
		FROM expired e
		WHERE m.id = e.id
		RETURNING m.id, m.tenant_id, e.from_status, m.status AS to_status`

	transitions := []models.StatusTransition{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &transitions, query, now, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to sweep expired matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to sweep expired matches")
	}

	return transitions, nil
}

// CountByStatus groups all matches by tenant and status.
func (r *Repository) CountByStatus(ctx context.Context) ([]models.MatchCount, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.CountByStatus")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("tenant_id", "status", "COUNT(*) AS count")
	sb.From("matches")
	sb.GroupBy("tenant_id", "status")

	query, args := sb.Build()
	var counts []models.MatchCount
	if err := r.db.Conn(ctx).SelectContext(ctx, &counts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count matches")
	}
	return counts, nil
}

// CountForTenant groups one tenant's matches by status.
func (r *Repository) CountForTenant(ctx context.Context, tenantID string) ([]models.MatchCount, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.CountForTenant")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("tenant_id", "status", "COUNT(*) AS count")
	sb.From("matches")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.GroupBy("tenant_id", "status")

	query, args := sb.Build()
	var counts []models.MatchCount
	if err := r.db.Conn(ctx).SelectContext(ctx, &counts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to count matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count matches")
	}
	return counts, nil
}
