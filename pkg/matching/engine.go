// Package matching owns the match lifecycle: candidate creation, status transitions, re-review,
// expiry sweeps and the display grouping.
package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/audit"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type MatchStore interface {
	InsertCandidate(ctx context.Context, m *models.Match) (bool, error)
	Get(ctx context.Context, tenantID, id string) (*models.Match, error)
	GetAcrossTenants(ctx context.Context, id string) (*models.Match, error)
	List(ctx context.Context, tenantID string, filter models.MatchFilter) ([]models.Match, error)
	ListAcrossTenants(ctx context.Context, filter models.MatchFilter) ([]models.Match, error)
	UpdateStatus(ctx context.Context, m *models.Match, from models.MatchStatus) (bool, error)
	HasLivePair(ctx context.Context, tenantID, vehicleID, postingID, excludeID string) (bool, error)
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]models.StatusTransition, error)
}

type VehicleSource interface {
	GetMany(ctx context.Context, tenantID string, ids []string) (map[string]*models.Vehicle, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entries ...models.AuditLogEntry) error
}

// Projector keeps derived per-status counts in step with applied transitions.
type Projector interface {
	Apply(ctx context.Context, transitions ...models.StatusTransition) error
}

type EventEmitter interface {
	MatchesCreated(ctx context.Context, matches []models.Match) error
	MatchesTransitioned(ctx context.Context, actorID string, transitions ...models.StatusTransition) error
}

type Config struct {
	SweepBatchSize  int
	SweepMaxBatches int
}

func DefaultConfig() Config {
	return Config{
		SweepBatchSize:  500,
		SweepMaxBatches: 20,
	}
}

type Engine struct {
	matches     MatchStore
	vehicles    VehicleSource
	eligibility *Eligibility
	audit       AuditRecorder
	projector   Projector
	events      EventEmitter
	logger      ectologger.Logger
	cfg         Config
	now         func() time.Time
}

func NewEngine(
	matches MatchStore,
	vehicles VehicleSource,
	eligibility *Eligibility,
	auditRecorder AuditRecorder,
	projector Projector,
	events EventEmitter,
	logger ectologger.Logger,
	cfg Config,
) *Engine {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultConfig().SweepBatchSize
	}
	if cfg.SweepMaxBatches <= 0 {
		cfg.SweepMaxBatches = DefaultConfig().SweepMaxBatches
	}
	return &Engine{
		matches:     matches,
		vehicles:    vehicles,
		eligibility: eligibility,
		audit:       auditRecorder,
		projector:   projector,
		events:      events,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateCandidates evaluates the tenant's hunt plans against a posting and creates one
// unreviewed match per eligible vehicle. Pairs that already have a match in any status are left
// alone, so re-running for the same posting creates nothing new. Only new matches are returned,
// in no particular order.
func (e *Engine) CreateCandidates(ctx context.Context, scope tenancy.Scope, posting *models.LoadPosting, plans []models.HuntPlan) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.CreateCandidates")
	defer span.End()

	if err := scope.Owns(posting.TenantID); err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  scope.TenantID,
		"posting_id": posting.ID,
	})

	if posting.AssignedLoadID != nil || posting.IsExpired(e.now()) {
		log.Debug("Posting is no longer open; no candidates created")
		return []models.Match{}, nil
	}

	vehicles, err := e.vehiclesFor(ctx, scope.TenantID, plans)
	if err != nil {
		return nil, err
	}

	// one candidate per vehicle; the closest eligible plan wins
	best := map[string]*models.Match{}
	order := []string{}
	for i := range plans {
		plan := &plans[i]
		if plan.TenantID != scope.TenantID {
			log.WithField("hunt_plan_id", plan.ID).Warn("Skipping hunt plan from another tenant")
			continue
		}
		vehicle := plan.Vehicle
		if vehicle == nil {
			vehicle = vehicles[plan.VehicleID]
		}

		decision, err := e.eligibility.Evaluate(ctx, plan, vehicle, posting)
		if err != nil {
			log.WithError(err).WithField("hunt_plan_id", plan.ID).Error("Failed to evaluate hunt plan")
			return nil, err
		}
		if !decision.Eligible {
			log.WithFields(map[string]any{"hunt_plan_id": plan.ID, "reason": decision.Reason}).Debug("Hunt plan not eligible")
			continue
		}

		current, seen := best[plan.VehicleID]
		if seen && !closer(decision.DistanceMiles, current.DistanceMiles) {
			continue
		}
		if !seen {
			order = append(order, plan.VehicleID)
		}
		best[plan.VehicleID] = &models.Match{
			TenantID:      scope.TenantID,
			HuntPlanID:    plan.ID,
			VehicleID:     plan.VehicleID,
			PostingID:     posting.ID,
			DistanceMiles: decision.DistanceMiles,
		}
	}

	created := []models.Match{}
	for _, vehicleID := range order {
		m := best[vehicleID]
		ok, err := e.matches.InsertCandidate(ctx, m)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, *m)
		}
	}

	if len(created) == 0 {
		return created, nil
	}

	metrics.MatchCandidatesCreated.Add(float64(len(created)))

	transitions := make([]models.StatusTransition, len(created))
	for i, m := range created {
		transitions[i] = models.StatusTransition{MatchID: m.ID, TenantID: m.TenantID, To: models.MatchStatusUnreviewed}
	}
	if err := e.projector.Apply(ctx, transitions...); err != nil {
		log.WithError(err).Warn("Failed to update match counts")
	}
	if e.events != nil {
		_ = e.events.MatchesCreated(ctx, created)
	}

	log.WithField("created", len(created)).Info("Created match candidates")
	return created, nil
}

func closer(candidate, current *float64) bool {
	if candidate == nil {
		return false
	}
	return current == nil || *candidate < *current
}

func (e *Engine) vehiclesFor(ctx context.Context, tenantID string, plans []models.HuntPlan) (map[string]*models.Vehicle, error) {
	ids := []string{}
	for _, p := range plans {
		if p.Vehicle == nil {
			ids = append(ids, p.VehicleID)
		}
	}
	if len(ids) == 0 {
		return map[string]*models.Vehicle{}, nil
	}
	return e.vehicles.GetMany(ctx, tenantID, ids)
}

// Get returns a single match readable by the scope. A cross-tenant scope reads any tenant's match.
func (e *Engine) Get(ctx context.Context, scope tenancy.Scope, matchID string) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Get")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	var (
		m   *models.Match
		err error
	)
	if scope.CrossTenant {
		m, err = e.matches.GetAcrossTenants(ctx, matchID)
	} else {
		m, err = e.matches.Get(ctx, scope.TenantID, matchID)
	}
	if err != nil {
		return nil, err
	}
	if err := scope.CanRead(m.TenantID); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the scope's matches, or every tenant's when the scope is cross-tenant.
func (e *Engine) List(ctx context.Context, scope tenancy.Scope, filter models.MatchFilter) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.List")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	if scope.CrossTenant {
		return e.matches.ListAcrossTenants(ctx, filter)
	}
	return e.matches.List(ctx, scope.TenantID, filter)
}

// Applied is a persisted status change whose side effects have not run yet.
type Applied struct {
	Before models.Match
	After  models.Match
	Action string
}

func (a *Applied) transition() models.StatusTransition {
	return models.StatusTransition{
		MatchID:  a.After.ID,
		TenantID: a.After.TenantID,
		From:     a.Before.Status,
		To:       a.After.Status,
	}
}

// Transition moves a match to target and runs the audit, projection and event side effects.
// A concurrent writer that changed the match first makes this fail with InvalidTransition.
func (e *Engine) Transition(ctx context.Context, scope tenancy.Scope, matchID string, target models.MatchStatus, payload models.TransitionPayload) (*models.TransitionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Transition")
	defer span.End()

	applied, err := e.ApplyTransition(ctx, scope, matchID, target, payload)
	if err != nil {
		return nil, err
	}

	degraded := e.Finalize(ctx, scope, applied)
	return &models.TransitionResult{Match: &applied.After, Degraded: degraded}, nil
}

// ApplyTransition performs only the conditional write. It joins a transaction carried by ctx;
// callers run Finalize once that transaction commits.
func (e *Engine) ApplyTransition(ctx context.Context, scope tenancy.Scope, matchID string, target models.MatchStatus, payload models.TransitionPayload) (*Applied, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.ApplyTransition")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	current, err := e.matches.Get(ctx, scope.TenantID, matchID)
	if err != nil {
		return nil, err
	}
	if err := scope.Owns(current.TenantID); err != nil {
		return nil, err
	}

	next := *current
	if err := applyTransition(&next, target, payload, scope.ActorID, e.now()); err != nil {
		return nil, err
	}

	if err := e.write(ctx, &next, current.Status); err != nil {
		return nil, err
	}

	return &Applied{Before: *current, After: next, Action: audit.ActionMatchTransition}, nil
}

// ReReview returns a skipped or waitlisted match to unreviewed. It fails when the pair already
// has another live match.
func (e *Engine) ReReview(ctx context.Context, scope tenancy.Scope, matchID string) (*models.TransitionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.ReReview")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	current, err := e.matches.Get(ctx, scope.TenantID, matchID)
	if err != nil {
		return nil, err
	}
	if err := scope.Owns(current.TenantID); err != nil {
		return nil, err
	}
	if current.Status != models.MatchStatusSkipped && current.Status != models.MatchStatusWaitlist {
		return nil, apperrors.InvalidTransition(string(current.Status), string(models.MatchStatusUnreviewed)).With("match_id", matchID)
	}

	live, err := e.matches.HasLivePair(ctx, current.TenantID, current.VehicleID, current.PostingID, current.ID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, apperrors.Precondition("another active match already exists for this vehicle and posting").With("match_id", matchID)
	}

	now := e.now()
	next := *current
	next.Status = models.MatchStatusUnreviewed
	next.ReviewedBy = &scope.ActorID
	next.ReviewedAt = &now

	if err := e.write(ctx, &next, current.Status); err != nil {
		return nil, err
	}

	applied := &Applied{Before: *current, After: next, Action: audit.ActionMatchReReview}
	degraded := e.Finalize(ctx, scope, applied)
	return &models.TransitionResult{Match: &applied.After, Degraded: degraded}, nil
}

func (e *Engine) write(ctx context.Context, next *models.Match, from models.MatchStatus) error {
	ok, err := e.matches.UpdateStatus(ctx, next, from)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.InvalidTransition(string(from), string(next.Status)).
			With("match_id", next.ID).
			With("reason", "match was changed by another request")
	}
	return nil
}

// Finalize runs the non-fatal side effects of an applied transition. It reports whether any of
// them failed.
func (e *Engine) Finalize(ctx context.Context, scope tenancy.Scope, applied *Applied) bool {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Finalize")
	defer span.End()

	t := applied.transition()
	metrics.MatchTransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()

	degraded := false
	entry := audit.Entry(t.TenantID, scope.ActorID, models.EntityTypeMatch, t.MatchID, applied.Action, applied.Before, applied.After)
	if err := e.audit.Record(ctx, entry); err != nil {
		degraded = true
	}
	if err := e.projector.Apply(ctx, t); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("match_id", t.MatchID).Warn("Failed to update match counts")
	}
	if e.events != nil {
		_ = e.events.MatchesTransitioned(ctx, scope.ActorID, t)
	}

	return degraded
}

// SweepExpired moves every non-terminal match whose posting expired at or before now to missed,
// across all tenants, in bounded batches. Booked matches are never touched.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.SweepExpired")
	defer span.End()

	total := 0
	for batch := 0; batch < e.cfg.SweepMaxBatches; batch++ {
		transitions, err := e.matches.SweepExpired(ctx, now, e.cfg.SweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(transitions) == 0 {
			break
		}

		total += len(transitions)
		e.afterSweep(ctx, transitions)

		if len(transitions) < e.cfg.SweepBatchSize {
			break
		}
	}

	if total > 0 {
		metrics.SweepExpiredTotal.Add(float64(total))
		e.logger.WithContext(ctx).WithField("missed", total).Info("Swept expired matches")
	}
	return total, nil
}

// afterSweep writes one audit entry per expired match and updates counts and events.
func (e *Engine) afterSweep(ctx context.Context, transitions []models.StatusTransition) {
	entries := make([]models.AuditLogEntry, 0, len(transitions))
	for _, t := range transitions {
		metrics.MatchTransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
		entries = append(entries, audit.Entry(t.TenantID, tenancy.System(t.TenantID).ActorID, models.EntityTypeMatch, t.MatchID,
			audit.ActionMatchExpired, map[string]any{"status": t.From}, map[string]any{"status": t.To}))
	}
	// failures are already logged and counted by the recorder
	_ = e.audit.Record(ctx, entries...)

	if err := e.projector.Apply(ctx, transitions...); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to update match counts after sweep")
	}
	if e.events != nil {
		_ = e.events.MatchesTransitioned(ctx, tenancy.System("").ActorID, transitions...)
	}
}
