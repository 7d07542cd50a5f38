// Package booking turns an accepted bid into a committed load.
//
// The saga runs in two storage phases. The load number and the load row commit together; the
// match moving to booked and the posting link commit together. A failure between the phases
// leaves a load that Resume can finish without creating a second one.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sage/internal/repositories/load"
	"github.com/Ramsey-B/sage/pkg/audit"
	"github.com/Ramsey-B/sage/pkg/database"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type MatchEngine interface {
	Get(ctx context.Context, scope tenancy.Scope, matchID string) (*models.Match, error)
	ApplyTransition(ctx context.Context, scope tenancy.Scope, matchID string, target models.MatchStatus, payload models.TransitionPayload) (*matching.Applied, error)
	Finalize(ctx context.Context, scope tenancy.Scope, applied *matching.Applied) bool
}

// MatchLocker reads a match under a row lock held until the surrounding transaction ends.
type MatchLocker interface {
	GetForUpdate(ctx context.Context, tenantID, id string) (*models.Match, error)
}

type PostingStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.LoadPosting, error)
	AssignLoad(ctx context.Context, tenantID, postingID, loadID string) error
}

type VehicleStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Vehicle, error)
}

type LoadStore interface {
	Create(ctx context.Context, l *models.Load) error
	Get(ctx context.Context, tenantID, id string) (*models.Load, error)
	GetByMatch(ctx context.Context, tenantID, matchID string) (*models.Load, error)
}

type SequenceStore interface {
	Next(ctx context.Context, tenantID, prefix string) (int, error)
	Advance(ctx context.Context, tenantID, prefix string, value int) error
}

// CustomerDirectory looks customers up case-insensitively. A miss is (nil, nil).
type CustomerDirectory interface {
	FindByName(ctx context.Context, tenantID, name string) (*models.Customer, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*models.Customer, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entries ...models.AuditLogEntry) error
}

type EventEmitter interface {
	LoadBooked(ctx context.Context, actorID string, l *models.Load) error
}

type Config struct {
	LockTTL            time.Duration
	MaxSequenceRetries int
	Location           *time.Location
	Statuses           StatusPolicy
}

func DefaultConfig() Config {
	return Config{
		LockTTL:            30 * time.Second,
		MaxSequenceRetries: 5,
		Location:           time.UTC,
		Statuses:           DefaultStatusPolicy(),
	}
}

type Saga struct {
	engine    MatchEngine
	matches   MatchLocker
	postings  PostingStore
	vehicles  VehicleStore
	loads     LoadStore
	sequences SequenceStore
	customers CustomerDirectory
	audit     AuditRecorder
	events    EventEmitter
	tx        database.Transactor
	locker    redis.Locker
	logger    ectologger.Logger
	cfg       Config
	now       func() time.Time
}

type Dependencies struct {
	Engine     MatchEngine
	Matches    MatchLocker
	Postings   PostingStore
	Vehicles   VehicleStore
	Loads      LoadStore
	Sequences  SequenceStore
	Customers  CustomerDirectory
	Audit      AuditRecorder
	Events     EventEmitter
	Transactor database.Transactor
	Locker     redis.Locker
}

func NewSaga(deps Dependencies, logger ectologger.Logger, cfg Config) *Saga {
	defaults := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.MaxSequenceRetries <= 0 {
		cfg.MaxSequenceRetries = defaults.MaxSequenceRetries
	}
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}
	if cfg.Statuses.AutoApproved == "" {
		cfg.Statuses.AutoApproved = defaults.Statuses.AutoApproved
	}
	if cfg.Statuses.NeedsApproval == "" {
		cfg.Statuses.NeedsApproval = defaults.Statuses.NeedsApproval
	}

	locker := deps.Locker
	if locker == nil {
		locker = redis.NoopLocker{}
	}

	return &Saga{
		engine:    deps.Engine,
		matches:   deps.Matches,
		postings:  deps.Postings,
		vehicles:  deps.Vehicles,
		loads:     deps.Loads,
		sequences: deps.Sequences,
		customers: deps.Customers,
		audit:     deps.Audit,
		events:    deps.Events,
		tx:        deps.Transactor,
		locker:    locker,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Book converts a bid match into a load. Booking a match that already has a load finishes that
// booking instead of creating another; booking an already booked match returns its load.
func (s *Saga) Book(ctx context.Context, scope tenancy.Scope, matchID string) (result *models.BookingResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "booking.Saga.Book")
	defer span.End()

	start := time.Now()
	defer func() { s.observe(start, result, err) }()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	err = s.withMatchLock(ctx, matchID, func(ctx context.Context) error {
		result, err = s.book(ctx, scope, matchID)
		return err
	})
	return result, err
}

// Resume re-runs only the match and posting linkage for a load that already exists. It is safe
// to call repeatedly.
func (s *Saga) Resume(ctx context.Context, scope tenancy.Scope, matchID, loadID string) (result *models.BookingResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "booking.Saga.Resume")
	defer span.End()

	start := time.Now()
	defer func() { s.observe(start, result, err) }()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	err = s.withMatchLock(ctx, matchID, func(ctx context.Context) error {
		match, err := s.ownedMatch(ctx, scope, matchID)
		if err != nil {
			return err
		}

		l, err := s.loads.Get(ctx, scope.TenantID, loadID)
		if err != nil {
			return err
		}
		if l.MatchID != match.ID {
			return apperrors.Precondition("load was not created for this match").
				With("match_id", matchID).
				With("load_id", loadID)
		}

		if match.Status == models.MatchStatusBooked {
			if match.BookedLoadID == nil || *match.BookedLoadID != loadID {
				return apperrors.Precondition("match is booked to a different load").With("match_id", matchID)
			}
			result = &models.BookingResult{Load: l, Match: match, AlreadyBooked: true}
			return nil
		}

		result, err = s.link(ctx, scope, match, l)
		if result != nil {
			result.Resumed = true
		}
		return err
	})
	return result, err
}

func (s *Saga) withMatchLock(ctx context.Context, matchID string, fn func(ctx context.Context) error) error {
	err := redis.WithLock(ctx, s.locker, "booking:"+matchID, s.cfg.LockTTL, fn)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return apperrors.Precondition("a booking for this match is already in progress").With("match_id", matchID)
	}
	return err
}

func (s *Saga) ownedMatch(ctx context.Context, scope tenancy.Scope, matchID string) (*models.Match, error) {
	match, err := s.engine.Get(ctx, scope, matchID)
	if err != nil {
		return nil, err
	}
	if err := scope.Owns(match.TenantID); err != nil {
		return nil, err
	}
	return match, nil
}

func (s *Saga) book(ctx context.Context, scope tenancy.Scope, matchID string) (*models.BookingResult, error) {
	match, err := s.ownedMatch(ctx, scope, matchID)
	if err != nil {
		return nil, err
	}

	if match.Status == models.MatchStatusBooked {
		return s.alreadyBooked(ctx, scope, match)
	}

	// a load from an earlier attempt means only the linkage is missing
	existing, err := s.loads.GetByMatch(ctx, scope.TenantID, match.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"match_id": match.ID,
			"load_id":  existing.ID,
		}).Info("Match already has a load; resuming booking")
		result, err := s.link(ctx, scope, match, existing)
		if result != nil {
			result.Resumed = true
		}
		return result, err
	}

	// 1. preconditions
	if match.Status != models.MatchStatusBid {
		return nil, apperrors.InvalidTransition(string(match.Status), string(models.MatchStatusBooked)).
			With("match_id", match.ID).
			With("reason", "only a match in bid can be booked")
	}

	posting, err := s.postings.Get(ctx, scope.TenantID, match.PostingID)
	if err != nil {
		return nil, err
	}
	if posting.AssignedLoadID != nil {
		return nil, apperrors.Precondition("load posting is already assigned to another load").
			With("posting_id", posting.ID)
	}

	rate, ok := ConfirmedRate(match, posting)
	if !ok {
		return nil, apperrors.Precondition("a rate is required to book this match").With("match_id", match.ID)
	}

	vehicle, err := s.vehicles.Get(ctx, scope.TenantID, match.VehicleID)
	if err != nil {
		return nil, err
	}

	// 2. customer, best effort
	customerID := s.resolveCustomer(ctx, scope.TenantID, posting)

	// 3 and 4. snapshot and approval/rate split
	terms, err := DeriveTerms(vehicle, rate, s.cfg.Statuses)
	if err != nil {
		return nil, err
	}

	l := buildLoad(scope, match, posting, vehicle, customerID, rate, terms)

	// 5 and 6. number and insert
	created, existed, err := s.createLoad(ctx, scope, l)
	if err != nil {
		return nil, err
	}
	if existed {
		// another booking for this match committed its load first
		current, err := s.ownedMatch(ctx, scope, match.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.MatchStatusBooked {
			return s.alreadyBooked(ctx, scope, current)
		}
		result, err := s.link(ctx, scope, current, created)
		if result != nil {
			result.Resumed = true
		}
		return result, err
	}

	// 7 through 9
	return s.link(ctx, scope, match, created)
}

func (s *Saga) alreadyBooked(ctx context.Context, scope tenancy.Scope, match *models.Match) (*models.BookingResult, error) {
	if match.BookedLoadID == nil {
		return nil, apperrors.Precondition("match is booked without a load").With("match_id", match.ID)
	}
	l, err := s.loads.Get(ctx, scope.TenantID, *match.BookedLoadID)
	if err != nil {
		return nil, err
	}
	return &models.BookingResult{Load: l, Match: match, AlreadyBooked: true}, nil
}

func (s *Saga) resolveCustomer(ctx context.Context, tenantID string, posting *models.LoadPosting) *string {
	if s.customers == nil {
		return nil
	}

	lookups := []struct {
		field string
		value string
		find  func(ctx context.Context, tenantID, value string) (*models.Customer, error)
	}{
		{"broker_name", posting.BrokerName, s.customers.FindByName},
		{"broker_email", posting.BrokerEmail, s.customers.FindByEmail},
	}

	for _, lookup := range lookups {
		value := strings.TrimSpace(lookup.value)
		if value == "" {
			continue
		}
		customer, err := lookup.find(ctx, tenantID, value)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField(lookup.field, value).Warn("Customer lookup failed; continuing without customer")
			continue
		}
		if customer != nil {
			id := customer.ID
			return &id
		}
	}
	return nil
}

func buildLoad(scope tenancy.Scope, match *models.Match, posting *models.LoadPosting, vehicle *models.Vehicle, customerID *string, rate decimal.Decimal, terms Terms) *models.Load {
	return &models.Load{
		TenantID:            scope.TenantID,
		MatchID:             match.ID,
		LoadEmailID:         posting.ID,
		VehicleID:           vehicle.ID,
		CarrierID:           vehicle.CarrierID,
		CustomerID:          customerID,
		Status:              terms.Status,
		FinancialStatus:     models.FinancialStatusPendingInvoice,
		CarrierApproved:     terms.CarrierApproved,
		Rate:                rate,
		CarrierRate:         terms.CarrierRate,
		TruckTypeAtBooking:  terms.TruckTypeAtBooking,
		BrokerName:          posting.BrokerName,
		BrokerEmail:         posting.BrokerEmail,
		Origin:              posting.Origin,
		Destination:         posting.Destination,
		PickupWindowStart:   posting.PickupWindowStart,
		PickupWindowEnd:     posting.PickupWindowEnd,
		DeliveryWindowStart: posting.DeliveryWindowStart,
		DeliveryWindowEnd:   posting.DeliveryWindowEnd,
		WeightLbs:           posting.WeightLbs,
		Pieces:              posting.Pieces,
		EquipmentType:       posting.EquipmentType,
		ReferenceNumbers:    posting.ReferenceNumbers,
		BookedBy:            scope.ActorID,
	}
}

// errMatchLeftBid marks a match that moved out of bid between the precondition read and the lock.
var errMatchLeftBid = errors.New("match is no longer in bid")

// createLoad locks the match, draws the next load number and inserts the load in one
// transaction, retrying on a load number collision. The match must still be in bid under the
// lock. When the match already gained a load it returns that load instead.
func (s *Saga) createLoad(ctx context.Context, scope tenancy.Scope, l *models.Load) (*models.Load, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "booking.Saga.createLoad")
	defer span.End()

	prefix := LoadNumberPrefix(s.now(), s.cfg.Location)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxSequenceRetries; attempt++ {
		candidate := *l
		ordinal := 0
		var lockedStatus models.MatchStatus
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.matches.GetForUpdate(ctx, scope.TenantID, l.MatchID)
			if err != nil {
				return err
			}
			lockedStatus = locked.Status
			if locked.Status != models.MatchStatusBid {
				return errMatchLeftBid
			}

			ordinal, err = s.sequences.Next(ctx, scope.TenantID, prefix)
			if err != nil {
				return err
			}
			candidate.LoadNumber = FormatLoadNumber(prefix, ordinal)
			return s.loads.Create(ctx, &candidate)
		})

		switch {
		case err == nil:
			return &candidate, false, nil
		case errors.Is(err, load.ErrDuplicateLoadNumber):
			lastErr = err
			metrics.SequenceConflictsTotal.Inc()
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"prefix":      prefix,
				"load_number": candidate.LoadNumber,
				"attempt":     attempt,
			}).Warn("Load number collision; retrying")
			// the failed transaction rolled the counter back, so skip past the taken number
			if err := s.sequences.Advance(ctx, scope.TenantID, prefix, ordinal); err != nil {
				return nil, false, err
			}
		case errors.Is(err, errMatchLeftBid):
			existing, getErr := s.loads.GetByMatch(ctx, scope.TenantID, l.MatchID)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing != nil {
				return existing, true, nil
			}
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"match_id": l.MatchID,
				"status":   lockedStatus,
			}).Warn("Match left bid before its load was created")
			return nil, false, apperrors.InvalidTransition(string(lockedStatus), string(models.MatchStatusBooked)).
				With("match_id", l.MatchID).
				With("reason", "only a match in bid can be booked")
		case errors.Is(err, load.ErrDuplicateMatch):
			existing, getErr := s.loads.GetByMatch(ctx, scope.TenantID, l.MatchID)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, err
			}
			return existing, true, nil
		default:
			return nil, false, err
		}
	}

	return nil, false, apperrors.SequenceGenerationConflict(prefix, s.cfg.MaxSequenceRetries, lastErr)
}

// link moves the match to booked and assigns the posting in one transaction, then runs the
// non-fatal side effects.
func (s *Saga) link(ctx context.Context, scope tenancy.Scope, match *models.Match, l *models.Load) (*models.BookingResult, error) {
	ctx, span := tracing.StartSpan(ctx, "booking.Saga.link")
	defer span.End()

	var applied *matching.Applied
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.engine.ApplyTransition(ctx, scope, match.ID, models.MatchStatusBooked, models.TransitionPayload{
			BidRate:      decimal.NewNullDecimal(l.Rate),
			BookedLoadID: l.ID,
		})
		if err != nil {
			return err
		}
		if err := s.postings.AssignLoad(ctx, scope.TenantID, match.PostingID, l.ID); err != nil {
			return err
		}
		applied = a
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": match.ID,
			"load_id":  l.ID,
		}).Error("Load created but match linkage failed")
		return nil, apperrors.PartialBookingFailure(match.ID, l.ID, err)
	}

	result := &models.BookingResult{Load: l, Match: &applied.After}
	if s.engine.Finalize(ctx, scope, applied) {
		result.Degraded = true
		result.Warnings = append(result.Warnings, "match transition was not written to the audit log")
	}

	entry := audit.Entry(scope.TenantID, scope.ActorID, models.EntityTypeLoad, l.ID, audit.ActionLoadBooked, nil, l)
	if err := s.audit.Record(ctx, entry); err != nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, "booking was not written to the audit log")
	}

	if s.events != nil {
		_ = s.events.LoadBooked(ctx, scope.ActorID, l)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":    match.ID,
		"load_id":     l.ID,
		"load_number": l.LoadNumber,
	}).Info("Booked load")
	return result, nil
}

func (s *Saga) observe(start time.Time, result *models.BookingResult, err error) {
	metrics.BookingDuration.Observe(time.Since(start).Seconds())
	metrics.BookingsTotal.WithLabelValues(outcome(result, err)).Inc()
}

func outcome(result *models.BookingResult, err error) string {
	switch {
	case err != nil:
		if e, ok := apperrors.As(err); ok {
			return string(e.Kind)
		}
		return "error"
	case result.AlreadyBooked:
		return "already_booked"
	case result.Resumed:
		return "resumed"
	case result.Degraded:
		return "degraded"
	default:
		return "booked"
	}
}
