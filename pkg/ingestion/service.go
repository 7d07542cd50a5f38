// Package ingestion turns parser output into load postings and fans new postings out to the
// matching engine.
package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type PostingStore interface {
	Create(ctx context.Context, p *models.LoadPosting) (*models.LoadPosting, bool, error)
	Get(ctx context.Context, tenantID, id string) (*models.LoadPosting, error)
	List(ctx context.Context, tenantID string, status models.PostingStatus, limit, offset int) ([]models.LoadPosting, error)
	SeenRecently(ctx context.Context, tenantID, brokerEmail string, references []string, since time.Time, excludeID string) (bool, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status models.PostingStatus, reason *string) error
}

type PlanSource interface {
	List(ctx context.Context, tenantID string, activeOnly bool) ([]models.HuntPlan, error)
}

type CandidateCreator interface {
	CreateCandidates(ctx context.Context, scope tenancy.Scope, posting *models.LoadPosting, plans []models.HuntPlan) ([]models.Match, error)
}

type EventEmitter interface {
	PostingIngested(ctx context.Context, posting *models.LoadPosting, matchCount int) error
}

type Config struct {
	// UpdateLookback is how far back an earlier posting from the same broker marks a new one as an update.
	UpdateLookback time.Duration
	FieldMappings  map[string]string
}

type Service struct {
	postings PostingStore
	plans    PlanSource
	matcher  CandidateCreator
	events   EventEmitter
	mapper   *Mapper
	validate *validator.Validate
	logger   ectologger.Logger
	lookback time.Duration
}

func NewService(postings PostingStore, plans PlanSource, matcher CandidateCreator, events EventEmitter, logger ectologger.Logger, cfg Config) (*Service, error) {
	mapper, err := NewMapper(cfg.FieldMappings)
	if err != nil {
		return nil, err
	}

	return &Service{
		postings: postings,
		plans:    plans,
		matcher:  matcher,
		events:   events,
		mapper:   mapper,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		lookback: cfg.UpdateLookback,
	}, nil
}

// Ingest stores one parsed posting and creates match candidates for it. Redelivery of the same
// source message returns the stored posting with Duplicate set. Postings the parser could not
// read are kept as processing_failed and never matched.
func (s *Service) Ingest(ctx context.Context, scope tenancy.Scope, parsed models.ParsedPosting) (*models.IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Ingest")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(parsed); err != nil {
		metrics.PostingsIngestedTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.Validation("invalid parsed posting: " + err.Error())
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":         scope.TenantID,
		"source_message_id": parsed.SourceMessageID,
	})

	posting, failure := s.build(scope.TenantID, parsed)
	posting.ID = uuid.New().String()
	if failure != "" {
		posting.Status = models.PostingStatusProcessingFailed
		posting.FailureReason = &failure
	} else {
		seen, err := s.postings.SeenRecently(ctx, scope.TenantID, posting.BrokerEmail, posting.ReferenceNumbers, posting.ReceivedAt.Add(-s.lookback), posting.ID)
		if err != nil {
			return nil, err
		}
		posting.IsUpdate = seen
	}

	stored, duplicate, err := s.postings.Create(ctx, posting)
	if err != nil {
		metrics.PostingsIngestedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &models.IngestResult{
		Posting:   stored,
		Duplicate: duplicate,
		Matches:   []models.Match{},
	}

	switch {
	case duplicate:
		metrics.PostingsIngestedTotal.WithLabelValues("duplicate").Inc()
		log.WithField("posting_id", stored.ID).Debug("Posting already ingested")
	case stored.Status == models.PostingStatusProcessingFailed:
		metrics.PostingsIngestedTotal.WithLabelValues("failed").Inc()
		log.WithFields(map[string]any{"posting_id": stored.ID, "reason": failure}).Warn("Stored posting the parser could not read")
		s.emit(ctx, stored, 0)
		return result, nil
	default:
		metrics.PostingsIngestedTotal.WithLabelValues("created").Inc()
	}

	// a redelivered posting that never got candidates is matched again; creation is idempotent
	if stored.Status != models.PostingStatusNew {
		return result, nil
	}

	plans, err := s.plans.List(ctx, scope.TenantID, true)
	if err != nil {
		return result, err
	}
	matches, err := s.matcher.CreateCandidates(ctx, scope, stored, plans)
	if err != nil {
		log.WithError(err).WithField("posting_id", stored.ID).Error("Failed to create match candidates")
		return result, err
	}
	result.Matches = matches

	if !duplicate {
		s.emit(ctx, stored, len(matches))
	}

	log.WithFields(map[string]any{
		"posting_id": stored.ID,
		"is_update":  stored.IsUpdate,
		"matches":    len(matches),
	}).Info("Ingested load posting")
	return result, nil
}

// build maps parser output onto a posting. A non-empty second return is the reason the posting
// cannot be matched.
func (s *Service) build(tenantID string, parsed models.ParsedPosting) (*models.LoadPosting, string) {
	if parsed.Fields == nil {
		parsed.Fields = map[string]any{}
	}
	posting, err := s.mapper.Map(tenantID, parsed)
	if posting.ReferenceNumbers == nil {
		posting.ReferenceNumbers = pq.StringArray{}
	}

	if reason := strings.TrimSpace(parsed.ParseError); reason != "" {
		return posting, "parser error: " + reason
	}
	if err != nil {
		return posting, err.Error()
	}
	if missing := missingFields(posting); len(missing) > 0 {
		return posting, "posting is missing " + strings.Join(missing, ", ")
	}
	return posting, ""
}

func missingFields(p *models.LoadPosting) []string {
	missing := []string{}
	if p.Origin.State == "" && p.Origin.Zip == "" && !p.Origin.HasCoordinates() {
		missing = append(missing, "origin")
	}
	if p.Destination.State == "" && p.Destination.Zip == "" && !p.Destination.HasCoordinates() {
		missing = append(missing, "destination")
	}
	return missing
}

func (s *Service) emit(ctx context.Context, posting *models.LoadPosting, matchCount int) {
	if s.events == nil {
		return
	}
	if err := s.events.PostingIngested(ctx, posting, matchCount); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"posting_id": posting.ID,
			"tenant_id":  posting.TenantID,
		}).Warn("Failed to publish posting ingested event")
	}
}

func (s *Service) Get(ctx context.Context, scope tenancy.Scope, id string) (*models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Get")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	return s.postings.Get(ctx, scope.TenantID, id)
}

func (s *Service) List(ctx context.Context, scope tenancy.Scope, status models.PostingStatus, limit, offset int) ([]models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.List")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.postings.List(ctx, scope.TenantID, status, limit, offset)
}

// MarkProcessingFailed takes a posting out of matching. Postings already linked to a load
// cannot be failed.
func (s *Service) MarkProcessingFailed(ctx context.Context, scope tenancy.Scope, id, reason string) (*models.LoadPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.MarkProcessingFailed")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("a failure reason is required")
	}

	posting, err := s.postings.Get(ctx, scope.TenantID, id)
	if err != nil {
		return nil, err
	}
	if posting.AssignedLoadID != nil {
		return nil, apperrors.Precondition("load posting is already linked to a load").With("load_id", *posting.AssignedLoadID)
	}

	if err := s.postings.UpdateStatus(ctx, scope.TenantID, id, models.PostingStatusProcessingFailed, &reason); err != nil {
		return nil, err
	}
	posting.Status = models.PostingStatusProcessingFailed
	posting.FailureReason = &reason

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  scope.TenantID,
		"posting_id": id,
		"reason":     reason,
	}).Info("Marked load posting as processing failed")
	return posting, nil
}
