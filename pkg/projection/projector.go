// Package projection maintains per-tenant match counts by status. The counts are a read-side
// materialization; the matches table stays authoritative.
package projection

import (
	"context"
	"sort"
	"strconv"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const keyPrefix = "sage:match_counts:"

// HashStore is the subset of redis the projection writes to.
type HashStore interface {
	HIncrByExisting(ctx context.Context, key string, deltas map[string]int64) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HReplace(ctx context.Context, key string, values map[string]int64) error
}

type CountSource interface {
	CountByStatus(ctx context.Context) ([]models.MatchCount, error)
	CountForTenant(ctx context.Context, tenantID string) ([]models.MatchCount, error)
}

// TenantCounts is the badge payload for one tenant. Every status is present.
type TenantCounts struct {
	TenantID string                       `json:"tenant_id"`
	Counts   map[models.MatchStatus]int64 `json:"counts"`
	Total    int64                        `json:"total"`
}

type Projector struct {
	store  HashStore
	source CountSource
	logger ectologger.Logger
}

// NewProjector builds a projector. A nil store serves every read from the database.
func NewProjector(store HashStore, source CountSource, logger ectologger.Logger) *Projector {
	return &Projector{
		store:  store,
		source: source,
		logger: logger,
	}
}

func key(tenantID string) string {
	return keyPrefix + tenantID
}

// Apply adjusts counts for committed transitions. A transition with an empty From is a creation.
// A tenant without a cached hash is seeded from the database instead of incremented.
func (p *Projector) Apply(ctx context.Context, transitions ...models.StatusTransition) error {
	ctx, span := tracing.StartSpan(ctx, "projection.Projector.Apply")
	defer span.End()

	if p.store == nil || len(transitions) == 0 {
		return nil
	}

	deltas := map[string]map[string]int64{}
	for _, t := range transitions {
		d, ok := deltas[t.TenantID]
		if !ok {
			d = map[string]int64{}
			deltas[t.TenantID] = d
		}
		if t.From != "" {
			d[string(t.From)]--
		}
		d[string(t.To)]++
	}

	for tenantID, d := range deltas {
		applied, err := p.store.HIncrByExisting(ctx, key(tenantID), d)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to apply match count deltas")
			return err
		}
		if applied {
			continue
		}
		// the transitions are committed, so the database count already includes them
		if err := p.seed(ctx, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// seed writes a tenant's full counts from the database into a missing hash.
func (p *Projector) seed(ctx context.Context, tenantID string) error {
	rows, err := p.source.CountForTenant(ctx, tenantID)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to read match counts for seeding")
		return err
	}
	tc := newTenantCounts(tenantID)
	if folded := fold(rows); len(folded) > 0 {
		tc = folded[0]
	}
	if err := p.store.HReplace(ctx, key(tenantID), hashValues(tc)); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to seed match counts")
		return err
	}
	return nil
}

// Counts returns the scope's tenant counts, or every tenant's when the scope is cross-tenant.
func (p *Projector) Counts(ctx context.Context, scope tenancy.Scope) ([]TenantCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "projection.Projector.Counts")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	if scope.CrossTenant {
		rows, err := p.source.CountByStatus(ctx)
		if err != nil {
			return nil, err
		}
		return fold(rows), nil
	}

	if p.store != nil {
		cached, err := p.store.HGetAll(ctx, key(scope.TenantID))
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to read cached match counts; using database")
		} else if len(cached) > 0 {
			return []TenantCounts{fromHash(scope.TenantID, cached)}, nil
		}
	}

	rows, err := p.source.CountForTenant(ctx, scope.TenantID)
	if err != nil {
		return nil, err
	}
	counts := fold(rows)
	if len(counts) == 0 {
		counts = []TenantCounts{newTenantCounts(scope.TenantID)}
	}
	if p.store != nil {
		if err := p.store.HReplace(ctx, key(scope.TenantID), hashValues(counts[0])); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to cache match counts")
		}
	}
	return counts, nil
}

// Refresh recomputes every tenant's counts from the database and overwrites the cache.
func (p *Projector) Refresh(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "projection.Projector.Refresh")
	defer span.End()

	rows, err := p.source.CountByStatus(ctx)
	if err != nil {
		return err
	}

	metrics.MatchesByStatus.Reset()
	for _, tc := range fold(rows) {
		for status, n := range tc.Counts {
			metrics.MatchesByStatus.WithLabelValues(tc.TenantID, string(status)).Set(float64(n))
		}
		if p.store == nil {
			continue
		}
		if err := p.store.HReplace(ctx, key(tc.TenantID), hashValues(tc)); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tc.TenantID).Error("Failed to refresh match counts")
			return err
		}
	}
	return nil
}

func newTenantCounts(tenantID string) TenantCounts {
	counts := make(map[models.MatchStatus]int64, len(models.AllMatchStatuses))
	for _, s := range models.AllMatchStatuses {
		counts[s] = 0
	}
	return TenantCounts{TenantID: tenantID, Counts: counts}
}

func fold(rows []models.MatchCount) []TenantCounts {
	byTenant := map[string]*TenantCounts{}
	for _, row := range rows {
		tc, ok := byTenant[row.TenantID]
		if !ok {
			fresh := newTenantCounts(row.TenantID)
			tc = &fresh
			byTenant[row.TenantID] = tc
		}
		tc.Counts[row.Status] += row.Count
		tc.Total += row.Count
	}

	out := ectolinq.Map(ectolinq.Values(byTenant), func(tc *TenantCounts) TenantCounts { return *tc })
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func fromHash(tenantID string, hash map[string]string) TenantCounts {
	tc := newTenantCounts(tenantID)
	for field, raw := range hash {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		status := models.MatchStatus(field)
		if !status.Valid() {
			continue
		}
		// deltas can briefly go negative between a lost increment and the next refresh
		if n < 0 {
			n = 0
		}
		tc.Counts[status] = n
		tc.Total += n
	}
	return tc
}

func hashValues(tc TenantCounts) map[string]int64 {
	out := make(map[string]int64, len(tc.Counts))
	for status, n := range tc.Counts {
		out[string(status)] = n
	}
	return out
}
