package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

const (
	tenantA = "0a3c2f4e-1111-4c4c-8d8d-000000000001"
	tenantB = "0a3c2f4e-2222-4c4c-8d8d-000000000002"
)

func ptr[T any](v T) *T { return &v }

type testEngine struct {
	*Engine
	store     *memoryMatches
	audit     *recordingAudit
	projector *recordingProjector
}

func newTestEngine(t *testing.T, vehicles memoryVehicles) *testEngine {
	t.Helper()

	matrix, err := LoadEquipmentMatrix("")
	require.NoError(t, err)

	store := newMemoryMatches()
	auditRec := &recordingAudit{}
	projector := &recordingProjector{}
	engine := NewEngine(store, vehicles, NewEligibility(matrix, nil), auditRec, projector, nil, getTestLogger(), Config{SweepBatchSize: 2})

	return &testEngine{Engine: engine, store: store, audit: auditRec, projector: projector}
}

func scopeA() tenancy.Scope {
	return tenancy.Scope{TenantID: tenantA, ActorID: "dispatcher-1"}
}

// Dallas origin, Fort Worth pickup: roughly 30 miles apart.
func dallas() models.Location {
	return models.Location{City: "Dallas", State: "TX", Lat: ptr(32.7767), Lng: ptr(-96.7970)}
}

func fortWorth() models.Location {
	return models.Location{City: "Fort Worth", State: "TX", Lat: ptr(32.7555), Lng: ptr(-97.3308)}
}

func testPosting(id string) *models.LoadPosting {
	return &models.LoadPosting{
		ID:            id,
		TenantID:      tenantA,
		Origin:        fortWorth(),
		EquipmentType: "Dry Van",
		Rate:          decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		LengthFeet:    ptr(48.0),
		WeightLbs:     ptr(30000.0),
	}
}

func testPlan(id, vehicleID string) models.HuntPlan {
	return models.HuntPlan{
		ID:             id,
		TenantID:       tenantA,
		VehicleID:      vehicleID,
		Origin:         dallas(),
		RadiusMiles:    ptr(100.0),
		EquipmentTypes: pq.StringArray{"van"},
		AvailableFeet:  ptr(53.0),
		Active:         true,
	}
}

func testVehicles() memoryVehicles {
	return memoryVehicles{
		"veh-1": {ID: "veh-1", TenantID: tenantA, TruckType: models.TruckTypeCompany, EquipmentType: "van", Active: true},
		"veh-2": {ID: "veh-2", TenantID: tenantA, TruckType: models.TruckTypeContractor, EquipmentType: "reefer", Active: true},
	}
}

func TestEngine_CreateCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("one unreviewed match per eligible vehicle", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		plans := []models.HuntPlan{testPlan("plan-1", "veh-1"), testPlan("plan-2", "veh-2")}

		created, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), plans)
		require.NoError(t, err)
		require.Len(t, created, 2)
		for _, m := range created {
			assert.Equal(t, models.MatchStatusUnreviewed, m.Status)
			assert.Equal(t, tenantA, m.TenantID)
			require.NotNil(t, m.DistanceMiles)
			assert.InDelta(t, 31, *m.DistanceMiles, 3)
		}
		assert.Len(t, te.projector.transitions, 2)
	})

	t.Run("re-running never duplicates a pair", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		plans := []models.HuntPlan{testPlan("plan-1", "veh-1")}

		first, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), plans)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), plans)
		require.NoError(t, err)
		assert.Empty(t, second)

		all, _ := te.store.List(ctx, tenantA, models.MatchFilter{})
		assert.Len(t, all, 1)
	})

	t.Run("a skipped pair is not recreated", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		plans := []models.HuntPlan{testPlan("plan-1", "veh-1")}

		created, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), plans)
		require.NoError(t, err)
		_, err = te.Transition(ctx, scopeA(), created[0].ID, models.MatchStatusSkipped, models.TransitionPayload{})
		require.NoError(t, err)

		again, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), plans)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("two plans for one vehicle yield one match", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		far := testPlan("plan-far", "veh-1")
		far.Origin = models.Location{City: "Waco", State: "TX", Lat: ptr(31.5493), Lng: ptr(-97.1467)}
		near := testPlan("plan-near", "veh-1")

		created, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), []models.HuntPlan{far, near})
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "plan-near", created[0].HuntPlanID)
	})

	t.Run("ineligible plans are filtered", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())

		inactive := testPlan("plan-inactive", "veh-1")
		inactive.Active = false
		tooShort := testPlan("plan-short", "veh-1")
		tooShort.AvailableFeet = ptr(20.0)
		flatbed := testPlan("plan-flatbed", "veh-2")
		flatbed.EquipmentTypes = pq.StringArray{"flatbed"}

		created, err := te.CreateCandidates(ctx, scopeA(), testPosting("post-1"), []models.HuntPlan{inactive, tooShort, flatbed})
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("expired posting creates nothing", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		posting := testPosting("post-1")
		posting.ExpiresAt = ptr(time.Now().Add(-time.Minute))

		created, err := te.CreateCandidates(ctx, scopeA(), posting, []models.HuntPlan{testPlan("plan-1", "veh-1")})
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("posting from another tenant is rejected", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		posting := testPosting("post-1")
		posting.TenantID = tenantB

		_, err := te.CreateCandidates(ctx, scopeA(), posting, []models.HuntPlan{testPlan("plan-1", "veh-1")})
		assert.True(t, apperrors.Is(err, apperrors.KindTenantScopeViolation))
	})
}

func TestEngine_Transition(t *testing.T) {
	ctx := context.Background()

	seed := func(te *testEngine, id string, status models.MatchStatus) {
		te.store.put(models.Match{ID: id, TenantID: tenantA, VehicleID: "veh-" + id, PostingID: "post-1", Status: status})
	}

	t.Run("bid records rate and actor", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusUnreviewed)

		result, err := te.Transition(ctx, scopeA(), "m1", models.MatchStatusBid, models.TransitionPayload{
			BidRate: decimal.NewNullDecimal(decimal.RequireFromString("1250.505")),
		})
		require.NoError(t, err)
		assert.False(t, result.Degraded)
		assert.Equal(t, models.MatchStatusBid, result.Match.Status)
		assert.Equal(t, "1250.51", result.Match.BidRate.Decimal.StringFixed(2))
		require.NotNil(t, result.Match.BidBy)
		assert.Equal(t, "dispatcher-1", *result.Match.BidBy)
		assert.NotNil(t, result.Match.BidAt)

		require.Len(t, te.audit.entries, 1)
		assert.Equal(t, "m1", te.audit.entries[0].EntityID)
	})

	t.Run("bid without a positive rate fails", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusUnreviewed)

		_, err := te.Transition(ctx, scopeA(), "m1", models.MatchStatusBid, models.TransitionPayload{})
		assert.True(t, apperrors.Is(err, apperrors.KindPrecondition))

		_, err = te.Transition(ctx, scopeA(), "m1", models.MatchStatusBid, models.TransitionPayload{
			BidRate: decimal.NewNullDecimal(decimal.Zero),
		})
		assert.True(t, apperrors.Is(err, apperrors.KindPrecondition))
		assert.Equal(t, models.MatchStatusUnreviewed, te.store.status("m1"))
	})

	t.Run("booking requires a load id", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusBid)

		_, err := te.Transition(ctx, scopeA(), "m1", models.MatchStatusBooked, models.TransitionPayload{})
		assert.True(t, apperrors.Is(err, apperrors.KindPrecondition))
	})

	t.Run("terminal matches never move", func(t *testing.T) {
		for _, terminal := range []models.MatchStatus{models.MatchStatusBooked, models.MatchStatusMissed} {
			for _, target := range models.AllMatchStatuses {
				te := newTestEngine(t, testVehicles())
				seed(te, "m1", terminal)

				_, err := te.Transition(ctx, scopeA(), "m1", target, models.TransitionPayload{
					BidRate:      decimal.NewNullDecimal(decimal.NewFromInt(100)),
					BookedLoadID: "load-1",
				})
				assert.Truef(t, apperrors.Is(err, apperrors.KindInvalidTransition), "%s -> %s", terminal, target)
				assert.Equal(t, terminal, te.store.status("m1"))
			}
		}
	})

	t.Run("illegal moves are rejected", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusSkipped)

		_, err := te.Transition(ctx, scopeA(), "m1", models.MatchStatusUnreviewed, models.TransitionPayload{})
		assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))

		_, err = te.Transition(ctx, scopeA(), "m1", models.MatchStatusBid, models.TransitionPayload{
			BidRate: decimal.NewNullDecimal(decimal.NewFromInt(100)),
		})
		assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))
	})

	t.Run("other tenant's match is invisible", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		te.store.put(models.Match{ID: "shared-id", TenantID: tenantB, VehicleID: "v", PostingID: "p", Status: models.MatchStatusUnreviewed})

		_, err := te.Transition(ctx, scopeA(), "shared-id", models.MatchStatusSkipped, models.TransitionPayload{})
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		assert.Equal(t, models.MatchStatusUnreviewed, te.store.status("shared-id"))
	})

	t.Run("missing tenant fails closed", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusUnreviewed)

		_, err := te.Transition(ctx, tenancy.Scope{ActorID: "x"}, "m1", models.MatchStatusSkipped, models.TransitionPayload{})
		assert.True(t, apperrors.Is(err, apperrors.KindTenantScopeViolation))
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		seed(te, "m1", models.MatchStatusBid)

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for _, target := range []models.MatchStatus{models.MatchStatusMissed, models.MatchStatusBooked} {
			wg.Add(1)
			go func(target models.MatchStatus) {
				defer wg.Done()
				_, err := te.Transition(ctx, scopeA(), "m1", target, models.TransitionPayload{BookedLoadID: "load-1"})
				results <- err
			}(target)
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("audit failure degrades but succeeds", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		te.audit.err = errors.New("disk full")
		seed(te, "m1", models.MatchStatusUnreviewed)

		result, err := te.Transition(ctx, scopeA(), "m1", models.MatchStatusWaitlist, models.TransitionPayload{})
		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.Equal(t, models.MatchStatusWaitlist, te.store.status("m1"))
	})
}

func TestEngine_ReReview(t *testing.T) {
	ctx := context.Background()

	t.Run("skipped returns to unreviewed", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		te.store.put(models.Match{ID: "m1", TenantID: tenantA, VehicleID: "v1", PostingID: "p1", Status: models.MatchStatusSkipped})

		result, err := te.ReReview(ctx, scopeA(), "m1")
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusUnreviewed, result.Match.Status)
	})

	t.Run("blocked by another live match for the pair", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		te.store.put(models.Match{ID: "m1", TenantID: tenantA, VehicleID: "v1", PostingID: "p1", Status: models.MatchStatusSkipped})
		te.store.put(models.Match{ID: "m2", TenantID: tenantA, VehicleID: "v1", PostingID: "p1", Status: models.MatchStatusBid})

		_, err := te.ReReview(ctx, scopeA(), "m1")
		assert.True(t, apperrors.Is(err, apperrors.KindPrecondition))
		assert.Equal(t, models.MatchStatusSkipped, te.store.status("m1"))
	})

	t.Run("only skipped or waitlist", func(t *testing.T) {
		te := newTestEngine(t, testVehicles())
		te.store.put(models.Match{ID: "m1", TenantID: tenantA, VehicleID: "v1", PostingID: "p1", Status: models.MatchStatusMissed})

		_, err := te.ReReview(ctx, scopeA(), "m1")
		assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))
	})
}

func TestEngine_SweepExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	te := newTestEngine(t, testVehicles())
	te.store.postings["expired"] = &models.LoadPosting{ID: "expired", TenantID: tenantA, ExpiresAt: ptr(now.Add(-time.Hour))}
	te.store.postings["open"] = &models.LoadPosting{ID: "open", TenantID: tenantA, ExpiresAt: ptr(now.Add(time.Hour))}

	statuses := map[string]models.MatchStatus{
		"a-unreviewed": models.MatchStatusUnreviewed,
		"b-waitlist":   models.MatchStatusWaitlist,
		"c-bid":        models.MatchStatusBid,
		"d-skipped":    models.MatchStatusSkipped,
		"e-booked":     models.MatchStatusBooked,
	}
	for id, status := range statuses {
		te.store.put(models.Match{ID: id, TenantID: tenantA, VehicleID: id, PostingID: "expired", Status: status})
	}
	te.store.put(models.Match{ID: "f-other-tenant", TenantID: tenantB, VehicleID: "v", PostingID: "expired", Status: models.MatchStatusBid})
	te.store.put(models.Match{ID: "g-open", TenantID: tenantA, VehicleID: "v", PostingID: "open", Status: models.MatchStatusUnreviewed})

	count, err := te.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	for _, id := range []string{"a-unreviewed", "b-waitlist", "c-bid", "d-skipped", "f-other-tenant"} {
		assert.Equal(t, models.MatchStatusMissed, te.store.status(id), id)
	}
	assert.Equal(t, models.MatchStatusBooked, te.store.status("e-booked"))
	assert.Equal(t, models.MatchStatusUnreviewed, te.store.status("g-open"))

	// one entry per expired match, owned by the match's tenant
	require.Len(t, te.audit.entries, 5)
	audited := map[string]string{}
	for _, entry := range te.audit.entries {
		assert.Equal(t, "match.expired", entry.Action)
		assert.Equal(t, models.EntityTypeMatch, entry.EntityType)
		audited[entry.EntityID] = entry.TenantID
	}
	assert.Equal(t, map[string]string{
		"a-unreviewed":   tenantA,
		"b-waitlist":     tenantA,
		"c-bid":          tenantA,
		"d-skipped":      tenantA,
		"f-other-tenant": tenantB,
	}, audited)

	again, err := te.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestEngine_Get(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testVehicles())
	te.store.put(models.Match{ID: "b1", TenantID: tenantB, Status: models.MatchStatusUnreviewed})

	_, err := te.Get(ctx, scopeA(), "b1")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "another tenant's match is invisible")

	cross := scopeA()
	cross.CrossTenant = true
	m, err := te.Get(ctx, cross, "b1")
	require.NoError(t, err)
	assert.Equal(t, tenantB, m.TenantID)

	_, err = te.Get(ctx, cross, "missing")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestEngine_List(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testVehicles())
	te.store.put(models.Match{ID: "a1", TenantID: tenantA, Status: models.MatchStatusUnreviewed})
	te.store.put(models.Match{ID: "b1", TenantID: tenantB, Status: models.MatchStatusUnreviewed})

	own, err := te.List(ctx, scopeA(), models.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "a1", own[0].ID)

	cross := scopeA()
	cross.CrossTenant = true
	all, err := te.List(ctx, cross, models.MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
