package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// memoryMatches mimics the repository, including the partial unique index on live pairs and the
// conditional status update.
type memoryMatches struct {
	mu       sync.Mutex
	matches  map[string]*models.Match
	postings map[string]*models.LoadPosting
}

func newMemoryMatches() *memoryMatches {
	return &memoryMatches{
		matches:  map[string]*models.Match{},
		postings: map[string]*models.LoadPosting{},
	}
}

func (s *memoryMatches) InsertCandidate(_ context.Context, m *models.Match) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.matches {
		if existing.TenantID == m.TenantID && existing.VehicleID == m.VehicleID && existing.PostingID == m.PostingID {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Status = models.MatchStatusUnreviewed
	m.CreatedAt = time.Now()
	stored := *m
	s.matches[m.ID] = &stored
	return true, nil
}

func (s *memoryMatches) put(m models.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = &m
}

func (s *memoryMatches) GetAcrossTenants(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, apperrors.NotFound("match", id)
	}
	out := *m
	return &out, nil
}

func (s *memoryMatches) Get(_ context.Context, tenantID, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok || m.TenantID != tenantID {
		return nil, apperrors.NotFound("match", id)
	}
	out := *m
	return &out, nil
}

func (s *memoryMatches) List(_ context.Context, tenantID string, filter models.MatchFilter) ([]models.Match, error) {
	return s.list(func(m *models.Match) bool { return m.TenantID == tenantID }), nil
}

func (s *memoryMatches) ListAcrossTenants(_ context.Context, filter models.MatchFilter) ([]models.Match, error) {
	return s.list(func(*models.Match) bool { return true }), nil
}

func (s *memoryMatches) list(keep func(*models.Match) bool) []models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Match{}
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryMatches) UpdateStatus(_ context.Context, m *models.Match, from models.MatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.matches[m.ID]
	if !ok || current.TenantID != m.TenantID || current.Status != from {
		return false, nil
	}
	if m.Status.IsLive() {
		for _, other := range s.matches {
			if other.ID != m.ID && other.TenantID == m.TenantID && other.VehicleID == m.VehicleID &&
				other.PostingID == m.PostingID && other.Status.IsLive() {
				return false, apperrors.Precondition("another active match already exists for this vehicle and posting")
			}
		}
	}
	stored := *m
	s.matches[m.ID] = &stored
	return true, nil
}

func (s *memoryMatches) HasLivePair(_ context.Context, tenantID, vehicleID, postingID, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.matches {
		if m.ID != excludeID && m.TenantID == tenantID && m.VehicleID == vehicleID && m.PostingID == postingID && m.Status.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryMatches) SweepExpired(_ context.Context, now time.Time, limit int) ([]models.StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.matches))
	for id := range s.matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []models.StatusTransition{}
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		m := s.matches[id]
		if m.Status.IsTerminal() {
			continue
		}
		p, ok := s.postings[m.PostingID]
		if !ok || !p.IsExpired(now) {
			continue
		}
		out = append(out, models.StatusTransition{MatchID: m.ID, TenantID: m.TenantID, From: m.Status, To: models.MatchStatusMissed})
		m.Status = models.MatchStatusMissed
	}
	return out, nil
}

func (s *memoryMatches) status(id string) models.MatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches[id].Status
}

type memoryVehicles map[string]*models.Vehicle

func (v memoryVehicles) GetMany(_ context.Context, tenantID string, ids []string) (map[string]*models.Vehicle, error) {
	out := map[string]*models.Vehicle{}
	for _, id := range ids {
		if veh, ok := v[id]; ok && veh.TenantID == tenantID {
			out[id] = veh
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
	err     error
}

func (a *recordingAudit) Record(_ context.Context, entries ...models.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return apperrors.AuditLogWriteFailure(entries[0].Action, a.err)
	}
	a.entries = append(a.entries, entries...)
	return nil
}

type recordingProjector struct {
	mu          sync.Mutex
	transitions []models.StatusTransition
}

func (p *recordingProjector) Apply(_ context.Context, transitions ...models.StatusTransition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, transitions...)
	return nil
}
