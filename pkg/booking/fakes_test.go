package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sage/internal/repositories/load"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/redis"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// world is an in-memory store for every record the saga touches. WithTx snapshots it and
// restores the snapshot when fn fails, the way a rolled back transaction would.
type world struct {
	mu        sync.Mutex
	matches   map[string]models.Match
	postings  map[string]models.LoadPosting
	vehicles  map[string]models.Vehicle
	loads     map[string]models.Load
	customers []models.Customer
	sequences map[string]int

	failUpdates   int
	failAssigns   int
	customerErr   error
	takenNumbers  map[string]bool
	alwaysCollide bool
	// beforeLock runs when the saga asks for the match row lock.
	beforeLock func(w *world)
}

func newWorld() *world {
	return &world{
		matches:      map[string]models.Match{},
		postings:     map[string]models.LoadPosting{},
		vehicles:     map[string]models.Vehicle{},
		loads:        map[string]models.Load{},
		sequences:    map[string]int{},
		takenNumbers: map[string]bool{},
	}
}

type snapshot struct {
	matches   map[string]models.Match
	postings  map[string]models.LoadPosting
	loads     map[string]models.Load
	sequences map[string]int
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (w *world) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	w.mu.Lock()
	snap := snapshot{
		matches:   copyMap(w.matches),
		postings:  copyMap(w.postings),
		loads:     copyMap(w.loads),
		sequences: copyMap(w.sequences),
	}
	w.mu.Unlock()

	if err := fn(ctx); err != nil {
		w.mu.Lock()
		w.matches = snap.matches
		w.postings = snap.postings
		w.loads = snap.loads
		w.sequences = snap.sequences
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *world) match(id string) models.Match {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.matches[id]
}

func (w *world) posting(id string) models.LoadPosting {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.postings[id]
}

func (w *world) loadCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.loads)
}

// matchStore satisfies the engine's match storage.
type matchStore struct{ *world }

func (s matchStore) InsertCandidate(context.Context, *models.Match) (bool, error) {
	return false, nil
}

func (s matchStore) Get(_ context.Context, tenantID, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok || m.TenantID != tenantID {
		return nil, apperrors.NotFound("match", id)
	}
	return &m, nil
}

func (s matchStore) GetAcrossTenants(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, apperrors.NotFound("match", id)
	}
	return &m, nil
}

func (s matchStore) GetForUpdate(ctx context.Context, tenantID, id string) (*models.Match, error) {
	if s.beforeLock != nil {
		s.beforeLock(s.world)
	}
	return s.Get(ctx, tenantID, id)
}

func (s matchStore) List(context.Context, string, models.MatchFilter) ([]models.Match, error) {
	return nil, nil
}

func (s matchStore) ListAcrossTenants(context.Context, models.MatchFilter) ([]models.Match, error) {
	return nil, nil
}

func (s matchStore) UpdateStatus(_ context.Context, m *models.Match, from models.MatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return false, errors.New("connection reset")
	}
	current, ok := s.matches[m.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	s.matches[m.ID] = *m
	return true, nil
}

func (s matchStore) HasLivePair(context.Context, string, string, string, string) (bool, error) {
	return false, nil
}

func (s matchStore) SweepExpired(context.Context, time.Time, int) ([]models.StatusTransition, error) {
	return nil, nil
}

type postingStore struct{ *world }

func (s postingStore) Get(_ context.Context, tenantID, id string) (*models.LoadPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.postings[id]
	if !ok || p.TenantID != tenantID {
		return nil, apperrors.NotFound("load posting", id)
	}
	return &p, nil
}

func (s postingStore) AssignLoad(_ context.Context, tenantID, postingID, loadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAssigns > 0 {
		s.failAssigns--
		return errors.New("connection reset")
	}
	p, ok := s.postings[postingID]
	if !ok || p.TenantID != tenantID {
		return apperrors.NotFound("load posting", postingID)
	}
	if p.AssignedLoadID != nil && *p.AssignedLoadID != loadID {
		return apperrors.Precondition("load posting is already assigned to another load")
	}
	p.AssignedLoadID = &loadID
	p.Status = models.PostingStatusMatched
	s.postings[postingID] = p
	return nil
}

type vehicleStore struct{ *world }

func (s vehicleStore) Get(_ context.Context, tenantID, id string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.TenantID != tenantID {
		return nil, apperrors.NotFound("vehicle", id)
	}
	return &v, nil
}

func (s vehicleStore) GetMany(_ context.Context, tenantID string, ids []string) (map[string]*models.Vehicle, error) {
	out := map[string]*models.Vehicle{}
	for _, id := range ids {
		if v, err := s.Get(context.Background(), tenantID, id); err == nil {
			out[id] = v
		}
	}
	return out, nil
}

type loadStore struct{ *world }

func (s loadStore) Create(_ context.Context, l *models.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alwaysCollide || s.takenNumbers[l.LoadNumber] {
		return load.ErrDuplicateLoadNumber
	}
	for _, existing := range s.loads {
		if existing.TenantID == l.TenantID && existing.MatchID == l.MatchID {
			return load.ErrDuplicateMatch
		}
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	s.loads[l.ID] = *l
	return nil
}

func (s loadStore) Get(_ context.Context, tenantID, id string) (*models.Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loads[id]
	if !ok || l.TenantID != tenantID {
		return nil, apperrors.NotFound("load", id)
	}
	return &l, nil
}

func (s loadStore) GetByMatch(_ context.Context, tenantID, matchID string) (*models.Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loads {
		if l.TenantID == tenantID && l.MatchID == matchID {
			return &l, nil
		}
	}
	return nil, nil
}

type sequenceStore struct{ *world }

func (s sequenceStore) Next(_ context.Context, tenantID, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[tenantID+"/"+prefix]++
	return s.sequences[tenantID+"/"+prefix], nil
}

func (s sequenceStore) Advance(_ context.Context, tenantID, prefix string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequences[tenantID+"/"+prefix] < value {
		s.sequences[tenantID+"/"+prefix] = value
	}
	return nil
}

type customerDirectory struct{ *world }

func (d customerDirectory) FindByName(_ context.Context, tenantID, name string) (*models.Customer, error) {
	return d.find(tenantID, func(c models.Customer) bool { return strings.EqualFold(c.Name, name) })
}

func (d customerDirectory) FindByEmail(_ context.Context, tenantID, email string) (*models.Customer, error) {
	return d.find(tenantID, func(c models.Customer) bool { return c.Email != nil && strings.EqualFold(*c.Email, email) })
}

func (d customerDirectory) find(tenantID string, keep func(models.Customer) bool) (*models.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.customerErr != nil {
		return nil, d.customerErr
	}
	for _, c := range d.customers {
		if c.TenantID == tenantID && keep(c) {
			return &c, nil
		}
	}
	return nil, nil
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

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type noopProjector struct{}

func (noopProjector) Apply(context.Context, ...models.StatusTransition) error { return nil }

type recordingEvents struct {
	mu    sync.Mutex
	loads []models.Load
}

func (e *recordingEvents) LoadBooked(_ context.Context, _ string, l *models.Load) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, *l)
	return nil
}

// memoryLocker grants each key to one holder at a time.
type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]bool{}}
}

func (l *memoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (redis.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, redis.ErrLockNotAcquired
	}
	l.held[key] = true
	return &memoryLock{locker: l, key: key}, nil
}

type memoryLock struct {
	locker *memoryLocker
	key    string
}

func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	delete(m.locker.held, m.key)
	return nil
}
