package prospects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Persister receives every committed prospect snapshot.
type Persister interface {
	Save(ctx context.Context, p Prospect) error
}

// Loader returns previously persisted prospects.
type Loader interface {
	LoadAll(ctx context.Context) ([]Prospect, error)
}

type entry struct {
	mu sync.Mutex
	p  Prospect
}

// Store owns prospect records. Each prospect has its own lock so mutations of
// one prospect are serialized while different prospects proceed in parallel.
// Snapshots handed out are deep copies.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byPhone map[string]string

	persister Persister
	logger    *logging.Logger
	now       func() time.Time
}

// NewStore creates an empty store. persister may be nil.
func NewStore(persister Persister, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		entries:   make(map[string]*entry),
		byPhone:   make(map[string]string),
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Enroll inserts p. It reports false without modifying anything when a
// prospect with the same id already exists.
func (s *Store) Enroll(ctx context.Context, p Prospect) (bool, error) {
	if strings.TrimSpace(p.ID) == "" {
		return false, fmt.Errorf("%w: id required", ErrInvalidProspect)
	}
	if err := checkStage(p); err != nil {
		return false, err
	}
	now := s.now().UTC()
	p = p.Clone()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1

	s.mu.Lock()
	if _, exists := s.entries[p.ID]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.entries[p.ID] = &entry{p: p}
	if p.Contact.Phone != "" {
		s.byPhone[p.Contact.Phone] = p.ID
	}
	s.mu.Unlock()

	s.persist(ctx, p)
	return true, nil
}

// Get returns a snapshot of the prospect.
func (s *Store) Get(id string) (Prospect, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Prospect{}, fmt.Errorf("%w: %s", ErrProspectNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// FindByPhone returns the prospect enrolled with the given E.164 phone.
func (s *Store) FindByPhone(phone string) (Prospect, error) {
	s.mu.RLock()
	id, ok := s.byPhone[phone]
	s.mu.RUnlock()
	if !ok {
		return Prospect{}, fmt.Errorf("%w: phone %s", ErrProspectNotFound, phone)
	}
	return s.Get(id)
}

// Snapshot returns copies of every prospect ordered by id.
func (s *Store) Snapshot() []Prospect {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Prospect, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of prospects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Mutate applies fn to a copy of the prospect while holding its lock and
// commits the copy atomically. If fn returns ErrNoChange nothing is committed
// and the current snapshot is returned with a nil error. The committed
// snapshot is persisted after the lock is released.
func (s *Store) Mutate(ctx context.Context, id string, fn func(p *Prospect) error) (Prospect, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Prospect{}, fmt.Errorf("%w: %s", ErrProspectNotFound, id)
	}

	e.mu.Lock()
	draft := e.p.Clone()
	if err := fn(&draft); err != nil {
		current := e.p.Clone()
		e.mu.Unlock()
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return current, err
	}
	if draft.ID != e.p.ID {
		e.mu.Unlock()
		return Prospect{}, fmt.Errorf("%w: id is immutable", ErrInvalidProspect)
	}
	if err := checkStage(draft); err != nil {
		e.mu.Unlock()
		return Prospect{}, err
	}
	oldPhone := e.p.Contact.Phone
	draft.Version = e.p.Version + 1
	draft.UpdatedAt = s.now().UTC()
	e.p = draft
	committed := draft.Clone()
	if committed.Contact.Phone != oldPhone {
		s.reindexPhone(id, oldPhone, committed.Contact.Phone)
	}
	e.mu.Unlock()

	s.persist(ctx, committed)
	return committed, nil
}

// Restore replaces the in-memory state with everything loader returns.
func (s *Store) Restore(ctx context.Context, loader Loader) (int, error) {
	records, err := loader.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("prospects: restore: %w", err)
	}
	entries := make(map[string]*entry, len(records))
	byPhone := make(map[string]string, len(records))
	for _, p := range records {
		if err := checkStage(p); err != nil {
			s.logger.Warn("prospects: skipping invalid persisted prospect", "prospect_id", p.ID, "error", err)
			continue
		}
		entries[p.ID] = &entry{p: p.Clone()}
		if p.Contact.Phone != "" {
			byPhone[p.Contact.Phone] = p.ID
		}
	}
	s.mu.Lock()
	s.entries = entries
	s.byPhone = byPhone
	s.mu.Unlock()
	return len(entries), nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *Store) reindexPhone(id, oldPhone, newPhone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldPhone != "" && s.byPhone[oldPhone] == id {
		delete(s.byPhone, oldPhone)
	}
	if newPhone != "" {
		s.byPhone[newPhone] = id
	}
}

func (s *Store) persist(ctx context.Context, p Prospect) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, p); err != nil {
		s.logger.Error("prospects: persist failed", "prospect_id", p.ID, "version", p.Version, "error", err)
	}
}

func checkStage(p Prospect) error {
	if p.EventCount < 0 || p.StageIndex < 0 || p.StageIndex > p.EventCount {
		return fmt.Errorf("%w: stage %d of %d for %s", ErrStageOutOfRange, p.StageIndex, p.EventCount, p.ID)
	}
	return nil
}
