package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
)

// MemoryStore keeps everything in process memory. It is the default backend
// for tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	byEmail  map[string]string
	// times[account][kind] is sorted ascending so windows are two binary searches.
	times  map[string]map[model.EventKind][]time.Time
	recent map[string][]model.Event
	events int64
	closed bool
	opts   options
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		byEmail:  make(map[string]string),
		times:    make(map[string]map[model.EventKind][]time.Time),
		recent:   make(map[string][]model.Event),
		opts:     o,
	}
}

// Create implements AccountStore.
func (s *MemoryStore) Create(ctx context.Context, acct model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAccount(acct); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	if _, ok := s.accounts[acct.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byEmail[acct.Email]; ok {
		return ErrAlreadyExists
	}
	s.accounts[acct.ID] = acct.Clone()
	s.byEmail[acct.Email] = acct.ID
	return nil
}

// Get implements AccountStore.
func (s *MemoryStore) Get(ctx context.Context, accountID string) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Account{}, ErrUnavailable
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return acct.Clone(), nil
}

// GetByEmail implements AccountStore.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Account{}, ErrUnavailable
	}
	id, ok := s.byEmail[email]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

// CompareAndSet implements AccountStore.
func (s *MemoryStore) CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Account{}, ErrUnavailable
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	if acct.Version != expectedVersion {
		return model.Account{}, ErrConflict
	}
	acct.Score = model.ClampScore(score)
	acct.KnownDevices = model.MergeDevices(acct.KnownDevices, addDevices)
	acct.Version++
	acct.UpdatedAt = at
	s.accounts[accountID] = acct
	return acct.Clone(), nil
}

// Append implements EventStore.
func (s *MemoryStore) Append(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEvent(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	byKind, ok := s.times[ev.AccountID]
	if !ok {
		byKind = make(map[model.EventKind][]time.Time)
		s.times[ev.AccountID] = byKind
	}
	ts := byKind[ev.Kind]
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(ev.OccurredAt) })
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = ev.OccurredAt
	byKind[ev.Kind] = ts

	r := append(s.recent[ev.AccountID], ev)
	if over := len(r) - s.opts.recentCap; over > 0 {
		r = append([]model.Event(nil), r[over:]...)
	}
	s.recent[ev.AccountID] = r
	s.events++
	return nil
}

// CountInWindow implements EventStore.
func (s *MemoryStore) CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrUnavailable
	}
	if until.Before(since) {
		return 0, nil
	}
	ts := s.times[accountID][kind]
	lo := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(since) })
	hi := sort.Search(len(ts), func(i int) bool { return ts[i].After(until) })
	return hi - lo, nil
}

// ListRecent implements EventStore.
func (s *MemoryStore) ListRecent(ctx context.Context, accountID string, limit int) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	r := s.recent[accountID]
	limit = normalizeLimit(limit, s.opts.recentCap)
	out := make([]model.Event, 0, min(limit, len(r)))
	for i := len(r) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r[i])
	}
	return out, nil
}

// Prune implements Store. Pruned events also leave the recent lists.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrUnavailable
	}
	var removed int64
	for _, byKind := range s.times {
		for kind, ts := range byKind {
			n := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(cutoff) })
			if n == 0 {
				continue
			}
			removed += int64(n)
			byKind[kind] = append([]time.Time(nil), ts[n:]...)
		}
	}
	for id, r := range s.recent {
		kept := r[:0:0]
		for _, ev := range r {
			if !ev.OccurredAt.Before(cutoff) {
				kept = append(kept, ev)
			}
		}
		s.recent[id] = kept
	}
	s.events -= removed
	return removed, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Backend: BackendMemory, Accounts: int64(len(s.accounts)), Events: s.events}, nil
}

// Close marks the store unusable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
