package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/similarity"
)

// MemoryStore keeps sessions in process memory with TTL eviction. Suitable
// for single-instance deployments and tests; abandoned runs are bounded by
// the sweep loop.
type MemoryStore struct {
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memorySession
	done     chan struct{}
	stopOnce sync.Once
}

type memorySession struct {
	mu   sync.Mutex // serializes writes for this session only
	sess Session
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store evicting sessions ttl after creation.
// A background sweep reclaims abandoned sessions once per sweep interval.
func NewMemoryStore(ttl time.Duration, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*memorySession),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweep()
	return s
}

// Create registers a new session holding the normalized description sets.
func (s *MemoryStore) Create(ctx context.Context, wf []models.DescriptionItem, ref []models.CatalogEntry) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	now := s.now()
	entry := &memorySession{sess: Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		WFItems:   wf,
		RefItems:  ref,
	}}
	s.mu.Lock()
	s.sessions[id] = entry
	s.mu.Unlock()
	return id, nil
}

// Get returns a snapshot of the session, or ErrSessionNotFound if unknown or
// past its TTL. An expired session is evicted on sight.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	snapshot := entry.sess
	return &snapshot, nil
}

// PutMatrix stores the similarity matrix for the session.
func (s *MemoryStore) PutMatrix(ctx context.Context, id uuid.UUID, m *similarity.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := s.lookup(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.sess.Matrix = m
	return nil
}

// PutResults stores the match results for the session.
func (s *MemoryStore) PutResults(ctx context.Context, id uuid.UUID, results []match.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := s.lookup(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.sess.Results = results
	return nil
}

// Expire removes the session immediately. Expiring an unknown session is not
// an error.
func (s *MemoryStore) Expire(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Close stops the sweep loop.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) lookup(id uuid.UUID) (*memorySession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.now().After(entry.sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

func (s *MemoryStore) sweep() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for id, entry := range s.sessions {
				if now.After(entry.sess.ExpiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
