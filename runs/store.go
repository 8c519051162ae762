package runs

import (
	"sync"
	"time"

	"github.com/use-agent/promozone/models"
)

// StateStore keeps the current state of every known run.
type StateStore interface {
	Put(state models.RunState)
	Get(runID string) (models.RunState, bool)
}

// entry holds a run state with the time it was last written.
type entry struct {
	state     models.RunState
	updatedAt time.Time
}

// MemoryStore is an in-memory StateStore. It is safe for concurrent use.
//
// With a positive TTL a background sweep evicts terminal runs that have not
// changed for longer than the TTL. Runs in progress are never evicted.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]*entry
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 keeps runs for the
// process lifetime.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		store: make(map[string]*entry),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanupLoop(sweepInterval(ttl))
	}
	return s
}

// Put stores a copy of state, replacing any previous value for its run.
func (s *MemoryStore) Put(state models.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[state.RunID] = &entry{state: state.Clone(), updatedAt: s.now()}
}

// Get returns a copy of the run's state.
func (s *MemoryStore) Get(runID string) (models.RunState, bool) {
	s.mu.RLock()
	e, ok := s.store[runID]
	s.mu.RUnlock()
	if !ok {
		return models.RunState{}, false
	}
	return e.state.Clone(), true
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}

// Close stops the background sweep.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// sweep evicts terminal runs older than the TTL.
func (s *MemoryStore) sweep() {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.store {
		if e.state.Status.Terminal() && e.updatedAt.Before(cutoff) {
			delete(s.store, k)
		}
	}
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	every := ttl / 4
	if every > 5*time.Minute {
		every = 5 * time.Minute
	}
	if every < time.Second {
		every = time.Second
	}
	return every
}
