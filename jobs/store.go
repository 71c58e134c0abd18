package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the live jobs. View grants shared read access to a job, Update
// exclusive write access; both run their callback under the store's lock, so
// callbacks must not call back into the store. Mask and frame payloads are
// immutable once attached, so references captured inside a View callback may
// safely outlive it.
type Store interface {
	Put(j *Job)
	View(id uuid.UUID, fn func(j *Job)) error
	Update(id uuid.UUID, fn func(j *Job)) error
	Delete(id uuid.UUID) bool
	List() []uuid.UUID
}

// MemoryStore is the in-process Store. Jobs live here for their whole
// lifecycle; nothing is evicted automatically, deletion is always an
// explicit caller operation.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*Job)}
}

// Put registers a job.
func (s *MemoryStore) Put(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

// View runs fn with shared access to the job. fn must not mutate it.
func (s *MemoryStore) View(id uuid.UUID, fn func(j *Job)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	return nil
}

// Update runs fn with exclusive access to the job and stamps UpdatedAt.
// Returning ErrJobNotFound after a concurrent Delete is how in-flight stage
// results get discarded.
func (s *MemoryStore) Update(id uuid.UUID, fn func(j *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a job and reports whether it existed.
func (s *MemoryStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

// List returns the ids of all live jobs in no particular order.
func (s *MemoryStore) List() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	return out
}
