package purchase

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
)

// Registry keeps in-flight pipelines between requests of the same purchase.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[uuid.UUID]*Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[uuid.UUID]*Pipeline)}
}

func (r *Registry) Put(p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.ID()] = p
}

// Get returns the pipeline only to the user that started it.
func (r *Registry) Get(id uuid.UUID, userID string) (*Pipeline, error) {
	r.mu.RLock()
	p, ok := r.pipelines[id]
	r.mu.RUnlock()
	if !ok || p.UserID() != userID {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, id)
}

// Sweep drops pipelines not updated since before the cutoff and returns how
// many were dropped.
func (r *Registry) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.pipelines {
		if p.Snapshot().UpdatedAt.Before(cutoff) {
			delete(r.pipelines, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}
