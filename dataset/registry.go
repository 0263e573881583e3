package dataset

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrDatasetNotFound reports a lookup for an unknown dataset id.
var ErrDatasetNotFound = errors.New("dataset not found")

// Registry holds uploaded datasets by id. Refs are immutable once added,
// so reads hand out the stored pointer directly.
type Registry struct {
	mu   sync.RWMutex
	refs map[string]*Ref
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{refs: make(map[string]*Ref)}
}

// Add stores a dataset, assigning an id if the ref has none.
func (r *Registry) Add(ref *Ref) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	r.refs[ref.ID] = ref
	return ref.ID
}

// Get returns the dataset with the given id, or ErrDatasetNotFound.
func (r *Registry) Get(id string) (*Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[id]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return ref, nil
}

// List returns all datasets ordered by id.
func (r *Registry) List() []*Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Ref, 0, len(r.refs))
	for _, ref := range r.refs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
