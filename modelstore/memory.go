package modelstore

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps model records in process memory. It backs tests and
// single-node deployments that do not need restarts to preserve models.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string]*TrainedModel
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]*TrainedModel)}
}

func (s *MemoryStore) Save(model *TrainedModel) error {
	if err := validateForSave(model); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if model.ID == "" {
		model.ID = NewID()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	s.models[model.ID] = clone(model)
	return nil
}

func (s *MemoryStore) Get(id string) (*TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (s *MemoryStore) List(filter Filter) ([]*TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TrainedModel
	for _, m := range s.models {
		if filter.matches(m) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) MarkBest(datasetID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.models[modelID]
	if !ok || target.DatasetID != datasetID {
		return ErrNotFound
	}
	for _, m := range s.models {
		if m.DatasetID == datasetID {
			m.IsBest = m.ID == modelID
		}
	}
	return nil
}

func (s *MemoryStore) Deploy(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok {
		return ErrNotFound
	}
	if err := deployable(m); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.Status = StatusDeployed
	m.DeployedAt = &now
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[id]; !ok {
		return ErrNotFound
	}
	delete(s.models, id)
	return nil
}
