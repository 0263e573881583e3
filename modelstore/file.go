package modelstore

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const modelFileExt = ".model.json.gz"

// FileStore persists each model as a gzip-compressed JSON file under a
// data directory and serves reads from an in-memory index loaded at
// startup. Writes go to a temp file first and rename into place.
type FileStore struct {
	dataPath string
	mu       sync.RWMutex
	models   map[string]*TrainedModel
}

// NewFileStore opens (creating if needed) a file-backed store rooted at
// dataPath and loads every existing model file.
func NewFileStore(dataPath string) (*FileStore, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	s := &FileStore{
		dataPath: dataPath,
		models:   make(map[string]*TrainedModel),
	}
	if err := s.loadExisting(); err != nil {
		return nil, fmt.Errorf("failed to load existing models: %w", err)
	}
	return s, nil
}

func (s *FileStore) loadExisting() error {
	entries, err := os.ReadDir(s.dataPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), modelFileExt) {
			continue
		}
		m, err := readModelFile(filepath.Join(s.dataPath, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		s.models[m.ID] = m
	}
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dataPath, id+modelFileExt)
}

func (s *FileStore) Save(model *TrainedModel) error {
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
	m := clone(model)
	if err := writeModelFile(s.path(m.ID), m); err != nil {
		return err
	}
	s.models[m.ID] = m
	return nil
}

func (s *FileStore) Get(id string) (*TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (s *FileStore) List(filter Filter) ([]*TrainedModel, error) {
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

func (s *FileStore) MarkBest(datasetID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.models[modelID]
	if !ok || target.DatasetID != datasetID {
		return ErrNotFound
	}

	// Rewrite every record of the dataset whose flag changes, target last
	// so a crash mid-way leaves at most zero best models, never two.
	for _, m := range s.models {
		if m.DatasetID != datasetID || m.ID == modelID || !m.IsBest {
			continue
		}
		m.IsBest = false
		if err := writeModelFile(s.path(m.ID), m); err != nil {
			return err
		}
	}
	if !target.IsBest {
		target.IsBest = true
		if err := writeModelFile(s.path(target.ID), target); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Deploy(modelID string) error {
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
	return writeModelFile(s.path(m.ID), m)
}

func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[id]; !ok {
		return ErrNotFound
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.models, id)
	return nil
}

func writeModelFile(path string, m *TrainedModel) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}

	gz := gzip.NewWriter(f)
	encErr := json.NewEncoder(gz).Encode(m)
	if err := gz.Close(); encErr == nil {
		encErr = err
	}
	if err := f.Close(); encErr == nil {
		encErr = err
	}
	if encErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write model file: %w", encErr)
	}
	return os.Rename(tmp, path)
}

func readModelFile(path string) (*TrainedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var m TrainedModel
	if err := json.NewDecoder(gz).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
