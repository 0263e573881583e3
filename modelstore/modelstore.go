// Package modelstore persists trained forecasting models: their
// hyperparameters, validation metrics, serialized model state, and
// lifecycle status. At most one model per dataset carries the best-model
// flag, and MarkBest is the only writer of that flag.
package modelstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automl-forecast-engine/algorithms"
	"automl-forecast-engine/evaluation"
)

// ModelStatus is the lifecycle state of a trained model.
type ModelStatus string

const (
	StatusTraining  ModelStatus = "training"
	StatusCompleted ModelStatus = "completed"
	StatusFailed    ModelStatus = "failed"
	StatusDeployed  ModelStatus = "deployed"
)

// ErrNotFound reports a lookup for a model id that does not exist.
var ErrNotFound = errors.New("model not found")

// TrainedModel is one persisted model. StateBlob is the encoded
// algorithms.FittedState; it is opaque here and decoded only by the
// forecast layer.
type TrainedModel struct {
	ID              string             `json:"id"`
	DatasetID       string             `json:"dataset_id"`
	Algorithm       string             `json:"algorithm"`
	Hyperparameters algorithms.Params  `json:"hyperparameters"`
	Metrics         evaluation.Metrics `json:"metrics"`
	TrainingTime    time.Duration      `json:"training_time"`
	CreatedAt       time.Time          `json:"created_at"`
	Status          ModelStatus        `json:"status"`
	IsBest          bool               `json:"is_best"`
	DeployedAt      *time.Time         `json:"deployed_at,omitempty"`
	Error           string             `json:"error,omitempty"`
	StateBlob       []byte             `json:"state_blob,omitempty"`
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	DatasetID string
	Algorithm string
	Status    ModelStatus
	OnlyBest  bool
}

func (f Filter) matches(m *TrainedModel) bool {
	if f.DatasetID != "" && m.DatasetID != f.DatasetID {
		return false
	}
	if f.Algorithm != "" && m.Algorithm != f.Algorithm {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.OnlyBest && !m.IsBest {
		return false
	}
	return true
}

// Store is the persistence contract for trained models.
type Store interface {
	// Save inserts or replaces a model record. A missing ID is assigned.
	Save(model *TrainedModel) error
	// Get returns the model with the given id, or ErrNotFound.
	Get(id string) (*TrainedModel, error)
	// List returns models matching the filter, newest first.
	List(filter Filter) ([]*TrainedModel, error)
	// MarkBest flags the given model as its dataset's best and clears the
	// flag from every other model of the same dataset, atomically.
	MarkBest(datasetID, modelID string) error
	// Deploy moves a completed model to deployed status.
	Deploy(modelID string) error
	// Delete removes a model record. Deleting a missing id is ErrNotFound.
	Delete(id string) error
}

// NewID generates a model identifier.
func NewID() string { return uuid.New().String() }

func validateForSave(m *TrainedModel) error {
	if m.DatasetID == "" {
		return errors.New("modelstore: dataset id is required")
	}
	if m.Algorithm == "" {
		return errors.New("modelstore: algorithm is required")
	}
	switch m.Status {
	case StatusTraining, StatusCompleted, StatusFailed, StatusDeployed:
	default:
		return fmt.Errorf("modelstore: invalid status %q", m.Status)
	}
	return nil
}

// clone returns an independent copy so callers cannot mutate stored state.
func clone(m *TrainedModel) *TrainedModel {
	out := *m
	if m.StateBlob != nil {
		out.StateBlob = append([]byte(nil), m.StateBlob...)
	}
	if m.Hyperparameters != nil {
		out.Hyperparameters = make(algorithms.Params, len(m.Hyperparameters))
		for k, v := range m.Hyperparameters {
			out.Hyperparameters[k] = v
		}
	}
	if m.DeployedAt != nil {
		t := *m.DeployedAt
		out.DeployedAt = &t
	}
	return &out
}

func deployable(m *TrainedModel) error {
	if m.Status != StatusCompleted && m.Status != StatusDeployed {
		return fmt.Errorf("modelstore: model %s is %s, only completed models deploy", m.ID, m.Status)
	}
	return nil
}
