package checkpoint

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/nn"
)

// Store saves and restores the checkpoint of one model at a fixed prefix.
type Store struct {
	prefix string
	meta   Meta
	vocab  *dataset.Vocabulary
}

// NewStore returns a store for a model described by meta.
func NewStore(prefix string, meta Meta, vocab *dataset.Vocabulary) *Store {
	return &Store{prefix: prefix, meta: meta, vocab: vocab}
}

// Prefix returns the checkpoint path prefix.
func (s *Store) Prefix() string { return s.prefix }

// Save writes snap with the epoch it was taken at.
func (s *Store) Save(snap nn.Snapshot, epoch int, valAccuracy float64) error {
	meta := s.meta
	meta.Epoch = epoch
	meta.ValAccuracy = valAccuracy
	return Save(s.prefix, snap, meta, s.vocab)
}

// Load reads the checkpoint and checks that it fits the model of the store.
func (s *Store) Load() (nn.Snapshot, error) {
	c, err := Load(s.prefix)
	if err != nil {
		return nil, err
	}
	if err := c.Meta.Compatible(s.meta.Model, s.meta.VocabSize, s.meta.EmbeddingDim); err != nil {
		return nil, err
	}
	return c.Params, nil
}

// SavePredictions writes the probability matrix next to the checkpoint.
func (s *Store) SavePredictions(probs *mat.Dense) error {
	return WritePredictions(s.prefix, probs)
}
