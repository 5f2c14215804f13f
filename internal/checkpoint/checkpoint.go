// Package checkpoint persists trained parameters and everything needed to
// reuse them: a checkpoint is a path prefix with sibling files
//
//	<prefix>.params          named gonum matrices
//	<prefix>.meta.yaml       model shape, labels, run id
//	<prefix>.vocab           dataset vocabulary, one token per line
//	<prefix>_predictions.p   last prediction matrix (N×classes)
//
// Every file is written to a temp file and renamed into place.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
)

const (
	magic   = "VRTSCKPT"
	version = 1
)

var (
	// ErrNotFound means no checkpoint exists at the prefix.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrIncompatible means the checkpoint does not fit the model being restored.
	ErrIncompatible = errors.New("checkpoint incompatible")
)

// ParamsPath returns the parameter file of prefix.
func ParamsPath(prefix string) string { return prefix + ".params" }

// MetaPath returns the metadata file of prefix.
func MetaPath(prefix string) string { return prefix + ".meta.yaml" }

// VocabPath returns the vocabulary file of prefix.
func VocabPath(prefix string) string { return prefix + ".vocab" }

// PredictionsPath returns the predictions file of prefix.
func PredictionsPath(prefix string) string { return prefix + "_predictions.p" }

// Meta describes the model a checkpoint belongs to.
type Meta struct {
	Version      int                 `yaml:"version"`
	RunID        string              `yaml:"run_id"`
	CreatedAt    time.Time           `yaml:"created_at"`
	Epoch        int                 `yaml:"epoch,omitempty"`
	ValAccuracy  float64             `yaml:"val_accuracy,omitempty"`
	Labels       []string            `yaml:"labels"`
	VocabSize    int                 `yaml:"vocab_size"`
	EmbeddingDim int                 `yaml:"embedding_dim"`
	Model        model.NetworkConfig `yaml:"model"`
	Data         model.DataConfig    `yaml:"data"`
}

// Compatible reports whether a model with the given shape can restore this checkpoint.
func (m Meta) Compatible(cfg model.NetworkConfig, vocabSize, dim int) error {
	switch {
	case m.VocabSize != vocabSize:
		return fmt.Errorf("vocabulary has %d ids, checkpoint %d: %w", vocabSize, m.VocabSize, ErrIncompatible)
	case m.EmbeddingDim != dim:
		return fmt.Errorf("embedding dim is %d, checkpoint %d: %w", dim, m.EmbeddingDim, ErrIncompatible)
	case m.Model.NumUnits != cfg.NumUnits,
		!reflect.DeepEqual(m.Model.NumNeurons, cfg.NumNeurons),
		m.Model.LSTMLayers != cfg.LSTMLayers,
		m.Model.SharedRNN != cfg.SharedRNN,
		m.Model.NOutputs != cfg.NOutputs,
		m.Model.Selector != cfg.Selector:
		return fmt.Errorf("network shape differs from checkpoint: %w", ErrIncompatible)
	}
	return nil
}

// Exists reports whether a checkpoint is present at prefix.
func Exists(prefix string) bool {
	_, err := os.Stat(ParamsPath(prefix))
	return err == nil
}

// Save writes parameters, metadata and vocabulary. Parameters go last so a
// present .params file implies complete siblings.
func Save(prefix string, snap nn.Snapshot, meta Meta, vocab *dataset.Vocabulary) error {
	meta.Version = version
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if err := writeAtomic(MetaPath(prefix), func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(meta); err != nil {
			return err
		}
		return enc.Close()
	}); err != nil {
		return fmt.Errorf("save checkpoint meta: %w", err)
	}
	if vocab != nil {
		if err := writeAtomic(VocabPath(prefix), func(w io.Writer) error {
			_, err := vocab.WriteTo(w)
			return err
		}); err != nil {
			return fmt.Errorf("save checkpoint vocab: %w", err)
		}
	}
	if err := writeAtomic(ParamsPath(prefix), func(w io.Writer) error {
		return writeParams(w, snap)
	}); err != nil {
		return fmt.Errorf("save checkpoint params: %w", err)
	}
	return nil
}

// Checkpoint is a loaded checkpoint.
type Checkpoint struct {
	Prefix string
	Meta   Meta
	Vocab  *dataset.Vocabulary
	Params nn.Snapshot
}

// Load reads every file of the checkpoint at prefix.
func Load(prefix string) (*Checkpoint, error) {
	if !Exists(prefix) {
		return nil, fmt.Errorf("%s: %w", prefix, ErrNotFound)
	}

	raw, err := os.ReadFile(MetaPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint meta: %w", err)
	}
	var meta Meta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse checkpoint meta: %w", err)
	}
	if meta.Version != version {
		return nil, fmt.Errorf("checkpoint version %d, want %d: %w", meta.Version, version, ErrIncompatible)
	}

	vf, err := os.Open(VocabPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint vocab: %w", err)
	}
	vocab, err := dataset.ReadVocabulary(vf)
	_ = vf.Close()
	if err != nil {
		return nil, err
	}
	if vocab.Size() != meta.VocabSize {
		return nil, fmt.Errorf("vocab file has %d ids, meta %d: %w", vocab.Size(), meta.VocabSize, ErrIncompatible)
	}

	pf, err := os.Open(ParamsPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint params: %w", err)
	}
	defer func() { _ = pf.Close() }()
	snap, err := readParams(bufio.NewReader(pf))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint params: %w", err)
	}

	return &Checkpoint{Prefix: prefix, Meta: meta, Vocab: vocab, Params: snap}, nil
}

func writeParams(w io.Writer, snap nn.Snapshot) error {
	names := snap.Names()
	var hdr bytes.Buffer
	hdr.WriteString(magic)
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(version))
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(len(names)))
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	for _, name := range names {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
		if _, err := snap[name].MarshalBinaryTo(w); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func readParams(r io.Reader) (nn.Snapshot, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if string(head) != magic {
		return nil, fmt.Errorf("bad magic %q: %w", head, ErrIncompatible)
	}
	var ver, count uint32
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, err
	}
	if ver != version {
		return nil, fmt.Errorf("params version %d: %w", ver, ErrIncompatible)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	snap := make(nn.Snapshot, count)
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n > 4096 {
			return nil, fmt.Errorf("parameter name of %d bytes: %w", n, ErrIncompatible)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		m := &mat.Dense{}
		if _, err := m.UnmarshalBinaryFrom(r); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		snap[string(name)] = m
	}
	return snap, nil
}

// WritePredictions stores the probability matrix next to the checkpoint.
func WritePredictions(prefix string, probs *mat.Dense) error {
	if err := writeAtomic(PredictionsPath(prefix), func(w io.Writer) error {
		_, err := probs.MarshalBinaryTo(w)
		return err
	}); err != nil {
		return fmt.Errorf("save predictions: %w", err)
	}
	return nil
}

// ReadPredictions loads a matrix written by WritePredictions.
func ReadPredictions(prefix string) (*mat.Dense, error) {
	f, err := os.Open(PredictionsPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("open predictions: %w", err)
	}
	defer func() { _ = f.Close() }()
	m := &mat.Dense{}
	if _, err := m.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	return m, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
