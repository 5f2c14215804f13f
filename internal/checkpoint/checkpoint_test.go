package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
)

func testMeta(vocab *dataset.Vocabulary) Meta {
	return Meta{
		RunID:        "run-1",
		Labels:       model.LabelNames,
		VocabSize:    vocab.Size(),
		EmbeddingDim: 2,
		Model:        model.DefaultConfig().Model,
		Data:         model.DefaultConfig().Data,
	}
}

func testSnapshot() nn.Snapshot {
	return nn.Snapshot{
		"embedding":         mat.NewDense(3, 2, []float64{0, 0, 1, 2, 3, 4}),
		"classify/logits/b": mat.NewDense(1, 3, []float64{0.5, -0.5, 0.25}),
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nested", "model", "esim")
	vocab := dataset.NewVocabulary([]string{"claim"})
	meta := testMeta(vocab)

	if Exists(prefix) {
		t.Fatal("checkpoint should not exist yet")
	}
	if err := Save(prefix, testSnapshot(), meta, vocab); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !Exists(prefix) {
		t.Fatal("checkpoint should exist after Save")
	}

	c, err := Load(prefix)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := testSnapshot()
	for name, m := range want {
		if !mat.Equal(c.Params[name], m) {
			t.Errorf("%s changed in round trip", name)
		}
	}
	if c.Meta.RunID != "run-1" || c.Meta.Version != version || c.Meta.CreatedAt.IsZero() {
		t.Errorf("unexpected meta %+v", c.Meta)
	}
	if !reflect.DeepEqual(c.Meta.Model.NumNeurons, meta.Model.NumNeurons) {
		t.Errorf("model config changed: %v", c.Meta.Model.NumNeurons)
	}
	if !reflect.DeepEqual(c.Vocab.Words(), vocab.Words()) {
		t.Errorf("vocab changed: %v", c.Vocab.Words())
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(prefix), "*.tmp*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLoad_NotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_BadMagic(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "m")
	vocab := dataset.NewVocabulary(nil)
	if err := Save(prefix, testSnapshot(), testMeta(vocab), vocab); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ParamsPath(prefix), []byte("NOTACKPT\x01\x00\x00\x00"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(prefix); !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}

func TestStore_IncompatibleModel(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "m")
	vocab := dataset.NewVocabulary([]string{"a", "b"})
	meta := testMeta(vocab)
	if err := NewStore(prefix, meta, vocab).Save(testSnapshot(), 3, 0.75); err != nil {
		t.Fatal(err)
	}

	other := meta
	other.Model.NumNeurons = []int{64, 64}
	if _, err := NewStore(prefix, other, vocab).Load(); !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible for shape change, got %v", err)
	}

	other = meta
	other.VocabSize++
	if _, err := NewStore(prefix, other, vocab).Load(); !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible for vocab change, got %v", err)
	}

	snap, err := NewStore(prefix, meta, vocab).Load()
	if err != nil {
		t.Fatalf("compatible load failed: %v", err)
	}
	if len(snap) != 2 {
		t.Errorf("expected 2 parameters, got %d", len(snap))
	}
	c, _ := Load(prefix)
	if c.Meta.Epoch != 3 || c.Meta.ValAccuracy != 0.75 {
		t.Errorf("epoch info not saved: %+v", c.Meta)
	}
}

func TestPredictions(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "out", "esim")
	probs := mat.NewDense(2, 3, []float64{0.7, 0.2, 0.1, 0.1, 0.1, 0.8})
	if err := NewStore(prefix, Meta{}, nil).SavePredictions(probs); err != nil {
		t.Fatalf("SavePredictions failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(prefix), "esim_predictions.p")); err != nil {
		t.Fatalf("predictions file missing: %v", err)
	}
	back, err := ReadPredictions(prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(back, probs) {
		t.Error("predictions changed in round trip")
	}
}
