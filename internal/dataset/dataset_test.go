package dataset

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ppiankov/veritas/internal/model"
)

const sampleJSONL = `{"id":"a","claim":"Paris is the capital of France.","evidence":["Paris is the capital and largest city of France.","It has 2 million residents."],"label":"SUPPORTS"}

{"claim":"The moon is made of cheese.","evidence":["The Moon is rocky."],"label":"REFUTES"}
`

func writeJSONL(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.jsonl")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadJSONL(t *testing.T) {
	claims, err := ReadJSONL(writeJSONL(t, sampleJSONL))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claims))
	}
	if claims[0].ID != "a" || claims[1].ID != "3" {
		t.Errorf("unexpected ids %q, %q", claims[0].ID, claims[1].ID)
	}
	if len(claims[0].Evidence) != 2 {
		t.Errorf("expected 2 evidence sentences, got %d", len(claims[0].Evidence))
	}
}

func TestReadJSONL_BadLine(t *testing.T) {
	if _, err := ReadJSONL(writeJSONL(t, "{\"claim\":\"x\"}\n{oops\n")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestVocabulary(t *testing.T) {
	v := NewVocabulary([]string{"the", "cat", "the", "", "a"})
	if v.Size() != 5 {
		t.Fatalf("expected 5 ids, got %d", v.Size())
	}
	if !reflect.DeepEqual(v.Words(), []string{padToken, unknownToken, "a", "cat", "the"}) {
		t.Errorf("unexpected order %v", v.Words())
	}
	if got := v.Encode([]string{"cat", "dog", padToken}); !reflect.DeepEqual(got, []int{3, UnknownID, UnknownID}) {
		t.Errorf("Encode = %v", got)
	}

	var buf bytes.Buffer
	if _, err := v.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadVocabulary(&buf)
	if err != nil {
		t.Fatalf("ReadVocabulary failed: %v", err)
	}
	if !reflect.DeepEqual(back.Words(), v.Words()) {
		t.Errorf("round trip changed words: %v", back.Words())
	}

	if _, err := ReadVocabulary(bytes.NewBufferString("cat\ndog\n")); err == nil {
		t.Error("expected error for missing header")
	}
}

type fakeVectors map[string][]float64

func (f fakeVectors) WordToVector(w string) []float64 {
	if v, ok := f[w]; ok {
		return v
	}
	return f.Unknown()
}
func (f fakeVectors) Unknown() []float64 { return []float64{-1, -1} }
func (f fakeVectors) Dim() int           { return 2 }

func TestEmbeddingMatrix(t *testing.T) {
	v := NewVocabulary([]string{"cat", "zebra"})
	m := v.EmbeddingMatrix(fakeVectors{"cat": {1, 2}})

	r, c := m.Dims()
	if r != 4 || c != 2 {
		t.Fatalf("expected 4×2, got %d×%d", r, c)
	}
	want := [][]float64{{0, 0}, {-1, -1}, {1, 2}, {-1, -1}}
	for i, row := range want {
		if got := m.RawRowView(i); !reflect.DeepEqual(got, row) {
			t.Errorf("row %d = %v, want %v", i, got, row)
		}
	}
}

func TestEncoder_Truncates(t *testing.T) {
	claims, err := ReadJSONL(writeJSONL(t, sampleJSONL))
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := Tokens(claims)
	if err != nil {
		t.Fatal(err)
	}
	vocab := NewVocabulary(tokens)
	enc := NewEncoder(vocab, model.DataConfig{MaxSentences: 1, HMaxLength: 3, SMaxLength: 4}, model.NumLabels)

	ex, err := enc.Encode(claims[0])
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(ex.Claim) != 3 {
		t.Errorf("claim not truncated: %v", ex.Claim)
	}
	if ex.NumSentences() != 1 || len(ex.Sentences[0]) != 4 {
		t.Errorf("sentences not truncated: %v", ex.Sentences)
	}
	if ex.Label != int(model.LabelSupports) {
		t.Errorf("label = %d", ex.Label)
	}
	if ex.Claim[0] != vocab.ID("paris") {
		t.Errorf("expected lowercased token id, got %d", ex.Claim[0])
	}

	bad := claims[1]
	bad.Label = "MAYBE"
	if _, err := enc.Encode(bad); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestEncoder_RejectsLabelBeyondClasses(t *testing.T) {
	claims, err := ReadJSONL(writeJSONL(t, sampleJSONL))
	if err != nil {
		t.Fatal(err)
	}
	enc := NewEncoder(NewVocabulary(nil), model.DataConfig{MaxSentences: 2, HMaxLength: 8, SMaxLength: 8}, 2)

	if _, err := enc.Encode(claims[1]); err != nil {
		t.Fatalf("REFUTES fits two classes: %v", err)
	}
	nei := claims[0]
	nei.Label = "NOT ENOUGH INFO"
	_, err = enc.Encode(nei)
	if err == nil {
		t.Fatal("expected error for label outside two classes")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("claim a")) {
		t.Errorf("error should name the claim: %v", err)
	}

	unlabelled := claims[0]
	unlabelled.Label = ""
	if _, err := enc.Encode(unlabelled); err != nil {
		t.Errorf("unlabelled claim should encode: %v", err)
	}
}

func TestMakeBatch_Padding(t *testing.T) {
	examples := []Example{
		{Claim: []int{2, 3}, Sentences: [][]int{{4}, {5, 6, 7}}, Label: 0},
		{Claim: []int{2, 3, 4, 5, 6}, Sentences: nil, Label: 2},
	}
	b := MakeBatch(examples, []int{0, 1}, 4, 2)

	if b.S != 2 || b.Size() != 2 {
		t.Fatalf("expected S=2 B=2, got S=%d B=%d", b.S, b.Size())
	}
	if !reflect.DeepEqual(b.Claims[0], []int{2, 3, 0, 0}) || b.ClaimLens[0] != 2 {
		t.Errorf("claim 0 = %v len %d", b.Claims[0], b.ClaimLens[0])
	}
	if b.ClaimLens[1] != 4 {
		t.Errorf("claim 1 should be cut to 4, got %d", b.ClaimLens[1])
	}
	if !reflect.DeepEqual(b.SentLens[0], []int{1, 2}) {
		t.Errorf("sentence lengths = %v", b.SentLens[0])
	}
	if b.NumSents[1] != 0 || !reflect.DeepEqual(b.SentLens[1], []int{0, 0}) {
		t.Errorf("example without evidence should carry padding sentences: %v %v", b.NumSents[1], b.SentLens[1])
	}
	if !b.HasLabels() {
		t.Error("expected labelled batch")
	}
}

func TestBatches(t *testing.T) {
	groups := Batches(5, 2, nil)
	if !reflect.DeepEqual(groups, [][]int{{0, 1}, {2, 3}, {4}}) {
		t.Errorf("unexpected groups %v", groups)
	}

	a := Batches(10, 3, rand.New(rand.NewSource(7)))
	b := Batches(10, 3, rand.New(rand.NewSource(7)))
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed should give the same order")
	}
	seen := map[int]bool{}
	for _, g := range a {
		for _, i := range g {
			seen[i] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("shuffle lost examples: %v", a)
	}
}
