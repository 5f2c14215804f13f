package embedding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const sampleText = `4 3
the 0.1 0.2 0.3
Paris 1 2 3
unknown -1 -1 -1
PARIS 9 9 9
`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func binarySource(words []string, vecs [][]float32) []byte {
	var buf bytes.Buffer
	buf.WriteString("2 2\n")
	for i, w := range words {
		buf.WriteString(w + " ")
		for _, x := range vecs[i] {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(x))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func TestLoad_TextSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vectors.txt")
	writeFile(t, src, []byte(sampleText))

	s, err := Load(src, filepath.Join(dir, "cache"), 4, 3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.Len() != 4 || s.Dim() != 3 {
		t.Fatalf("expected 4×3, got %d×%d", s.Len(), s.Dim())
	}
	if got := s.WordToVector("PaRiS"); !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Errorf("expected first occurrence of paris, got %v", got)
	}
	if !s.IsKnown("THE") || s.IsKnown("london") {
		t.Error("IsKnown should match lowercased vocabulary")
	}

	vocab, err := os.ReadFile(filepath.Join(dir, "cache", VocabFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(vocab) != "the\nparis\nunknown\nparis\n" {
		t.Errorf("unexpected vocab file %q", vocab)
	}
	info, err := os.Stat(filepath.Join(dir, "cache", DataFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4*3*8 {
		t.Errorf("expected %d bytes, got %d", 4*3*8, info.Size())
	}
}

func TestWordToVector_OOVReturnsUnknown(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vectors.txt")
	writeFile(t, src, []byte(sampleText))

	s, err := Load(src, filepath.Join(dir, "cache"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	for _, w := range []string{"london", "Berlin", "", "théâtre"} {
		if got := s.WordToVector(w); !reflect.DeepEqual(got, s.Unknown()) {
			t.Errorf("WordToVector(%q) = %v, want unknown vector", w, got)
		}
	}
	if !reflect.DeepEqual(s.Unknown(), []float64{-1, -1, -1}) {
		t.Errorf("unknown vector = %v", s.Unknown())
	}
}

func TestWordToVector_MissingUnknownWordIsZero(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vectors.txt")
	writeFile(t, src, []byte(sampleText))

	s, err := Load(src, filepath.Join(dir, "cache"), 4, 3, WithUnknownWord("<unk>"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	if got := s.WordToVector("london"); !reflect.DeepEqual(got, []float64{0, 0, 0}) {
		t.Errorf("expected zero vector, got %v", got)
	}
}

func TestBuild_ByteIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vectors.bin")
	writeFile(t, src, binarySource([]string{"alpha", "beta"}, [][]float32{{0.5, -0.25}, {1.5, 2}}))

	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	if err := Build(src, a); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if err := Build(src, b); err != nil {
		t.Fatalf("second build: %v", err)
	}
	for _, name := range []string{DataFile, VocabFile} {
		x, _ := os.ReadFile(filepath.Join(a, name))
		y, _ := os.ReadFile(filepath.Join(b, name))
		if !bytes.Equal(x, y) {
			t.Errorf("%s differs between builds", name)
		}
	}

	s, err := Load("", a, 2, 2)
	if err != nil {
		t.Fatalf("Load existing cache: %v", err)
	}
	defer func() { _ = s.Close() }()
	if got := s.WordToVector("beta"); !reflect.DeepEqual(got, []float64{1.5, 2}) {
		t.Errorf("binary decode = %v", got)
	}

	leftovers, _ := filepath.Glob(filepath.Join(a, "*.tmp*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLoad_Gzip(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(sampleText))
	_ = zw.Close()
	src := filepath.Join(dir, "vectors.txt.gz")
	writeFile(t, src, buf.Bytes())

	s, err := Load(src, filepath.Join(dir, "cache"), 4, 3)
	if err != nil {
		t.Fatalf("Load gzip: %v", err)
	}
	defer func() { _ = s.Close() }()
	if got := s.WordToVector("the"); !reflect.DeepEqual(got, []float64{0.1, 0.2, 0.3}) {
		t.Errorf("gzip decode = %v", got)
	}
}

func TestLoad_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vectors.txt")
	writeFile(t, src, []byte(sampleText))
	cacheDir := filepath.Join(dir, "cache")

	if _, err := Load(src, cacheDir, 5, 3); !errors.Is(err, ErrCacheMismatch) {
		t.Errorf("expected ErrCacheMismatch for vocab size, got %v", err)
	}
	if _, err := Load(src, cacheDir, 4, 2); !errors.Is(err, ErrCacheMismatch) {
		t.Errorf("expected ErrCacheMismatch for dim, got %v", err)
	}

	// truncated matrix
	dat := filepath.Join(cacheDir, DataFile)
	data, _ := os.ReadFile(dat)
	writeFile(t, dat, data[:len(data)-8])
	if _, err := Load(src, cacheDir, 0, 0); !errors.Is(err, ErrCacheMismatch) {
		t.Errorf("expected ErrCacheMismatch for truncated matrix, got %v", err)
	}
}

func TestLoad_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.bin"), filepath.Join(dir, "cache"), 0, 0); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
	if _, err := Load("", filepath.Join(dir, "cache"), 0, 0); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource for empty path, got %v", err)
	}
}

func TestLoad_MalformedSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.txt")
	writeFile(t, src, []byte("3 2\na 1 2\nb 1\n"))

	if _, err := Load(src, filepath.Join(dir, "cache"), 0, 0); err == nil {
		t.Fatal("expected error for malformed source")
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", DataFile)); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed build must not leave a cache behind")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("BINARY"); err != nil || f != FormatBinary {
		t.Errorf("ParseFormat(BINARY) = %v, %v", f, err)
	}
	if f, _ := ParseFormat(""); f != FormatAuto {
		t.Errorf("empty format should be auto, got %v", f)
	}
	if _, err := ParseFormat("glove"); err == nil {
		t.Error("expected error for unknown format")
	}
}
