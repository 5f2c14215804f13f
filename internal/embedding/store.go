// Package embedding caches pretrained word vectors in a flat,
// memory-mappable file and serves lowercase word lookups from it.
//
// A cache directory holds two files:
//
//	embed.dat    vocabSize×dim little-endian float64, row-major
//	embed.vocab  one lowercase word per line, line number = row
//
// The cache is built once from a word2vec source and read-only afterwards.
package embedding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ppiankov/veritas/internal/cache"
)

const (
	// DataFile holds the vector matrix.
	DataFile = "embed.dat"
	// VocabFile holds the row order.
	VocabFile = "embed.vocab"
	// DefaultUnknownWord is the vocabulary entry used for out-of-vocabulary words.
	DefaultUnknownWord = "unknown"
)

var (
	// ErrCacheMismatch means the cache files disagree with each other or with
	// the expected vocabulary size or dimension.
	ErrCacheMismatch = errors.New("embedding cache mismatch")
	// ErrNoSource means the cache is absent and no source file was given.
	ErrNoSource = errors.New("embedding source not found")
)

// Store serves word vectors from a cache directory. Safe for concurrent use.
type Store struct {
	dir     string
	dim     int
	words   []string
	index   map[string]int
	data    []byte
	release func() error
	unknown []float64
	hot     *cache.LayeredCache
	logger  *slog.Logger

	closeOnce sync.Once
}

type options struct {
	unknownWord string
	format      Format
	memoryTTL   time.Duration
	logger      *slog.Logger
}

// Option customises Load and Build.
type Option func(*options)

// WithUnknownWord sets the vocabulary entry used for OOV lookups.
func WithUnknownWord(w string) Option {
	return func(o *options) { o.unknownWord = w }
}

// WithFormat forces the word2vec source format instead of sniffing it.
func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// WithMemoryTTL bounds how long decoded rows stay in the in-memory layer.
// Zero keeps them for the life of the store.
func WithMemoryTTL(d time.Duration) Option {
	return func(o *options) { o.memoryTTL = d }
}

// WithLogger sets the logger used for build progress.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{unknownWord: DefaultUnknownWord, format: FormatAuto, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.unknownWord == "" {
		o.unknownWord = DefaultUnknownWord
	}
	return o
}

// Load opens the cache in cacheDir, building it from source first if
// embed.dat does not exist. vocabSize and dim are checked against the cache
// when positive; zero accepts whatever the cache holds.
func Load(source, cacheDir string, vocabSize, dim int, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	if _, err := os.Stat(filepath.Join(cacheDir, DataFile)); errors.Is(err, os.ErrNotExist) {
		if err := build(source, cacheDir, o); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat cache: %w", err)
	}
	return open(cacheDir, vocabSize, dim, o)
}

// Build converts a word2vec source into cacheDir, replacing any existing cache.
func Build(source, cacheDir string, opts ...Option) error {
	return build(source, cacheDir, buildOptions(opts))
}

func build(source, cacheDir string, o options) error {
	if source == "" {
		return fmt.Errorf("build cache in %s: %w", cacheDir, ErrNoSource)
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("build cache from %s: %w", source, errors.Join(ErrNoSource, err))
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	start := time.Now()
	o.logger.Info("caching word embeddings", "source", source, "dir", cacheDir)

	vr, err := openWord2Vec(source, o.format)
	if err != nil {
		return err
	}
	defer func() { _ = vr.Close() }()

	datTmp, err := os.CreateTemp(cacheDir, DataFile+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp matrix: %w", err)
	}
	vocabTmp, err := os.CreateTemp(cacheDir, VocabFile+".tmp*")
	if err != nil {
		_ = datTmp.Close()
		_ = os.Remove(datTmp.Name())
		return fmt.Errorf("create temp vocab: %w", err)
	}
	cleanup := func() {
		_ = datTmp.Close()
		_ = vocabTmp.Close()
		_ = os.Remove(datTmp.Name())
		_ = os.Remove(vocabTmp.Name())
	}

	lower := cases.Lower(language.Und)
	datW := bufio.NewWriterSize(datTmp, 1<<20)
	vocabW := bufio.NewWriter(vocabTmp)
	row := make([]byte, 0, 8*vr.dim)
	for {
		word, vec, err := vr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			return fmt.Errorf("read %s: %w", source, err)
		}
		row = row[:0]
		for _, x := range vec {
			row = binary.LittleEndian.AppendUint64(row, math.Float64bits(x))
		}
		if _, err := datW.Write(row); err != nil {
			cleanup()
			return fmt.Errorf("write matrix: %w", err)
		}
		if _, err := vocabW.WriteString(lower.String(word) + "\n"); err != nil {
			cleanup()
			return fmt.Errorf("write vocab: %w", err)
		}
	}

	if err := datW.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush matrix: %w", err)
	}
	if err := vocabW.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush vocab: %w", err)
	}
	if err := datTmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close matrix: %w", err)
	}
	if err := vocabTmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close vocab: %w", err)
	}

	// Vocab goes first: embed.dat existing implies a complete cache.
	if err := os.Rename(vocabTmp.Name(), filepath.Join(cacheDir, VocabFile)); err != nil {
		cleanup()
		return fmt.Errorf("install vocab: %w", err)
	}
	if err := os.Rename(datTmp.Name(), filepath.Join(cacheDir, DataFile)); err != nil {
		cleanup()
		return fmt.Errorf("install matrix: %w", err)
	}

	o.logger.Info("embedding cache ready", "words", vr.count, "dim", vr.dim, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func open(dir string, vocabSize, dim int, o options) (*Store, error) {
	words, err := readVocab(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, err
	}
	if vocabSize > 0 && len(words) != vocabSize {
		return nil, fmt.Errorf("%s has %d words, expected %d: %w", VocabFile, len(words), vocabSize, ErrCacheMismatch)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%s is empty: %w", VocabFile, ErrCacheMismatch)
	}

	data, release, err := mapFile(filepath.Join(dir, DataFile))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", DataFile, err)
	}
	rowBytes := len(data) / len(words)
	if dim <= 0 {
		dim = rowBytes / 8
	}
	if dim <= 0 || len(data) != len(words)*dim*8 {
		_ = release()
		return nil, fmt.Errorf("%s is %d bytes, expected %d×%d×8: %w", DataFile, len(data), len(words), dim, ErrCacheMismatch)
	}

	s := &Store{
		dir:     dir,
		dim:     dim,
		words:   words,
		index:   make(map[string]int, len(words)),
		data:    data,
		release: release,
		logger:  o.logger,
	}
	for i, w := range words {
		// first occurrence wins when lowercasing folded two source words together
		if _, dup := s.index[w]; !dup {
			s.index[w] = i
		}
	}
	s.hot = cache.NewLayeredCache(o.memoryTTL, cache.SourceFunc(s.lookupRow))

	s.unknown = make([]float64, dim)
	if i, ok := s.index[lowerString(o.unknownWord)]; ok {
		s.unknown = s.row(i)
	}
	return s, nil
}

func readVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", VocabFile, err)
	}
	defer func() { _ = f.Close() }()

	var words []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		words = append(words, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", VocabFile, err)
	}
	return words, nil
}

// row decodes row i of the matrix.
func (s *Store) row(i int) []float64 {
	out := make([]float64, s.dim)
	off := i * s.dim * 8
	for j := range out {
		out[j] = math.Float64frombits(binary.LittleEndian.Uint64(s.data[off+8*j:]))
	}
	return out
}

func (s *Store) lookupRow(word string) ([]float64, bool) {
	i, ok := s.index[word]
	if !ok {
		return nil, false
	}
	return s.row(i), true
}

// WordToVector returns the vector of the lowercased word, or the unknown
// vector when the word is not in the vocabulary. The result must not be modified.
func (s *Store) WordToVector(word string) []float64 {
	if v, ok := s.hot.Get(lowerString(word)); ok {
		return v
	}
	return s.unknown
}

// IsKnown reports whether the lowercased word is in the vocabulary.
func (s *Store) IsKnown(word string) bool {
	_, ok := s.index[lowerString(word)]
	return ok
}

// Index returns the row of the lowercased word.
func (s *Store) Index(word string) (int, bool) {
	i, ok := s.index[lowerString(word)]
	return i, ok
}

// Unknown returns the vector substituted for out-of-vocabulary words.
func (s *Store) Unknown() []float64 { return s.unknown }

// Len returns the number of rows.
func (s *Store) Len() int { return len(s.words) }

// Dim returns the vector dimension.
func (s *Store) Dim() int { return s.dim }

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Close unmaps the matrix. Lookups after Close panic.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.hot.Clear()
		err = s.release()
		s.data = nil
	})
	return err
}

func lowerString(w string) string {
	// cases.Caser keeps state and is not safe for concurrent use.
	return cases.Lower(language.Und).String(w)
}
