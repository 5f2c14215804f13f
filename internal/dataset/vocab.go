package dataset

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	// PadID is the id of padding positions; its embedding row is zero.
	PadID = 0
	// UnknownID is the id of tokens outside the vocabulary.
	UnknownID = 1

	padToken     = "<pad>"
	unknownToken = "<unk>"
)

// Vocabulary maps lowercase tokens to dense ids.
type Vocabulary struct {
	words []string
	ids   map[string]int
}

// NewVocabulary builds a vocabulary from tokens: padding, unknown, then the
// distinct tokens in sorted order.
func NewVocabulary(tokens []string) *Vocabulary {
	seen := make(map[string]bool, len(tokens))
	var distinct []string
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		distinct = append(distinct, t)
	}
	sort.Strings(distinct)
	return fromWords(append([]string{padToken, unknownToken}, distinct...))
}

func fromWords(words []string) *Vocabulary {
	v := &Vocabulary{words: words, ids: make(map[string]int, len(words))}
	for i, w := range words {
		v.ids[w] = i
	}
	return v
}

// Size returns the number of ids including padding and unknown.
func (v *Vocabulary) Size() int { return len(v.words) }

// Words returns the tokens by id.
func (v *Vocabulary) Words() []string { return v.words }

// ID returns the id of token, UnknownID when absent.
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.ids[token]; ok && id > UnknownID {
		return id
	}
	return UnknownID
}

// Encode maps tokens to ids.
func (v *Vocabulary) Encode(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = v.ID(t)
	}
	return ids
}

// WriteTo writes one token per line.
func (v *Vocabulary) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, word := range v.words {
		m, err := bw.WriteString(word + "\n")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadVocabulary reads a vocabulary written by WriteTo.
func ReadVocabulary(r io.Reader) (*Vocabulary, error) {
	var words []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		words = append(words, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	if len(words) < 2 || words[PadID] != padToken || words[UnknownID] != unknownToken {
		return nil, fmt.Errorf("read vocabulary: missing %s/%s header", padToken, unknownToken)
	}
	return fromWords(words), nil
}

// VectorSource is the part of the embedding store the vocabulary needs.
type VectorSource interface {
	WordToVector(word string) []float64
	Unknown() []float64
	Dim() int
}

// EmbeddingMatrix returns a Size×Dim matrix: zeros for padding, the unknown
// vector for UnknownID, and the store vector for every other token.
func (v *Vocabulary) EmbeddingMatrix(src VectorSource) *mat.Dense {
	m := mat.NewDense(len(v.words), src.Dim(), nil)
	m.SetRow(UnknownID, src.Unknown())
	for id := UnknownID + 1; id < len(v.words); id++ {
		m.SetRow(id, src.WordToVector(v.words[id]))
	}
	return m
}

// Coverage returns the fraction of non-special tokens known to src.
func (v *Vocabulary) Coverage(known func(string) bool) float64 {
	if len(v.words) <= 2 {
		return 0
	}
	n := 0
	for _, w := range v.words[2:] {
		if known(w) {
			n++
		}
	}
	return float64(n) / float64(len(v.words)-2)
}
