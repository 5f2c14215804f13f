// Package dataset reads claim/evidence JSONL files and turns them into
// padded, id-encoded batches for the model.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/veritas/internal/extract"
	"github.com/ppiankov/veritas/internal/model"
)

// Example is one encoded claim with its candidate evidence sentences.
type Example struct {
	ID        string
	Claim     []int   // token ids, at most HMaxLength
	Sentences [][]int // token ids per sentence, at most MaxSentences × SMaxLength
	Label     int     // class index or -1
	ClaimText string
	Evidence  []string // sentence texts aligned with Sentences
}

// NumSentences returns the true sentence count.
func (e Example) NumSentences() int { return len(e.Sentences) }

// ReadJSONL reads one model.Claim per non-empty line.
func ReadJSONL(path string) ([]model.Claim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	var claims []model.Claim
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c model.Claim
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("%d", line)
		}
		claims = append(claims, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return claims, nil
}

// Encoder maps claims to Examples with a fixed vocabulary and length limits.
type Encoder struct {
	vocab    *Vocabulary
	limits   model.DataConfig
	classes  int
	evidence *extract.EvidenceExtractor
}

// NewEncoder creates an encoder for a model with the given number of
// output classes. Labels at or beyond classes are rejected.
func NewEncoder(vocab *Vocabulary, limits model.DataConfig, classes int) *Encoder {
	return &Encoder{vocab: vocab, limits: limits, classes: classes, evidence: extract.NewEvidenceExtractor()}
}

// Encode tokenizes, truncates and id-encodes one claim.
func (e *Encoder) Encode(c model.Claim) (Example, error) {
	label, ok := model.ParseLabel(c.Label)
	if !ok {
		return Example{}, fmt.Errorf("claim %s: unknown label %q", c.ID, c.Label)
	}
	if int(label) >= e.classes {
		return Example{}, fmt.Errorf("claim %s: label %q outside the model's %d classes", c.ID, c.Label, e.classes)
	}
	sentences, err := e.evidence.Sentences(c)
	if err != nil {
		return Example{}, fmt.Errorf("claim %s: %w", c.ID, err)
	}
	if len(sentences) > e.limits.MaxSentences {
		sentences = sentences[:e.limits.MaxSentences]
	}

	ex := Example{
		ID:        c.ID,
		Claim:     e.vocab.Encode(truncate(extract.Tokenize(c.Text), e.limits.HMaxLength)),
		Label:     int(label),
		ClaimText: c.Text,
		Evidence:  sentences,
		Sentences: make([][]int, len(sentences)),
	}
	for i, s := range sentences {
		ex.Sentences[i] = e.vocab.Encode(truncate(extract.Tokenize(s), e.limits.SMaxLength))
	}
	return ex, nil
}

// EncodeAll encodes every claim, failing on the first bad record.
func (e *Encoder) EncodeAll(claims []model.Claim) ([]Example, error) {
	out := make([]Example, len(claims))
	for i, c := range claims {
		ex, err := e.Encode(c)
		if err != nil {
			return nil, err
		}
		out[i] = ex
	}
	return out, nil
}

// Tokens returns every claim and evidence token of the claims, for vocabulary building.
func Tokens(claims []model.Claim) ([]string, error) {
	ext := extract.NewEvidenceExtractor()
	var tokens []string
	for _, c := range claims {
		tokens = append(tokens, extract.Tokenize(c.Text)...)
		sentences, err := ext.Sentences(c)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", c.ID, err)
		}
		for _, s := range sentences {
			tokens = append(tokens, extract.Tokenize(s)...)
		}
	}
	return tokens, nil
}

func truncate(tokens []string, n int) []string {
	if n > 0 && len(tokens) > n {
		return tokens[:n]
	}
	return tokens
}
