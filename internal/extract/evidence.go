package extract

import (
	"fmt"
	"strings"

	"github.com/ppiankov/veritas/internal/model"
)

// EvidenceExtractor turns a claim record into its candidate evidence sentences.
type EvidenceExtractor struct {
	splitter *SentenceSplitter
}

// NewEvidenceExtractor creates a new evidence extractor
func NewEvidenceExtractor() *EvidenceExtractor {
	return &EvidenceExtractor{splitter: NewSentenceSplitter()}
}

// Sentences returns the explicit evidence list when present, otherwise the
// sentences of the visible text of the HTML passage.
func (e *EvidenceExtractor) Sentences(c model.Claim) ([]string, error) {
	if len(c.Evidence) > 0 {
		out := make([]string, 0, len(c.Evidence))
		for _, s := range c.Evidence {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	if strings.TrimSpace(c.EvidenceHTML) == "" {
		return nil, nil
	}

	text, err := VisibleText(c.EvidenceHTML)
	if err != nil {
		return nil, fmt.Errorf("parse evidence html: %w", err)
	}
	return e.splitter.Split(text), nil
}
