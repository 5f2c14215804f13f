package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// tokenPattern matches words (with inner apostrophes) and numbers.
var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+(?:[.,]\p{N}+)*`)

// Tokenize splits text into lowercase word and number tokens.
func Tokenize(text string) []string {
	// cases.Caser keeps state and is not safe for concurrent use.
	lower := cases.Lower(language.Und)
	raw := tokenPattern.FindAllString(text, -1)
	for i, tok := range raw {
		raw[i] = lower.String(tok)
	}
	return raw
}

// VisibleText parses an HTML fragment and returns its text nodes,
// skipping scripts and styles
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	return extractVisibleText(doc), nil
}

// extractVisibleText extracts text nodes from HTML, skipping scripts/styles
func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "sup":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

// SentenceSplitter cuts running text into sentences.
type SentenceSplitter struct {
	MinLength int // shorter fragments are dropped
	MaxLength int // longer fragments are dropped
}

// NewSentenceSplitter keeps sentences of 3 to 1000 bytes.
func NewSentenceSplitter() *SentenceSplitter {
	return &SentenceSplitter{MinLength: 3, MaxLength: 1000}
}

// Split splits text into sentences (simple heuristic)
func (s *SentenceSplitter) Split(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		if len(sentence) >= s.MinLength && len(sentence) <= s.MaxLength {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// Only split when followed by whitespace, so "3.5" and "U.S.A" survive
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') && !isAbbreviation(current.String()) {
				flush()
			}
		}
	}

	if current.Len() > 0 {
		flush()
	}

	return sentences
}

var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "st.": true,
	"jr.": true, "sr.": true, "vs.": true, "no.": true, "inc.": true,
	"e.g.": true, "i.e.": true, "etc.": true, "u.s.": true, "u.k.": true,
}

// isAbbreviation reports whether s ends with a known abbreviation or an initial.
func isAbbreviation(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	if abbreviations[last] {
		return true
	}
	// single capital initial such as "J."
	return len(last) == 2 && last[1] == '.' && fields[len(fields)-1][0] >= 'A' && fields[len(fields)-1][0] <= 'Z'
}
