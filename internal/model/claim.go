package model

// Claim is one line of a JSONL dataset: a statement with its candidate
// evidence sentences and, for training data, a gold label.
type Claim struct {
	ID           string   `json:"id,omitempty"`
	Text         string   `json:"claim"`                   // The claim text itself
	Evidence     []string `json:"evidence,omitempty"`      // Candidate evidence sentences in retrieval order
	EvidenceHTML string   `json:"evidence_html,omitempty"` // Raw passage, split into sentences when Evidence is empty
	Label        string   `json:"label,omitempty"`         // SUPPORTS, REFUTES, NOT ENOUGH INFO
}

// Label is a verdict class index.
type Label int

const (
	LabelSupports Label = 0
	LabelRefutes  Label = 1
	LabelNEI      Label = 2
	// LabelNone marks an unlabelled example.
	LabelNone Label = -1
)

// NumLabels is the number of verdict classes.
const NumLabels = 3

// LabelNames lists the label strings by class index.
var LabelNames = []string{"SUPPORTS", "REFUTES", "NOT ENOUGH INFO"}

// Labels returns the names of the first n classes.
func Labels(n int) []string {
	if n > len(LabelNames) {
		n = len(LabelNames)
	}
	return LabelNames[:n]
}

func (l Label) String() string {
	if l >= 0 && int(l) < len(LabelNames) {
		return LabelNames[l]
	}
	return "NONE"
}

// ParseLabel maps a label string to its class. The empty string is LabelNone.
func ParseLabel(s string) (Label, bool) {
	switch normalizeLabel(s) {
	case "":
		return LabelNone, true
	case "SUPPORTS", "SUPPORT", "S":
		return LabelSupports, true
	case "REFUTES", "REFUTE", "R":
		return LabelRefutes, true
	case "NOT ENOUGH INFO", "NEI", "N":
		return LabelNEI, true
	default:
		return LabelNone, false
	}
}
