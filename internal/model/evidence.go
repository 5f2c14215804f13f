package model

import "strings"

// Verdict is the model output for one claim.
type Verdict struct {
	ID            string    `json:"id,omitempty"`
	Claim         string    `json:"claim"`
	Label         string    `json:"label"`              // Highest probability class
	Probabilities []float64 `json:"probabilities"`      // One entry per class
	Evidence      []Scored  `json:"evidence,omitempty"` // Evidence sentences with selection weights
	Gold          string    `json:"gold,omitempty"`     // Gold label if the input had one
}

// Scored is an evidence sentence with the weight the selector gave it.
// A zero weight means the sentence fell at or below the acceptance threshold.
type Scored struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// Prediction is the raw model output for one example.
type Prediction struct {
	Probabilities []float64 `json:"probabilities"`
	Weights       []float64 `json:"weights"` // Selection weight per evidence sentence, zero when gated
}
