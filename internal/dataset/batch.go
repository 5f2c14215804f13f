package dataset

import "math/rand"

// Batch is a padded group of examples.
// Claims is B×HMax, Sents is B×S×SMax; ids beyond the true lengths are PadID.
// S is the largest true sentence count in the batch (at least 1), so
// examples with fewer sentences carry zero-length padding sentences.
type Batch struct {
	Claims    [][]int
	ClaimLens []int
	Sents     [][][]int
	SentLens  [][]int
	NumSents  []int
	Labels    []int
	Index     []int // positions of the examples in the source slice
	HMax      int
	SMax      int
	S         int
}

// Size returns the number of examples.
func (b *Batch) Size() int { return len(b.Claims) }

// HasLabels reports whether every example is labelled.
func (b *Batch) HasLabels() bool {
	for _, y := range b.Labels {
		if y < 0 {
			return false
		}
	}
	return len(b.Labels) > 0
}

// MakeBatch pads the examples at idx into a batch.
func MakeBatch(examples []Example, idx []int, hMax, sMax int) *Batch {
	b := &Batch{
		Claims:    make([][]int, len(idx)),
		ClaimLens: make([]int, len(idx)),
		Sents:     make([][][]int, len(idx)),
		SentLens:  make([][]int, len(idx)),
		NumSents:  make([]int, len(idx)),
		Labels:    make([]int, len(idx)),
		Index:     append([]int(nil), idx...),
		HMax:      hMax,
		SMax:      sMax,
		S:         1,
	}
	for _, i := range idx {
		if n := examples[i].NumSentences(); n > b.S {
			b.S = n
		}
	}

	for k, i := range idx {
		ex := examples[i]
		b.Claims[k], b.ClaimLens[k] = pad(ex.Claim, hMax)
		b.NumSents[k] = ex.NumSentences()
		b.Labels[k] = ex.Label
		b.Sents[k] = make([][]int, b.S)
		b.SentLens[k] = make([]int, b.S)
		for s := 0; s < b.S; s++ {
			var ids []int
			if s < len(ex.Sentences) {
				ids = ex.Sentences[s]
			}
			b.Sents[k][s], b.SentLens[k][s] = pad(ids, sMax)
		}
	}
	return b
}

func pad(ids []int, n int) ([]int, int) {
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]int, n)
	copy(out, ids)
	return out, len(ids)
}

// Batches splits n example positions into consecutive groups of size; the
// last group may be short. A non-nil rng shuffles the order first.
func Batches(n, size int, rng *rand.Rand) [][]int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if size <= 0 {
		size = n
	}
	var out [][]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, order[start:end])
	}
	return out
}
