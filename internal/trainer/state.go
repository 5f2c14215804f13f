package trainer

import (
	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
)

// State is the lifecycle position of a Trainer.
type State int

const (
	Uninitialized State = iota
	GraphBuilt
	Training
	EarlyStopped
	EpochsExhausted
	Saved
)

var stateNames = [...]string{"uninitialized", "graph_built", "training", "early_stopped", "epochs_exhausted", "saved"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// EventKind tells what an Event reports.
type EventKind int

const (
	StateChanged EventKind = iota
	BatchDone
	EpochDone
)

// Event is delivered to Options.OnEvent from the training goroutine.
type Event struct {
	Kind    EventKind
	State   State
	Epoch   int
	Epochs  int
	Batch   int
	Batches int
	Result  metrics.BatchResult // BatchDone
	Report  *model.EpochReport  // EpochDone
}
