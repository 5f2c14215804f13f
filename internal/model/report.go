package model

import "time"

// Report summarises one training run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Checkpoint string        `json:"checkpoint"`
	StopReason string        `json:"stop_reason"` // early_stopped, epochs_exhausted, cancelled
	BestEpoch  int           `json:"best_epoch,omitempty"`
	BestValAcc float64       `json:"best_val_accuracy,omitempty"`
	Epochs     []EpochReport `json:"epochs"`
	Confusion  [][]int       `json:"confusion,omitempty"` // Validation confusion at the best epoch
	Labels     []string      `json:"labels"`
	Parameters int           `json:"parameters"`
	TrainSize  int           `json:"train_size"`
	ValSize    int           `json:"val_size,omitempty"`
	Config     *Config       `json:"config,omitempty"`
}

// EpochReport holds the statistics of one epoch.
type EpochReport struct {
	Epoch         int           `json:"epoch"`
	Batches       int           `json:"batches"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValLoss       *float64      `json:"val_loss,omitempty"`
	ValAccuracy   *float64      `json:"val_accuracy,omitempty"`
	Improved      bool          `json:"improved,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}
