package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
)

// diagLog appends one JSON object per epoch to <dir>/run<UTC timestamp>/metrics.jsonl.
type diagLog struct {
	f   *os.File
	enc *json.Encoder
}

type diagRecord struct {
	RunID string `json:"run_id"`
	model.EpochReport
	Timing metrics.Timing `json:"timing"`
}

func openDiag(dir string, now time.Time) (*diagLog, error) {
	runDir := filepath.Join(dir, "run"+now.UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, "metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open metrics log: %w", err)
	}
	return &diagLog{f: f, enc: json.NewEncoder(f)}, nil
}

// Path returns the file being written.
func (d *diagLog) Path() string { return d.f.Name() }

func (d *diagLog) write(rec diagRecord) error {
	return d.enc.Encode(rec)
}

func (d *diagLog) Close() error {
	return d.f.Close()
}
