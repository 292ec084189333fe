package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/perfgo/apireport/model"
)

// MaxHandoffSize bounds the message a single worker may hand over.
const MaxHandoffSize = 64 << 20

// WriteHandoff sends a worker's ledger to the coordinator. It is written
// exactly once, when the worker shuts down.
func WriteHandoff(w io.Writer, out model.WorkerOutput) error {
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("failed to write hand-off for worker %s: %w", out.WorkerID, err)
	}
	return nil
}

// ReadHandoff receives one worker's hand-off message.
func ReadHandoff(r io.Reader) (model.WorkerOutput, error) {
	var out model.WorkerOutput
	dec := json.NewDecoder(io.LimitReader(r, MaxHandoffSize))
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("worker exited without a hand-off")
		}
		return out, fmt.Errorf("failed to read worker hand-off: %w", err)
	}
	return out, nil
}
