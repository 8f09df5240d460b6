// Package codec is the JSON wire format for batches of change events carried
// over redis, postgres and kafka.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"contentsync/internal/trigger"
)

var ErrEmptyBatch = errors.New("empty event batch")

// Batch is the envelope of one delivery.
type Batch struct {
	Events []trigger.Event `json:"events"`
}

// Encode marshals events into a batch envelope.
func Encode(events ...trigger.Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	data, err := json.Marshal(Batch{Events: events})
	if err != nil {
		return nil, fmt.Errorf("marshal event batch: %w", err)
	}
	return data, nil
}

// Decode unmarshals a batch envelope.
func Decode(data []byte) ([]trigger.Event, error) {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal event batch: %w", err)
	}
	if len(batch.Events) == 0 {
		return nil, ErrEmptyBatch
	}
	return batch.Events, nil
}
