package batch

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/wehubfusion/Talos/pkg/errors"
)

// Request is one batch execution request pulled from the request stream.
type Request struct {
	// BatchID correlates the published result with this request
	BatchID string `json:"batchId"`

	// Items are the raw inputs handed to the processor, one per index
	Items []json.RawMessage `json:"items"`

	// Limit is the concurrency limit for this batch. Zero means use the
	// service default.
	Limit int `json:"limit,omitempty"`
}

// ParseRequest decodes and validates a request payload.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperrors.NewError(apperrors.CodeInvalidArgument, "malformed batch request", err)
	}
	if req.BatchID == "" {
		return nil, apperrors.NewInvalidArgument("batch request missing batchId")
	}
	if req.Limit < 0 {
		return nil, apperrors.NewInvalidArgument(fmt.Sprintf("batch request limit must not be negative, got %d", req.Limit))
	}
	return &req, nil
}

// ItemFailure is the wire form of one failed item.
type ItemFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Result is published to the result subject once a batch has fully
// settled. Exactly one of Outputs or Failures is populated: a batch with
// any failed item reports only its failures.
type Result struct {
	BatchID   string            `json:"batchId"`
	RunID     string            `json:"runId"`
	Succeeded bool              `json:"succeeded"`
	Total     int               `json:"total"`
	Outputs   []json.RawMessage `json:"outputs,omitempty"`
	Failures  []ItemFailure     `json:"failures,omitempty"`
	ElapsedMS int64             `json:"elapsedMs"`
}

// Marshal encodes the result for publishing.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// newSuccessResult builds the result for a fully successful batch.
func newSuccessResult(batchID, runID string, outputs []json.RawMessage, elapsedMS int64) *Result {
	return &Result{
		BatchID:   batchID,
		RunID:     runID,
		Succeeded: true,
		Total:     len(outputs),
		Outputs:   outputs,
		ElapsedMS: elapsedMS,
	}
}

// newFailureResult builds the result for a batch with at least one failed
// item. Failure entries keep the aggregate error's completion order.
func newFailureResult(batchID, runID string, agg *apperrors.AggregateError, elapsedMS int64) *Result {
	failures := make([]ItemFailure, len(agg.Failures))
	for i, f := range agg.Failures {
		failures[i] = ItemFailure{
			Index: f.Index,
			Error: f.Err.Error(),
		}
	}
	return &Result{
		BatchID:   batchID,
		RunID:     runID,
		Succeeded: false,
		Total:     agg.Total,
		Failures:  failures,
		ElapsedMS: elapsedMS,
	}
}
