package domain

import (
	"errors"
	"fmt"
)

// IngestionError reports a failed ingestion attempt. Retryable errors
// (unreachable source, timeout) are re-queued with backoff; permanent ones
// (unsupported media kind, malformed content) go to the operator queue.
type IngestionError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *IngestionError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("ingestion failed for %s (%s): %v", e.Source, kind, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// FeatureErrorKind classifies feature-builder failures.
type FeatureErrorKind string

const (
	// InsufficientHistory means the ticker has too few (or too stale)
	// price bars to compute indicators. Missing evidence is never an
	// error; only missing price history is.
	InsufficientHistory FeatureErrorKind = "insufficient_history"
)

// FeatureError reports a failed feature build for one ticker.
type FeatureError struct {
	Ticker string
	Kind   FeatureErrorKind
	Err    error
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature build failed for %s (%s): %v", e.Ticker, e.Kind, e.Err)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// PredictionError reports an ensemble member that could not score.
type PredictionError struct {
	Model string
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// ExplanationError reports a failed rationale generation. Callers fall back
// to a templated, citation-only rationale; this error is never fatal to a
// batch run.
type ExplanationError struct {
	Err error
}

func (e *ExplanationError) Error() string {
	return fmt.Sprintf("explanation generation failed: %v", e.Err)
}

func (e *ExplanationError) Unwrap() error { return e.Err }

// ErrUnknownSignal is returned by recordFeedback for a signal id that was
// never published. Nothing is written in that case.
var ErrUnknownSignal = errors.New("unknown signal id")

// FeedbackError reports a rejected feedback submission.
type FeedbackError struct {
	SignalID string
	Err      error
}

func (e *FeedbackError) Error() string {
	return fmt.Sprintf("feedback rejected for %s: %v", e.SignalID, e.Err)
}

func (e *FeedbackError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an ingestion error worth retrying.
func IsRetryable(err error) bool {
	var ie *IngestionError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}
