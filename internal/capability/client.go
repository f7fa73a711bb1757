// Package capability wraps the external AI services the pipeline depends
// on: speech transcription, document text extraction, embedding, sentiment
// classification, and rationale generation. Everything here is a remote
// call boundary; failures are classified as transient or permanent so
// callers can decide what to retry.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/idxquant/idxpulse/internal/domain"
)

// TranscriptSegment is one time-stamped span of a transcribed recording.
type TranscriptSegment struct {
	Offset string `json:"offset"` // e.g. "14:32"
	Text   string `json:"text"`
}

// Client is the narrow interface over all external model-serving
// capabilities. Implementations must honor ctx deadlines; callers apply a
// per-call timeout and treat a deadline as transient.
type Client interface {
	// Transcribe converts audio/video content into time-stamped segments.
	Transcribe(ctx context.Context, content []byte) ([]TranscriptSegment, error)
	// ExtractText pulls plain text out of a PDF or scanned document.
	ExtractText(ctx context.Context, content []byte) (string, error)
	// Embed produces a dense vector for a text snippet.
	Embed(ctx context.Context, text string) ([]float64, error)
	// ClassifySentiment labels a text snippet.
	ClassifySentiment(ctx context.Context, text string) (domain.Sentiment, error)
	// Generate produces free text for a grounded prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// CallError reports a failed capability call. Transient errors (network,
// timeout, 5xx, open breaker) may be retried; permanent ones (4xx,
// malformed response) must not be.
type CallError struct {
	Capability string
	Transient  bool
	Err        error
}

func (e *CallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s call failed (%s): %v", e.Capability, kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a capability error worth retrying.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}
