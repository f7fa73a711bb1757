// Package store persists the pipeline's three durable collections: the
// evidence store (keyed by document id, deduplicated by source id +
// content hash), the signal store (keyed by date and ticker), and the
// append-only feedback queue drained by the training job.
package store

import (
	"context"
	"time"

	"github.com/idxquant/idxpulse/internal/domain"
)

// EvidenceStore holds ingested multimodal documents.
type EvidenceStore interface {
	// UpsertEvidence inserts a document unless an identical one (same
	// source id and content hash) already exists. It returns the stored
	// document and whether a new row was created, so re-ingesting the
	// same content can never duplicate evidence.
	UpsertEvidence(ctx context.Context, doc domain.EvidenceDocument) (domain.EvidenceDocument, bool, error)

	// EvidenceInWindow returns documents mentioning ticker captured in
	// [from, to], ordered by captured_at ascending then id for
	// reproducible snapshots.
	EvidenceInWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.EvidenceDocument, error)

	// GetEvidence fetches one document by id.
	GetEvidence(ctx context.Context, id string) (domain.EvidenceDocument, error)
}

// SignalStore holds published trade signals.
type SignalStore interface {
	// PublishSignal stores a signal. Publishing the same id again is a
	// no-op so a retried batch cannot double-publish.
	PublishSignal(ctx context.Context, sig domain.TradeSignal) error

	// GetSignal fetches one signal by id.
	GetSignal(ctx context.Context, id string) (domain.TradeSignal, error)

	// ListSignals returns the most recent signals, newest first.
	ListSignals(ctx context.Context, limit int) ([]domain.TradeSignal, error)
}

// FeedbackStore is the append-only reviewer-verdict log and retraining
// queue.
type FeedbackStore interface {
	// AppendFeedback appends a verdict. Writes are idempotent on
	// (signal id, verdict timestamp) so a retry after a timeout cannot
	// double-apply. Appending against an unknown signal id fails with
	// domain.ErrUnknownSignal and writes nothing.
	AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) (domain.FeedbackRecord, error)

	// FeedbackForSignal returns the full verdict history for a signal,
	// oldest first.
	FeedbackForSignal(ctx context.Context, signalID string) ([]domain.FeedbackRecord, error)

	// ListFeedback returns the most recent records, newest first.
	ListFeedback(ctx context.Context, limit int) ([]domain.FeedbackRecord, error)

	// UndeliveredFeedback returns records not yet handed to the training
	// job, in insertion order.
	UndeliveredFeedback(ctx context.Context, limit int) ([]domain.FeedbackRecord, error)

	// MarkDelivered acknowledges records after the training job accepted
	// them. Delivery is at-least-once: a crash between drain and ack
	// redelivers.
	MarkDelivered(ctx context.Context, ids []int64) error
}

// Store combines all three collections behind one handle.
type Store interface {
	EvidenceStore
	SignalStore
	FeedbackStore
}
