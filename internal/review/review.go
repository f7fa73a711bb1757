// Package review implements the active learning loop: reviewer verdicts
// against published signals, uncertainty-ordered review candidates, and
// the retraining queue drained by the training job.
package review

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/backtest"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/metrics"
	"github.com/idxquant/idxpulse/internal/store"
)

// Reviewer records verdicts and serves the review queue.
type Reviewer struct {
	store store.Store
	reg   *metrics.Registry

	mu   sync.Mutex
	seen map[string]bool // signal ids already surfaced this session
}

// NewReviewer creates a reviewer. reg may be nil in tests.
func NewReviewer(st store.Store, reg *metrics.Registry) *Reviewer {
	return &Reviewer{store: st, reg: reg, seen: make(map[string]bool)}
}

// RecordFeedback appends a reviewer verdict to a published signal. The
// write is idempotent on (signal id, verdict timestamp); an unknown signal
// id is rejected without writing anything.
func (r *Reviewer) RecordFeedback(ctx context.Context, signalID string, verdict domain.Verdict, note string, at time.Time) (domain.FeedbackRecord, error) {
	if verdict != domain.VerdictValid && verdict != domain.VerdictInvalid {
		return domain.FeedbackRecord{}, &domain.FeedbackError{SignalID: signalID, Err: fmt.Errorf("verdict must be valid or invalid, got %q", verdict)}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec, err := r.store.AppendFeedback(ctx, domain.FeedbackRecord{
		SignalID:  signalID,
		Verdict:   verdict,
		Note:      note,
		VerdictAt: at,
	})
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	if r.reg != nil {
		r.reg.FeedbackRecorded.WithLabelValues(string(verdict)).Inc()
	}
	log.Info().
		Str("signal", signalID).
		Str("verdict", string(verdict)).
		Msg("Feedback recorded")
	return rec, nil
}

// RecordOutcomes appends realized market outcomes as implicit feedback, so
// the retraining queue carries what the market decided alongside what
// reviewers decided. Each write is idempotent on (signal id, evaluation
// timestamp); replaying the same evaluation appends nothing new.
func (r *Reviewer) RecordOutcomes(ctx context.Context, outcomes []backtest.Outcome) (int, error) {
	recorded := 0
	for _, out := range outcomes {
		verdict := domain.VerdictInvalid
		if out.Correct {
			verdict = domain.VerdictValid
		}
		_, err := r.store.AppendFeedback(ctx, domain.FeedbackRecord{
			SignalID:  out.SignalID,
			Verdict:   verdict,
			Note:      fmt.Sprintf("horizon return %+.4f", out.Return),
			VerdictAt: out.EvaluatedAt,
		})
		if err != nil {
			return recorded, fmt.Errorf("failed to record outcome for %s: %w", out.SignalID, err)
		}
		if r.reg != nil {
			r.reg.FeedbackRecorded.WithLabelValues(string(verdict)).Inc()
		}
		recorded++
	}
	if recorded > 0 {
		log.Info().Int("outcomes", recorded).Msg("Outcome labels queued for retraining")
	}
	return recorded, nil
}

// Uncertainty maps a combined score onto [0,1]: highest where the ensemble
// sits on the fence at 0.5, zero at either extreme.
func Uncertainty(combined float64) float64 {
	return 1 - 2*math.Abs(combined-0.5)
}

// scoreVariance measures member disagreement, the tiebreaker between
// equally uncertain signals.
func scoreVariance(scores []domain.ModelScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := 0.0
	for _, s := range scores {
		mean += s.Score
	}
	mean /= float64(len(scores))
	variance := 0.0
	for _, s := range scores {
		variance += (s.Score - mean) * (s.Score - mean)
	}
	return variance / float64(len(scores))
}

// NextCandidate returns the unreviewed signal the ensemble is least sure
// about: highest uncertainty first, then higher member disagreement, then
// newer publication. Signals already surfaced or skipped in this session
// are excluded. ok is false when nothing is left to review.
func (r *Reviewer) NextCandidate(ctx context.Context, limit int) (sig domain.TradeSignal, uncertainty float64, ok bool, err error) {
	signals, err := r.store.ListSignals(ctx, limit)
	if err != nil {
		return domain.TradeSignal{}, 0, false, fmt.Errorf("failed to list signals: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	candidates := signals[:0:0]
	for _, s := range signals {
		if !r.seen[s.ID] {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return domain.TradeSignal{}, 0, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		ui, uj := Uncertainty(candidates[i].Combined), Uncertainty(candidates[j].Combined)
		if ui != uj {
			return ui > uj
		}
		vi, vj := scoreVariance(candidates[i].Scores), scoreVariance(candidates[j].Scores)
		if vi != vj {
			return vi > vj
		}
		return candidates[i].GeneratedAt.After(candidates[j].GeneratedAt)
	})

	top := candidates[0]
	r.seen[top.ID] = true
	return top, Uncertainty(top.Combined), true, nil
}

// Skip excludes a signal from this session's review queue without writing
// a verdict; the next call to NextCandidate advances past it.
func (r *Reviewer) Skip(signalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[signalID] = true
}

// ResetSession clears the surfaced-signal set, letting a new reviewer pass
// walk the queue from the top.
func (r *Reviewer) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]bool)
}

// Deliverer hands a batch of feedback records to the training job.
type Deliverer func(ctx context.Context, records []domain.FeedbackRecord) error

// DrainRetrainingQueue delivers undelivered feedback to the training job
// and acknowledges what was accepted. Delivery is at-least-once: a crash
// after deliver but before the ack redelivers the batch, and the training
// job deduplicates on each record's idempotency key.
func (r *Reviewer) DrainRetrainingQueue(ctx context.Context, batchSize int, deliver Deliverer) (int, error) {
	records, err := r.store.UndeliveredFeedback(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read retraining queue: %w", err)
	}
	if r.reg != nil {
		r.reg.QueueDepth.Set(float64(len(records)))
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := deliver(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to deliver feedback batch: %w", err)
	}
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := r.store.MarkDelivered(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to acknowledge feedback batch: %w", err)
	}
	log.Info().Int("records", len(records)).Msg("Retraining queue drained")
	return len(records), nil
}
