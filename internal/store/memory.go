package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Memory is an in-process Store used by tests and offline runs. It applies
// the same idempotency rules as the Postgres implementation.
type Memory struct {
	mu       sync.RWMutex
	evidence map[string]domain.EvidenceDocument
	dedupe   map[string]string // source_id+hash -> doc id
	signals  map[string]domain.TradeSignal
	order    []string // signal ids in publish order
	feedback []domain.FeedbackRecord
	nextID   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		evidence: make(map[string]domain.EvidenceDocument),
		dedupe:   make(map[string]string),
		signals:  make(map[string]domain.TradeSignal),
		nextID:   1,
	}
}

func dedupeKey(sourceID, hash string) string { return sourceID + "\x00" + hash }

func (m *Memory) UpsertEvidence(_ context.Context, doc domain.EvidenceDocument) (domain.EvidenceDocument, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupeKey(doc.SourceID, doc.ContentHash)
	if existingID, ok := m.dedupe[key]; ok {
		return m.evidence[existingID], false, nil
	}
	m.evidence[doc.ID] = doc
	m.dedupe[key] = doc.ID
	return doc, true, nil
}

func (m *Memory) EvidenceInWindow(_ context.Context, ticker string, from, to time.Time) ([]domain.EvidenceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []domain.EvidenceDocument
	for _, doc := range m.evidence {
		if doc.CapturedAt.Before(from) || doc.CapturedAt.After(to) {
			continue
		}
		if !mentions(doc, ticker) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CapturedAt.Equal(docs[j].CapturedAt) {
			return docs[i].CapturedAt.Before(docs[j].CapturedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func mentions(doc domain.EvidenceDocument, ticker string) bool {
	for _, t := range doc.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}

func (m *Memory) GetEvidence(_ context.Context, id string) (domain.EvidenceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.evidence[id]
	if !ok {
		return domain.EvidenceDocument{}, fmt.Errorf("evidence not found: %s", id)
	}
	return doc, nil
}

func (m *Memory) PublishSignal(_ context.Context, sig domain.TradeSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[sig.ID]; ok {
		return nil
	}
	m.signals[sig.ID] = sig
	m.order = append(m.order, sig.ID)
	return nil
}

func (m *Memory) GetSignal(_ context.Context, id string) (domain.TradeSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return domain.TradeSignal{}, domain.ErrUnknownSignal
	}
	return sig, nil
}

func (m *Memory) ListSignals(_ context.Context, limit int) ([]domain.TradeSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var signals []domain.TradeSignal
	for i := len(m.order) - 1; i >= 0 && len(signals) < limit; i-- {
		signals = append(signals, m.signals[m.order[i]])
	}
	return signals, nil
}

func (m *Memory) AppendFeedback(_ context.Context, rec domain.FeedbackRecord) (domain.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[rec.SignalID]; !ok {
		return domain.FeedbackRecord{}, &domain.FeedbackError{SignalID: rec.SignalID, Err: domain.ErrUnknownSignal}
	}
	for _, existing := range m.feedback {
		if existing.SignalID == rec.SignalID && existing.VerdictAt.Equal(rec.VerdictAt) {
			return existing, nil
		}
	}
	rec.ID = m.nextID
	m.nextID++
	m.feedback = append(m.feedback, rec)
	return rec, nil
}

func (m *Memory) FeedbackForSignal(_ context.Context, signalID string) ([]domain.FeedbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []domain.FeedbackRecord
	for _, rec := range m.feedback {
		if rec.SignalID == signalID {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (m *Memory) ListFeedback(_ context.Context, limit int) ([]domain.FeedbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []domain.FeedbackRecord
	for i := len(m.feedback) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, m.feedback[i])
	}
	return records, nil
}

func (m *Memory) UndeliveredFeedback(_ context.Context, limit int) ([]domain.FeedbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []domain.FeedbackRecord
	for _, rec := range m.feedback {
		if rec.Delivered {
			continue
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (m *Memory) MarkDelivered(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range m.feedback {
		if marked[m.feedback[i].ID] {
			m.feedback[i].Delivered = true
		}
	}
	return nil
}
