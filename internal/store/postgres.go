package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(dsn string, timeout time.Duration) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	p := &Postgres{db: db, timeout: timeout}
	if err := p.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return p, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evidence_documents (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			title        TEXT NOT NULL,
			captured_at  TIMESTAMPTZ NOT NULL,
			snippet      TEXT NOT NULL,
			sentiment    TEXT NOT NULL,
			sub_location TEXT NOT NULL DEFAULT '',
			source_id    TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			tickers      JSONB NOT NULL DEFAULT '[]',
			embedding    JSONB NOT NULL DEFAULT '[]',
			UNIQUE (source_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_captured_at ON evidence_documents (captured_at)`,
		`CREATE TABLE IF NOT EXISTS trade_signals (
			id                TEXT PRIMARY KEY,
			signal_date       DATE NOT NULL,
			ticker            TEXT NOT NULL,
			direction         TEXT NOT NULL,
			confidence        INT NOT NULL,
			generated_at      TIMESTAMPTZ NOT NULL,
			entry_price       DOUBLE PRECISION NOT NULL,
			stop_loss         DOUBLE PRECISION NOT NULL,
			target_price      DOUBLE PRECISION NOT NULL,
			predicted_return  DOUBLE PRECISION NOT NULL,
			combined          DOUBLE PRECISION NOT NULL,
			liquidity_warning BOOLEAN NOT NULL,
			reasoning         TEXT NOT NULL,
			indicators        JSONB NOT NULL,
			scores            JSONB NOT NULL,
			citations         JSONB NOT NULL,
			UNIQUE (signal_date, ticker)
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_records (
			id         BIGSERIAL PRIMARY KEY,
			signal_id  TEXT NOT NULL REFERENCES trade_signals(id),
			verdict    TEXT NOT NULL,
			note       TEXT NOT NULL DEFAULT '',
			verdict_at TIMESTAMPTZ NOT NULL,
			delivered  BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (signal_id, verdict_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) UpsertEvidence(ctx context.Context, doc domain.EvidenceDocument) (domain.EvidenceDocument, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tickersJSON, err := json.Marshal(doc.Tickers)
	if err != nil {
		return domain.EvidenceDocument{}, false, fmt.Errorf("failed to marshal tickers: %w", err)
	}
	embeddingJSON, err := json.Marshal(doc.Embedding)
	if err != nil {
		return domain.EvidenceDocument{}, false, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO evidence_documents
			(id, kind, title, captured_at, snippet, sentiment, sub_location, source_id, content_hash, tickers, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (source_id, content_hash) DO NOTHING`,
		doc.ID, doc.Kind, doc.Title, doc.CapturedAt, doc.Snippet, doc.Sentiment,
		doc.SubLocation, doc.SourceID, doc.ContentHash, tickersJSON, embeddingJSON)
	if err != nil {
		return domain.EvidenceDocument{}, false, fmt.Errorf("failed to upsert evidence: %w", err)
	}
	inserted, _ := res.RowsAffected()
	if inserted > 0 {
		return doc, true, nil
	}

	row := p.db.QueryRowxContext(ctx, `
		SELECT `+evidenceCols+`
		FROM evidence_documents WHERE source_id = $1 AND content_hash = $2`,
		doc.SourceID, doc.ContentHash)
	existing, err := scanEvidence(row.Scan)
	if err != nil {
		return domain.EvidenceDocument{}, false, fmt.Errorf("failed to load deduplicated evidence: %w", err)
	}
	return existing, false, nil
}

func (p *Postgres) EvidenceInWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.EvidenceDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.db.QueryxContext(ctx, `
		SELECT `+evidenceCols+`
		FROM evidence_documents
		WHERE captured_at >= $1 AND captured_at <= $2 AND tickers @> $3
		ORDER BY captured_at ASC, id ASC`,
		from, to, fmt.Sprintf(`["%s"]`, ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence window: %w", err)
	}
	defer rows.Close()

	var docs []domain.EvidenceDocument
	for rows.Next() {
		doc, err := scanEvidence(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *Postgres) GetEvidence(ctx context.Context, id string) (domain.EvidenceDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	row := p.db.QueryRowxContext(ctx, `
		SELECT `+evidenceCols+` FROM evidence_documents WHERE id = $1`, id)
	doc, err := scanEvidence(row.Scan)
	if err == sql.ErrNoRows {
		return domain.EvidenceDocument{}, fmt.Errorf("evidence not found: %s", id)
	}
	if err != nil {
		return domain.EvidenceDocument{}, fmt.Errorf("failed to get evidence: %w", err)
	}
	return doc, nil
}

func (p *Postgres) PublishSignal(ctx context.Context, sig domain.TradeSignal) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	indicatorsJSON, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}
	scoresJSON, err := json.Marshal(sig.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	citationsJSON, err := json.Marshal(sig.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO trade_signals
			(id, signal_date, ticker, direction, confidence, generated_at,
			 entry_price, stop_loss, target_price, predicted_return, combined,
			 liquidity_warning, reasoning, indicators, scores, citations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.GeneratedAt.Format("2006-01-02"), sig.Ticker, sig.Direction,
		sig.Confidence, sig.GeneratedAt, sig.EntryPrice, sig.StopLoss, sig.TargetPrice,
		sig.PredictedReturn, sig.Combined, sig.LiquidityWarning, sig.Reasoning,
		indicatorsJSON, scoresJSON, citationsJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil // same (date, ticker) already published
		}
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

func (p *Postgres) GetSignal(ctx context.Context, id string) (domain.TradeSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	row := p.db.QueryRowxContext(ctx, `
		SELECT `+signalCols+` FROM trade_signals WHERE id = $1`, id)
	sig, err := scanSignal(row.Scan)
	if err == sql.ErrNoRows {
		return domain.TradeSignal{}, domain.ErrUnknownSignal
	}
	if err != nil {
		return domain.TradeSignal{}, fmt.Errorf("failed to get signal: %w", err)
	}
	return sig, nil
}

func (p *Postgres) ListSignals(ctx context.Context, limit int) ([]domain.TradeSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.db.QueryxContext(ctx, `
		SELECT `+signalCols+`
		FROM trade_signals ORDER BY generated_at DESC, ticker ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.TradeSignal
	for rows.Next() {
		sig, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (p *Postgres) AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) (domain.FeedbackRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO feedback_records (signal_id, verdict, note, verdict_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (signal_id, verdict_at) DO UPDATE SET verdict = feedback_records.verdict
		RETURNING id, delivered`,
		rec.SignalID, rec.Verdict, rec.Note, rec.VerdictAt).
		Scan(&rec.ID, &rec.Delivered)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return domain.FeedbackRecord{}, &domain.FeedbackError{SignalID: rec.SignalID, Err: domain.ErrUnknownSignal}
		}
		return domain.FeedbackRecord{}, fmt.Errorf("failed to append feedback: %w", err)
	}
	return rec, nil
}

func (p *Postgres) FeedbackForSignal(ctx context.Context, signalID string) ([]domain.FeedbackRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var records []domain.FeedbackRecord
	err := p.db.SelectContext(ctx, &records, `
		SELECT id, signal_id, verdict, note, verdict_at, delivered
		FROM feedback_records WHERE signal_id = $1 ORDER BY id ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	return records, nil
}

func (p *Postgres) ListFeedback(ctx context.Context, limit int) ([]domain.FeedbackRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var records []domain.FeedbackRecord
	err := p.db.SelectContext(ctx, &records, `
		SELECT id, signal_id, verdict, note, verdict_at, delivered
		FROM feedback_records ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return records, nil
}

func (p *Postgres) UndeliveredFeedback(ctx context.Context, limit int) ([]domain.FeedbackRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var records []domain.FeedbackRecord
	err := p.db.SelectContext(ctx, &records, `
		SELECT id, signal_id, verdict, note, verdict_at, delivered
		FROM feedback_records WHERE NOT delivered ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered feedback: %w", err)
	}
	return records, nil
}

func (p *Postgres) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		UPDATE feedback_records SET delivered = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark feedback delivered: %w", err)
	}
	return nil
}

// Row scanning helpers

const evidenceCols = `id, kind, title, captured_at, snippet, sentiment, sub_location, source_id, content_hash, tickers, embedding`

func scanEvidence(scan func(...any) error) (domain.EvidenceDocument, error) {
	var doc domain.EvidenceDocument
	var tickersJSON, embeddingJSON []byte
	err := scan(
		&doc.ID, &doc.Kind, &doc.Title, &doc.CapturedAt, &doc.Snippet, &doc.Sentiment,
		&doc.SubLocation, &doc.SourceID, &doc.ContentHash, &tickersJSON, &embeddingJSON)
	if err != nil {
		return domain.EvidenceDocument{}, err
	}
	if err := json.Unmarshal(tickersJSON, &doc.Tickers); err != nil {
		return domain.EvidenceDocument{}, fmt.Errorf("failed to unmarshal tickers: %w", err)
	}
	if err := json.Unmarshal(embeddingJSON, &doc.Embedding); err != nil {
		return domain.EvidenceDocument{}, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return doc, nil
}

const signalCols = `id, ticker, direction, confidence, generated_at, entry_price, stop_loss,
	target_price, predicted_return, combined, liquidity_warning, reasoning, indicators, scores, citations`

func scanSignal(scan func(...any) error) (domain.TradeSignal, error) {
	var sig domain.TradeSignal
	var indicatorsJSON, scoresJSON, citationsJSON []byte
	err := scan(
		&sig.ID, &sig.Ticker, &sig.Direction, &sig.Confidence, &sig.GeneratedAt,
		&sig.EntryPrice, &sig.StopLoss, &sig.TargetPrice, &sig.PredictedReturn,
		&sig.Combined, &sig.LiquidityWarning, &sig.Reasoning,
		&indicatorsJSON, &scoresJSON, &citationsJSON)
	if err != nil {
		return domain.TradeSignal{}, err
	}
	if err := json.Unmarshal(indicatorsJSON, &sig.Indicators); err != nil {
		return domain.TradeSignal{}, fmt.Errorf("failed to unmarshal indicators: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &sig.Scores); err != nil {
		return domain.TradeSignal{}, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	if err := json.Unmarshal(citationsJSON, &sig.Citations); err != nil {
		return domain.TradeSignal{}, fmt.Errorf("failed to unmarshal citations: %w", err)
	}
	return sig, nil
}
