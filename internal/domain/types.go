package domain

import (
	"fmt"
	"time"
)

// MediaKind identifies the modality of an ingested document.
type MediaKind string

const (
	MediaVideo  MediaKind = "video"
	MediaNews   MediaKind = "news"
	MediaSocial MediaKind = "social"
	MediaPDF    MediaKind = "pdf"
)

// Valid reports whether the media kind is one the pipeline can process.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaVideo, MediaNews, MediaSocial, MediaPDF:
		return true
	}
	return false
}

// Sentiment is the classifier label attached to evidence at ingest time.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Direction is the published trade recommendation.
type Direction string

const (
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
	DirectionBuy  Direction = "BUY"
)

// Rank orders directions SELL < HOLD < BUY so that monotonicity of the
// combined score can be checked numerically.
func (d Direction) Rank() int {
	switch d {
	case DirectionSell:
		return 0
	case DirectionHold:
		return 1
	case DirectionBuy:
		return 2
	}
	return -1
}

// Ticker describes one listed instrument in the scan universe. The code is
// the immutable identity; price and volume fields are refreshed from the
// market data feed.
type Ticker struct {
	Code      string  `json:"code" yaml:"code"`
	Name      string  `json:"name" yaml:"name"`
	Sector    string  `json:"sector" yaml:"sector"`
	Price     float64 `json:"price" yaml:"-"`
	Change    float64 `json:"change" yaml:"-"`
	ChangePct float64 `json:"change_pct" yaml:"-"`
	Volume    float64 `json:"volume" yaml:"-"`
}

// EvidenceDocument is one normalized piece of multimodal evidence. Documents
// are immutable once stored; Relevance is assigned at retrieval time and is
// zero on stored records.
type EvidenceDocument struct {
	ID          string    `json:"id" db:"id"`
	Kind        MediaKind `json:"kind" db:"kind"`
	Title       string    `json:"title" db:"title"`
	CapturedAt  time.Time `json:"captured_at" db:"captured_at"`
	Snippet     string    `json:"snippet" db:"snippet"`
	Sentiment   Sentiment `json:"sentiment" db:"sentiment"`
	Relevance   float64   `json:"relevance_score" db:"-"`
	SubLocation string    `json:"sub_location,omitempty" db:"sub_location"`
	SourceID    string    `json:"source_id" db:"source_id"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Tickers     []string  `json:"tickers" db:"-"`
	Embedding   []float64 `json:"-" db:"-"`
}

// Indicators holds the technical indicator block of a feature vector.
type Indicators struct {
	RSI14 float64 `json:"rsi14"`
	EMA8  float64 `json:"ema8"`
	EMA20 float64 `json:"ema20"`
	VWAP  float64 `json:"vwap"`
	ATR14 float64 `json:"atr14"`
}

// FeatureVector is the model-ready input for one ticker at one point in
// time. Vectors are superseded, never mutated: each batch cycle produces a
// fresh vector and older ones remain for audit.
type FeatureVector struct {
	Ticker            string     `json:"ticker"`
	AsOf              time.Time  `json:"as_of"`
	Indicators        Indicators `json:"indicators"`
	LastClose         float64    `json:"last_close"`
	Return1           float64    `json:"return_1"`
	TrailingVolume    float64    `json:"trailing_volume"`
	EvidenceEmbedding []float64  `json:"evidence_embedding"`
	EvidenceCount     int        `json:"evidence_count"`
	SentimentBalance  float64    `json:"sentiment_balance"`
	LowEvidence       bool       `json:"low_evidence"`
}

// ModelScore is the output of a single ensemble member for one vector.
type ModelScore struct {
	Model      string  `json:"model"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// TradeSignal is the published daily recommendation for one ticker.
// Immutable after publication; feedback is appended separately.
type TradeSignal struct {
	ID               string             `json:"id"`
	Ticker           string             `json:"ticker"`
	Direction        Direction          `json:"direction"`
	Confidence       int                `json:"confidence"`
	GeneratedAt      time.Time          `json:"generated_at"`
	EntryPrice       float64            `json:"entry_price"`
	StopLoss         float64            `json:"stop_loss"`
	TargetPrice      float64            `json:"target_price"`
	PredictedReturn  float64            `json:"predicted_return"`
	Indicators       Indicators         `json:"indicators"`
	Scores           []ModelScore       `json:"scores"`
	Combined         float64            `json:"combined"`
	LiquidityWarning bool               `json:"liquidity_warning"`
	Reasoning        string             `json:"reasoning"`
	Citations        []EvidenceDocument `json:"citations"`
}

// SignalID derives the stable identifier for a ticker's signal on a given
// trading date.
func SignalID(date time.Time, ticker string) string {
	return fmt.Sprintf("rec-%s-%s", date.Format("2006-01-02"), ticker)
}

// Verdict is a reviewer's judgement of a published signal.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
)

// FeedbackRecord captures one reviewer verdict against a signal. Records
// are append-only; re-review adds another record rather than overwriting.
type FeedbackRecord struct {
	ID        int64     `json:"id" db:"id"`
	SignalID  string    `json:"signal_id" db:"signal_id"`
	Verdict   Verdict   `json:"verdict" db:"verdict"`
	Note      string    `json:"note" db:"note"`
	VerdictAt time.Time `json:"verdict_at" db:"verdict_at"`
	Delivered bool      `json:"delivered" db:"delivered"`
}

// IdempotencyKey identifies a feedback record for at-least-once delivery
// to the training job: retried writes with the same key must not
// double-apply.
func (f FeedbackRecord) IdempotencyKey() string {
	return fmt.Sprintf("%s@%d", f.SignalID, f.VerdictAt.UnixNano())
}

// Bar is one OHLCV observation from the market data feed.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
