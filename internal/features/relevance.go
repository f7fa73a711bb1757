package features

import (
	"math"
	"time"

	"github.com/idxquant/idxpulse/internal/domain"
)

// RecencyHalflife is the default decay halflife used when no halflife is
// configured.
const RecencyHalflife = 24 * time.Hour

// Relevance scores how pertinent a stored document is to a ticker at a
// point in time. Relevance is a retrieval-time quantity: stored documents
// never carry it. The score is the product of a ticker-match factor, an
// exponential recency decay with the given halflife, and a media-kind
// weight, and lies in [0,1].
func Relevance(doc domain.EvidenceDocument, ticker string, asOf time.Time, halflife time.Duration) float64 {
	if halflife <= 0 {
		halflife = RecencyHalflife
	}
	match := 0.2
	for _, t := range doc.Tickers {
		if t == ticker {
			match = 1.0
			break
		}
	}

	age := asOf.Sub(doc.CapturedAt)
	if age < 0 {
		// Future-dated documents are invisible to this as-of.
		return 0.0
	}
	decay := math.Exp2(-age.Hours() / halflife.Hours())

	return match * decay * kindWeight(doc.Kind)
}

func kindWeight(kind domain.MediaKind) float64 {
	switch kind {
	case domain.MediaVideo:
		return 1.0
	case domain.MediaNews:
		return 0.9
	case domain.MediaPDF:
		return 0.85
	case domain.MediaSocial:
		return 0.7
	}
	return 0.5
}
