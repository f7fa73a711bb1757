package explain

import (
	"fmt"
	"strings"

	"github.com/idxquant/idxpulse/internal/domain"
)

// buildPrompt assembles the grounded generation prompt. Every factual
// claim the model may make must be traceable to a numbered citation below,
// so the prompt carries the full snippet text, not just titles.
func buildPrompt(vec domain.FeatureVector, direction domain.Direction, combined float64, citations []domain.EvidenceDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an equity analyst. Write a short rationale for a %s recommendation on %s.\n", direction, vec.Ticker)
	fmt.Fprintf(&b, "Combined model score: %.3f. Last close: %.2f.\n", combined, vec.LastClose)
	fmt.Fprintf(&b, "Indicators: RSI14=%.1f EMA8=%.2f EMA20=%.2f VWAP=%.2f ATR14=%.2f.\n\n", vec.Indicators.RSI14, vec.Indicators.EMA8, vec.Indicators.EMA20, vec.Indicators.VWAP, vec.Indicators.ATR14)
	b.WriteString("Evidence. Reference items as [n]; do not invent facts beyond them.\n")
	for i, doc := range citations {
		fmt.Fprintf(&b, "[%d] (%s, %s, %s) %s: %s\n", i+1, doc.Kind, doc.Sentiment, doc.CapturedAt.Format("2006-01-02 15:04"), doc.Title, doc.Snippet)
	}
	b.WriteString("\nTwo to four sentences. Mention the strongest evidence item and one technical factor.")
	return b.String()
}

// citationRationale is the fallback when generation fails: a templated
// summary that still cites the retrieved evidence.
func citationRationale(vec domain.FeatureVector, direction domain.Direction, citations []domain.EvidenceDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s based on %d evidence item(s) and technical indicators.", direction, vec.Ticker, len(citations))
	top := citations[0]
	fmt.Fprintf(&b, " Most relevant: %s (%s, %s) [1].", top.Title, top.Kind, top.Sentiment)
	fmt.Fprintf(&b, " %s", trendSentence(vec))
	return b.String()
}

// technicalRationale covers the empty-evidence case: indicators only, no
// citations.
func technicalRationale(vec domain.FeatureVector, direction domain.Direction) string {
	return fmt.Sprintf("%s on %s from technical indicators alone; no qualifying evidence in the lookback window. %s",
		direction, vec.Ticker, trendSentence(vec))
}

func trendSentence(vec domain.FeatureVector) string {
	trend := "below"
	if vec.Indicators.EMA8 >= vec.Indicators.EMA20 {
		trend = "above"
	}
	return fmt.Sprintf("RSI14 at %.1f with EMA8 %s EMA20.", vec.Indicators.RSI14, trend)
}
