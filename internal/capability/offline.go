package capability

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Offline is a fully deterministic in-process stand-in for the remote
// capabilities, used for tests and offline batch runs. Outputs depend only
// on the input bytes, never on a clock or unseeded randomness.
type Offline struct {
	// EmbedDim is the dimensionality of produced embeddings.
	EmbedDim int
}

// NewOffline returns the offline capability client.
func NewOffline() *Offline { return &Offline{EmbedDim: 16} }

func (o *Offline) Transcribe(_ context.Context, content []byte) ([]TranscriptSegment, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, &CallError{Capability: "asr", Transient: false, Err: fmt.Errorf("empty recording")}
	}
	lines := strings.Split(text, "\n")
	segments := make([]TranscriptSegment, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		segments = append(segments, TranscriptSegment{
			Offset: fmt.Sprintf("%02d:%02d", i/2, (i%2)*30),
			Text:   line,
		})
	}
	return segments, nil
}

func (o *Offline) ExtractText(_ context.Context, content []byte) (string, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", &CallError{Capability: "ocr", Transient: false, Err: fmt.Errorf("empty document")}
	}
	return text, nil
}

// Embed hashes the text into a fixed-dimension unit-scale vector.
func (o *Offline) Embed(_ context.Context, text string) ([]float64, error) {
	dim := o.EmbedDim
	if dim <= 0 {
		dim = 16
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, dim)
	for i := 0; i < dim; i++ {
		chunk := binary.BigEndian.Uint16(sum[(i*2)%len(sum):])
		vec[i] = float64(chunk)/65535.0*2.0 - 1.0
	}
	return vec, nil
}

var positiveTerms = []string{
	"growth", "robust", "upgrade", "beat", "strong", "incentive",
	"accumulation", "overweight", "improved", "expansion",
}

var negativeTerms = []string{
	"decline", "downgrade", "miss", "weak", "negative", "regulatory",
	"tightening", "loss", "lawsuit", "warning",
}

// ClassifySentiment counts lexicon hits. Ties and empty text are neutral.
func (o *Offline) ClassifySentiment(_ context.Context, text string) (domain.Sentiment, error) {
	lower := strings.ToLower(text)
	score := 0
	for _, term := range positiveTerms {
		score += strings.Count(lower, term)
	}
	for _, term := range negativeTerms {
		score -= strings.Count(lower, term)
	}
	switch {
	case score > 0:
		return domain.SentimentPositive, nil
	case score < 0:
		return domain.SentimentNegative, nil
	default:
		return domain.SentimentNeutral, nil
	}
}

// Generate echoes the grounded prompt's context back as flat prose. The
// remote generator writes better text; this one only guarantees that every
// claim comes from the prompt itself.
func (o *Offline) Generate(_ context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &CallError{Capability: "generate", Transient: false, Err: fmt.Errorf("empty prompt")}
	}
	return "Summary of retrieved evidence and indicators: " + condense(prompt, 480), nil
}

func condense(s string, max int) string {
	fields := strings.Fields(s)
	out := strings.Join(fields, " ")
	if len(out) > max {
		out = out[:max]
	}
	return out
}
