package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/metrics"
)

// HTTPConfig configures the remote capability client. Metrics may be nil.
type HTTPConfig struct {
	BaseURL     string
	CallTimeout time.Duration
	RPS         float64
	Burst       int
	Metrics     *metrics.Registry
}

// HTTPClient calls the model-serving gateway over REST. Each capability
// endpoint has its own circuit breaker; all calls share one token-bucket
// limiter so batch fan-out cannot overwhelm the serving tier.
type HTTPClient struct {
	http     *resty.Client
	limiter  *rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
	timeout  time.Duration
	reg      *metrics.Registry
}

// NewHTTPClient creates a client for the gateway at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	http := resty.New()
	http.SetBaseURL(cfg.BaseURL)
	http.SetHeader("User-Agent", "idxpulse/1.0")

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range []string{"asr", "ocr", "embed", "sentiment", "generate"} {
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: 60 * time.Second,
			Timeout:  60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}

	return &HTTPClient{
		http:     http,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breakers: breakers,
		timeout:  cfg.CallTimeout,
		reg:      cfg.Metrics,
	}
}

func (c *HTTPClient) Transcribe(ctx context.Context, content []byte) ([]TranscriptSegment, error) {
	var out struct {
		Segments []TranscriptSegment `json:"segments"`
	}
	err := c.call(ctx, "asr", map[string]any{"content": content, "media_kind": "video"}, &out)
	return out.Segments, err
}

func (c *HTTPClient) ExtractText(ctx context.Context, content []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.call(ctx, "ocr", map[string]any{"content": content, "media_kind": "pdf"}, &out)
	return out.Text, err
}

func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	err := c.call(ctx, "embed", map[string]any{"content": text}, &out)
	return out.Embedding, err
}

func (c *HTTPClient) ClassifySentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	var out struct {
		Label string `json:"label"`
	}
	if err := c.call(ctx, "sentiment", map[string]any{"content": text}, &out); err != nil {
		return "", err
	}
	switch domain.Sentiment(out.Label) {
	case domain.SentimentPositive, domain.SentimentNegative, domain.SentimentNeutral:
		return domain.Sentiment(out.Label), nil
	}
	return "", &CallError{
		Capability: "sentiment",
		Transient:  false,
		Err:        fmt.Errorf("unknown label %q", out.Label),
	}
}

func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	var out struct {
		GeneratedText string `json:"generated_text"`
	}
	err := c.call(ctx, "generate", map[string]any{"content": prompt}, &out)
	return out.GeneratedText, err
}

// call performs one rate-limited, breaker-guarded POST with the per-call
// timeout applied. Timeouts and 5xx responses classify as transient; 4xx
// responses as permanent.
func (c *HTTPClient) call(ctx context.Context, capability string, body map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &CallError{Capability: capability, Transient: true, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.breakers[capability].Execute(func() (any, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post("/v1/" + capability)
		if err != nil {
			return nil, &CallError{Capability: capability, Transient: true, Err: err}
		}
		if resp.StatusCode() >= 500 {
			return nil, &CallError{
				Capability: capability,
				Transient:  true,
				Err:        fmt.Errorf("HTTP %d", resp.StatusCode()),
			}
		}
		if resp.StatusCode() >= 400 {
			return nil, &CallError{
				Capability: capability,
				Transient:  false,
				Err:        fmt.Errorf("HTTP %d", resp.StatusCode()),
			}
		}
		return resp.Body(), nil
	})
	if c.reg != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.reg.CapabilityLatency.WithLabelValues(capability, result).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &CallError{Capability: capability, Transient: true, Err: err}
		}
		var ce *CallError
		if !errors.As(err, &ce) {
			err = &CallError{Capability: capability, Transient: true, Err: err}
		}
		log.Warn().Err(err).Str("capability", capability).Dur("elapsed", time.Since(start)).Msg("Capability call failed")
		return err
	}

	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		return &CallError{Capability: capability, Transient: false, Err: fmt.Errorf("malformed response: %w", err)}
	}
	log.Debug().Str("capability", capability).Dur("elapsed", time.Since(start)).Msg("Capability call completed")
	return nil
}
