// Package pipeline orchestrates the daily batch: for every ticker in the
// universe it builds features, runs the ensemble, generates a rationale,
// and publishes the assembled signal. Ticker failures are isolated; one bad
// ticker never sinks the run.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/ensemble"
	"github.com/idxquant/idxpulse/internal/explain"
	"github.com/idxquant/idxpulse/internal/features"
	"github.com/idxquant/idxpulse/internal/metrics"
	"github.com/idxquant/idxpulse/internal/store"
)

// Stop and target distances in ATR multiples, applied symmetrically for
// SELL signals.
const (
	stopATRMultiple   = 1.5
	targetATRMultiple = 2.5
)

// TickerResult is the outcome of one ticker in a batch run.
type TickerResult struct {
	Ticker string             `json:"ticker"`
	Signal domain.TradeSignal `json:"signal,omitempty"`
	Stage  string             `json:"stage,omitempty"`
	Err    string             `json:"error,omitempty"`
}

// Failed reports whether the ticker produced no signal.
func (r TickerResult) Failed() bool { return r.Err != "" }

// Summary describes one completed batch run.
type Summary struct {
	AsOf      time.Time      `json:"as_of"`
	Published int            `json:"published"`
	Failed    int            `json:"failed"`
	Duration  time.Duration  `json:"duration"`
	Results   []TickerResult `json:"results"`
}

// Runner executes batch runs. Each run is parameterized by an explicit
// as-of timestamp so a rerun over the same stored data reproduces the same
// signals.
type Runner struct {
	cfg       *config.Config
	builder   *features.Builder
	predictor *ensemble.Predictor
	explainer *explain.Explainer
	store     store.Store
	reg       *metrics.Registry
}

// NewRunner creates a batch runner. reg may be nil in tests.
func NewRunner(cfg *config.Config, builder *features.Builder, predictor *ensemble.Predictor, explainer *explain.Explainer, st store.Store, reg *metrics.Registry) *Runner {
	return &Runner{cfg: cfg, builder: builder, predictor: predictor, explainer: explainer, store: st, reg: reg}
}

// Run scans the configured universe as of the given timestamp. The
// returned summary lists every ticker's outcome in universe order.
func (r *Runner) Run(ctx context.Context, asOf time.Time) (Summary, error) {
	start := time.Now()
	log.Info().
		Time("as_of", asOf).
		Int("universe", len(r.cfg.Universe)).
		Int("concurrency", r.cfg.Pipeline.Concurrency).
		Msg("Batch run started")

	results := make([]TickerResult, len(r.cfg.Universe))
	sem := make(chan struct{}, r.cfg.Pipeline.Concurrency)
	var wg sync.WaitGroup
	for i, ticker := range r.cfg.Universe {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runTicker(ctx, code, asOf)
		}(i, ticker.Code)
	}
	wg.Wait()

	summary := Summary{AsOf: asOf, Duration: time.Since(start), Results: results}
	for _, res := range results {
		if res.Failed() {
			summary.Failed++
		} else {
			summary.Published++
		}
	}
	log.Info().
		Int("published", summary.Published).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Batch run finished")
	return summary, nil
}

func (r *Runner) runTicker(ctx context.Context, ticker string, asOf time.Time) TickerResult {
	vec, err := r.timedBuild(ctx, ticker, asOf)
	if err != nil {
		return r.failure(ticker, "features", err)
	}

	pred, err := r.timedPredict(ctx, vec)
	if err != nil {
		return r.failure(ticker, "predict", err)
	}
	direction := r.predictor.Direction(pred.Combined)

	timer := r.startStep("explain")
	reasoning, citations := r.explainer.Explain(ctx, vec, direction, pred.Combined)
	r.stopStep(timer, "success")

	sig := r.assemble(vec, pred, direction, reasoning, citations, asOf)

	timer = r.startStep("publish")
	if err := r.store.PublishSignal(ctx, sig); err != nil {
		r.stopStep(timer, "failure")
		return r.failure(ticker, "publish", err)
	}
	r.stopStep(timer, "success")

	if r.reg != nil {
		r.reg.SignalsPublished.WithLabelValues(string(direction)).Inc()
	}
	log.Info().
		Str("signal", sig.ID).
		Str("direction", string(direction)).
		Int("confidence", sig.Confidence).
		Bool("liquidity_warning", sig.LiquidityWarning).
		Msg("Signal published")
	return TickerResult{Ticker: ticker, Signal: sig}
}

// assemble builds the immutable published signal from the run's
// intermediate products.
func (r *Runner) assemble(vec domain.FeatureVector, pred ensemble.Prediction, direction domain.Direction, reasoning string, citations []domain.EvidenceDocument, asOf time.Time) domain.TradeSignal {
	sig := domain.TradeSignal{
		ID:               domain.SignalID(asOf, vec.Ticker),
		Ticker:           vec.Ticker,
		Direction:        direction,
		Confidence:       ensemble.Confidence(pred.Combined),
		GeneratedAt:      asOf,
		EntryPrice:       vec.LastClose,
		Indicators:       vec.Indicators,
		Scores:           pred.Scores,
		Combined:         pred.Combined,
		LiquidityWarning: vec.TrailingVolume < r.cfg.Pipeline.LiquidityFloor,
		Reasoning:        reasoning,
		Citations:        citations,
	}

	atr := vec.Indicators.ATR14
	switch direction {
	case domain.DirectionBuy:
		sig.StopLoss = vec.LastClose - stopATRMultiple*atr
		sig.TargetPrice = vec.LastClose + targetATRMultiple*atr
	case domain.DirectionSell:
		sig.StopLoss = vec.LastClose + stopATRMultiple*atr
		sig.TargetPrice = vec.LastClose - targetATRMultiple*atr
	}
	if sig.TargetPrice > 0 && vec.LastClose > 0 {
		sig.PredictedReturn = (sig.TargetPrice - vec.LastClose) / vec.LastClose * 100
	}
	return sig
}

func (r *Runner) timedBuild(ctx context.Context, ticker string, asOf time.Time) (domain.FeatureVector, error) {
	timer := r.startStep("features")
	vec, err := r.builder.Build(ctx, ticker, asOf)
	if err != nil {
		r.stopStep(timer, "failure")
		return domain.FeatureVector{}, err
	}
	r.stopStep(timer, "success")
	return vec, nil
}

func (r *Runner) timedPredict(ctx context.Context, vec domain.FeatureVector) (ensemble.Prediction, error) {
	timer := r.startStep("predict")
	pred, err := r.predictor.Predict(ctx, vec)
	if err != nil {
		r.stopStep(timer, "failure")
		return ensemble.Prediction{}, err
	}
	r.stopStep(timer, "success")
	return pred, nil
}

func (r *Runner) failure(ticker, stage string, err error) TickerResult {
	if r.reg != nil {
		r.reg.TickerFailures.WithLabelValues(stage).Inc()
	}
	log.Warn().
		Str("ticker", ticker).
		Str("stage", stage).
		Err(err).
		Msg("Ticker failed, continuing batch")
	return TickerResult{Ticker: ticker, Stage: stage, Err: fmt.Sprintf("%v", err)}
}

func (r *Runner) startStep(step string) *metrics.StepTimer {
	if r.reg == nil {
		return nil
	}
	return r.reg.StartStep(step)
}

func (r *Runner) stopStep(timer *metrics.StepTimer, result string) {
	if timer != nil {
		timer.Stop(result)
	}
}
