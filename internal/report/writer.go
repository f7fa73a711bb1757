// Package report writes run artifacts: one JSONL file with every published
// signal and one markdown digest for humans.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/pipeline"
)

// Writer emits run artifacts under a date-stamped directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteRun writes signals.jsonl and report.md for one batch summary and
// returns the run directory.
func (w *Writer) WriteRun(summary pipeline.Summary) (string, error) {
	runDir := filepath.Join(w.dir, summary.AsOf.Format("2006-01-02"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := w.writeJSONL(filepath.Join(runDir, "signals.jsonl"), summary); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, "report.md"), []byte(renderMarkdown(summary)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write markdown report: %w", err)
	}
	log.Info().Str("dir", runDir).Int("signals", summary.Published).Msg("Run artifacts written")
	return runDir, nil
}

// FromSignals rebuilds a run summary from previously published signals so
// artifacts can be regenerated without rerunning the batch. Only signals
// generated on day (UTC) are included, ordered by ticker.
func FromSignals(day time.Time, signals []domain.TradeSignal) pipeline.Summary {
	date := day.UTC().Format("2006-01-02")
	var results []pipeline.TickerResult
	for _, sig := range signals {
		if sig.GeneratedAt.UTC().Format("2006-01-02") != date {
			continue
		}
		results = append(results, pipeline.TickerResult{Ticker: sig.Ticker, Signal: sig})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Ticker < results[j].Ticker })
	return pipeline.Summary{AsOf: day.UTC(), Published: len(results), Results: results}
}

func (w *Writer) writeJSONL(path string, summary pipeline.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create signals file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, res := range summary.Results {
		if res.Failed() {
			continue
		}
		if err := enc.Encode(res.Signal); err != nil {
			return fmt.Errorf("failed to encode signal %s: %w", res.Signal.ID, err)
		}
	}
	return nil
}

func renderMarkdown(summary pipeline.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Recommendations %s\n\n", summary.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&b, "Published %d, failed %d, took %s.\n\n", summary.Published, summary.Failed, summary.Duration.Round(time.Millisecond))
	b.WriteString("| Ticker | Direction | Conf | Entry | Stop | Target | Liquidity |\n")
	b.WriteString("|--------|-----------|------|-------|------|--------|-----------|\n")
	for _, res := range summary.Results {
		if res.Failed() {
			continue
		}
		sig := res.Signal
		warn := ""
		if sig.LiquidityWarning {
			warn = "LOW"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %.2f | %.2f | %.2f | %s |\n",
			sig.Ticker, sig.Direction, sig.Confidence, sig.EntryPrice, sig.StopLoss, sig.TargetPrice, warn)
	}

	b.WriteString("\n## Rationales\n")
	for _, res := range summary.Results {
		if res.Failed() {
			continue
		}
		sig := res.Signal
		fmt.Fprintf(&b, "\n### %s (%s, %d)\n\n%s\n", sig.Ticker, sig.Direction, sig.Confidence, sig.Reasoning)
		for i, c := range sig.Citations {
			fmt.Fprintf(&b, "- [%d] %s (%s, %s)\n", i+1, c.Title, c.Kind, c.CapturedAt.Format("2006-01-02 15:04"))
		}
	}

	if summary.Failed > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, res := range summary.Results {
			if res.Failed() {
				fmt.Fprintf(&b, "- %s at %s: %s\n", res.Ticker, res.Stage, res.Err)
			}
		}
	}
	return b.String()
}
