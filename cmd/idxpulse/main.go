package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/idxquant/idxpulse/internal/backtest"
	"github.com/idxquant/idxpulse/internal/capability"
	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/ensemble"
	"github.com/idxquant/idxpulse/internal/explain"
	"github.com/idxquant/idxpulse/internal/features"
	"github.com/idxquant/idxpulse/internal/ingest"
	httpapi "github.com/idxquant/idxpulse/internal/interfaces/http"
	"github.com/idxquant/idxpulse/internal/marketdata"
	"github.com/idxquant/idxpulse/internal/metrics"
	"github.com/idxquant/idxpulse/internal/pipeline"
	"github.com/idxquant/idxpulse/internal/report"
	"github.com/idxquant/idxpulse/internal/review"
	"github.com/idxquant/idxpulse/internal/store"
)

const (
	appName = "idxpulse"
	version = "v1.2.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily IDX stock recommendation pipeline",
		Version: version,
		Long: `idxpulse ingests multimodal market evidence, scores the IDX universe
with a model ensemble, and publishes explained daily trade signals.`,
	}
	bindRootFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newReportCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func bindRootFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configPath, "config", "", "Path to YAML config file")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one batch run over the universe",
		Long:  "Builds features, scores the ensemble, generates rationales, and publishes signals for every ticker as of the given timestamp.",
		RunE:  runBatch,
	}
	cmd.Flags().String("as-of", "", "Run timestamp (RFC3339, default now)")
	cmd.Flags().String("bars", "", "JSON file of bar history keyed by ticker")
	cmd.Flags().String("artifacts", "artifacts", "Directory for run reports")
	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)

	asOf := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		asOf, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	if barsPath, _ := cmd.Flags().GetString("bars"); barsPath != "" {
		if err := seedBars(app.feed, barsPath); err != nil {
			return err
		}
	}

	summary, err := app.runner.Run(cmd.Context(), asOf)
	if err != nil {
		return err
	}

	artifactsDir, _ := cmd.Flags().GetString("artifacts")
	runDir, err := report.NewWriter(artifactsDir).WriteRun(summary)
	if err != nil {
		return err
	}
	fmt.Printf("Published %d signals (%d failed), report in %s\n", summary.Published, summary.Failed, runDir)
	return nil
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest source material into the evidence store",
		Long:  "Reads source descriptors from a JSON file and ingests each one synchronously.",
		RunE:  runIngest,
	}
	cmd.Flags().String("sources", "", "JSON file with an array of source descriptors")
	_ = cmd.MarkFlagRequired("sources")
	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("sources")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sources file: %w", err)
	}
	var descriptors []ingest.SourceDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return fmt.Errorf("failed to parse sources file: %w", err)
	}

	indexed, failed := 0, 0
	for _, desc := range descriptors {
		docs, err := app.ingest.Ingest(cmd.Context(), desc)
		if err != nil {
			failed++
			log.Error().Str("source", desc.SourceID).Err(err).Msg("Source failed")
			continue
		}
		indexed += len(docs)
	}
	fmt.Printf("Ingested %d chunks from %d sources (%d failed)\n", indexed, len(descriptors)-failed, failed)
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, market feed consumer, and ingestion workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	server, err := httpapi.NewServer(cfg.HTTP, app.store, app.reviewer, app.ingest.Arena(), app.reg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go app.ingest.Run(ctx)
	if cfg.Market.FeedURL != "" {
		consumer := marketdata.NewStreamConsumer(cfg.Market.FeedURL, app.feed)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Market feed consumer stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Active learning loop commands",
	}

	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Show the signal the ensemble is least sure about",
		RunE:  runReviewNext,
	}
	nextCmd.Flags().Int("limit", 100, "How many recent signals to consider")

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver undelivered feedback to the retraining outbox",
		RunE:  runReviewDrain,
	}
	drainCmd.Flags().Int("batch", 100, "Maximum records per drain")
	drainCmd.Flags().String("outbox", "retraining-outbox.jsonl", "JSONL file the training job consumes")

	cmd.AddCommand(nextCmd)
	cmd.AddCommand(drainCmd)
	return cmd
}

func runReviewNext(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	sig, uncertainty, ok, err := app.reviewer.NextCandidate(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing left to review")
		return nil
	}
	fmt.Printf("%s  %s  confidence=%d  uncertainty=%.3f\n%s\n", sig.ID, sig.Direction, sig.Confidence, uncertainty, sig.Reasoning)
	return nil
}

func runReviewDrain(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	batch, _ := cmd.Flags().GetInt("batch")
	outbox, _ := cmd.Flags().GetString("outbox")
	delivered, err := app.reviewer.DrainRetrainingQueue(cmd.Context(), batch, fileDeliverer(outbox))
	if err != nil {
		return err
	}
	fmt.Printf("Delivered %d feedback records to %s\n", delivered, outbox)
	return nil
}

// fileDeliverer appends feedback records as JSONL for the training job.
// The training job deduplicates on each record's idempotency key, so a
// redelivered batch is harmless.
func fileDeliverer(path string) review.Deliverer {
	return func(_ context.Context, records []domain.FeedbackRecord) error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild run artifacts from stored signals for one date",
		RunE:  runReport,
	}
	cmd.Flags().String("date", "", "Run date (YYYY-MM-DD, default today)")
	cmd.Flags().Int("limit", 500, "How many recent signals to scan")
	cmd.Flags().String("artifacts", "artifacts", "Directory for run reports")
	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	day := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}
	limit, _ := cmd.Flags().GetInt("limit")
	signals, err := app.store.ListSignals(cmd.Context(), limit)
	if err != nil {
		return err
	}

	summary := report.FromSignals(day, signals)
	if summary.Published == 0 {
		fmt.Printf("No signals stored for %s\n", day.Format("2006-01-02"))
		return nil
	}
	artifactsDir, _ := cmd.Flags().GetString("artifacts")
	runDir, err := report.NewWriter(artifactsDir).WriteRun(summary)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt report for %d signals in %s\n", summary.Published, runDir)
	return nil
}

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay published signals against recorded intraday bars",
		RunE:  runBacktest,
	}
	cmd.Flags().String("bars", "", "JSON file of bar history keyed by ticker")
	cmd.Flags().Int("limit", 100, "How many recent signals to replay")
	cmd.Flags().Float64("capital", 100_000_000, "Capital per position in IDR")
	_ = cmd.MarkFlagRequired("bars")
	return cmd
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg)
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	barsPath, _ := cmd.Flags().GetString("bars")
	barsByTicker, err := loadBars(barsPath)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	signals, err := app.store.ListSignals(cmd.Context(), limit)
	if err != nil {
		return err
	}

	simCfg := backtest.DefaultConfig()
	if capital, _ := cmd.Flags().GetFloat64("capital"); capital > 0 {
		simCfg.Capital = capital
	}
	result := backtest.NewSimulator(simCfg).Run(signals, barsByTicker)
	outcomes, hitRate := backtest.HitRate(signals, barsByTicker, backtest.DefaultHorizon)
	recorded, err := app.reviewer.RecordOutcomes(cmd.Context(), outcomes)
	if err != nil {
		return err
	}

	fmt.Printf("Trades %d (skipped %d)  wins %d  losses %d  win rate %.1f%%  net PnL %.0f\n",
		len(result.Trades), result.Skipped, result.Wins, result.Losses, result.WinRate*100, result.NetPnL)
	fmt.Printf("Directional hit rate at %s horizon: %.1f%%\n", backtest.DefaultHorizon, hitRate*100)
	fmt.Printf("Queued %d outcome labels for retraining\n", recorded)
	return nil
}

// app bundles the wired subsystems shared by the subcommands.
type app struct {
	store    store.Store
	caps     capability.Client
	feed     *marketdata.Feed
	ingest   *ingest.Pipeline
	reviewer *review.Reviewer
	runner   *pipeline.Runner
	reg      *metrics.Registry
}

func buildApp(cfg *config.Config) (*app, error) {
	reg := metrics.NewRegistry()

	var st store.Store
	if cfg.Storage.DSN != "" {
		pg, err := store.NewPostgres(cfg.Storage.DSN, cfg.Storage.QueryTimeout)
		if err != nil {
			return nil, err
		}
		st = pg
	} else {
		log.Warn().Msg("No storage DSN configured, using in-memory store")
		st = store.NewMemory()
	}

	var caps capability.Client
	if cfg.Capability.GatewayURL != "" {
		caps = capability.NewHTTPClient(capability.HTTPConfig{
			BaseURL:     cfg.Capability.GatewayURL,
			CallTimeout: cfg.Capability.CallTimeout,
			RPS:         cfg.Pipeline.CapabilityRPS,
			Burst:       cfg.Pipeline.CapabilityBurst,
			Metrics:     reg,
		})
	} else {
		log.Warn().Msg("No capability gateway configured, using offline client")
		caps = capability.NewOffline()
	}

	cache := marketdata.NewCache(cfg.Market.RedisAddr, cfg.Market.SnapshotTTL)
	feed := marketdata.NewFeed(cache, cfg.Market.StaleAfter)

	builderCfg := features.DefaultBuilderConfig()
	builderCfg.EvidenceWindow = cfg.Pipeline.EvidenceWindow
	builderCfg.MinRelevance = cfg.Pipeline.MinRelevance
	builderCfg.RecencyHalflife = cfg.Explain.RecencyHalflife
	builderCfg.MinHistoryBars = cfg.Market.MinHistoryBars
	builder := features.NewBuilder(feed, st, builderCfg)

	thresholds := ensemble.Thresholds{Buy: cfg.Ensemble.BuyThreshold, Sell: cfg.Ensemble.SellThreshold}
	predictor := ensemble.NewDefaultPredictor(thresholds)
	explainer := explain.NewExplainer(caps, st, cfg.Pipeline.EvidenceWindow, cfg.Explain)
	reviewer := review.NewReviewer(st, reg)
	runner := pipeline.NewRunner(cfg, builder, predictor, explainer, st, reg)
	ingestPipeline := ingest.NewPipeline(caps, st, reg, cfg.Ingest)

	return &app{
		store:    st,
		caps:     caps,
		feed:     feed,
		ingest:   ingestPipeline,
		reviewer: reviewer,
		runner:   runner,
		reg:      reg,
	}, nil
}

func applyLogLevel(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func seedBars(feed *marketdata.Feed, path string) error {
	barsByTicker, err := loadBars(path)
	if err != nil {
		return err
	}
	for ticker, bars := range barsByTicker {
		feed.Seed(ticker, bars)
	}
	log.Info().Int("tickers", len(barsByTicker)).Str("path", path).Msg("Bar history seeded")
	return nil
}

func loadBars(path string) (map[string][]domain.Bar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars file: %w", err)
	}
	var barsByTicker map[string][]domain.Bar
	if err := json.Unmarshal(raw, &barsByTicker); err != nil {
		return nil, fmt.Errorf("failed to parse bars file: %w", err)
	}
	return barsByTicker, nil
}
