package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Config is the complete application configuration. One YAML file drives
// every subsystem; each batch run is otherwise parameterized only by an
// explicit as-of timestamp.
type Config struct {
	Universe   []domain.Ticker  `yaml:"universe"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Capability CapabilityConfig `yaml:"capability"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Explain    ExplainConfig    `yaml:"explain"`
	Market     MarketConfig     `yaml:"market"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PipelineConfig controls the daily batch run.
type PipelineConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	EvidenceWindow  time.Duration `yaml:"evidence_window"`
	MinRelevance    float64       `yaml:"min_relevance"`
	LiquidityFloor  float64       `yaml:"liquidity_floor"`
	CapabilityRPS   float64       `yaml:"capability_rps"`
	CapabilityBurst int           `yaml:"capability_burst"`
}

// IngestConfig controls the ingestion workers.
type IngestConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// CapabilityConfig points at the model-serving gateway. An empty
// GatewayURL selects the offline deterministic client.
type CapabilityConfig struct {
	GatewayURL  string        `yaml:"gateway_url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// EnsembleConfig holds fusion thresholds. BuyThreshold and SellThreshold
// bound the HOLD band; the combined score scaled to [0,100] becomes the
// signal confidence.
type EnsembleConfig struct {
	BuyThreshold  float64 `yaml:"buy_threshold"`
	SellThreshold float64 `yaml:"sell_threshold"`
}

// ExplainConfig controls evidence retrieval and rationale generation.
type ExplainConfig struct {
	TopK            int           `yaml:"top_k"`
	RecencyHalflife time.Duration `yaml:"recency_halflife"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// MarketConfig controls the market data layer.
type MarketConfig struct {
	FeedURL        string        `yaml:"feed_url"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	RedisAddr      string        `yaml:"redis_addr"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`
	MinHistoryBars int           `yaml:"min_history_bars"`
}

// StorageConfig controls Postgres persistence.
type StorageConfig struct {
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// HTTPConfig controls the read-only presentation API.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration, including the seven-ticker
// IDX default universe.
func Default() *Config {
	return &Config{
		Universe: []domain.Ticker{
			{Code: "BBCA", Name: "Bank Central Asia Tbk", Sector: "Finance"},
			{Code: "BBRI", Name: "Bank Rakyat Indonesia", Sector: "Finance"},
			{Code: "TLKM", Name: "Telkom Indonesia", Sector: "Infra"},
			{Code: "ASII", Name: "Astra International", Sector: "Consumer"},
			{Code: "GOTO", Name: "GoTo Gojek Tokopedia", Sector: "Tech"},
			{Code: "AMMN", Name: "Amman Mineral", Sector: "Energy"},
			{Code: "BRPT", Name: "Barito Pacific", Sector: "Energy"},
		},
		Pipeline: PipelineConfig{
			Concurrency:     4,
			EvidenceWindow:  48 * time.Hour,
			MinRelevance:    0.3,
			LiquidityFloor:  10_000_000,
			CapabilityRPS:   5,
			CapabilityBurst: 10,
		},
		Ingest: IngestConfig{
			Workers:        4,
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     2 * time.Minute,
			ChunkSize:      800,
			ChunkOverlap:   100,
			CallTimeout:    30 * time.Second,
		},
		Capability: CapabilityConfig{
			CallTimeout: 30 * time.Second,
		},
		Ensemble: EnsembleConfig{
			BuyThreshold:  0.70,
			SellThreshold: 0.30,
		},
		Explain: ExplainConfig{
			TopK:            5,
			RecencyHalflife: 24 * time.Hour,
			CallTimeout:     30 * time.Second,
		},
		Market: MarketConfig{
			StaleAfter:     15 * time.Minute,
			SnapshotTTL:    time.Minute,
			MinHistoryBars: 15,
		},
		Storage: StorageConfig{
			QueryTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("universe", len(cfg.Universe)).Msg("Loaded configuration")
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe must contain at least one ticker")
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1")
	}
	if c.Pipeline.MinRelevance < 0 || c.Pipeline.MinRelevance > 1 {
		return fmt.Errorf("pipeline.min_relevance must be in [0,1]")
	}
	if c.Pipeline.LiquidityFloor < 0 {
		return fmt.Errorf("pipeline.liquidity_floor must not be negative")
	}
	if c.Ingest.MaxAttempts < 1 {
		return fmt.Errorf("ingest.max_attempts must be at least 1")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	if c.Ensemble.BuyThreshold <= c.Ensemble.SellThreshold {
		return fmt.Errorf("ensemble.buy_threshold must exceed ensemble.sell_threshold")
	}
	if c.Ensemble.BuyThreshold > 1 || c.Ensemble.SellThreshold < 0 {
		return fmt.Errorf("ensemble thresholds must lie in [0,1]")
	}
	if c.Explain.TopK < 1 {
		return fmt.Errorf("explain.top_k must be at least 1")
	}
	if c.Explain.RecencyHalflife <= 0 {
		return fmt.Errorf("explain.recency_halflife must be positive")
	}
	if c.Market.MinHistoryBars < 2 {
		return fmt.Errorf("market.min_history_bars must be at least 2")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
