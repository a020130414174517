// Package config loads the daemon configuration from YAML, layering file
// values over documented defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Quorum      Quorum      `yaml:"quorum"`
	Gate        Gate        `yaml:"gate"`
	Evaluation  Evaluation  `yaml:"evaluation"`
	Drift       Drift       `yaml:"drift"`
	Episodic    Episodic    `yaml:"episodic"`
	Extract     Extract     `yaml:"extract"`
	Optimize    Optimize    `yaml:"optimize"`
	Persistence Persistence `yaml:"persistence"`
	Archive     Archive     `yaml:"archive"`
	Metrics     Metrics     `yaml:"metrics"`
}

// Quorum configures proposal consensus.
type Quorum struct {
	Managers int           `yaml:"managers"`
	MinVotes int           `yaml:"min_votes"`
	Window   time.Duration `yaml:"window"`
}

// Gate configures the pattern promotion thresholds.
type Gate struct {
	MinSampleSize int     `yaml:"min_sample_size"`
	MinSharpe     float64 `yaml:"min_sharpe"`
	MaxDrawdown   float64 `yaml:"max_drawdown"`
}

// Evaluation configures the manager rule thresholds.
type Evaluation struct {
	EmbeddingDim        int     `yaml:"embedding_dim"`
	MinSampleSize       int     `yaml:"min_sample_size"`
	SharpeMin           float64 `yaml:"sharpe_min"`
	SharpeMax           float64 `yaml:"sharpe_max"`
	DrawdownCeiling     float64 `yaml:"drawdown_ceiling"`
	MaxPositionFraction float64 `yaml:"max_position_fraction"`
	MaxStopLossPct      float64 `yaml:"max_stop_loss_pct"`
	MaxLossPerTrade     float64 `yaml:"max_loss_per_trade"`
}

// Drift configures deprecation flagging.
type Drift struct {
	MinLiveTrades int     `yaml:"min_live_trades"`
	Tolerance     float64 `yaml:"tolerance"`
}

// Episodic configures the episode store.
type Episodic struct {
	Driver        string        `yaml:"driver"`
	EmbeddingDim  int           `yaml:"embedding_dim"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Extract configures the extraction engine.
type Extract struct {
	Interval          time.Duration `yaml:"interval"`
	Lookback          time.Duration `yaml:"lookback"`
	MinClusterSize    int           `yaml:"min_cluster_size"`
	MinClusterWinRate float64       `yaml:"min_cluster_win_rate"`
	Seed              int64         `yaml:"seed"`
}

// Optimize configures the optimization engine.
type Optimize struct {
	Interval         time.Duration `yaml:"interval"`
	Lookback         time.Duration `yaml:"lookback"`
	JaccardThreshold float64       `yaml:"jaccard_threshold"`
	MutationStep     float64       `yaml:"mutation_step"`
	TopPatterns      int           `yaml:"top_patterns"`
}

// Persistence selects the library storage backend.
type Persistence struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Archive selects the audit export backend.
type Archive struct {
	Driver    string `yaml:"driver"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Quorum: Quorum{Managers: 3, MinVotes: 3, Window: 2 * time.Second},
		Gate:   Gate{MinSampleSize: 100, MinSharpe: 1.5, MaxDrawdown: 0.10},
		Evaluation: Evaluation{
			EmbeddingDim:        16,
			MinSampleSize:       100,
			SharpeMin:           0.3,
			SharpeMax:           4.0,
			DrawdownCeiling:     0.25,
			MaxPositionFraction: 0.25,
			MaxStopLossPct:      0.10,
			MaxLossPerTrade:     0.50,
		},
		Drift: Drift{MinLiveTrades: 20, Tolerance: 0.7},
		Episodic: Episodic{
			Driver:        "flat",
			EmbeddingDim:  16,
			TTL:           90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Extract: Extract{
			Interval:          time.Hour,
			Lookback:          30 * 24 * time.Hour,
			MinClusterSize:    10,
			MinClusterWinRate: 0.55,
			Seed:              1,
		},
		Optimize: Optimize{
			Interval:         4 * time.Hour,
			Lookback:         30 * 24 * time.Hour,
			JaccardThreshold: 0.5,
			MutationStep:     0.10,
			TopPatterns:      5,
		},
		Persistence: Persistence{Driver: "sqlite", SQLitePath: "patterncore.db"},
		Archive:     Archive{Driver: "fs", Root: "./archivedata"},
		Metrics:     Metrics{Enabled: true, Addr: ":9190"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a functioning quorum.
func (c Config) Validate() error {
	if c.Quorum.MinVotes < 3 {
		return fmt.Errorf("quorum.min_votes must be at least 3, got %d", c.Quorum.MinVotes)
	}
	if c.Quorum.Managers < c.Quorum.MinVotes {
		return fmt.Errorf("quorum.managers %d below quorum.min_votes %d", c.Quorum.Managers, c.Quorum.MinVotes)
	}
	if c.Quorum.Window <= 0 {
		return fmt.Errorf("quorum.window must be positive")
	}
	if c.Episodic.EmbeddingDim <= 0 {
		return fmt.Errorf("episodic.embedding_dim must be positive")
	}
	return nil
}
