// Package config loads and validates the recognized options for this
// service from a YAML file, with environment-variable overrides for
// values that should not live in a checked-in file (credentials, key
// paths).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LedgerConfig controls C1.
type LedgerConfig struct {
	DifficultyHexZeros int    `yaml:"difficulty_hex_zeros"`
	Path               string `yaml:"path"`
	MaxMiningAttempts  uint64 `yaml:"max_mining_attempts"`
}

// AdapterConfig controls the uniform C3 contract. RateLimitPerSecond is
// keyed by adapter name (assess_quality, reconstruct, verify_answer_key,
// solve_question).
type AdapterConfig struct {
	TimeoutSeconds        int               `yaml:"timeout_seconds"`
	MaxAttempts           int               `yaml:"max_attempts"`
	TotalBudgetSeconds    int               `yaml:"total_budget_seconds"`
	RateLimitPerSecond    map[string]int    `yaml:"rate_limit_per_second"`
	CircuitFailureRatio   float64           `yaml:"circuit_failure_ratio"`
	CircuitResetSeconds   int               `yaml:"circuit_reset_seconds"`
	DefaultRateLimitValue int               `yaml:"default_rate_limit_per_second"`
	BaseURLs              map[string]string `yaml:"base_urls"`
}

func (a AdapterConfig) RateLimitFor(adapter string) int {
	if v, ok := a.RateLimitPerSecond[adapter]; ok {
		return v
	}
	if a.DefaultRateLimitValue > 0 {
		return a.DefaultRateLimitValue
	}
	return 10
}

// BaseURLFor returns the configured endpoint for adapter, keyed the
// same way as RateLimitFor (assess_quality, reconstruct,
// verify_answer_key, solve_question).
func (a AdapterConfig) BaseURLFor(adapter string) string {
	return a.BaseURLs[adapter]
}

// OrchestratorConfig controls C6.
type OrchestratorConfig struct {
	Workers              int    `yaml:"workers"`
	SheetDeadlineSeconds int    `yaml:"sheet_deadline_seconds"`
	AISolvePolicy        string `yaml:"ai_solve_policy"` // "always" | "disputed_only"
	QueueCapacity        int    `yaml:"queue_capacity"`
}

// ReconciliationConfig controls C4.
type ReconciliationConfig struct {
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// ScoringConfig controls the scoring step driven by C4's output.
type ScoringConfig struct {
	MarksTallyTolerance float64 `yaml:"marks_tally_tolerance"`
}

// QualityConfig controls the proceed/reconstruct/reject decision
// thresholds (an Open Question in spec.md, resolved as a config knob).
type QualityConfig struct {
	ProceedMinScore float64 `yaml:"proceed_min_score"`
	RejectMaxScore  float64 `yaml:"reject_max_score"`
}

// SignersConfig points at the signer-kind -> public-key registry.
type SignersConfig struct {
	RegistryPath string `yaml:"registry_path"`
}

// ImagesConfig controls the content-addressed blob store backing
// pkg/images.FSStore.
type ImagesConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// ServerConfig controls the HTTP surface (C7).
type ServerConfig struct {
	Port           string `yaml:"port"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DatabaseConfig mirrors internal/database.Config's YAML surface so a
// single config file can drive both.
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// RedisConfig controls the optional read-through stage cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// LoggingConfig controls zap construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "console"
}

// MetricsConfig controls the standalone Prometheus scrape listener,
// kept off the C7 API port so a scraper never shares a CORS policy or
// request log with the public pipeline surface.
type MetricsConfig struct {
	Port string `yaml:"port"`
}

// Config is the root configuration document.
type Config struct {
	Server          ServerConfig         `yaml:"server"`
	Database        DatabaseConfig       `yaml:"database"`
	Redis           RedisConfig          `yaml:"redis"`
	Ledger          LedgerConfig         `yaml:"ledger"`
	Adapter         AdapterConfig        `yaml:"adapter"`
	Orchestrator    OrchestratorConfig   `yaml:"orchestrator"`
	Reconciliation  ReconciliationConfig `yaml:"reconciliation"`
	Scoring         ScoringConfig        `yaml:"scoring"`
	Quality         QualityConfig        `yaml:"quality"`
	Signers         SignersConfig        `yaml:"signers"`
	Images          ImagesConfig         `yaml:"images"`
	Logging         LoggingConfig        `yaml:"logging"`
	Metrics         MetricsConfig        `yaml:"metrics"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Database: DatabaseConfig{
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Ledger: LedgerConfig{
			DifficultyHexZeros: 0,
			MaxMiningAttempts:  10_000_000,
		},
		Adapter: AdapterConfig{
			TimeoutSeconds:        30,
			MaxAttempts:           3,
			TotalBudgetSeconds:    90,
			CircuitFailureRatio:   0.5,
			CircuitResetSeconds:   60,
			DefaultRateLimitValue: 10,
		},
		Orchestrator: OrchestratorConfig{
			Workers:              4,
			SheetDeadlineSeconds: 600,
			AISolvePolicy:        "always",
			QueueCapacity:        1024,
		},
		Reconciliation: ReconciliationConfig{
			LowConfidenceThreshold: 0.7,
		},
		Scoring: ScoringConfig{
			MarksTallyTolerance: 0.01,
		},
		Quality: QualityConfig{
			ProceedMinScore: 0.85,
			RejectMaxScore:  0.4,
		},
		Images: ImagesConfig{
			BaseDir: "./data/images",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: "9090",
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv overlays secrets and deployment-specific values that
// should not live in a checked-in config file.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("OMR_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("OMR_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("OMR_SIGNERS_REGISTRY_PATH"); v != "" {
		c.Signers.RegistryPath = v
	}
	if v := os.Getenv("OMR_LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
}

// Validate rejects an incomplete configuration before the server binds
// a port or the ledger opens its file.
func (c *Config) Validate() error {
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Ledger.DifficultyHexZeros < 0 {
		return fmt.Errorf("ledger.difficulty_hex_zeros must be non-negative")
	}
	if c.Signers.RegistryPath == "" {
		return fmt.Errorf("signers.registry_path is required")
	}
	if c.Adapter.MaxAttempts <= 0 {
		return fmt.Errorf("adapter.max_attempts must be greater than 0")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be greater than 0")
	}
	if c.Orchestrator.AISolvePolicy != "always" && c.Orchestrator.AISolvePolicy != "disputed_only" {
		return fmt.Errorf("orchestrator.ai_solve_policy must be 'always' or 'disputed_only'")
	}
	if c.Reconciliation.LowConfidenceThreshold < 0 || c.Reconciliation.LowConfidenceThreshold > 1 {
		return fmt.Errorf("reconciliation.low_confidence_threshold must be in [0,1]")
	}
	if c.Scoring.MarksTallyTolerance < 0 {
		return fmt.Errorf("scoring.marks_tally_tolerance must be non-negative")
	}
	return nil
}

// AdapterTimeout returns the configured per-request adapter timeout.
func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Adapter.TimeoutSeconds) * time.Second
}

// AdapterBudget returns the configured total retry budget.
func (c *Config) AdapterBudget() time.Duration {
	return time.Duration(c.Adapter.TotalBudgetSeconds) * time.Second
}

// SheetDeadline returns the global per-sheet deadline.
func (c *Config) SheetDeadline() time.Duration {
	return time.Duration(c.Orchestrator.SheetDeadlineSeconds) * time.Second
}
