// Package core provides the main MemTier engine and retention management functionality.
package core

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// weightSumTolerance is the permitted float error when checking that the
// four signal weights sum to 1.0. There is no silent renormalization.
const weightSumTolerance = 1e-9

// Config contains the complete configuration for a MemTier engine.
//
// All values are supplied at construction and are not runtime-mutable.
// Construction fails with ErrInvalidConfig if weights do not sum to 1.0
// or any threshold is out of range.
//
// Example:
//
//	config := &core.Config{
//	    Weights: core.DefaultWeights(),
//	    Forgetting: core.DefaultForgettingConfig(),
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memtier.db",
//	        },
//	    },
//	}
type Config struct {
	// Weights are the composite-score signal weights. Must sum to 1.0.
	Weights Weights `json:"weights"`

	// Signals configures signal derivation.
	Signals SignalConfig `json:"signals"`

	// Forgetting configures the forgetting-curve model.
	Forgetting ForgettingConfig `json:"forgetting"`

	// Tiers configures the tier state machine thresholds.
	Tiers TierConfig `json:"tiers"`

	// Sweep configures the periodic batch sweep.
	Sweep SweepConfig `json:"sweep"`

	// Store contains item store configuration.
	Store StoreConfig `json:"store"`

	// Compressor contains the LLM compressor configuration (optional).
	// When nil, compression transitions record the level change without
	// rewriting the stored rendition.
	Compressor *CompressorConfig `json:"compressor,omitempty"`

	// EmbeddingDims is the expected embedding dimensionality. Items whose
	// vectors disagree are excluded from evaluation as corrupt. 0 disables
	// the check.
	EmbeddingDims int `json:"embedding_dims,omitempty"`
}

// Weights are the per-signal weights of the composite score.
//
// The four weights must sum to exactly 1.0 (within float tolerance);
// invalid weights are a fatal construction error, never renormalized.
type Weights struct {
	// RetentionValue weights the access-frequency signal. Default 0.35.
	RetentionValue float64 `json:"retention_value"`

	// Uniqueness weights the embedding-uniqueness signal. Default 0.25.
	Uniqueness float64 `json:"uniqueness"`

	// Confidence weights the source-reliability signal. Default 0.20.
	Confidence float64 `json:"confidence"`

	// AccessRecency weights the recency-decay signal. Default 0.20.
	AccessRecency float64 `json:"access_recency"`
}

// DefaultWeights returns the default composite-score weights.
func DefaultWeights() Weights {
	return Weights{
		RetentionValue: 0.35,
		Uniqueness:     0.25,
		Confidence:     0.20,
		AccessRecency:  0.20,
	}
}

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.RetentionValue + w.Uniqueness + w.Confidence + w.AccessRecency
}

// SignalConfig configures the SignalCalculator.
type SignalConfig struct {
	// WindowDays is the access-frequency window in days. Default 30.
	WindowDays float64 `json:"window_days"`

	// FrequencyDecay is the per-access decay weight exponent applied as
	// exp(-FrequencyDecay * age_days). Default 0.05.
	FrequencyDecay float64 `json:"frequency_decay"`

	// Saturation is the weighted-access total mapping to a retention_value
	// of 1.0. Default 20.
	Saturation float64 `json:"saturation"`

	// TopK is the number of most similar neighbor embeddings used by the
	// uniqueness signal. Default 5.
	TopK int `json:"top_k"`

	// RecencyLambda is the decay constant of the access_recency signal.
	// Default 0.1.
	RecencyLambda float64 `json:"recency_lambda"`

	// ReinforcementBoost is the per-reinforcement multiplier added to the
	// access_recency signal. Default 0.1.
	ReinforcementBoost float64 `json:"reinforcement_boost"`
}

// DefaultSignalConfig returns the default signal derivation settings.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		WindowDays:         30,
		FrequencyDecay:     0.05,
		Saturation:         20,
		TopK:               5,
		RecencyLambda:      0.1,
		ReinforcementBoost: 0.1,
	}
}

// ForgettingConfig configures the forgetting-curve model.
type ForgettingConfig struct {
	// BaseStrengthDays is the memory strength of an unreinforced item,
	// in days. Default 7.
	BaseStrengthDays float64 `json:"base_strength_days"`

	// StrengthIncrement is the fractional strength growth per
	// reinforcement. Default 0.5.
	StrengthIncrement float64 `json:"strength_increment"`

	// ReinforceThreshold is the retention probability below which an item
	// is flagged for reinforcement. Default 0.5.
	ReinforceThreshold float64 `json:"reinforce_threshold"`
}

// DefaultForgettingConfig returns the default forgetting-curve settings.
func DefaultForgettingConfig() ForgettingConfig {
	return ForgettingConfig{
		BaseStrengthDays:   7,
		StrengthIncrement:  0.5,
		ReinforceThreshold: 0.5,
	}
}

// TierConfig configures the tier state machine thresholds.
//
// The defaults encode the documented transition table. HotToWarmMinScore
// exists for strict-compat tuning of the HOT demotion split.
type TierConfig struct {
	// HotMaxAge is how long an item may stay HOT without re-qualifying.
	// Default 24h.
	HotMaxAge time.Duration `json:"hot_max_age"`

	// HotStayMinScore is the score needed to stay HOT inside HotMaxAge.
	// Default 0.6.
	HotStayMinScore float64 `json:"hot_stay_min_score"`

	// HotToWarmMinScore is the score at which a demoted HOT item lands in
	// WARM instead of COLD. Default 0.6.
	HotToWarmMinScore float64 `json:"hot_to_warm_min_score"`

	// WarmPromoteScore promotes WARM to HOT. Default 0.75.
	WarmPromoteScore float64 `json:"warm_promote_score"`

	// WarmPromoteAccesses promotes WARM to HOT at this many accesses in
	// the recent-burst window. Default 3.
	WarmPromoteAccesses int `json:"warm_promote_accesses"`

	// BurstWindow is the recent-access window for WARM promotion.
	// Default 4h.
	BurstWindow time.Duration `json:"burst_window"`

	// WarmMaxAge is how long an item may stay WARM. Default 7d.
	WarmMaxAge time.Duration `json:"warm_max_age"`

	// WarmStayMinScore is the score needed to stay WARM. Default 0.3.
	WarmStayMinScore float64 `json:"warm_stay_min_score"`

	// ArchiveMinScore qualifies an item for ARCHIVE. Default 0.8.
	ArchiveMinScore float64 `json:"archive_min_score"`

	// ArchiveMinAccesses qualifies an item for ARCHIVE. Default 5.
	ArchiveMinAccesses int `json:"archive_min_accesses"`

	// DeleteMinAge gates COLD deletion. Default 30d.
	DeleteMinAge time.Duration `json:"delete_min_age"`

	// DeleteMaxScore gates COLD deletion. Default 0.1.
	DeleteMaxScore float64 `json:"delete_max_score"`

	// IngestHotScore is the initial score at or above which a new item
	// starts HOT rather than WARM. Default 0.6.
	IngestHotScore float64 `json:"ingest_hot_score"`
}

// DefaultTierConfig returns the default tier thresholds.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		HotMaxAge:           24 * time.Hour,
		HotStayMinScore:     0.6,
		HotToWarmMinScore:   0.6,
		WarmPromoteScore:    0.75,
		WarmPromoteAccesses: 3,
		BurstWindow:         4 * time.Hour,
		WarmMaxAge:          7 * 24 * time.Hour,
		WarmStayMinScore:    0.3,
		ArchiveMinScore:     0.8,
		ArchiveMinAccesses:  5,
		DeleteMinAge:        30 * 24 * time.Hour,
		DeleteMaxScore:      0.1,
		IngestHotScore:      0.6,
	}
}

// SweepConfig configures the periodic batch sweep.
type SweepConfig struct {
	// Schedule is a cron expression for sweep runs. Default "@hourly".
	Schedule string `json:"schedule"`

	// Workers is the number of parallel partition workers. Default 4.
	Workers int `json:"workers"`

	// BatchSize is the page size of the id-ordered scan. Default 200.
	BatchSize int `json:"batch_size"`

	// MaxRetries caps per-item CAS retry attempts. Default 3.
	MaxRetries int `json:"max_retries"`

	// InitialBackoff is the first retry delay. Default 50ms.
	InitialBackoff time.Duration `json:"initial_backoff"`

	// MaxBackoff caps the exponential retry delay. Default 2s.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// DefaultSweepConfig returns the default sweep settings.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Schedule:       "@hourly",
		Workers:        4,
		BatchSize:      200,
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// StoreConfig contains configuration for the item store.
//
// Supported providers: sqlite, postgres, mysql
//
// Example:
//
//	storeConfig := core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path": "./memtier.db",
//	    },
//	}
type StoreConfig struct {
	// Provider is the item store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	// For MySQL: host, port, user, password, db_name
	Config map[string]interface{} `json:"config"`
}

// CompressorConfig contains configuration for the LLM-backed compressor.
type CompressorConfig struct {
	// Provider is the compressor provider name. Currently "openai".
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the chat model used for summarization.
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// DefaultConfig returns a Config with all defaults and a local SQLite store.
func DefaultConfig() *Config {
	return &Config{
		Weights:    DefaultWeights(),
		Signals:    DefaultSignalConfig(),
		Forgetting: DefaultForgettingConfig(),
		Tiers:      DefaultTierConfig(),
		Sweep:      DefaultSweepConfig(),
		Store: StoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path": "./memtier.db",
			},
		},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - COMPRESSOR_PROVIDER, COMPRESSOR_API_KEY, COMPRESSOR_MODEL, COMPRESSOR_BASE_URL
//   - SWEEP_SCHEDULE, SWEEP_WORKERS
//   - EMBEDDING_DIMS
//
// Scoring, forgetting and tier thresholds always start from their defaults;
// they are construction-time policy, not deployment toggles.
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	storeConfig := make(map[string]interface{})

	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "memtier"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "memtier"),
		}
	default:
		provider = "sqlite"
		storeConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./memtier.db"),
		}
	}

	config.Store = StoreConfig{
		Provider: provider,
		Config:   storeConfig,
	}

	if apiKey := os.Getenv("COMPRESSOR_API_KEY"); apiKey != "" {
		config.Compressor = &CompressorConfig{
			Provider: getEnvOrDefault("COMPRESSOR_PROVIDER", "openai"),
			APIKey:   apiKey,
			Model:    getEnvOrDefault("COMPRESSOR_MODEL", "gpt-4o-mini"),
			BaseURL:  os.Getenv("COMPRESSOR_BASE_URL"),
		}
	}

	if schedule := os.Getenv("SWEEP_SCHEDULE"); schedule != "" {
		config.Sweep.Schedule = schedule
	}
	if workers, err := strconv.Atoi(os.Getenv("SWEEP_WORKERS")); err == nil && workers > 0 {
		config.Sweep.Workers = workers
	}
	if dims, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMS")); err == nil && dims > 0 {
		config.EmbeddingDims = dims
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Absent sections fall back to their defaults, so a file may override only
// the store block or only the weights.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRetentionError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewRetentionError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// Validate validates the configuration.
//
// Checks:
//   - the four signal weights sum to 1.0 (no silent renormalization)
//   - all weights and thresholds lie in [0,1] where required
//   - forgetting-model strength parameters are positive
//   - sweep worker/batch/retry settings are positive
//   - a store provider is specified
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	w := c.Weights
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: signal weights sum to %v, want 1.0", ErrInvalidConfig, w.Sum()))
	}
	for name, v := range map[string]float64{
		"retention_value": w.RetentionValue,
		"uniqueness":      w.Uniqueness,
		"confidence":      w.Confidence,
		"access_recency":  w.AccessRecency,
	} {
		if v < 0 || v > 1 {
			return NewRetentionError("Validate",
				fmt.Errorf("%w: weight %s=%v out of [0,1]", ErrInvalidConfig, name, v))
		}
	}

	if c.Signals.Saturation <= 0 || c.Signals.WindowDays <= 0 ||
		c.Signals.RecencyLambda <= 0 || c.Signals.TopK <= 0 {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: signal parameters must be positive", ErrInvalidConfig))
	}

	if c.Forgetting.BaseStrengthDays <= 0 || c.Forgetting.StrengthIncrement < 0 {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: forgetting parameters out of range", ErrInvalidConfig))
	}
	if c.Forgetting.ReinforceThreshold < 0 || c.Forgetting.ReinforceThreshold > 1 {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: reinforce threshold out of [0,1]", ErrInvalidConfig))
	}

	for name, v := range map[string]float64{
		"hot_stay_min_score":    c.Tiers.HotStayMinScore,
		"hot_to_warm_min_score": c.Tiers.HotToWarmMinScore,
		"warm_promote_score":    c.Tiers.WarmPromoteScore,
		"warm_stay_min_score":   c.Tiers.WarmStayMinScore,
		"archive_min_score":     c.Tiers.ArchiveMinScore,
		"delete_max_score":      c.Tiers.DeleteMaxScore,
		"ingest_hot_score":      c.Tiers.IngestHotScore,
	} {
		if v < 0 || v > 1 {
			return NewRetentionError("Validate",
				fmt.Errorf("%w: threshold %s=%v out of [0,1]", ErrInvalidConfig, name, v))
		}
	}
	if c.Tiers.HotMaxAge <= 0 || c.Tiers.WarmMaxAge <= 0 ||
		c.Tiers.BurstWindow <= 0 || c.Tiers.DeleteMinAge <= 0 {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: tier age windows must be positive", ErrInvalidConfig))
	}

	if c.Sweep.Workers <= 0 || c.Sweep.BatchSize <= 0 || c.Sweep.MaxRetries < 0 {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: sweep parameters out of range", ErrInvalidConfig))
	}

	if c.Store.Provider == "" {
		return NewRetentionError("Validate",
			fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	}

	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
