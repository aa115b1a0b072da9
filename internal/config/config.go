// Package config provides centralized configuration management for the
// story-formation engine using Viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the main configuration structure
type Config struct {
	App        App        `mapstructure:"app"`
	Database   Database   `mapstructure:"database"`
	AI         AI         `mapstructure:"ai"`
	Fetch      Fetch      `mapstructure:"fetch"`
	Scoring    Scoring    `mapstructure:"scoring"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Stories    Stories    `mapstructure:"stories"`
	Downstream Downstream `mapstructure:"downstream"`
	Rules      Rules      `mapstructure:"rules"`
}

// App contains application-wide settings
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	ConfigFile string `mapstructure:"config_file"`
}

// Database contains PostgreSQL connection settings
type Database struct {
	URL             string `mapstructure:"url"` // Full DSN; overrides the discrete fields when set
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

// ConnectionString builds a lib/pq DSN from the configured parts.
func (d Database) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// AI contains AI service configurations
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig contains Gemini-specific settings
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Timeout        string  `mapstructure:"timeout"`
	MaxTokens      int32   `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
}

// Fetch contains article text fetching settings
type Fetch struct {
	Timeout   string `mapstructure:"timeout"`
	UserAgent string `mapstructure:"user_agent"`
	MinChars  int    `mapstructure:"min_chars"` // Reject shorter bodies as insufficient
}

// Scoring contains interaction scoring settings
type Scoring struct {
	SemanticWeight       float64 `mapstructure:"semantic_weight"`
	EntityWeight         float64 `mapstructure:"entity_weight"`
	TemporalWeight       float64 `mapstructure:"temporal_weight"`
	InteractionThreshold float64 `mapstructure:"interaction_threshold"`
	KNeighbors           int     `mapstructure:"k_neighbors"`
	TemporalDecayDays    float64 `mapstructure:"temporal_decay_days"`
}

// Pipeline contains orchestration settings
type Pipeline struct {
	MaxWorkers    int `mapstructure:"max_workers"`
	NewsBatchSize int `mapstructure:"news_batch_size"`
	MaxClusters   int `mapstructure:"max_clusters"` // 0 = no limit
}

// Stories contains continuity tracking settings
type Stories struct {
	HistoricalWindowDays int `mapstructure:"historical_window_days"`
	HistoricalK          int `mapstructure:"historical_k"`
}

// Downstream contains the result submission settings
type Downstream struct {
	SubmitURL string `mapstructure:"submit_url"`
	Timeout   string `mapstructure:"timeout"`
}

// Rules contains paths for rule tables and prompt templates.
// Empty paths fall back to the embedded defaults.
type Rules struct {
	EventRulesPath string `mapstructure:"event_rules_path"`
	AssetRulesPath string `mapstructure:"asset_rules_path"`
	PromptsDir     string `mapstructure:"prompts_dir"`
}

var globalConfig *Config

// Load initializes and loads the configuration from files and environment
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".storyline")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the global configuration (used by tests)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.name", "storyline")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.timeout", "30s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.2)

	// Fetch defaults
	viper.SetDefault("fetch.timeout", "10s")
	viper.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; storyline/1.0)")
	viper.SetDefault("fetch.min_chars", 150)

	// Scoring defaults
	viper.SetDefault("scoring.semantic_weight", 0.50)
	viper.SetDefault("scoring.entity_weight", 0.30)
	viper.SetDefault("scoring.temporal_weight", 0.20)
	viper.SetDefault("scoring.interaction_threshold", 0.65)
	viper.SetDefault("scoring.k_neighbors", 5)
	viper.SetDefault("scoring.temporal_decay_days", 7.0)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_workers", 5)
	viper.SetDefault("pipeline.news_batch_size", 50)
	viper.SetDefault("pipeline.max_clusters", 0)

	// Story tracking defaults
	viper.SetDefault("stories.historical_window_days", 14)
	viper.SetDefault("stories.historical_k", 3)

	// Downstream defaults
	viper.SetDefault("downstream.timeout", "30s")
}

func bindEnvironmentVariables() {
	// Raw environment names kept for parity with the deployment environment
	viper.BindEnv("ai.gemini.api_key", "STORYLINE_AI_GEMINI_API_KEY", "GEMINI_API_KEY")
	viper.BindEnv("database.url", "STORYLINE_DATABASE_URL", "DATABASE_URL")
	viper.BindEnv("database.password", "STORYLINE_DATABASE_PASSWORD", "POSTGRES_PASSWORD")
	viper.BindEnv("downstream.submit_url", "STORYLINE_DOWNSTREAM_SUBMIT_URL", "DOWNSTREAM_SUBMIT_URL")
}

func validateConfig(config *Config) error {
	s := config.Scoring
	if sum := s.SemanticWeight + s.EntityWeight + s.TemporalWeight; sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.3f", sum)
	}
	if s.InteractionThreshold < 0 || s.InteractionThreshold > 1 {
		return fmt.Errorf("interaction_threshold must be in [0,1], got %.3f", s.InteractionThreshold)
	}
	if s.KNeighbors < 1 {
		return fmt.Errorf("k_neighbors must be at least 1, got %d", s.KNeighbors)
	}
	if config.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", config.Pipeline.MaxWorkers)
	}
	if config.Stories.HistoricalWindowDays < 1 {
		return fmt.Errorf("historical_window_days must be at least 1, got %d", config.Stories.HistoricalWindowDays)
	}
	return nil
}
