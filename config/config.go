package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the complete system configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	AutoML     AutoMLConfig     `json:"automl"`
	ModelStore ModelStoreConfig `json:"model_store"`
	Cache      CacheConfig      `json:"cache"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         string   `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
	JWTSecret    string   `json:"jwt_secret,omitempty"`
	RateLimit    float64  `json:"rate_limit"`
	RateBurst    int      `json:"rate_burst"`
}

// AutoMLConfig contains training orchestration settings
type AutoMLConfig struct {
	WorkerPoolSize   int      `json:"worker_pool_size"`
	DefaultFolds     int      `json:"default_folds"`
	FoldSize         int      `json:"fold_size"`
	MaxHorizon       int      `json:"max_horizon"`
	DefaultMaxTrials int      `json:"default_max_trials"`
	DefaultTimeout   Duration `json:"default_timeout"`
	Seed             int64    `json:"seed"`
}

// ModelStoreConfig contains trained-model persistence settings
type ModelStoreConfig struct {
	Backend  string `json:"backend"` // "memory", "file"
	DataPath string `json:"data_path"`
}

// CacheConfig contains forecast result cache settings
type CacheConfig struct {
	Enabled       bool     `json:"enabled"`
	Backend       string   `json:"backend"` // "memory", "redis"
	TTL           Duration `json:"ttl"`
	RedisAddr     string   `json:"redis_addr"`
	RedisPassword string   `json:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db"`
}

// LoggingConfig contains structured logging settings
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "text", "json"
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{120 * time.Second},
			RateLimit:    50,
			RateBurst:    100,
		},
		AutoML: AutoMLConfig{
			WorkerPoolSize:   2,
			DefaultFolds:     3,
			FoldSize:         30,
			MaxHorizon:       365,
			DefaultMaxTrials: 20,
			DefaultTimeout:   Duration{10 * time.Minute},
			Seed:             42,
		},
		ModelStore: ModelStoreConfig{
			Backend:  "file",
			DataPath: "./data/models",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Backend:   "memory",
			TTL:       Duration{5 * time.Minute},
			RedisAddr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	config := DefaultConfig()

	// Server configuration
	if port := os.Getenv("FORECAST_PORT"); port != "" {
		config.Server.Port = port
	}
	if secret := os.Getenv("FORECAST_JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}

	// AutoML configuration
	if workers := os.Getenv("FORECAST_WORKERS"); workers != "" {
		if val, err := parseIntFromEnv(workers); err == nil {
			config.AutoML.WorkerPoolSize = val
		}
	}
	if trials := os.Getenv("FORECAST_MAX_TRIALS"); trials != "" {
		if val, err := parseIntFromEnv(trials); err == nil {
			config.AutoML.DefaultMaxTrials = val
		}
	}

	// Model store configuration
	if backend := os.Getenv("FORECAST_MODEL_BACKEND"); backend != "" {
		config.ModelStore.Backend = backend
	}
	if path := os.Getenv("FORECAST_MODEL_PATH"); path != "" {
		config.ModelStore.DataPath = path
	}

	// Cache configuration
	if backend := os.Getenv("FORECAST_CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if addr := os.Getenv("FORECAST_REDIS_ADDR"); addr != "" {
		config.Cache.RedisAddr = addr
	}

	if level := os.Getenv("FORECAST_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	return config
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if c.AutoML.WorkerPoolSize <= 0 {
		return fmt.Errorf("automl worker pool size must be positive")
	}
	if c.AutoML.DefaultFolds <= 0 {
		return fmt.Errorf("automl default folds must be positive")
	}
	if c.AutoML.FoldSize <= 0 {
		return fmt.Errorf("automl fold size must be positive")
	}
	if c.AutoML.MaxHorizon <= 0 {
		return fmt.Errorf("automl max horizon must be positive")
	}

	switch c.ModelStore.Backend {
	case "memory":
	case "file":
		if c.ModelStore.DataPath == "" {
			return fmt.Errorf("model store data path cannot be empty for file backend")
		}
	default:
		return fmt.Errorf("unknown model store backend %q", c.ModelStore.Backend)
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.RedisAddr == "" {
				return fmt.Errorf("redis address cannot be empty for redis cache backend")
			}
		default:
			return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
		}
		if c.Cache.TTL.Duration <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
	}

	return nil
}

// EnsureDataDirectories creates necessary data directories
func (c *Config) EnsureDataDirectories() error {
	if c.ModelStore.Backend == "file" && c.ModelStore.DataPath != "" {
		if err := os.MkdirAll(c.ModelStore.DataPath, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", c.ModelStore.DataPath, err)
		}
	}
	return nil
}

// Helper functions
func parseIntFromEnv(s string) (int, error) {
	var result int
	if _, err := fmt.Sscanf(s, "%d", &result); err != nil {
		return 0, err
	}
	return result, nil
}

// Load resolves configuration from a file when one is given, falling back
// to environment variables, and validates the result.
func Load(filename string) (*Config, error) {
	var config *Config
	var err error

	if filename != "" && fileExists(filename) {
		config, err = LoadFromFile(filename)
		if err != nil {
			return nil, err
		}
	} else {
		config = LoadFromEnv()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.EnsureDataDirectories(); err != nil {
		return nil, err
	}

	return config, nil
}

// fileExists checks if a file exists
func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}
