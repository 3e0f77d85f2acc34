package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Engine    EngineConfig               `yaml:"engine"`
	Providers []types.ProviderDescriptor `yaml:"providers"`
	Budget    types.BudgetLimits         `yaml:"budget"`
	Telemetry TelemetryConfig            `yaml:"telemetry"`
	Store     StoreConfig                `yaml:"store"`
	Logging   LoggingConfig              `yaml:"logging"`
	Security  SecurityConfig             `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// EngineConfig holds recommendation engine configuration
type EngineConfig struct {
	DefaultProfile types.ProfileName `yaml:"default_profile"`
	CustomWeights  *types.Weights    `yaml:"custom_weights,omitempty"`
	CacheTTL       time.Duration     `yaml:"cache_ttl"`
	ComputeBudget  time.Duration     `yaml:"compute_budget"`
}

// TelemetryConfig holds outcome feedback configuration
type TelemetryConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type          string        `yaml:"type"` // "memory" or "sqlite"
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys      []string         `yaml:"api_keys"`
	JWTSecret    string           `yaml:"jwt_secret"`
	RateLimiting RateLimitConfig  `yaml:"rate_limiting"`
	CORS         CORSConfig       `yaml:"cors"`
	Validation   ValidationConfig `yaml:"validation"`
	Audit        AuditConfig      `yaml:"audit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	BurstSize      int           `yaml:"burst_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ValidationConfig holds OpenAPI request validation configuration
type ValidationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SpecPath string `yaml:"spec_path"`
}

// AuditConfig holds selection audit trail configuration
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Engine = EngineConfig{
		DefaultProfile: types.ProfileBalanced,
		CacheTTL:       60 * time.Second,
		ComputeBudget:  50 * time.Millisecond,
	}

	c.Budget = types.BudgetLimits{
		SoftThresholdPct: 0.8,
	}

	c.Telemetry = TelemetryConfig{
		QueueSize: 1024,
	}

	c.Store = StoreConfig{
		Type:          "memory",
		Path:          "data/advisor.db",
		FlushInterval: time.Minute,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
			WindowDuration: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
		Validation: ValidationConfig{
			Enabled:  false,
			SpecPath: "docs/openapi.yaml",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1000,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("PROVIDER_ADVISOR_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("PROVIDER_ADVISOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("PROVIDER_ADVISOR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if profile := os.Getenv("PROVIDER_ADVISOR_PROFILE"); profile != "" {
		c.Engine.DefaultProfile = types.ProfileName(profile)
	}

	if limit := os.Getenv("PROVIDER_ADVISOR_GLOBAL_BUDGET_USD"); limit != "" {
		if v, err := strconv.ParseFloat(limit, 64); err == nil {
			c.Budget.GlobalLimitUSD = v
		}
	}

	if storeType := os.Getenv("PROVIDER_ADVISOR_STORE"); storeType != "" {
		c.Store.Type = storeType
	}

	if path := os.Getenv("PROVIDER_ADVISOR_STORE_PATH"); path != "" {
		c.Store.Path = path
	}

	if secret := os.Getenv("PROVIDER_ADVISOR_JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	// Validate the default profile resolves to a weight vector
	if _, err := engine.ResolveProfile(c.Engine.DefaultProfile, c.Engine.CustomWeights); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validStores := map[string]bool{"memory": true, "sqlite": true}
	if !validStores[c.Store.Type] {
		return fmt.Errorf("invalid store type: %s", c.Store.Type)
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for sqlite store")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d: name cannot be empty", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %s configured twice", p.Name)
		}
		seen[p.Name] = true
		if p.Quality < 0 || p.Quality > 100 {
			return fmt.Errorf("provider %s: quality must be in [0,100], got %.1f", p.Name, p.Quality)
		}
		if p.CostPer1KTokens < 0 {
			return fmt.Errorf("provider %s: cost rate cannot be negative", p.Name)
		}
		if len(p.Operations) == 0 {
			return fmt.Errorf("provider %s: at least one operation is required", p.Name)
		}
	}

	if c.Budget.SoftThresholdPct < 0 || c.Budget.SoftThresholdPct >= 1 {
		return fmt.Errorf("budget soft threshold must be in [0,1), got %.2f", c.Budget.SoftThresholdPct)
	}

	return nil
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
