package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/tagging"
)

type Config struct {
	Port              string         `yaml:"port"`
	LogLevel          string         `yaml:"log_level"`
	RedisURL          string         `yaml:"redis_url"`
	StoreBackend      string         `yaml:"store_backend"`
	DataDir           string         `yaml:"data_dir"`
	SQLitePath        string         `yaml:"sqlite_path"`
	VerifyToken       string         `yaml:"verify_token"`
	AppSecret         string         `yaml:"app_secret"`
	SummaryWindow     int            `yaml:"summary_window"`
	MessageLimit      int            `yaml:"message_limit"`
	MaxWindow         int            `yaml:"max_window"`
	InstanceID        string         `yaml:"instance_id"`
	ShutdownTimeoutMS int64          `yaml:"shutdown_timeout_ms"`
	TagRules          []tagging.Rule `yaml:"tag_rules"`
}

// Load reads configuration from the environment. When CONFIG_FILE is set,
// the YAML file it names is applied first and environment variables that
// are set still take precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(constants.EnvConfigFile))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file
func LoadFile(path string) (*Config, error) {
	config := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func Defaults() *Config {
	return &Config{
		Port:              "8080",
		LogLevel:          "info",
		RedisURL:          "redis://localhost:6379",
		StoreBackend:      constants.BackendFile,
		DataDir:           "./data",
		SummaryWindow:     constants.DefaultSummaryWindow,
		MessageLimit:      constants.DefaultMessageLimit,
		MaxWindow:         constants.DefaultMaxWindow,
		InstanceID:        generateInstanceID(),
		ShutdownTimeoutMS: 30000,
	}
}

func (c *Config) applyEnv() {
	c.Port = getEnv(constants.EnvPort, c.Port)
	c.LogLevel = getEnv(constants.EnvLogLevel, c.LogLevel)
	c.RedisURL = getEnv(constants.EnvRedisURL, c.RedisURL)
	c.StoreBackend = getEnv(constants.EnvStoreBackend, c.StoreBackend)
	c.DataDir = getEnv(constants.EnvDataDir, c.DataDir)
	c.SQLitePath = getEnv(constants.EnvSQLitePath, c.SQLitePath)
	c.VerifyToken = getEnv(constants.EnvVerifyToken, c.VerifyToken)
	c.AppSecret = getEnv(constants.EnvAppSecret, c.AppSecret)
	c.SummaryWindow = getEnvInt(constants.EnvSummaryWindow, c.SummaryWindow)
	c.MessageLimit = getEnvInt(constants.EnvMessageLimit, c.MessageLimit)
	c.MaxWindow = getEnvInt(constants.EnvMaxWindow, c.MaxWindow)
	c.InstanceID = getEnv(constants.EnvInstanceID, c.InstanceID)
	c.ShutdownTimeoutMS = getEnvInt64(constants.EnvShutdownMS, c.ShutdownTimeoutMS)
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case constants.BackendMemory, constants.BackendFile, constants.BackendRedis, constants.BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.MaxWindow <= 0 {
		return fmt.Errorf("max window must be positive, got %d", c.MaxWindow)
	}
	if len(c.TagRules) > 0 {
		if _, err := tagging.NewClassifier(c.TagRules); err != nil {
			return fmt.Errorf("invalid tag rules: %w", err)
		}
	}
	return nil
}

// Classifier returns the configured tag table, or the built-in one
func (c *Config) Classifier() *tagging.Classifier {
	if len(c.TagRules) == 0 {
		return tagging.MustNewClassifier(tagging.DefaultRules)
	}
	return tagging.MustNewClassifier(c.TagRules)
}

func (c *Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "inbox.db")
}

func (c *Config) WatermarkFile() string {
	return filepath.Join(c.DataDir, "watermarks.json")
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
