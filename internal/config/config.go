package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	API     APIConfig     `yaml:"api" json:"api"`
	Upload  UploadConfig  `yaml:"upload" json:"upload"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	UI      UIConfig      `yaml:"ui" json:"ui"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// DataDir holds logs, the event log and the journal. "" means ~/.lookalike.
	DataDir string `yaml:"dataDir" json:"dataDir"`
}

// APIConfig points at the backend
type APIConfig struct {
	BaseURL           string        `yaml:"baseURL" json:"baseURL"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int           `yaml:"burst" json:"burst"`
}

// UploadConfig tunes batch uploads
type UploadConfig struct {
	ChunkSize        int           `yaml:"chunkSize" json:"chunkSize"`
	StageRevealDelay time.Duration `yaml:"stageRevealDelay" json:"stageRevealDelay"`
	SettleDelay      time.Duration `yaml:"settleDelay" json:"settleDelay"`
	Recursive        bool          `yaml:"recursive" json:"recursive"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	DefaultTopK int `yaml:"defaultTopK" json:"defaultTopK"`
}

// UIConfig holds TUI preferences
type UIConfig struct {
	AltScreen bool `yaml:"altScreen" json:"altScreen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MaxChunkSize is the most files the ingestion endpoint takes per request.
const MaxChunkSize = 50

// DefaultConfig Default configuration values
var DefaultConfig = Config{
	API: APIConfig{
		BaseURL:           "http://localhost:8000",
		Timeout:           120 * time.Second,
		RequestsPerSecond: 4,
		Burst:             1,
	},
	Upload: UploadConfig{
		ChunkSize:        MaxChunkSize,
		StageRevealDelay: 300 * time.Millisecond,
		SettleDelay:      2 * time.Second,
	},
	Search: SearchConfig{
		DefaultTopK: 5,
	},
	UI: UIConfig{
		AltScreen: true,
	},
	Logging: LoggingConfig{
		Level: "info",
	},
}

// validTopK mirrors the options offered by the search form.
var validTopK = map[int]bool{5: true, 10: true, 20: true, 30: true, 40: true, 50: true}

// LoadConfig loads configuration from multiple sources in order of precedence:
// 1. Environment variables (highest precedence)
// 2. Configuration file (explicit path first, then the search paths)
// 3. Default values (lowest precedence)
// The second return value names the file used.
func LoadConfig(explicit string) (*Config, string, error) {
	config := DefaultConfig

	path, err := loadFromFile(&config, explicit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if e := loadFromEnv(&config); e != nil {
		return nil, "", fmt.Errorf("failed to load environment variables: %w", e)
	}

	config.DataDir = resolveDataDir(config.DataDir)

	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// searchPaths lists candidate config files in priority order.
func searchPaths(explicit string) []string {
	paths := []string{
		explicit,
		os.Getenv("LOOKALIKE_CONFIG"),
		"./lookalike.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".lookalike", "config.yaml"))
	}
	return paths
}

// loadFromFile loads configuration from the first YAML file found
func loadFromFile(config *Config, explicit string) (string, error) {
	for _, path := range searchPaths(explicit) {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if path == explicit {
				return "", fmt.Errorf("config file %s does not exist", path)
			}
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

// loadFromEnv loads configuration from environment variables.
// Malformed numeric values are rejected rather than ignored.
func loadFromEnv(config *Config) error {
	if val := os.Getenv("LOOKALIKE_API_URL"); val != "" {
		config.API.BaseURL = val
	}
	if val := os.Getenv("LOOKALIKE_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("LOOKALIKE_TIMEOUT: %w", err)
		}
		config.API.Timeout = timeout
	}
	if val := os.Getenv("LOOKALIKE_RATE_LIMIT"); val != "" {
		rps, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("LOOKALIKE_RATE_LIMIT: %w", err)
		}
		config.API.RequestsPerSecond = rps
	}
	if val := os.Getenv("LOOKALIKE_DATA_DIR"); val != "" {
		config.DataDir = val
	}
	if val := os.Getenv("LOOKALIKE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	return nil
}

func resolveDataDir(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch {
	case dir == "":
		return filepath.Join(home, ".lookalike")
	case dir == "~":
		return home
	case strings.HasPrefix(dir, "~/"):
		return filepath.Join(home, dir[2:])
	}
	return dir
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api base URL: %q", c.API.BaseURL)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("invalid api timeout: %s", c.API.Timeout)
	}

	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid requests per second: %v", c.API.RequestsPerSecond)
	}

	if c.API.Burst < 0 {
		return fmt.Errorf("invalid burst: %d", c.API.Burst)
	}

	if c.Upload.ChunkSize < 1 || c.Upload.ChunkSize > MaxChunkSize {
		return fmt.Errorf("invalid upload chunk size: %d (must be 1..%d)", c.Upload.ChunkSize, MaxChunkSize)
	}

	if c.Upload.StageRevealDelay < 0 || c.Upload.SettleDelay < 0 {
		return fmt.Errorf("upload delays must not be negative")
	}

	if !validTopK[c.Search.DefaultTopK] {
		return fmt.Errorf("invalid default top_k: %d", c.Search.DefaultTopK)
	}

	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// JournalPath is the SQLite journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// EventLogPath is the JSONL event log location.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "events.jsonl")
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// SaveToFile writes the configuration, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	data, err := c.ToYAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GenerateDefaultConfig creates a default configuration file
func GenerateDefaultConfig(path string) error {
	config := DefaultConfig
	return config.SaveToFile(path)
}
