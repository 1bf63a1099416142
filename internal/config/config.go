// Package config loads MediaMind configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete MediaMind configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Media    MediaConfig    `yaml:"media"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Search   SearchConfig   `yaml:"search"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PathsConfig configures which directories to scan.
type PathsConfig struct {
	// Scan lists the media roots indexed by `mediamind index`.
	Scan []string `yaml:"scan"`
	// Exclude lists directory names skipped during scanning.
	Exclude []string `yaml:"exclude"`
}

// MediaConfig configures which files count as media.
type MediaConfig struct {
	ImageExtensions    []string `yaml:"image_extensions"`
	VideoExtensions    []string `yaml:"video_extensions"`
	DocumentExtensions []string `yaml:"document_extensions"`
	// MaxFileSizeMB skips files larger than this.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// AnalyzerConfig configures the Ollama analyzer.
type AnalyzerConfig struct {
	// OllamaHost is the Ollama API endpoint (default http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`
	// VisionModel analyzes images and video frames.
	VisionModel string `yaml:"vision_model"`
	// TextModel summarizes documents.
	TextModel string `yaml:"text_model"`
	// EmbedModel produces embeddings for records and queries.
	EmbedModel string `yaml:"embed_model"`
	// Dimensions is the embedding dimension. 0 auto-detects from the model.
	Dimensions int `yaml:"dimensions"`
	// Timeout bounds each analyzer call.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries bounds retries for timeout/unreachable failures.
	MaxRetries int `yaml:"max_retries"`
}

// SearchConfig configures hybrid search. Weights are configurable via:
//  1. Config file (search.keyword_weight / search.semantic_weight)
//  2. Env vars (MEDIAMIND_KEYWORD_WEIGHT, MEDIAMIND_SEMANTIC_WEIGHT) - highest priority
type SearchConfig struct {
	// KeywordWeight is the weight for FTS5 keyword matching (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	KeywordWeight float64 `yaml:"keyword_weight"`

	// SemanticWeight is the weight for vector similarity (0.0-1.0).
	// Must sum to 1.0 with KeywordWeight.
	SemanticWeight float64 `yaml:"semantic_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard).
	RRFConstant int `yaml:"rrf_constant"`

	// DefaultLimit is the result count when the caller doesn't set one.
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit caps requested result counts.
	MaxLimit int `yaml:"max_limit"`
}

// IndexerConfig configures the incremental updater.
type IndexerConfig struct {
	// Workers bounds concurrent file analysis.
	Workers int `yaml:"workers"`
	// WatchDebounce is the coalescing window for watch mode.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// StorageConfig configures where the index lives.
type StorageConfig struct {
	// DataDir holds the SQLite database, the vector index and the lock file.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	FilePath  string `yaml:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Default returns the built-in defaults. Supported extensions and model
// choices follow the stock MediaMind deployment.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Scan:    []string{},
			Exclude: []string{".git", "node_modules", ".cache", "__pycache__"},
		},
		Media: MediaConfig{
			ImageExtensions:    []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp"},
			VideoExtensions:    []string{".mp4", ".avi", ".mov", ".mkv"},
			DocumentExtensions: []string{".pdf", ".docx", ".pptx", ".txt"},
			MaxFileSizeMB:      500,
		},
		Analyzer: AnalyzerConfig{
			OllamaHost:  "http://localhost:11434",
			VisionModel: "llava:latest",
			TextModel:   "llama3.1:latest",
			EmbedModel:  "nomic-embed-text",
			Dimensions:  768,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
		},
		Search: SearchConfig{
			KeywordWeight:  0.5,
			SemanticWeight: 0.5,
			RRFConstant:    60,
			DefaultLimit:   10,
			MaxLimit:       100,
		},
		Indexer: IndexerConfig{
			Workers:       runtime.NumCPU(),
			WatchDebounce: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mediamind")
	}
	return filepath.Join(home, ".mediamind")
}

// Load builds the effective configuration:
//  1. Hardcoded defaults
//  2. YAML file at path (optional; missing file uses defaults)
//  3. MEDIAMIND_* environment variables (highest precedence)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges non-zero values from the YAML file over the defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no config file is fine
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if len(other.Paths.Scan) > 0 {
		c.Paths.Scan = other.Paths.Scan
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if len(other.Media.ImageExtensions) > 0 {
		c.Media.ImageExtensions = other.Media.ImageExtensions
	}
	if len(other.Media.VideoExtensions) > 0 {
		c.Media.VideoExtensions = other.Media.VideoExtensions
	}
	if len(other.Media.DocumentExtensions) > 0 {
		c.Media.DocumentExtensions = other.Media.DocumentExtensions
	}
	if other.Media.MaxFileSizeMB != 0 {
		c.Media.MaxFileSizeMB = other.Media.MaxFileSizeMB
	}

	if other.Analyzer.OllamaHost != "" {
		c.Analyzer.OllamaHost = other.Analyzer.OllamaHost
	}
	if other.Analyzer.VisionModel != "" {
		c.Analyzer.VisionModel = other.Analyzer.VisionModel
	}
	if other.Analyzer.TextModel != "" {
		c.Analyzer.TextModel = other.Analyzer.TextModel
	}
	if other.Analyzer.EmbedModel != "" {
		c.Analyzer.EmbedModel = other.Analyzer.EmbedModel
	}
	if other.Analyzer.Dimensions != 0 {
		c.Analyzer.Dimensions = other.Analyzer.Dimensions
	}
	if other.Analyzer.Timeout != 0 {
		c.Analyzer.Timeout = other.Analyzer.Timeout
	}
	if other.Analyzer.MaxRetries != 0 {
		c.Analyzer.MaxRetries = other.Analyzer.MaxRetries
	}

	// 0 is not a practical weight, so only merge non-zero values.
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}

	if other.Indexer.Workers != 0 {
		c.Indexer.Workers = other.Indexer.Workers
	}
	if other.Indexer.WatchDebounce != 0 {
		c.Indexer.WatchDebounce = other.Indexer.WatchDebounce
	}

	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies MEDIAMIND_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEDIAMIND_KEYWORD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("MEDIAMIND_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("MEDIAMIND_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("MEDIAMIND_OLLAMA_HOST"); v != "" {
		c.Analyzer.OllamaHost = v
	}
	if v := os.Getenv("MEDIAMIND_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("MEDIAMIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the effective configuration.
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.KeywordWeight > 1 {
		return fmt.Errorf("keyword_weight must be between 0 and 1, got %f", c.Search.KeywordWeight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	sum := c.Search.KeywordWeight + c.Search.SemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("keyword_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search limits must be positive")
	}

	if c.Media.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive, got %d", c.Media.MaxFileSizeMB)
	}
	if c.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer timeout must be positive, got %s", c.Analyzer.Timeout)
	}
	if c.Analyzer.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.Analyzer.MaxRetries)
	}
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Indexer.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// DatabasePath returns the SQLite file path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "mediamind.db")
}

// VectorIndexPath returns the HNSW graph path under the data directory.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.hnsw")
}

// LogPath returns the configured log file path, defaulting to the data
// directory.
func (c *Config) LogPath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return filepath.Join(c.Storage.DataDir, "logs", "mediamind.log")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
