package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, "http://localhost:11434", cfg.Analyzer.OllamaHost)
	assert.Equal(t, 768, cfg.Analyzer.Dimensions)
	assert.Equal(t, 500, cfg.Media.MaxFileSizeMB)
	assert.Equal(t, 500*time.Millisecond, cfg.Indexer.WatchDebounce)
	assert.Contains(t, cfg.Paths.Exclude, "node_modules")
	assert.NotEmpty(t, cfg.Storage.DataDir)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.RRFConstant, cfg.Search.RRFConstant)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths:
  scan:
    - /media/photos
  exclude:
    - vendor
search:
  keyword_weight: 0.3
  semantic_weight: 0.7
analyzer:
  vision_model: llava:13b
storage:
  data_dir: /var/lib/mediamind
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/media/photos"}, cfg.Paths.Scan)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
	assert.Equal(t, "llava:13b", cfg.Analyzer.VisionModel)
	assert.Equal(t, "/var/lib/mediamind", cfg.Storage.DataDir)

	// Excludes append to the defaults rather than replacing them.
	assert.Contains(t, cfg.Paths.Exclude, "vendor")
	assert.Contains(t, cfg.Paths.Exclude, ".git")

	// Untouched fields keep their defaults.
	assert.Equal(t, "nomic-embed-text", cfg.Analyzer.EmbedModel)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEDIAMIND_KEYWORD_WEIGHT", "0.8")
	t.Setenv("MEDIAMIND_SEMANTIC_WEIGHT", "0.2")
	t.Setenv("MEDIAMIND_RRF_CONSTANT", "30")
	t.Setenv("MEDIAMIND_OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("MEDIAMIND_DATA_DIR", "/tmp/mm-test")
	t.Setenv("MEDIAMIND_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.2, cfg.Search.SemanticWeight)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, "http://gpu-box:11434", cfg.Analyzer.OllamaHost)
	assert.Equal(t, "/tmp/mm-test", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  ollama_host: http://from-yaml:11434\n"), 0644))
	t.Setenv("MEDIAMIND_OLLAMA_HOST", "http://from-env:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:11434", cfg.Analyzer.OllamaHost)
}

func TestInvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("MEDIAMIND_KEYWORD_WEIGHT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Search.KeywordWeight)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights must sum to 1", func(c *Config) { c.Search.KeywordWeight = 0.9; c.Search.SemanticWeight = 0.9 }},
		{"keyword weight out of range", func(c *Config) { c.Search.KeywordWeight = 1.5 }},
		{"rrf constant positive", func(c *Config) { c.Search.RRFConstant = -1 }},
		{"limits positive", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"max file size positive", func(c *Config) { c.Media.MaxFileSizeMB = -5 }},
		{"timeout positive", func(c *Config) { c.Analyzer.Timeout = 0 }},
		{"retries non-negative", func(c *Config) { c.Analyzer.MaxRetries = -1 }},
		{"workers positive", func(c *Config) { c.Indexer.Workers = 0 }},
		{"log level enum", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWeightSumTolerance(t *testing.T) {
	cfg := Default()
	cfg.Search.KeywordWeight = 0.501
	cfg.Search.SemanticWeight = 0.5
	assert.NoError(t, cfg.Validate(), "rounding within 0.01 is accepted")
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "mediamind.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data", "vectors.hnsw"), cfg.VectorIndexPath())
	assert.Equal(t, filepath.Join("/data", "logs", "mediamind.log"), cfg.LogPath())

	cfg.Logging.FilePath = "/var/log/mm.log"
	assert.Equal(t, "/var/log/mm.log", cfg.LogPath())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Paths.Scan = []string{"/media/photos"}
	cfg.Search.KeywordWeight = 0.4
	cfg.Search.SemanticWeight = 0.6
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Paths.Scan, loaded.Paths.Scan)
	assert.Equal(t, 0.4, loaded.Search.KeywordWeight)
	assert.Equal(t, 0.6, loaded.Search.SemanticWeight)
}
