package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "news/", cfg.Portal.NamespacePrefix)
	assert.Equal(t, 60, cfg.Portal.FirstPageSize)
	assert.Equal(t, 20, cfg.Portal.PageSize)
	assert.Equal(t, 100, cfg.Portal.MaxDocuments)
	assert.Equal(t, 20, cfg.Portal.BulkBatchSize)
	assert.Equal(t, 30, cfg.Traffic.MaxPerMinute)
	assert.Equal(t, 2, cfg.Traffic.MaxPerSecond)
	assert.InDelta(t, 0.8, cfg.Traffic.WarnThreshold, 0.001)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoadFromFiles_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colligo.toml")
	content := `
environment = "production"

[portal]
search_url = "https://portal.example.com/apps/news/results?p=AWGLNB"
max_documents = 40

[traffic]
max_per_minute = 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 40, cfg.Portal.MaxDocuments)
	assert.Equal(t, 10, cfg.Traffic.MaxPerMinute)
	// Untouched values keep their defaults.
	assert.Equal(t, 2, cfg.Traffic.MaxPerSecond)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(base, []byte("[portal]\nmax_documents = 10\n"), 0644))
	require.NoError(t, os.WriteFile(override, []byte("[portal]\nmax_documents = 75\n"), 0644))

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Portal.MaxDocuments)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/colligo.toml")
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverride(t *testing.T) {
	t.Setenv("COLLIGO_MAX_DOCUMENTS", "7")
	t.Setenv("COLLIGO_LOG_LEVEL", "debug")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Portal.MaxDocuments)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_RequiresSearchURL(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.Portal.SearchURL = "https://portal.example.com/apps/news/results?p=AWGLNB"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadDuration(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Portal.SearchURL = "https://portal.example.com/r"
	cfg.Portal.CaptureTimeout = "soon"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOversizedBatch(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Portal.SearchURL = "https://portal.example.com/r"
	cfg.Portal.BulkBatchSize = 50
	assert.Error(t, cfg.Validate())
}

func TestValidate_RelevanceProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Portal.SearchURL = "https://portal.example.com/r"

	cfg.Relevance.Provider = "mystery"
	assert.Error(t, cfg.Validate())

	cfg.Relevance.Provider = "openai"
	cfg.Relevance.Enabled = true
	cfg.Relevance.OpenAIKey = ""
	assert.Error(t, cfg.Validate())

	cfg.Relevance.OpenAIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	portal := PortalConfig{CaptureTimeout: "5s", SettleDelay: ""}
	assert.Equal(t, 5*time.Second, portal.CaptureTimeoutDuration())
	assert.Equal(t, 2*time.Second, portal.SettleDelayDuration())

	browser := BrowserConfig{NavTimeout: "bogus"}
	assert.Equal(t, 45*time.Second, browser.NavTimeoutDuration())
}
