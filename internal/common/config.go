package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Portal      PortalConfig    `toml:"portal"`
	Browser     BrowserConfig   `toml:"browser"`
	Traffic     TrafficConfig   `toml:"traffic"`
	Relevance   RelevanceConfig `toml:"relevance"`
	Storage     StorageConfig   `toml:"storage"`
	Output      OutputConfig    `toml:"output"`
	Logging     LoggingConfig   `toml:"logging"`
}

// PortalConfig describes the archive portal being scanned.
type PortalConfig struct {
	SearchURL       string `toml:"search_url" validate:"required,url"`
	APIEndpoint     string `toml:"api_endpoint"` // derived from SearchURL when empty
	NamespacePrefix string `toml:"namespace_prefix"`
	PageSize        int    `toml:"page_size" validate:"gt=0"`
	FirstPageSize   int    `toml:"first_page_size" validate:"gt=0"`
	PageOffset      int    `toml:"page_offset"`
	MaxDocuments    int    `toml:"max_documents" validate:"gt=0"`
	MaxPages        int    `toml:"max_pages"` // 0 derives the page count from max_documents
	BulkBatchSize   int    `toml:"bulk_batch_size" validate:"gt=0,lte=20"`
	CaptureTimeout  string `toml:"capture_timeout"`
	SettleDelay     string `toml:"settle_delay"`
	CookiesFile     string `toml:"cookies_file"`
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	Headless     bool   `toml:"headless"`
	UserAgent    string `toml:"user_agent"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`
	NavTimeout   string `toml:"nav_timeout"`
	ExecPath     string `toml:"exec_path"` // optional Chrome binary path
}

// TrafficConfig bounds outbound request pacing.
type TrafficConfig struct {
	MaxPerMinute  int     `toml:"max_per_minute" validate:"gt=0"`
	MaxPerSecond  int     `toml:"max_per_second" validate:"gt=0"`
	WarnThreshold float64 `toml:"warn_threshold" validate:"gt=0,lte=1"`
	ReportFile    string  `toml:"report_file"`
}

// RelevanceConfig controls optional post-retrieval scoring.
type RelevanceConfig struct {
	Enabled      bool    `toml:"enabled"`
	Provider     string  `toml:"provider"` // "keyword" or "openai"
	OpenAIKey    string  `toml:"openai_key"`
	OpenAIModel  string  `toml:"openai_model"`
	MinScore     float64 `toml:"min_score"`
	MinBodyChars int     `toml:"min_body_chars"`
}

// StorageConfig holds the document store settings.
type StorageConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// OutputConfig controls file output of retrieved documents.
type OutputConfig struct {
	Dir           string `toml:"dir"`
	WriteMarkdown bool   `toml:"write_markdown"`
	WriteText     bool   `toml:"write_text"`
	WriteReport   bool   `toml:"write_report"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns configuration defaults suitable for development
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Portal: PortalConfig{
			NamespacePrefix: "news/",
			PageSize:        20,
			FirstPageSize:   60,
			PageOffset:      63,
			MaxDocuments:    100,
			BulkBatchSize:   20,
			CaptureTimeout:  "15s",
			SettleDelay:     "2s",
			CookiesFile:     "cookies.json",
		},
		Browser: BrowserConfig{
			Headless:     true,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:  1920,
			WindowHeight: 1080,
			NavTimeout:   "45s",
		},
		Traffic: TrafficConfig{
			MaxPerMinute:  30,
			MaxPerSecond:  2,
			WarnThreshold: 0.8,
			ReportFile:    "traffic_report.json",
		},
		Relevance: RelevanceConfig{
			Enabled:      false,
			Provider:     "keyword",
			OpenAIModel:  "gpt-4o-mini",
			MinScore:     0.3,
			MinBodyChars: 80,
		},
		Storage: StorageConfig{
			Path:           "./data/colligo",
			ResetOnStartup: false,
		},
		Output: OutputConfig{
			Dir:           "./downloads",
			WriteMarkdown: true,
			WriteText:     true,
			WriteReport:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier files. Validation is the caller's job so
// that CLI overrides can land first.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if url := os.Getenv("COLLIGO_SEARCH_URL"); url != "" {
		config.Portal.SearchURL = url
	}
	if prefix := os.Getenv("COLLIGO_NAMESPACE_PREFIX"); prefix != "" {
		config.Portal.NamespacePrefix = prefix
	}
	if max := os.Getenv("COLLIGO_MAX_DOCUMENTS"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			config.Portal.MaxDocuments = n
		}
	}
	if cookies := os.Getenv("COLLIGO_COOKIES_FILE"); cookies != "" {
		config.Portal.CookiesFile = cookies
	}

	if headless := os.Getenv("COLLIGO_HEADLESS"); headless != "" {
		config.Browser.Headless = headless == "true" || headless == "1"
	}
	if execPath := os.Getenv("COLLIGO_CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	if perMin := os.Getenv("COLLIGO_MAX_PER_MINUTE"); perMin != "" {
		if n, err := strconv.Atoi(perMin); err == nil {
			config.Traffic.MaxPerMinute = n
		}
	}
	if perSec := os.Getenv("COLLIGO_MAX_PER_SECOND"); perSec != "" {
		if n, err := strconv.Atoi(perSec); err == nil {
			config.Traffic.MaxPerSecond = n
		}
	}

	if key := os.Getenv("COLLIGO_OPENAI_KEY"); key != "" {
		config.Relevance.OpenAIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Relevance.OpenAIKey == "" {
		config.Relevance.OpenAIKey = key
	}

	if path := os.Getenv("COLLIGO_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}
	if dir := os.Getenv("COLLIGO_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks structural constraints and duration fields.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, value := range map[string]string{
		"portal.capture_timeout": c.Portal.CaptureTimeout,
		"portal.settle_delay":    c.Portal.SettleDelay,
		"browser.nav_timeout":    c.Browser.NavTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	switch c.Relevance.Provider {
	case "", "keyword", "openai":
	default:
		return fmt.Errorf("invalid relevance provider %q (expected keyword or openai)", c.Relevance.Provider)
	}
	if c.Relevance.Enabled && c.Relevance.Provider == "openai" && c.Relevance.OpenAIKey == "" {
		return fmt.Errorf("relevance provider openai requires an API key")
	}

	return nil
}

// CaptureTimeoutDuration returns the parsed capture timeout with a sane fallback.
func (c *PortalConfig) CaptureTimeoutDuration() time.Duration {
	return parseDurationOr(c.CaptureTimeout, 15*time.Second)
}

// SettleDelayDuration returns the parsed settle delay with a sane fallback.
func (c *PortalConfig) SettleDelayDuration() time.Duration {
	return parseDurationOr(c.SettleDelay, 2*time.Second)
}

// NavTimeoutDuration returns the parsed navigation timeout with a sane fallback.
func (c *BrowserConfig) NavTimeoutDuration() time.Duration {
	return parseDurationOr(c.NavTimeout, 45*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
