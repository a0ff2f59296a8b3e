package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/browser"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/output"
	"github.com/ternarybob/colligo/internal/portal"
	"github.com/ternarybob/colligo/internal/relevance"
	"github.com/ternarybob/colligo/internal/store"
	"github.com/ternarybob/colligo/internal/traffic"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	searchURL    = flag.String("url", "", "Portal search URL (overrides config)")
	keyword      = flag.String("keyword", "", "Search keyword; builds the search URL when -url is not given")
	maxDocs      = flag.Int("max", 0, "Maximum documents to retrieve (overrides config)")
	maxPages     = flag.Int("pages", 0, "Maximum result pages to visit (overrides config)")
	outputDir    = flag.String("out", "", "Output directory (overrides config)")
	headless     = flag.Bool("headless", true, "Run the browser headless")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		} else if _, err := os.Stat("deployments/local/colligo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/colligo.toml")
		}
	}

	config, err = loadConfig()
	if err != nil {
		common.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	if !config.IsProduction() {
		common.PrintBanner(common.LoadVersionFromFile())
	}
	if logFile := common.GetLogFilePath(logger); logFile != "" {
		logger.Info().Str("log_file", logFile).Msg("File logging enabled")
	}

	retrieved, err := run()
	if err != nil {
		logger.Error().Err(err).Msg("Scan failed")
		os.Exit(1)
	}
	if retrieved == 0 {
		logger.Error().Msg("Scan finished with no documents retrieved")
		os.Exit(1)
	}
	os.Exit(0)
}

// loadConfig assembles the effective configuration from files, the
// environment and CLI flags.
func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		return nil, err
	}

	if *searchURL != "" {
		cfg.Portal.SearchURL = *searchURL
	}
	if cfg.Portal.SearchURL == "" && *keyword != "" {
		endpointsBase := "https://infoweb-newsbank-com.ezproxy.sl.nsw.gov.au"
		cfg.Portal.SearchURL = portal.BuildSearchURL(endpointsBase, *keyword, "Australian Financial Review Collection", cfg.Portal.FirstPageSize, 0, 0)
	}
	if *maxDocs > 0 {
		cfg.Portal.MaxDocuments = *maxDocs
	}
	if *maxPages > 0 {
		cfg.Portal.MaxPages = *maxPages
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	cfg.Browser.Headless = *headless

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() (int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shut down cleanly on interrupt so the browser does not linger.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("Received signal, shutting down")
		cancel()
	}()

	endpoints, err := portal.DeriveEndpoints(config.Portal.SearchURL)
	if err != nil {
		return 0, err
	}
	if config.Portal.APIEndpoint != "" {
		endpoints = portal.EndpointsFromBase(config.Portal.APIEndpoint)
	}
	pParam := portal.ExtractPParam(config.Portal.SearchURL)

	governor := traffic.NewGovernor(config.Traffic, logger)

	session := browser.NewSession(config.Browser, logger)
	if err := session.Start(ctx); err != nil {
		return 0, err
	}
	defer session.Stop()

	if cookies, err := browser.LoadCookies(config.Portal.CookiesFile); err == nil {
		if err := session.ImportCookies(ctx, cookies); err != nil {
			logger.Warn().Err(err).Msg("Failed to import saved cookies, continuing unauthenticated")
		} else {
			logger.Info().Int("cookies", len(cookies)).Msg("Imported saved session cookies")
		}
	}

	// The listener must be live before any selection trigger fires.
	interceptor := browser.NewInterceptor("/apps/news/", "documents=", logger)
	interceptor.Install(session.Context())
	defer interceptor.Stop()

	httpClient, err := sessionHTTPClient(ctx, session, endpoints.Base)
	if err != nil {
		return 0, err
	}

	decoder := portal.NewManifestDecoder(config.Portal.NamespacePrefix, logger)
	scanner := portal.NewScanner(config.Portal.NamespacePrefix, logger)
	capturer := portal.NewCapturer(decoder, config.Portal.CaptureTimeoutDuration(), config.Portal.SettleDelayDuration(), logger)
	parser := portal.NewResponseParser(endpoints, pParam, logger)
	retriever := portal.NewRetrievalClient(httpClient, endpoints, pParam, config.Portal.BulkBatchSize, governor, logger)
	lifecycle := portal.NewLifecycle(retriever, parser, session, governor, endpoints, pParam, config.Portal.SettleDelayDuration(), config.Relevance.MinBodyChars, logger)

	documents, err := store.Open(config.Storage, logger)
	if err != nil {
		return 0, err
	}
	defer documents.Close()

	pipeline := portal.NewPipeline(session, interceptor, scanner, capturer, lifecycle, governor, governor, config.Portal, endpoints, logger)
	pipeline.SkipKnown(documents)

	report, docs, err := pipeline.Run(ctx)
	if err != nil {
		return 0, err
	}

	// Persist the refreshed session for the next run, keyed to wherever
	// the scan actually ended up after any proxy redirects.
	cookieURL := config.Portal.SearchURL
	if current, cerr := session.CurrentURL(ctx); cerr == nil && current != "" {
		cookieURL = current
	}
	if cookies, cerr := session.ExportCookies(ctx, cookieURL); cerr == nil && len(cookies) > 0 {
		if serr := browser.SaveCookies(config.Portal.CookiesFile, cookies); serr != nil {
			logger.Warn().Err(serr).Msg("Failed to save session cookies")
		}
	}

	if config.Relevance.Enabled && len(docs) > 0 {
		scorer, serr := relevance.NewScorer(config.Relevance, logger)
		if serr != nil {
			logger.Warn().Err(serr).Msg("Relevance scorer unavailable, keeping all documents")
		} else {
			before := len(docs)
			docs = relevance.Filter(ctx, scorer, report.Keyword, docs, config.Relevance.MinScore, logger)
			logger.Info().Int("before", before).Int("after", len(docs)).Msg("Relevance filtering applied")
		}
	}

	saved := 0
	for _, doc := range docs {
		if !doc.Complete(config.Relevance.MinBodyChars) {
			logger.Debug().Str("title", doc.Title).Msg("Skipping incomplete document")
			continue
		}
		if err := documents.Save(report.ScanID, report.Keyword, doc); err != nil {
			logger.Warn().Err(err).Str("title", doc.Title).Msg("Failed to persist document")
			continue
		}
		saved++
	}
	report.Saved = saved

	writer := output.NewWriter(config.Output, logger)
	if _, err := writer.WriteAll(report.ScanID, docs, report); err != nil {
		logger.Warn().Err(err).Msg("Failed to write output files")
	}

	if config.Traffic.ReportFile != "" {
		reportPath := timestampedPath(config.Traffic.ReportFile)
		if err := governor.WriteReport(reportPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to write traffic report")
		} else {
			logger.Info().Str("path", reportPath).Msg("Traffic report written")
		}
	}

	logger.Info().
		Int("retrieved", report.Retrieved).
		Int("saved", saved).
		Float64("seconds", report.DurationSecond).
		Msg("Run complete")

	return report.Retrieved, nil
}

// timestampedPath inserts a timestamp before the file extension so
// reports from successive runs never overwrite each other.
func timestampedPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%s%s", base, time.Now().Format("20060102_150405"), ext)
}

// sessionHTTPClient builds a direct HTTP client riding the browser's
// authenticated cookies.
func sessionHTTPClient(ctx context.Context, session *browser.Session, baseURL string) (*http.Client, error) {
	cookies, err := session.ExportCookies(ctx, baseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not export browser cookies, using plain client")
		cookies = nil
	}
	return browser.HTTPClient(baseURL, cookies, 60*time.Second)
}
