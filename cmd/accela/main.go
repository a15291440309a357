// Package main implements the Accela depot download orchestrator CLI.
//
// It drives distribution archives through the job queue (ingest →
// depot selection → download → post-processing → finalization),
// maintains the local metadata cache, and manages the installed game
// library.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/FaultyPacketOverflowVector/Accela/archive"
	"github.com/FaultyPacketOverflowVector/Accela/database"
	"github.com/FaultyPacketOverflowVector/Accela/download"
	"github.com/FaultyPacketOverflowVector/Accela/library"
	"github.com/FaultyPacketOverflowVector/Accela/metrics"
	"github.com/FaultyPacketOverflowVector/Accela/monitor"
	"github.com/FaultyPacketOverflowVector/Accela/postprocess"
	"github.com/FaultyPacketOverflowVector/Accela/queue"
	"github.com/FaultyPacketOverflowVector/Accela/resolver"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
	"github.com/FaultyPacketOverflowVector/Accela/tui"
	"github.com/FaultyPacketOverflowVector/Accela/updatecheck"
)

var version = "dev"

// Config holds application configuration.
type Config struct {
	// Library configuration
	LibraryRoot string
	StagingDir  string

	// Cache configuration
	CachePath string
	SeedPath  string

	// Queue configuration
	JournalPath string

	// Downloader configuration
	DownloaderPath string
	MaxDownloads   int
	Validate       bool

	// Wrapper / compatibility layer
	WrapperMode    bool
	AppListDir     string
	SLSsteamConfig string

	// Curated depot descriptions
	DepotsINI string

	// Post-processing
	SteamlessCommand    string
	AchievementsCommand string

	// Logging and metrics
	LogLevel    string
	LogJSON     bool
	MetricsAddr string

	// Command-specific flags
	ArchivePaths []string
	AppID        string
	Depots       string
	Headless     bool
}

// DefaultConfig returns the default configuration, with environment
// variables (including a .env file) layered over the built-ins.
func DefaultConfig() Config {
	dataDir := envOr("ACCELA_DATA_DIR", filepath.Join(userHome(), ".local", "share", "accela"))
	return Config{
		LibraryRoot:         envOr("ACCELA_LIBRARY", filepath.Join(userHome(), ".steam", "steam")),
		StagingDir:          envOr("ACCELA_STAGING", filepath.Join(os.TempDir(), "accela-staging")),
		CachePath:           envOr("ACCELA_CACHE_DB", filepath.Join(dataDir, "metadata.db")),
		SeedPath:            os.Getenv("ACCELA_SEED_DB"),
		JournalPath:         envOr("ACCELA_QUEUE_DB", filepath.Join(dataDir, "queue.db")),
		DownloaderPath:      envOr("ACCELA_DOWNLOADER", "DepotDownloaderMod"),
		MaxDownloads:        25,
		Validate:            true,
		AppListDir:          os.Getenv("ACCELA_APPLIST_DIR"),
		DepotsINI:           envOr("ACCELA_DEPOTS_INI", filepath.Join(dataDir, "depots.ini")),
		SLSsteamConfig:      os.Getenv("ACCELA_SLSSTEAM_CONFIG"),
		SteamlessCommand:    os.Getenv("ACCELA_STEAMLESS_CMD"),
		AchievementsCommand: os.Getenv("ACCELA_ACHIEVEMENTS_CMD"),
		LogLevel:            envOr("ACCELA_LOG_LEVEL", "info"),
		MetricsAddr:         os.Getenv("ACCELA_METRICS_ADDR"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

var (
	log = logrus.New()

	processCmd      = flag.NewFlagSet("process", flag.ExitOnError)
	checkUpdatesCmd = flag.NewFlagSet("check-updates", flag.ExitOnError)
	resolveCmd      = flag.NewFlagSet("resolve", flag.ExitOnError)
	scanLibraryCmd  = flag.NewFlagSet("scan-library", flag.ExitOnError)
	uninstallCmd    = flag.NewFlagSet("uninstall", flag.ExitOnError)
)

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	config := DefaultConfig()

	switch os.Args[1] {
	case "process":
		parseProcessFlags(&config, processCmd, os.Args[2:])
		setupLogging(config)
		if err := runProcess(config); err != nil {
			log.WithError(err).Fatal("failed to process archives")
		}
	case "check-updates":
		parseCommonFlags(&config, checkUpdatesCmd, os.Args[2:])
		setupLogging(config)
		if err := runCheckUpdates(config); err != nil {
			log.WithError(err).Fatal("update check failed")
		}
	case "resolve":
		parseResolveFlags(&config, resolveCmd, os.Args[2:])
		setupLogging(config)
		if err := runResolve(config); err != nil {
			log.WithError(err).Fatal("resolve failed")
		}
	case "scan-library":
		parseCommonFlags(&config, scanLibraryCmd, os.Args[2:])
		setupLogging(config)
		if err := runScanLibrary(config); err != nil {
			log.WithError(err).Fatal("library scan failed")
		}
	case "uninstall":
		parseUninstallFlags(&config, uninstallCmd, os.Args[2:])
		setupLogging(config)
		if err := runUninstall(config); err != nil {
			log.WithError(err).Fatal("uninstall failed")
		}
	case "version":
		fmt.Printf("accela %s\n", version)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Accela Depot Download Orchestrator")
	fmt.Println()
	fmt.Println("Usage: accela <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  process        Queue one or more archives and download their depots")
	fmt.Println("  check-updates  Compare installed games against published manifests")
	fmt.Println("  resolve        Resolve and print metadata for an AppID")
	fmt.Println("  scan-library   List installed games discovered in the Steam library")
	fmt.Println("  uninstall      Remove an installed game")
	fmt.Println("  version        Print the version")
	fmt.Println()
	fmt.Println("Run 'accela <command> --help' for more information on a command.")
}

func addCommonFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.LibraryRoot, "library", cfg.LibraryRoot, "Steam library folder")
	fs.StringVar(&cfg.CachePath, "cache-db", cfg.CachePath, "Metadata cache database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogJSON, "log-json", false, "Emit JSON log lines")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
}

func parseCommonFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addCommonFlags(cfg, fs)
	fs.Parse(args)
}

func parseProcessFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addCommonFlags(cfg, fs)
	fs.StringVar(&cfg.StagingDir, "staging", cfg.StagingDir, "Manifest staging directory")
	fs.StringVar(&cfg.DownloaderPath, "downloader", cfg.DownloaderPath, "Depot downloader binary")
	fs.IntVar(&cfg.MaxDownloads, "max-downloads", cfg.MaxDownloads, "Downloader worker-count hint")
	fs.BoolVar(&cfg.Validate, "validate", cfg.Validate, "Validate existing files on disk")
	fs.BoolVar(&cfg.WrapperMode, "wrapper", cfg.WrapperMode, "Register installs with the compatibility wrapper")
	fs.StringVar(&cfg.AppListDir, "applist-dir", cfg.AppListDir, "Wrapper applist directory")
	fs.StringVar(&cfg.DepotsINI, "depots-ini", cfg.DepotsINI, "Curated depot description file")
	fs.StringVar(&cfg.Depots, "depots", "", "Comma-separated depot ids (default: all)")
	fs.BoolVar(&cfg.Headless, "headless", false, "Run without the interactive dashboard")
	fs.Parse(args)

	cfg.ArchivePaths = fs.Args()
	if len(cfg.ArchivePaths) == 0 {
		fmt.Println("Error: at least one archive path is required")
		fs.Usage()
		os.Exit(1)
	}
}

func parseResolveFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addCommonFlags(cfg, fs)
	fs.StringVar(&cfg.AppID, "app", "", "AppID to resolve (required)")
	fs.Parse(args)
	if cfg.AppID == "" {
		fmt.Println("Error: --app is required")
		fs.Usage()
		os.Exit(1)
	}
}

func parseUninstallFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addCommonFlags(cfg, fs)
	fs.StringVar(&cfg.AppID, "app", "", "AppID to uninstall (required)")
	fs.Parse(args)
	if cfg.AppID == "" {
		fmt.Println("Error: --app is required")
		fs.Usage()
		os.Exit(1)
	}
}

func setupLogging(config Config) {
	if config.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if config.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(config.MetricsAddr, log); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("Metrics listener stopped")
			}
		}()
	}
}

// openCache opens the metadata cache, ensuring its directory exists.
func openCache(config Config) (*database.MetadataCache, error) {
	if err := os.MkdirAll(filepath.Dir(config.CachePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cacheConfig := database.DefaultConfig()
	cacheConfig.Path = config.CachePath
	cacheConfig.SeedPath = config.SeedPath
	return database.New(cacheConfig, log)
}

func newResolver(cache *database.MetadataCache) *resolver.Resolver {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return resolver.New(
		cache,
		&resolver.HTTPProductInfoClient{Client: httpClient},
		&resolver.HTTPStorefrontClient{Client: httpClient},
		resolver.DefaultConfig(),
		log,
	)
}

func runProcess(config Config) error {
	cache, err := openCache(config)
	if err != nil {
		return err
	}
	defer cache.Close()

	fs := afero.NewOsFs()
	res := newResolver(cache)

	downloadConfig := download.Config{
		DownloaderPath: config.DownloaderPath,
		StagingDir:     config.StagingDir,
		MaxDownloads:   config.MaxDownloads,
		Validate:       config.Validate,
		SLSsteamConfig: config.SLSsteamConfig,
	}

	var postTasks []postprocess.Task
	if config.SteamlessCommand != "" {
		postTasks = append(postTasks, postprocess.NewSteamless(postprocess.SteamlessConfig{
			Command: strings.Fields(config.SteamlessCommand),
		}, log))
	}
	if config.AchievementsCommand != "" {
		postTasks = append(postTasks, postprocess.NewAchievements(postprocess.AchievementsConfig{
			Command: strings.Fields(config.AchievementsCommand),
		}, log))
	}

	coordinator, err := queue.New(queue.Config{
		DestinationRoot:  config.LibraryRoot,
		StagingDir:       config.StagingDir,
		WrapperMode:      config.WrapperMode,
		AppListDir:       config.AppListDir,
		AutoSelectDepots: config.Depots == "" || config.Depots == "all",
		JournalPath:      config.JournalPath,
	}, queue.Dependencies{
		Fs:             fs,
		Ingestor:       archive.New(fs, res, config.StagingDir, archive.LoadDepotDescriptions(fs, config.DepotsINI, log), log),
		DownloadConfig: downloadConfig,
		PostTasks:      postTasks,
		SpeedMonitor:   monitor.New(time.Second, log),
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer coordinator.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coordinator.Start(ctx)
	jobs := make([]*queue.Job, 0, len(config.ArchivePaths))
	for _, path := range config.ArchivePaths {
		jobs = append(jobs, coordinator.Enqueue(path))
	}

	// Explicit selections apply to every queued archive.
	if selected := splitList(config.Depots); len(selected) > 0 {
		go applySelections(ctx, coordinator, selected)
	}

	if config.Headless {
		return waitHeadless(ctx, coordinator, jobs)
	}
	return tui.Run(coordinator, coordinator.Events())
}

func splitList(s string) []string {
	if s == "" || s == "all" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applySelections answers each job's selection pause with the
// user-provided depot list.
func applySelections(ctx context.Context, coordinator *queue.Coordinator, selected []string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, job := range coordinator.Jobs() {
				if job.State == queue.StateAwaitingSelection {
					coordinator.Select(job.ID, selected)
				}
			}
		}
	}
}

// waitHeadless drains events until every enqueued job is terminal.
func waitHeadless(ctx context.Context, coordinator *queue.Coordinator, jobs []*queue.Job) error {
	remaining := map[string]struct{}{}
	for _, job := range jobs {
		remaining[job.ID] = struct{}{}
	}
	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-coordinator.Events():
			if ev.Kind == queue.EventProgress {
				log.WithFields(logrus.Fields{
					"job":     ev.JobID,
					"percent": fmt.Sprintf("%.2f", ev.Percent),
				}).Info("Progress")
			}
			if ev.Kind == queue.EventJobState && ev.State.Terminal() {
				delete(remaining, ev.JobID)
			}
		}
	}

	failed := 0
	for _, job := range coordinator.Jobs() {
		if job.State == queue.StateFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d job(s) failed", failed)
	}
	return nil
}

func runCheckUpdates(config Config) error {
	cache, err := openCache(config)
	if err != nil {
		return err
	}
	defer cache.Close()

	fs := afero.NewOsFs()
	lib, err := library.New(fs, []string{config.LibraryRoot}, log)
	if err != nil {
		return err
	}
	games, err := lib.Scan()
	if err != nil {
		return err
	}

	checker := updatecheck.New(fs, newResolver(cache), updatecheck.DefaultConfig(), log)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for result := range checker.Run(ctx, games) {
		lib.SetUpdateStatus(result.AppID, result.Status)
		fmt.Printf("%-10s %s\n", result.AppID, result.Status)
	}
	return nil
}

func runResolve(config Config) error {
	cache, err := openCache(config)
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	meta := newResolver(cache).Resolve(ctx, config.AppID)
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runScanLibrary(config Config) error {
	lib, err := library.New(afero.NewOsFs(), []string{config.LibraryRoot}, log)
	if err != nil {
		return err
	}
	games, err := lib.Scan()
	if err != nil {
		return err
	}
	for _, game := range games {
		fmt.Printf("%-10s %-40s %8.2f GiB  %s\n",
			game.AppID, game.Name, float64(game.SizeOnDisk)/(1<<30), game.InstallPath)
	}
	return nil
}

func runUninstall(config Config) error {
	fs := afero.NewOsFs()
	lib, err := library.New(fs, []string{config.LibraryRoot}, log)
	if err != nil {
		return err
	}
	if _, err := lib.Scan(); err != nil {
		return err
	}
	if err := lib.Uninstall(config.AppID); err != nil {
		return err
	}
	if config.AppListDir != "" {
		if err := steamfiles.UnregisterAppIDs(fs, config.AppListDir, []string{config.AppID}); err != nil {
			log.WithError(err).Warn("Failed to remove wrapper applist entry")
		}
	}
	return nil
}
