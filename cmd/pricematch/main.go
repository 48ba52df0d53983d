// Package main is the pricematch CLI entry point.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/config"
	"github.com/openbid/pricematch/internal/embedding"
	"github.com/openbid/pricematch/internal/engine"
	"github.com/openbid/pricematch/internal/extract"
	"github.com/openbid/pricematch/internal/files"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/server"
	"github.com/openbid/pricematch/internal/session"
	"github.com/openbid/pricematch/internal/storage"
	"github.com/openbid/pricematch/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/pricematch/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("pricematch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var inbox *files.InboxWatcher
	if len(cfg.Watch.Directories) > 0 {
		manager := components.Files
		inbox = files.NewInboxWatcher(
			cfg.Watch.Directories,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				kind := kindForPath(path)
				if _, err := manager.Ingest(context.Background(), kind, path); err != nil {
					logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			logger,
		)
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		inbox.SyncExisting()
	}

	srv := server.NewServer(
		components.Engine,
		components.Files,
		components.Sessions,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Expired sessions accumulate in SQLite until someone sweeps.
	go sweepSessions(watchCtx, components.Sessions, cfg.Matching.SessionTTL.Std(), logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	if inbox != nil {
		inbox.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// kindForPath classifies an inbox drop by its directory: anything under a
// "ref" folder is a reference catalog, everything else a working file.
func kindForPath(path string) files.Kind {
	for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
		if strings.EqualFold(part, "ref") || strings.EqualFold(part, "reference") {
			return files.KindReference
		}
	}
	return files.KindWorking
}

func sweepSessions(ctx context.Context, store session.Store, ttl time.Duration, logger *zap.Logger) {
	cleaner, ok := store.(interface {
		Cleanup(ctx context.Context) (int64, error)
	})
	if !ok {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cleaner.Cleanup(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Debug("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	wfPath := fs.String("wf", "", "working file (.xlsx) with offer descriptions")
	refPath := fs.String("ref", "", "reference file (.xlsx) with priced catalog")
	sheet := fs.String("wf-sheet", "", "working file sheet (default: first)")
	refSheet := fs.String("ref-sheet", "", "reference file sheet (default: first)")
	descCol := fs.String("wf-desc-col", "B", "working file description column")
	wfStart := fs.Int("wf-start", 2, "working file first description row")
	wfEnd := fs.Int("wf-end", 0, "working file last description row (required)")
	priceCol := fs.String("wf-price-col", "D", "working file column to write prices into")
	reportCol := fs.String("wf-report-col", "", "working file column for review notes (optional)")
	refDescCol := fs.String("ref-desc-col", "A", "reference file description column")
	refPriceCol := fs.String("ref-price-col", "C", "reference file unit price column")
	refStart := fs.Int("ref-start", 2, "reference file first row")
	refEnd := fs.Int("ref-end", 0, "reference file last row (required)")
	threshold := fs.Float64("threshold", 0, "similarity threshold override in [-1, 1] (default: from config)")
	outPath := fs.String("out", "", "output path for the priced copy (default: <wf>_priced.xlsx)")
	_ = fs.Parse(os.Args[2:])

	if *wfPath == "" || *refPath == "" || *wfEnd == 0 || *refEnd == 0 {
		fmt.Println("Usage: pricematch match --wf offer.xlsx --wf-end N --ref catalog.xlsx --ref-end M [flags]")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// One-shot runs keep everything in memory; nothing needs to survive the
	// process.
	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	wfData, err := os.ReadFile(*wfPath)
	if err != nil {
		fmt.Printf("Failed to read working file: %v\n", err)
		os.Exit(1)
	}
	refData, err := os.ReadFile(*refPath)
	if err != nil {
		fmt.Printf("Failed to read reference file: %v\n", err)
		os.Exit(1)
	}

	wfRows, err := extract.Descriptions(wfData, *sheet, *descCol,
		models.CellRange{Start: *wfStart, End: *wfEnd})
	if err != nil {
		fmt.Printf("Working file: %v\n", err)
		os.Exit(1)
	}
	catalogRows, err := extract.Catalog(refData, *refSheet, *refDescCol, *refPriceCol,
		models.CellRange{Start: *refStart, End: *refEnd})
	if err != nil {
		fmt.Printf("Reference file: %v\n", err)
		os.Exit(1)
	}

	wfItems := make([]models.DescriptionItem, len(wfRows))
	for i, row := range wfRows {
		wfItems[i] = models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text}
	}
	refItems := make([]models.CatalogEntry, len(catalogRows))
	for i, row := range catalogRows {
		refItems[i] = models.CatalogEntry{
			DescriptionItem: models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text},
			UnitPrice:       row.UnitPrice,
		}
	}

	out, err := components.Engine.RunMatch(context.Background(), wfItems, refItems,
		thresholdOverride(fs, threshold))
	if err != nil {
		fmt.Printf("Match failed: %v\n", err)
		os.Exit(1)
	}

	priced, err := extract.WritePrices(wfData, *sheet, *priceCol, *reportCol, out.Results)
	if err != nil {
		fmt.Printf("Writing prices failed: %v\n", err)
		os.Exit(1)
	}
	target := *outPath
	if target == "" {
		target = strings.TrimSuffix(*wfPath, filepath.Ext(*wfPath)) + "_priced.xlsx"
	}
	if err := os.WriteFile(target, priced, 0644); err != nil {
		fmt.Printf("Writing output failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Priced copy written: %s\n", target)
	fmt.Printf("rows:       %d\n", out.Summary.Total)
	fmt.Printf("matched:    %d\n", out.Summary.Matched)
	fmt.Printf("unmatched:  %d\n", out.Summary.Unmatched)
	fmt.Printf("ambiguous:  %d\n", out.Summary.Ambiguous)
	for _, res := range out.Results {
		if res.Status == "unmatched" && res.Reason != "" {
			fmt.Printf("  row %d: %s\n", res.WFRowIndex, res.Reason)
		}
	}
}

// thresholdOverride returns the threshold only when the flag was given on the
// command line. Zero is a valid threshold, so presence is keyed on the flag
// being set rather than on its value.
func thresholdOverride(fs *flag.FlagSet, threshold *float64) *float64 {
	var override *float64
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			override = threshold
		}
	})
	return override
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}

// Components holds initialized services.
type Components struct {
	DB       *sql.DB
	Embedder embedding.Embedder
	Files    *files.Manager
	Sessions session.Store
	Engine   *engine.Engine
}

func (c *Components) Close() {
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// initializeComponents wires the embedder, stores, and engine. persistent
// selects the SQLite session store; one-shot commands use the memory store.
func initializeComponents(cfg *config.Config, logger *zap.Logger, persistent bool) (*Components, error) {
	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using deterministic fallback", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	manager, err := files.NewManager(db, cfg.Storage.UploadDir, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var sessions session.Store
	if persistent {
		sessions, err = session.NewSQLiteStore(db, cfg.Matching.SessionTTL.Std())
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		sessions = session.NewMemoryStore(cfg.Matching.SessionTTL.Std())
	}

	batcher := embedding.NewBatcher(embedder, cfg.Embedding.BatchSize, cfg.Embedding.BatchTimeout.Std())
	eng := engine.New(batcher, sessions, engine.Options{
		Threshold:  cfg.Matching.Threshold,
		TieEpsilon: cfg.Matching.TieEpsilon,
	}, logger)

	return &Components{
		DB:       db,
		Embedder: embedder,
		Files:    manager,
		Sessions: sessions,
		Engine:   eng,
	}, nil
}

func printUsage() {
	fmt.Println(`pricematch - semantic offer-to-catalog price matching

Usage:
  pricematch server [flags]   Start the HTTP server
  pricematch match [flags]    One-shot local match: price a working file
  pricematch status [flags]   Show server status
  pricematch version          Show version
  pricematch help             Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/pricematch/config.yaml)
  --debug            Enable debug logging

Match Flags:
  --wf string             Working file (.xlsx) with offer descriptions
  --wf-sheet string       Working file sheet (default: first)
  --wf-desc-col string    Description column (default: B)
  --wf-start int          First description row (default: 2)
  --wf-end int            Last description row (required)
  --wf-price-col string   Column to write prices into (default: D)
  --wf-report-col string  Column for review notes (optional)
  --ref string            Reference file (.xlsx) with priced catalog
  --ref-sheet string      Reference sheet (default: first)
  --ref-desc-col string   Catalog description column (default: A)
  --ref-price-col string  Catalog unit price column (default: C)
  --ref-start int         First catalog row (default: 2)
  --ref-end int           Last catalog row (required)
  --threshold float       Similarity threshold override in [-1, 1]
  --out string            Output path (default: <wf>_priced.xlsx)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)

Examples:
  pricematch server
  pricematch match --wf offer.xlsx --wf-end 120 --ref catalog.xlsx --ref-end 900
  pricematch match --wf offer.xlsx --wf-end 120 --ref catalog.xlsx --ref-end 900 --threshold 0.75 --wf-report-col F
  pricematch status`)
}
