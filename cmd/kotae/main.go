// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "setup":
		runSetup()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setupCommand loads config and creates the logger shared by every subcommand.
func setupCommand(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, ingestion, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setupCommand(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Provision(ctx); err != nil {
		logger.Fatal("Failed to provision index", zap.Error(err))
	}

	opts := []server.Option{server.WithLedger(components.Ledger), server.WithVectors(components.Vectors)}
	if len(cfg.Watch.Directories) > 0 {
		w := watcher.New(cfg.Watch, components.Indexer, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.Sync()
		opts = append(opts, server.WithWatch(w))
	}

	srv := server.NewServer(components.Engine, components.Indexer, cfg, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runSetup() {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	writeConfigPath := fs.String("write-config", "", "also write the effective config (without API keys) to this path")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setupCommand(*configPath, *debug)
	defer logger.Sync()

	if *writeConfigPath != "" {
		if err := writeConfig(*writeConfigPath, cfg); err != nil {
			fail("Failed to write config: %v", err)
		}
		fmt.Printf("Wrote config to %s\n", *writeConfigPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	created, err := components.Provision(ctx)
	if err != nil {
		fail("Setup failed: %v", err)
	}
	if created {
		fmt.Printf("Created index %s (%d dimensions, %s)\n", cfg.Vector.IndexName, cfg.Embedding.Dimensions, cfg.Vector.Metric)
		return
	}
	fmt.Printf("Index %s already exists\n", cfg.Vector.IndexName)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	format := fs.String("output", "text", "output format: text or json")
	setup := fs.Bool("setup", true, "create the index first when it does not exist")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fail("Usage: kotae ingest [flags] <file-or-directory>...")
	}
	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fail("%v", err)
	}

	cfg, logger := setupCommand(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	if *setup {
		if _, err := components.Provision(ctx); err != nil {
			fail("Failed to provision index: %v", err)
		}
	}

	results, err := ingestPaths(ctx, components, fs.Args())
	if werr := cli.WriteIngestResults(os.Stdout, results, outFormat); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		components.Close()
		fail("Ingestion failed: %v", err)
	}
}

// ingestPaths ingests each path in turn. Directories are walked with the configured
// extension filter; files named explicitly are ingested whatever their extension.
func ingestPaths(ctx context.Context, c *Components, paths []string) ([]*models.IngestResult, error) {
	var results []*models.IngestResult
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return results, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			res, err := c.Indexer.IngestDirectory(ctx, path, c.Config.Ingest.Extensions)
			results = append(results, res...)
			if err != nil {
				return results, err
			}
			continue
		}
		res, err := c.Indexer.IngestFile(ctx, path, nil)
		if err != nil {
			return results, fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces. Quotes are optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae ask what is the refund policy
  kotae ask -output json "who maintains the billing service?"
  kotae ask -server http://localhost:8080 how do I rotate keys
`)
}

// buildQuestion joins args into one question.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow positional arguments to the front so that
// "kotae ask what is x -output json" parses the flag.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = query the index directly)")
	format := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuestion(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fail("%v", err)
	}

	var answer *models.Answer
	if *serverURL != "" {
		answer, err = askViaHTTP(*serverURL, question)
		if err != nil {
			fail("Ask failed: %v", err)
		}
	} else {
		cfg, logger := setupCommand(*configPath, *debug)
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		components, err := initializeComponents(ctx, cfg, logger, true)
		if err != nil {
			fail("Failed to initialize: %v", err)
		}
		defer components.Close()

		answer, err = components.Engine.Ask(ctx, question)
		if err != nil {
			components.Close()
			fail("Ask failed: %v", err)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, answer, outFormat); err != nil {
		fail("Output failed: %v", err)
	}
}

func askViaHTTP(serverURL, question string) (*models.Answer, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Data *string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	answer := &models.Answer{Question: question}
	if out.Data != nil {
		answer.Matched = true
		answer.Text = *out.Data
	}
	return answer, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the local ledger)")
	format := fs.String("output", "text", "output format: text or json")
	recent := fs.Int("recent", 5, "number of recently ingested sources to list")
	_ = fs.Parse(os.Args[2:])

	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fail("%v", err)
	}

	var status *cli.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		cfg, logger := setupCommand(*configPath, false)
		defer logger.Sync()
		status, err = localStatus(context.Background(), cfg, *recent)
	}
	if err != nil {
		fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, outFormat); err != nil {
		fail("Output failed: %v", err)
	}
}

// localStatus reads counts from the ledger without touching the remote services.
func localStatus(ctx context.Context, cfg *config.Config, recent int) (*cli.Status, error) {
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	index := cfg.Vector.IndexName
	status := &cli.Status{Index: index, Provider: cfg.Vector.Provider}
	if status.Sources, err = ledger.CountSources(ctx, index); err != nil {
		return nil, err
	}
	if status.Chunks, err = ledger.CountChunks(ctx, index); err != nil {
		return nil, err
	}
	if recent > 0 {
		if status.Recent, err = ledger.ListSources(ctx, index, 0, recent); err != nil {
			return nil, err
		}
	}
	if usage, err := storage.MeasureDiskUsage(cfg.Storage.DatabasePath, cfg.Vector.MemoryPath); err == nil {
		status.DiskUsageBytes = usage.Total()
		status.LedgerBytes = usage.LedgerBytes
		status.VectorBytes = usage.VectorBytes
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (*cli.Status, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s cli.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`kotae - Question answering over your documents

Usage:
  kotae setup [flags]                 Create the vector index if it does not exist
  kotae ingest [flags] <path>...      Ingest files or directories
  kotae ask [flags] <question>        Answer a question from the ingested documents
  kotae server [flags]                Start the HTTP server (and directory watcher)
  kotae status [flags]                Show ingestion status
  kotae version                       Show version
  kotae help                          Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Setup Flags:
  --write-config string  Write the effective config (without API keys) to a file

Ingest Flags:
  --setup            Create the index first when missing (default: true)
  --output string    Output format: text or json (default: text)

Ask Flags:
  --server string    Server URL. Empty (default) queries the index directly.
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL. Empty (default) reads the local ledger.
  --recent int       Recently ingested sources to list (default: 5)
  --output string    Output format: text or json (default: text)

Environment:
  PINECONE_API_KEY, PINECONE_ENVIRONMENT, PINECONE_INDEX_NAME, INDEX_INIT_TIMEOUT,
  EMBEDDINGS_ORIGIN, EMBEDDINGS_API_KEY, QDRANT_URL, QDRANT_API_KEY,
  OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, KOTAE_DEBUG
  A .env file in the current directory is loaded first.

Examples:
  kotae setup
  kotae ingest ./docs handbook.pdf
  kotae ask what is our on-call rotation
  kotae ask -output json "how are refunds processed?"
  kotae server --debug
  kotae status --output json`)
}
