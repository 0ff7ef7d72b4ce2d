// Package main is the omoide CLI entry point.
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/config"
	"github.com/hyperjump/omoide/internal/embedding"
	"github.com/hyperjump/omoide/internal/ingest"
	"github.com/hyperjump/omoide/internal/keyword"
	"github.com/hyperjump/omoide/internal/memstore"
	"github.com/hyperjump/omoide/internal/models"
	"github.com/hyperjump/omoide/internal/orchestrator"
	"github.com/hyperjump/omoide/internal/server"
	"github.com/hyperjump/omoide/internal/skills"
	"github.com/hyperjump/omoide/internal/storage"
	"github.com/hyperjump/omoide/internal/tiers"
	"github.com/hyperjump/omoide/internal/vector"
	"github.com/hyperjump/omoide/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/omoide/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so development runs pick up the
// project config.
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
	case "store":
		runStore()
	case "retrieve":
		runRetrieve()
	case "inject":
		runInject()
	case "reconcile":
		runReconcile()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("omoide version %s\n", version)
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

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Skills.WatchManifest {
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := components.Skills.Watch(watchCtx, cfg.Skills.ManifestPath); err != nil {
			logger.Warn("skills manifest watch failed", zap.Error(err))
		}
	}

	srv := server.NewServer(components.Orchestrator, components.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if err := components.LongTerm.Flush(); err != nil {
		logger.Warn("final flush failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runStore() {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:7990", "server URL")
	memoryType := fs.String("type", "episodic", "memory type (episodic, semantic, ltm_preference, kg_relation, ...)")
	metaJSON := fs.String("metadata", "", "metadata as a JSON object")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omoide store [flags] <text>")
		os.Exit(1)
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))

	params := map[string]any{"text": text}
	if *metaJSON != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(*metaJSON), &meta); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid metadata JSON: %v\n", err)
			os.Exit(1)
		}
		params["metadata"] = meta
	}

	envelope, err := postViaHTTP(*serverURL+"/store", models.StoreRequest{
		MemoryType: *memoryType,
		Params:     params,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(envelope.Data)
}

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:7990", "server URL")
	memoryType := fs.String("type", "episodic", "memory type")
	k := fs.Int("k", memstore.DefaultK, "number of results")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omoide retrieve [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))

	envelope, err := postViaHTTP(*serverURL+"/retrieve", models.RetrieveRequest{
		MemoryType: *memoryType,
		Params:     map[string]any{"query": query, "k": *k},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(envelope.Data)
}

func runInject() {
	fs := flag.NewFlagSet("inject", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: omoide inject [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

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

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	injector := ingest.NewInjector(components.LongTerm, logger)
	report, err := injector.InjectFile(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Injection failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.LongTerm.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Flush failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Injected %d chunk(s) from %s (doc_id %s)\n", report.Chunks, report.Source, report.DocID)
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

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

	// Repair mode: a map entry beyond the index end is exactly what this
	// command removes, so the startup validation that rejects it is skipped.
	components, err := initializeComponents(cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	report, err := components.LongTerm.Reconcile(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("scanned:              %d\n", report.Scanned)
	fmt.Printf("dropped_missing_row:  %d\n", report.DroppedMissingRow)
	fmt.Printf("dropped_beyond_end:   %d\n", report.DroppedBeyondEnd)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:7990", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	printJSON(envelope.Data)
}

func postViaHTTP(url string, payload any) (*models.APIResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error)
	}
	return &envelope, nil
}

func printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds the initialized services.
type Components struct {
	Storage      *storage.SQLiteStore
	Embedder     embedding.Embedder
	LongTerm     *memstore.Store
	ShortTerm    *tiers.ShortTerm
	KeywordIndex keyword.Index
	Skills       *skills.Registry
	Orchestrator *orchestrator.Orchestrator
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.ShortTerm != nil {
		c.ShortTerm.Close()
	}
}

// newEmbedder builds the configured embedding provider, falling back to the
// mock when the configured one cannot start, and wraps it in the cache.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Embedding.Provider {
	case "onnx":
		onnxEmbedder, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
		)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock", zap.Error(err))
			inner = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
		} else {
			inner = onnxEmbedder
		}
	case "mock":
		inner = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	default: // "http"
		httpEmbedder, err := embedding.NewHTTPEmbedder(embedding.HTTPOptions{
			ServiceURL:        cfg.Embedding.ServiceURL,
			Model:             cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			Timeout:           time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		inner = httpEmbedder
	}
	return embedding.NewCachedEmbedder(inner, cfg.Embedding.CacheSize)
}

// initializeComponents wires the service components. repair opens the memory
// store without startup consistency validation so reconciliation can run
// against a store the server would refuse to serve.
func initializeComponents(cfg *config.Config, logger *zap.Logger, repair bool) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	index, err := vector.LoadFlatIndex(cfg.Storage.IndexSnapshotPath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	var kw keyword.Index
	if cfg.Keyword.Enabled {
		bleveIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		kw = bleveIndex
	}

	longTerm, err := memstore.Open(memstore.Options{
		Embedder:       embedder,
		Index:          index,
		Metadata:       store,
		IndexPath:      cfg.Storage.IndexSnapshotPath,
		MappingPath:    cfg.Storage.PositionMapPath,
		Keyword:        kw,
		Logger:         logger,
		SkipValidation: repair,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	shortTerm, err := tiers.NewShortTerm(
		int64(cfg.Memory.MaxConversations),
		time.Duration(cfg.Memory.ShortTermTTLSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize short-term memory: %w", err)
	}

	registry := skills.NewDefaultRegistry(logger)
	if _, err := os.Stat(cfg.Skills.ManifestPath); err == nil {
		if err := registry.LoadManifest(cfg.Skills.ManifestPath); err != nil {
			logger.Warn("skills manifest load failed", zap.Error(err))
		}
	} else {
		logger.Info("no skills manifest, skills disabled",
			zap.String("path", cfg.Skills.ManifestPath))
	}

	orch := orchestrator.New(longTerm, shortTerm, tiers.NewWorking(), store, registry, kw, cfg.Memory.DefaultK, logger)

	return &Components{
		Storage:      store,
		Embedder:     embedder,
		LongTerm:     longTerm,
		ShortTerm:    shortTerm,
		KeywordIndex: kw,
		Skills:       registry,
		Orchestrator: orch,
	}, nil
}

func printUsage() {
	fmt.Println(`omoide - agent memory service

Usage:
  omoide server [flags]             Start the HTTP server
  omoide store [flags] <text>       Store a memory via the server
  omoide retrieve [flags] <query>   Retrieve memories via the server
  omoide inject [flags] <file>      Extract, chunk and store a document (direct storage)
  omoide reconcile [flags]          Drop unresolvable position map entries (direct storage)
  omoide status [flags]             Show store status via the server
  omoide version                    Show version
  omoide help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/omoide/config.yaml)
  --debug            Enable debug logging

Store Flags:
  --server string    Server URL (default: http://localhost:7990)
  --type string      Memory type (default: episodic)
  --metadata string  Metadata as a JSON object

Retrieve Flags:
  --server string    Server URL (default: http://localhost:7990)
  --type string      Memory type (default: episodic)
  --k int            Number of results (default: 5)

Examples:
  omoide server
  omoide store --type semantic "the standup moved to 9:30"
  omoide retrieve --type episodic --k 3 "what did we deploy"
  omoide inject notes/design.pdf
  omoide reconcile
  omoide status`)
}
