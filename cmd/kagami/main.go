// Package main is the Kagami CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/indexer"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/hyperjump/kagami/internal/storage"
	"github.com/hyperjump/kagami/internal/vector"
	"github.com/hyperjump/kagami/internal/watcher"
	"github.com/hyperjump/kagami/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kagami/config.yaml"
	defaultServerURL  = "http://localhost:8000"
	indexErrorSample  = 5
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present; when neither file exists the config comes from the environment.
// Returns the config and the path that was loaded ("" for environment-only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			return cfg, "", err
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
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "stats":
		runStats()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("base_path", cfg.Paths.BasePath),
		zap.String("store", cfg.Store.Type),
		zap.Bool("debug", debugMode),
	)
	if err := cfg.ValidateEmbedding(); err != nil {
		logger.Warn("embedding provider not configured; searches will fail until it is", zap.Error(err))
	}

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watchSvc := newWatcher(cfg, components, logger, debugMode)
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		cfg,
		components.Sandbox,
		components.Store,
		components.Indexer,
		components.Orchestrator,
		logger,
		watchSvc,
		resolvedConfigPath,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newWatcher binds each configured directory that resolves inside the base path to its collection.
func newWatcher(cfg *config.Config, c *Components, logger *zap.Logger, debug bool) *watcher.Watcher {
	var roots []config.WatchDirectory
	for _, d := range cfg.Watch.Directories {
		abs, err := c.Sandbox.ResolveForIndex(d.Path)
		if err != nil {
			logger.Warn("skipping watch directory", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		roots = append(roots, config.WatchDirectory{Path: abs, Collection: d.Collection})
	}
	opts := []watcher.WatcherOption{watcher.WithDebounce(cfg.Watch.Debounce)}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	idx := c.Indexer
	return watcher.NewWatcher(
		roots,
		indexer.ImageExtensions,
		func(path, collection string) {
			if err := idx.IndexFile(context.Background(), path, collection); err != nil {
				logger.Warn("watch index file failed", zap.String("path", path), zap.String("collection", collection), zap.Error(err))
			}
		},
		func(path, collection string) {
			if err := idx.RemoveFile(context.Background(), path, collection); err != nil {
				logger.Warn("watch remove file failed", zap.String("path", path), zap.String("collection", collection), zap.Error(err))
			}
		},
		opts...,
	)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kagami search [flags] <query text>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Use -image to search by an image under the base path instead.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kagami search dog on a beach
  kagami search -top-k 20 "red car"
  kagami search -image holiday/IMG_0042.jpg
  kagami search -output json sunset          # same JSON as the HTTP API
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
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

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	fs.Usage = func() { printSearchUsage(fs) }
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search the store directly)")
	imagePath := fs.String("image", "", "search by the image at this path instead of text")
	topK := fs.Int("top-k", 10, "number of results")
	collection := fs.String("collection", "", "collection name (default from config)")
	output := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(searchArgs)

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fatalf("%v", err)
	}
	query := buildSearchQuery(fs.Args())
	if query == "" && *imagePath == "" {
		fs.Usage()
		os.Exit(1)
	}
	label := query
	if label == "" {
		label = *imagePath
	}

	var hits []models.SearchHit
	if *serverURL != "" {
		hits, err = searchViaHTTP(*serverURL, models.SearchRequest{
			QueryText:      query,
			QueryImagePath: *imagePath,
			TopK:           topK,
			CollectionName: *collection,
		})
	} else {
		hits, err = searchDirect(*configPath, query, *imagePath, *collection, *topK)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, label, hits, format); err != nil {
		fatalf("Write results: %v", err)
	}
}

func searchDirect(configPath, query, imagePath, collection string, k int) ([]models.SearchHit, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	components, err := initializeComponents(cfg, zap.NewNop(), false)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if collection == "" {
		collection = cfg.Store.DefaultCollection
	}
	k = models.ClampTopK(k, cfg.Search.MaxTopK)
	ctx := context.Background()
	if query != "" {
		return components.Orchestrator.Text(ctx, query, collection, k)
	}
	return components.Orchestrator.ImagePath(ctx, imagePath, collection, k)
}

func searchViaHTTP(serverURL string, req models.SearchRequest) ([]models.SearchHit, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	hits := make([]models.SearchHit, len(out.Results))
	for i, r := range out.Results {
		hits[i] = models.SearchHit{Path: r.Path, Score: r.Score, Rank: r.Rank}
	}
	return hits, nil
}

// responseError turns a non-2xx API response into an error carrying its message.
func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	collection := fs.String("collection", "", "collection name (default from config)")
	keep := fs.Bool("keep", false, "upsert into the collection instead of replacing it")
	dimension := fs.Int("dimension", 0, "embedding dimension: 128, 256, 512 or 1408 (default from config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	folder := models.DefaultIndexFolder
	if fs.NArg() > 0 {
		folder = fs.Arg(0)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, true)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()

	if *collection == "" {
		*collection = cfg.Store.DefaultCollection
	}
	outcome, err := components.Indexer.IndexFolder(context.Background(), folder, *collection, !*keep, *dimension)
	if outcome != nil {
		cli.WriteIndexOutcome(os.Stdout, outcome, indexErrorSample)
	}
	if err != nil {
		fatalf("Index failed: %v", err)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the store directly)")
	collection := fs.String("collection", "", "collection name (default from config)")
	output := fs.String("output", "text", "output format: text or json")
	all := fs.Bool("all", false, "list every collection")
	_ = fs.Parse(os.Args[2:])

	if *all {
		runCollections(*configPath, *serverURL, *output)
		return
	}

	var stats *models.StatsResponse
	var err error
	if *serverURL != "" {
		stats, err = statsViaHTTP(*serverURL, *collection)
	} else {
		stats, err = statsDirect(*configPath, *collection)
	}
	if err != nil {
		fatalf("Stats failed: %v", err)
	}
	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return
	}
	cli.WriteStats(os.Stdout, stats)
}

func statsDirect(configPath, collection string) (*models.StatsResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	components, err := initializeComponents(cfg, zap.NewNop(), false)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if collection == "" {
		collection = cfg.Store.DefaultCollection
	}
	ctx := context.Background()
	coll, err := components.Store.GetOrCreate(ctx, collection)
	if err != nil {
		return nil, err
	}
	count, err := components.Store.Count(ctx, collection)
	if err != nil {
		return nil, err
	}
	stats := &models.StatsResponse{
		CollectionName:     collection,
		TotalImages:        count,
		EmbeddingDimension: coll.Dimension,
		StoreType:          components.Store.Type(),
	}
	if stats.EmbeddingDimension == 0 {
		stats.EmbeddingDimension = cfg.Embedding.Dimension
	}
	if stats.StoreType != string(vector.StoreTypeChroma) {
		if n, err := storage.DiskUsageBytes(cfg.Store.Dir); err == nil {
			stats.DiskUsageBytes = &n
		}
	}
	return stats, nil
}

func runCollections(configPath, serverURL, output string) {
	var resp *models.CollectionsResponse
	var err error
	if serverURL != "" {
		resp, err = collectionsViaHTTP(serverURL)
	} else {
		resp, err = collectionsDirect(configPath)
	}
	if err != nil {
		fatalf("Stats failed: %v", err)
	}
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}
	cli.WriteCollections(os.Stdout, resp)
}

func collectionsDirect(configPath string) (*models.CollectionsResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	components, err := initializeComponents(cfg, zap.NewNop(), false)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	summaries, err := vector.Summaries(context.Background(), components.Store)
	if err != nil {
		return nil, err
	}
	return &models.CollectionsResponse{Collections: summaries, StoreType: components.Store.Type()}, nil
}

func collectionsViaHTTP(serverURL string) (*models.CollectionsResponse, error) {
	resp, err := http.Get(serverURL + "/collections")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var out models.CollectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func statsViaHTTP(serverURL, collection string) (*models.StatsResponse, error) {
	u := serverURL + "/stats"
	if collection != "" {
		u += "?collection_name=" + url.QueryEscape(collection)
	}
	resp, err := http.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var out models.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kagami watch <add|remove|list> [flags] [path]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	collection := fs.String("collection", "", "collection kept in sync with the directory (add only)")
	noSync := fs.Bool("no-sync", false, "do not index files already in the directory (add only)")
	_ = fs.Parse(searchArgsReorder(os.Args[3:]))

	var err error
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: kagami watch add [-collection name] <path>")
		}
		syncExisting := !*noSync
		err = watchRequest(http.MethodPost, *serverURL+"/watch/directories", map[string]any{
			"path":       fs.Arg(0),
			"collection": *collection,
			"sync":       syncExisting,
		}, http.StatusCreated)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: kagami watch remove <path>")
		}
		err = watchRequest(http.MethodDelete, *serverURL+"/watch/directories?path="+url.QueryEscape(fs.Arg(0)), nil, http.StatusOK)
	case "list":
		err = watchList(*serverURL)
	default:
		fatalf("Unknown watch command: %s", sub)
	}
	if err != nil {
		fatalf("watch %s: %v", sub, err)
	}
}

func watchRequest(method, target string, body any, want int) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return responseError(resp)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	fmt.Printf("%s %s\n", out["status"], out["path"])
	return nil
}

func watchList(serverURL string) error {
	resp, err := http.Get(serverURL + "/watch/directories")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	var out struct {
		Directories []config.WatchDirectory `json:"directories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	for _, d := range out.Directories {
		fmt.Printf("%s\t%s\n", d.Path, d.Collection)
	}
	return nil
}

// Components holds everything built from a config. Close releases the store and provider.
type Components struct {
	Sandbox      *sandbox.Sandbox
	Store        vector.Store
	Provider     embedding.Provider
	Locks        *vector.CollectionLocks
	Indexer      *indexer.Indexer
	Orchestrator *search.Orchestrator
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	sb, err := sandbox.New(cfg.Paths.BasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: base path: %v", config.ErrConfiguration, err)
	}
	store, err := vector.NewStore(vector.Options{
		Type:      cfg.Store.Type,
		Dir:       cfg.Store.Dir,
		ChromaURL: cfg.Store.ChromaURL,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	logger.Info("vector store initialized", zap.String("type", store.Type()), zap.String("dir", cfg.Store.Dir))

	provider := newProvider(cfg, logger)
	locks := vector.NewCollectionLocks()

	idxOpts := []indexer.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	idx := indexer.NewIndexer(sb, store, provider, locks, idxOpts...)
	orch := search.NewOrchestrator(sb, store, provider, locks,
		search.WithLogger(logger),
		search.WithMaxBatchQueries(cfg.Search.MaxBatchQueries),
		search.WithBatchConcurrency(cfg.Search.BatchConcurrency),
	)
	return &Components{
		Sandbox:      sb,
		Store:        store,
		Provider:     provider,
		Locks:        locks,
		Indexer:      idx,
		Orchestrator: orch,
	}, nil
}

// newProvider returns the configured embedding provider. It is built on first use, after the
// embedding settings validate, so the server starts without credentials and reports them on /health.
func newProvider(cfg *config.Config, logger *zap.Logger) embedding.Provider {
	e := cfg.Embedding
	lazy := embedding.NewLazyProvider(e.Dimension, func(ctx context.Context) (embedding.Provider, error) {
		if err := cfg.ValidateEmbedding(); err != nil {
			return nil, err
		}
		if e.Provider == "mock" {
			logger.Warn("using mock embedding provider")
			return embedding.NewMockProvider(e.Dimension), nil
		}
		return embedding.NewVertexProvider(embedding.VertexConfig{
			CredentialsFile:   e.CredentialsFile,
			ProjectID:         e.ProjectID,
			Location:          e.Location,
			Model:             e.Model,
			Dimension:         e.Dimension,
			Timeout:           e.Timeout,
			RequestsPerSecond: e.RequestsPerSecond,
		}, embedding.WithLogger(logger))
	})
	return embedding.NewCachedProvider(lazy, e.CacheSize)
}

func printUsage() {
	fmt.Println(`kagami - image similarity search over a multimodal embedding index

Usage:
  kagami server [flags]                Start the HTTP server
  kagami index [flags] [folder]        Index the images in a folder (default: ` + models.DefaultIndexFolder + `)
  kagami search [flags] <query>        Search by text, or by image with -image
  kagami stats [flags]                 Show collection statistics
  kagami watch <add|remove|list>       Manage watched directories on a running server
  kagami version                       Show version
  kagami help                          Show this help

Server Flags:
  --config string    Config file path (default: ` + defaultConfigPath + `, then ./config.yaml, then environment)
  --debug            Enable debug logging

Index Flags:
  --config string      Config file path
  --collection string  Collection name (default from config)
  --keep               Upsert instead of replacing the collection
  --dimension int      Embedding dimension: 128, 256, 512 or 1408

Search Flags:
  --server string      Server URL (default: ` + defaultServerURL + `). Use --server "" to search the store directly.
  --image string       Search by an image under the base path
  --top-k int          Number of results (default: 10)
  --collection string  Collection name
  --output string      text, compact or json (default: text)

Stats Flags:
  --server string      Server URL. Use --server "" to read the store directly.
  --collection string  Collection name
  --all                List every collection with its image count
  --output string      text or json

Environment:
  GOOGLE_APPLICATION_CREDENTIALS, GCP_PROJECT_ID, GCP_LOCATION, IMAGE_BASE_PATH,
  KAGAMI_STORE_DIR (or CHROMA_PERSIST_DIR), KAGAMI_STORE_TYPE, KAGAMI_CHROMA_URL

Examples:
  kagami server
  kagami index photos/holiday -collection holiday
  kagami search dog on a beach
  kagami search -image photos/holiday/IMG_0042.jpg -top-k 5
  kagami stats -collection holiday
  kagami stats -all
  kagami watch add -collection holiday photos/holiday
  kagami version`)
}
