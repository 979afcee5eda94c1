package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/mtoivanen/librarian/cmd/importer"
	"github.com/mtoivanen/librarian/cmd/serve"
	"github.com/mtoivanen/librarian/internal/cache"
	"github.com/mtoivanen/librarian/internal/config"
	"github.com/mtoivanen/librarian/internal/orchestrator"
	"github.com/mtoivanen/librarian/internal/providers"
	"github.com/mtoivanen/librarian/internal/queue"
	"github.com/mtoivanen/librarian/internal/ratelimit"
	"github.com/mtoivanen/librarian/internal/warming"
	"github.com/spf13/viper"
)

// CLI represents the complete command structure for the librarian application
type CLI struct {
	// Global flags
	CacheDBFile string `help:"Path to metadata cache SQLite database file" default:"./cache.db"`
	QueueDBFile string `help:"Path to enrichment queue SQLite database file" default:"./queue.db"`

	Serve  ServeCmd  `cmd:"" help:"Run the metadata lookup and enrichment service"`
	Import ImportCmd `cmd:"" help:"Import a library export CSV into the enrichment queue"`
	Warm   WarmCmd   `cmd:"" help:"Run one cache warming cycle for the configured authors"`
	Cache  CacheCmd  `cmd:"" help:"Manage the metadata cache"`
}

// ServeCmd runs the HTTP service with the enrichment worker pool.
type ServeCmd struct {
	Listen  string `short:"l" help:"Address to listen on" default:":8080"`
	Workers int    `help:"Number of enrichment workers (overrides queue.workers)"`
}

// ImportCmd loads a library export CSV into the queue.
type ImportCmd struct {
	Input string `short:"f" help:"Path to library export CSV file" required:""`
}

// WarmCmd runs a single warming cycle and exits.
type WarmCmd struct {
	Authors []string `short:"a" help:"Authors to warm (defaults to warming.authors from config)"`
}

// CacheCmd groups cache management subcommands.
type CacheCmd struct {
	Invalidate InvalidateCmd `cmd:"" help:"Drop cached entries under a key prefix"`
}

// InvalidateCmd drops cache entries by prefix.
type InvalidateCmd struct {
	Prefix string `arg:"" help:"Cache key prefix to invalidate (e.g. 'works:andy weir')"`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging()
	initConfig()

	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("librarian"),
		kong.Description("Book metadata lookup service with a durable enrichment queue."),
		kong.UsageOnError(),
	)

	updateGlobalConfig(&cli)

	err := ctx.Run(&cli)
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Cache defaults
	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl.short", "6h")
	viper.SetDefault("cache.ttl.medium", "72h")
	viper.SetDefault("cache.ttl.long", "720h")

	// Queue defaults
	viper.SetDefault("queue.dbfile", "./queue.db")
	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.maxretries", 3)

	// Search defaults
	viper.SetDefault("search.language", "en")
	viper.SetDefault("search.adaptertimeout", "10s")

	// ISBNdb budget: shared daily call allowance for the identifier source
	viper.SetDefault("isbndb.dailybudget", 500)

	// Enable environment variable support
	viper.AutomaticEnv()
	if err := viper.BindEnv("ISBNdbAPIKey", "ISBNDB_API_KEY"); err != nil {
		slog.Error("Failed to bind environment variable", "error", err)
	}
	if err := viper.BindEnv("GoogleBooksAPIKey", "GOOGLE_BOOKS_API_KEY"); err != nil {
		slog.Error("Failed to bind environment variable", "error", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("Config file not found, writing default config file...")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}

	// Initialize global config
	config.InitConfig()
}

func updateGlobalConfig(cli *CLI) {
	viper.Set("cache.dbfile", cli.CacheDBFile)
	viper.Set("queue.dbfile", cli.QueueDBFile)
}

// newResolver builds the orchestrator over the three standard sources and
// the given cache store.
func newResolver(store *cache.Store) *orchestrator.Resolver {
	budget := ratelimit.NewBudget("isbndb-daily", viper.GetInt("isbndb.dailybudget"), 24*time.Hour)
	return orchestrator.New(
		store,
		providers.NewOpenLibraryProvider(),
		providers.NewGoogleBooksProvider(),
		providers.NewISBNdbProvider(budget),
	)
}

// openCacheStore opens the metadata cache, degrading to no cache on failure
// so the service still answers lookups during a cache outage.
func openCacheStore() *cache.Store {
	store, err := cache.NewStore(viper.GetString("cache.dbfile"))
	if err != nil {
		slog.Warn("Cache unavailable, lookups will not be cached", "error", err)
		return nil
	}
	return store
}

func (s *ServeCmd) Run(cli *CLI) error {
	store := openCacheStore()
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	resolver := newResolver(store)

	q, err := queue.Open(viper.GetString("queue.dbfile"), queue.Options{
		MaxRetries: config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	config.SetWorkerCount(s.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := queue.NewPool(q, resolver, queue.PoolOptions{Workers: config.WorkerCount})
	pool.Start(ctx)

	if authors := viper.GetStringSlice("warming.authors"); len(authors) > 0 {
		warmer := warming.New(resolver, authors)
		go warmer.Run(ctx)
	}

	server := &http.Server{
		Addr:              s.Listen,
		Handler:           serve.NewServer(resolver, q).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("Listening", "addr", s.Listen, "workers", config.WorkerCount)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	pool.Wait()
	return nil
}

func (i *ImportCmd) Run(cli *CLI) error {
	q, err := queue.Open(viper.GetString("queue.dbfile"), queue.Options{
		MaxRetries: config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	ids, err := importer.Import(q, i.Input)
	if err != nil {
		return err
	}
	slog.Info("Import complete", "entries", len(ids))
	return nil
}

func (w *WarmCmd) Run(cli *CLI) error {
	authors := w.Authors
	if len(authors) == 0 {
		authors = viper.GetStringSlice("warming.authors")
	}
	if len(authors) == 0 {
		return fmt.Errorf("no authors to warm (provide via --authors flag or warming.authors in config)")
	}

	store := openCacheStore()
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	warming.New(newResolver(store), authors).WarmOnce(context.Background())
	return nil
}

func (c *InvalidateCmd) Run(cli *CLI) error {
	store, err := cache.NewStore(viper.GetString("cache.dbfile"))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() { _ = store.Close() }()

	deleted, err := store.Invalidate(c.Prefix)
	if err != nil {
		return err
	}
	slog.Info("Cache entries invalidated", "prefix", c.Prefix, "deleted", deleted)
	return nil
}

func initLogging() {
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: slog.LevelInfo,
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}
