// Package cli implements the command-line interface for wvsync.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kilupskalvis/wvsync/internal/config"
	"github.com/kilupskalvis/wvsync/internal/indexer"
	"github.com/kilupskalvis/wvsync/internal/journal"
	"github.com/kilupskalvis/wvsync/internal/metrics"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/registry"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/kilupskalvis/wvsync/internal/transform"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Registry *registry.Registry
	Client   weaviate.DocumentClient
	Indexer  *indexer.Indexer
	Journal  *journal.Journal
}

// Close releases resources held by cmdContext and pushes metrics when configured
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Journal != nil {
		c.Journal.Close()
	}

	if url := c.Config.Metrics.PushgatewayURL; url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Push(ctx, url, c.Config.Metrics.Job); err != nil {
			c.Logger.Warn("failed to push metrics", "url", url, "error", err)
		}
	}
}

// initContext loads the configuration (no store, no client)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	reg, err := registry.New(cfg.Collections)
	if err != nil {
		exitError("invalid collections: %v", err)
	}

	return &cmdContext{Config: cfg, Logger: newLogger(os.Stderr, logLevel, logFormat), Registry: reg}
}

// initFullContext opens the store, the journal and the document client, and
// attaches the indexer to the store
func initFullContext() *cmdContext {
	c := initContext()

	schema, err := buildSchema(c.Config)
	if err != nil {
		exitError("invalid entities: %v", err)
	}

	st, err := store.Open(c.Config.Database.Driver, c.Config.Database.DSN, schema)
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	c.Store = st

	j, err := journal.Open(c.Config.JournalPath())
	if err != nil {
		c.Close()
		exitError("failed to open journal: %v", err)
	}
	c.Journal = j

	client, err := newDocumentClient(c.Config, c.Logger)
	if err != nil {
		c.Close()
		exitError("failed to create Weaviate client: %v", err)
	}
	c.Client = client

	ix, err := indexer.New(c.Registry, transform.New(c.Registry), client, schema,
		indexer.WithRelatedEntities(relatedEntities(c.Config)),
		indexer.WithJournal(j),
		indexer.WithLogger(c.Logger),
	)
	if err != nil {
		c.Close()
		exitError("invalid related entities: %v", err)
	}
	c.Indexer = ix
	st.Subscribe(ix)

	return c
}

// newDocumentClient builds the client stack: Weaviate, optionally retried, instrumented
func newDocumentClient(cfg *config.Config, logger *slog.Logger) (weaviate.DocumentClient, error) {
	wc, err := weaviate.NewClient(cfg.WeaviateURL)
	if err != nil {
		return nil, err
	}

	var client weaviate.DocumentClient = wc
	if cfg.Retry.Enabled {
		client = weaviate.NewRetryClient(client, &weaviate.RetryConfig{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff(),
			MaxBackoff:     cfg.Retry.MaxBackoff(),
			JitterFraction: cfg.Retry.JitterFraction,
		})
	}
	return weaviate.NewInstrumentedClient(client, logger), nil
}

// buildSchema converts the configured entities into store metadata
func buildSchema(cfg *config.Config) (*store.Schema, error) {
	metas := make([]*store.EntityMeta, 0, len(cfg.Entities))
	for name, ec := range cfg.Entities {
		kt := store.KeyType(ec.KeyType)
		switch kt {
		case "", store.KeyInt, store.KeyUUID, store.KeyString:
		default:
			return nil, fmt.Errorf("entity %s: unknown key type %q", name, ec.KeyType)
		}
		metas = append(metas, &store.EntityMeta{
			Type:         models.EntityType(name),
			Table:        ec.Table,
			PrimaryKey:   ec.PrimaryKey,
			KeyType:      kt,
			Associations: ec.Associations,
		})
	}
	return store.NewSchema(metas...)
}

func relatedEntities(cfg *config.Config) map[models.EntityType][]string {
	related := make(map[models.EntityType][]string, len(cfg.RelatedEntities))
	for entity, keys := range cfg.RelatedEntities {
		related[models.EntityType(entity)] = keys
	}
	return related
}

// newLogger builds the slog logger selected by --log-level and --log-format
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:   "wvsync",
	Short: "Keep a Weaviate index in sync with a relational store",
	Long: `wvsync mirrors changes made to a relational store (SQLite or PostgreSQL)
into Weaviate collections, and maps search hits back to store records
in relevance order.`,
}

var (
	logLevel  string
	logFormat string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(collectionsCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
