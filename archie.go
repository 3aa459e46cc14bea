// Package archie provides a library for ingesting Git repositories, building
// a hybrid search index over their content, deriving a code knowledge graph,
// and answering conversational queries grounded in both (spec §§4.1-4.5).
//
// Basic usage:
//
//	client, err := archie.New(
//	    archie.WithSQLite(".archie/data.db"),
//	    archie.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	    archie.WithAnthropic(os.Getenv("ANTHROPIC_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	r, err := client.Repositories.Save(ctx, repo.Repository{} /* ... */)
//	status, err := client.Ingestion.IndexRepository(ctx, r.ID(), token)
package archie

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/archie-dev/archie/application/service"
	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/graph"
	"github.com/archie-dev/archie/domain/llm"
	"github.com/archie-dev/archie/domain/repo"
	"github.com/archie-dev/archie/domain/search"
	"github.com/archie-dev/archie/infrastructure/eventbus"
	"github.com/archie-dev/archie/infrastructure/git"
	"github.com/archie-dev/archie/infrastructure/persistence"
	"github.com/archie-dev/archie/infrastructure/provider"
	"github.com/archie-dev/archie/internal/config"
	"github.com/archie-dev/archie/internal/database"
)

// Client is the main entry point for the archie library. It wires the three
// application services named in §4 to a chosen backing database and model
// providers. Access resources via struct fields:
//
//	client.Repositories.GetByID(ctx, id)
//	client.Ingestion.IndexRepository(ctx, id, token)
//	client.Graph.BuildKnowledgeGraph(ctx, []int64{id}, graph.DepthStandard, token)
//	client.Query.ProcessQuery(ctx, conversationID, userID, text, true, 0, 0, false)
//
// Events exposes the shared event.Bus (§6): callers may Subscribe to observe
// repository/graph/query lifecycle events without polling status stores.
type Client struct {
	Repositories repo.Store
	Ingestion    *service.IngestionPipeline
	Graph        *service.KnowledgeGraphBuilder
	Query        *service.QueryEngine
	Events       event.Bus

	db     database.Database
	logger *slog.Logger

	closers []io.Closer
	closed  atomic.Bool
	mu      sync.Mutex
}

// New creates a new Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.database == databaseUnset {
		return nil, ErrNoDatabase
	}

	logger := cfg.logger
	if logger == nil {
		logger = config.DefaultLogger()
	}

	dataDir, err := config.PrepareDataDir(cfg.dataDir)
	if err != nil {
		return nil, err
	}
	cloneDir, err := config.PrepareCloneDir(cfg.cloneDir, dataDir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	dbURL, err := buildDatabaseURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build database url: %w", err)
	}
	db, err := database.NewDatabase(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := persistence.AutoMigrate(db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("auto migrate: %w", err), errClose)
	}
	if err := persistence.ValidateSchema(db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("validate schema: %w", err), errClose)
	}

	repoStore := persistence.NewRepositoryStore(db)
	graphStore := persistence.NewGraphStore(db)
	conversationStore := persistence.NewConversationStore(db)
	indexStatusStore := persistence.NewIndexStatusStore(db)

	var embedder search.Embedder
	if cfg.openAIAPIKey != "" {
		embedder = &embeddingAdapter{inner: provider.NewOpenAIProvider(cfg.openAIAPIKey, provider.WithEmbeddingModel(cfg.embeddingModel))}
	}

	dimension, err := probeEmbeddingDimension(ctx, cfg, embedder)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("probe embedding dimension: %w", err), errClose)
	}

	bm25Store, embeddingStore, err := buildSearchStores(ctx, cfg, db, dimension, logger)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("search stores: %w", err), errClose)
	}
	searchIndex := persistence.NewSearchIndexBackend(db, bm25Store, embeddingStore, embedder)
	if err := searchIndex.CreateIndex(ctx); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("create search index: %w", err), errClose)
	}

	var model llm.Model
	if cfg.anthropicAPIKey != "" {
		model = provider.NewAnthropicModel(provider.NewAnthropicProvider(cfg.anthropicAPIKey, provider.WithAnthropicModel(cfg.anthropicModel)))
	}

	gitAdapter, err := git.NewGiteaAdapter(logger)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("create git adapter: %w", err), errClose)
	}
	cloner := git.NewRepositoryCloner(gitAdapter, cloneDir, logger)
	hostedProvider := git.NewHostedProvider(cloner, gitAdapter)

	bus := eventbus.NewBus(logger)
	scheduler := service.NewScheduler(logger, config.DefaultIngestionTimeBudget)

	registry := graph.NewRegistry(graph.NewLayeredArchitectureMatcher(), graph.NewGodObjectMatcher())

	client := &Client{
		Repositories: repoStore,
		Events:       bus,
		db:           db,
		logger:       logger,
		closers:      cfg.closers,
	}

	client.Ingestion = service.NewIngestionPipeline(repoStore, hostedProvider, embedder, searchIndex, indexStatusStore, scheduler, bus, logger)
	client.Graph = service.NewKnowledgeGraphBuilder(repoStore, hostedProvider, graphStore, registry, bus, logger)
	if model != nil {
		client.Query = service.NewQueryEngine(conversationStore, searchIndex, model, bus, logger)
	}

	return client, nil
}

// Close releases all resources held by the Client.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return service.ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	c.logger.Info("archie client closed")
	return errors.Join(errs...)
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// embeddingAdapter adapts provider.Embedder (request/response wrapped) to
// the domain search.Embedder interface (plain string/float64 slices).
// Capacity reports embedderCapacity (below), which is larger than the
// per-request batch OpenAIProvider sends (openAIBatchMax); the provider
// splits each call into requests of that size.
type embeddingAdapter struct {
	inner *provider.OpenAIProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := a.inner.Embed(ctx, provider.NewEmbeddingRequest(texts))
	if err != nil {
		return nil, err
	}
	return resp.Embeddings(), nil
}

// embedderCapacity bounds how many texts IngestionPipeline batches into a
// single Embed call; OpenAIProvider.Embed fans this out into its own
// concurrent sub-batches internally, so this is a memory/backpressure bound
// rather than an API limit.
const embedderCapacity = 100

func (a *embeddingAdapter) Capacity() int { return embedderCapacity }

func probeEmbeddingDimension(ctx context.Context, cfg *clientConfig, embedder search.Embedder) (int, error) {
	if embedder == nil || cfg.database != databasePostgresVectorchord {
		return 0, nil
	}
	vectors, err := embedder.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("failed to obtain embedding dimension from provider")
	}
	return len(vectors[0]), nil
}

// buildSearchStores creates the BM25 and embedding stores for cfg.database.
// embeddingStore is nil when no embedding provider is configured, in which
// case search.Index degrades to keyword-only (§8).
func buildSearchStores(ctx context.Context, cfg *clientConfig, db database.Database, dimension int, logger *slog.Logger) (search.BM25Store, search.EmbeddingStore, error) {
	switch cfg.database {
	case databaseSQLite:
		bm25Store, err := persistence.NewSQLiteBM25Store(db, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("bm25 store: %w", err)
		}
		if cfg.openAIAPIKey == "" {
			return bm25Store, nil, nil
		}
		embeddingStore, err := persistence.NewSQLiteEmbeddingStore(db, persistence.TaskNameCode, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding store: %w", err)
		}
		return bm25Store, embeddingStore, nil

	case databasePostgresVectorchord:
		bm25Store, err := persistence.NewVectorChordBM25Store(db, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("bm25 store: %w", err)
		}
		if cfg.openAIAPIKey == "" {
			return bm25Store, nil, nil
		}
		embeddingStore, _, err := persistence.NewVectorChordEmbeddingStore(ctx, db, persistence.TaskNameCode, dimension, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding store: %w", err)
		}
		return bm25Store, embeddingStore, nil
	}
	return nil, nil, fmt.Errorf("unknown database type")
}

func buildDatabaseURL(cfg *clientConfig) (string, error) {
	switch cfg.database {
	case databaseSQLite:
		return "sqlite://" + cfg.dbPath, nil
	case databasePostgresVectorchord:
		return cfg.dbDSN, nil
	default:
		return "", ErrNoDatabase
	}
}
