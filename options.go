package archie

import (
	"errors"
	"io"
	"log/slog"

	"github.com/archie-dev/archie/internal/config"
)

// ErrNoDatabase is returned by New when no WithSQLite/WithPostgresVectorchord
// option was supplied.
var ErrNoDatabase = errors.New("archie: no database configured")

// databaseType identifies the database backend.
type databaseType int

const (
	databaseUnset databaseType = iota
	databaseSQLite
	databasePostgresVectorchord
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultAnthropicModel = "claude-sonnet-4-5"
)

// clientConfig holds configuration for Client construction. Use
// newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	database databaseType
	dbPath   string
	dbDSN    string
	dataDir  string
	cloneDir string

	openAIAPIKey    string
	embeddingModel  string
	anthropicAPIKey string
	anthropicModel  string

	logger  *slog.Logger
	closers []io.Closer
}

// newClientConfig creates a clientConfig with defaults from internal/config.
func newClientConfig() *clientConfig {
	return &clientConfig{
		dataDir:        config.DefaultDataDir(),
		embeddingModel: defaultEmbeddingModel,
		anthropicModel: defaultAnthropicModel,
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithSQLite configures SQLite as the database. BM25 uses FTS5; vector
// search is skipped unless WithOpenAI is also supplied.
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.database = databaseSQLite
		c.dbPath = path
	}
}

// WithPostgresVectorchord configures PostgreSQL with the VectorChord
// extension, which provides both BM25 and vector search.
func WithPostgresVectorchord(dsn string) Option {
	return func(c *clientConfig) {
		c.database = databasePostgresVectorchord
		c.dbDSN = dsn
	}
}

// WithOpenAI sets OpenAI as the embedding provider for the search index
// (§4.2, §6).
func WithOpenAI(apiKey string) Option {
	return func(c *clientConfig) {
		c.openAIAPIKey = apiKey
	}
}

// WithEmbeddingModel overrides the default OpenAI embedding model
// ("text-embedding-3-small").
func WithEmbeddingModel(model string) Option {
	return func(c *clientConfig) {
		c.embeddingModel = model
	}
}

// WithAnthropic sets Anthropic Claude as the QueryEngine's llm.Model (§4.5).
// Without this option, Client.Query is nil: ingestion and graph building
// work without an LLM, but conversational queries are unavailable.
func WithAnthropic(apiKey string) Option {
	return func(c *clientConfig) {
		c.anthropicAPIKey = apiKey
	}
}

// WithAnthropicModel overrides the default Claude model ("claude-sonnet-4-5").
func WithAnthropicModel(model string) Option {
	return func(c *clientConfig) {
		c.anthropicModel = model
	}
}

// WithDataDir sets the data directory, under which cloned repositories are
// kept unless WithCloneDir is given. The database location comes from
// WithSQLite or WithPostgresVectorchord, not from this directory.
func WithDataDir(dir string) Option {
	return func(c *clientConfig) {
		c.dataDir = dir
	}
}

// WithCloneDir sets the directory where repositories are cloned. Defaults
// to {dataDir}/repos if not specified.
func WithCloneDir(dir string) Option {
	return func(c *clientConfig) {
		c.cloneDir = dir
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithCloser registers a resource to be closed when the Client shuts down.
func WithCloser(closer io.Closer) Option {
	return func(c *clientConfig) {
		c.closers = append(c.closers, closer)
	}
}
