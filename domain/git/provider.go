// Package git defines the GitProvider boundary contract (§6): a hosted
// git-forge client the core consumes but does not implement transport or
// rate-limit plumbing for. Concrete adapters live under
// infrastructure/git.
package git

import (
	"context"
	"time"
)

// RepositoryMetadata is what getRepository returns.
type RepositoryMetadata struct {
	Name          string
	DefaultBranch string
	Language      string
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PushedAt      time.Time
}

// Branch is a remote branch reference.
type Branch struct {
	Name       string
	IsDefault  bool
	CommitSHA  string
}

// EntryType classifies a tree entry.
type EntryType string

const (
	EntryBlob EntryType = "blob"
	EntryTree EntryType = "tree"
)

// TreeEntry is one item in a recursive repository tree listing.
type TreeEntry struct {
	Path string
	Mode string
	Type EntryType
	SHA  string
	Size int64
}

// Tree is the result of getRepositoryTreeWithMetadata.
type Tree struct {
	SHA       string
	Items     []TreeEntry
	Truncated bool
}

// Commit is one entry in getCommitHistory's result.
type Commit struct {
	Hash      string
	Message   string
	Author    string
	Timestamp time.Time
}

// RateLimitHint carries a provider-supplied reset time for backoff (§6).
type RateLimitHint struct {
	ResetAt time.Time
	IsAbuse bool
}

// Provider is the boundary contract §6 names. All operations may suspend
// on network I/O and take ctx for cancellation. Backoff: on rate-limit the
// caller waits until the provider-supplied reset hint then retries once; on
// abuse signals it waits a fixed 60-second interval (see
// internal/config.DefaultRateLimitAbuseBackoff). A reset hint in the past
// causes an immediate retry — never a negative sleep (§8 boundary
// behavior).
type Provider interface {
	// ParseRepositoryURL extracts (owner, repo) from url, rejecting
	// malformed inputs with apperr.InvalidInput (§8 scenario A).
	ParseRepositoryURL(url string) (owner, repo string, err error)

	// FormatRepositoryURL is the inverse of ParseRepositoryURL for a
	// canonical host, used to verify the round-trip property in §8.
	FormatRepositoryURL(owner, repo string) string

	ValidateRepositoryAccess(ctx context.Context, owner, repo, token string) (bool, error)
	GetRepository(ctx context.Context, owner, repo, token string) (RepositoryMetadata, error)
	GetBranches(ctx context.Context, owner, repo, token string) ([]Branch, error)
	GetRepositoryTreeWithMetadata(ctx context.Context, owner, repo, branch string, recursive bool, token string) (Tree, error)

	// GetFileContent returns the UTF-8 decoded file body, or an empty
	// string if the path does not exist at branch (§6).
	GetFileContent(ctx context.Context, owner, repo, path, branch, token string) (string, error)

	GetCommitHistory(ctx context.Context, owner, repo, branch string, limit int, token string) ([]Commit, error)
}
