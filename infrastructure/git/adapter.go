package git

import (
	"context"
	"time"
)

// Adapter is the low-level, locally-cloned-repository contract both
// GiteaAdapter and GoGitAdapter implement. RepositoryCloner and
// HostedProvider consume it without caring which git binding backs it.
type Adapter interface {
	CloneRepository(ctx context.Context, remoteURI, localPath string) error
	CheckoutCommit(ctx context.Context, localPath, commitSHA string) error
	CheckoutBranch(ctx context.Context, localPath, branchName string) error
	FetchRepository(ctx context.Context, localPath string) error
	PullRepository(ctx context.Context, localPath string) error
	AllBranches(ctx context.Context, localPath string) ([]BranchInfo, error)
	BranchCommits(ctx context.Context, localPath, branchName string) ([]CommitInfo, error)
	AllCommitsBulk(ctx context.Context, localPath string, since *time.Time) (map[string]CommitInfo, error)
	BranchCommitSHAs(ctx context.Context, localPath, branchName string) ([]string, error)
	AllBranchHeadSHAs(ctx context.Context, localPath string, branchNames []string) (map[string]string, error)
	CommitFiles(ctx context.Context, localPath, commitSHA string) ([]FileInfo, error)
	RepositoryExists(ctx context.Context, localPath string) (bool, error)
	CommitDetails(ctx context.Context, localPath, commitSHA string) (CommitInfo, error)
	EnsureRepository(ctx context.Context, remoteURI, localPath string) error
	FileContent(ctx context.Context, localPath, commitSHA, filePath string) ([]byte, error)
	DefaultBranch(ctx context.Context, localPath string) (string, error)
	LatestCommitSHA(ctx context.Context, localPath, branchName string) (string, error)
	AllTags(ctx context.Context, localPath string) ([]TagInfo, error)
	CommitDiff(ctx context.Context, localPath, commitSHA string) (string, error)
}

// BranchInfo describes a single branch as reported by AllBranches.
type BranchInfo struct {
	Name      string
	HeadSHA   string
	IsDefault bool
}

// CommitInfo describes a single commit as reported by CommitDetails,
// BranchCommits, and AllCommitsBulk.
type CommitInfo struct {
	SHA            string
	Message        string
	AuthorName     string
	AuthorEmail    string
	AuthoredAt     time.Time
	CommitterName  string
	CommitterEmail string
	CommittedAt    time.Time
	ParentSHA      string
}

// FileInfo describes a single file as reported by CommitFiles.
type FileInfo struct {
	Path     string
	BlobSHA  string
	Size     int64
	MimeType string
}

// TagInfo describes a single tag as reported by AllTags.
type TagInfo struct {
	Name            string
	TargetCommitSHA string
	TaggerName      string
	TaggerEmail     string
	TaggedAt        time.Time
	Message         string
}
