package repo

// Commit is an immutable reference to a single revision.
type Commit struct {
	hash      string
	message   string
	author    string
	timestamp int64
}

// NewCommit creates a Commit. hash must be non-empty.
func NewCommit(hash, message, author string, timestampUnix int64) Commit {
	return Commit{hash: hash, message: message, author: author, timestamp: timestampUnix}
}

func (c Commit) Hash() string      { return c.hash }
func (c Commit) Message() string   { return c.message }
func (c Commit) Author() string    { return c.author }
func (c Commit) TimestampUnix() int64 { return c.timestamp }
func (c Commit) IsZero() bool      { return c.hash == "" }

// Branch is a named ref within a Repository. Exactly one branch in a
// Repository's branch set may have IsDefault true.
type Branch struct {
	name       string
	isDefault  bool
	lastCommit Commit
}

// NewBranch creates a Branch.
func NewBranch(name string, isDefault bool, lastCommit Commit) Branch {
	return Branch{name: name, isDefault: isDefault, lastCommit: lastCommit}
}

func (b Branch) Name() string        { return b.name }
func (b Branch) IsDefault() bool     { return b.isDefault }
func (b Branch) LastCommit() Commit  { return b.lastCommit }
func (b Branch) HasLastCommit() bool { return !b.lastCommit.IsZero() }
