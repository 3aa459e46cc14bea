// Package repo models the Repository aggregate: a tracked source-code
// repository together with its branches and status history. Queries against
// a RepositoryStore are built with the generic options in
// github.com/archie-dev/archie/domain/repository.
package repo

import (
	"errors"
	"time"
)

// ErrEmptyURL indicates a repository was constructed with no remote URL.
var ErrEmptyURL = errors.New("repository url cannot be empty")

// Status is the lifecycle state of a Repository.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusAnalyzing    Status = "analyzing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// validTransitions enumerates the state graph from §3: Disconnected ->
// Connected -> Analyzing -> Ready | Error. Analyzing may also be re-entered
// from Ready or Error (re-ingestion), and Error may be retried back into
// Analyzing.
var validTransitions = map[Status]map[Status]bool{
	StatusDisconnected: {StatusConnected: true},
	StatusConnected:    {StatusAnalyzing: true},
	StatusAnalyzing:    {StatusReady: true, StatusError: true},
	StatusReady:        {StatusAnalyzing: true},
	StatusError:        {StatusAnalyzing: true},
}

// CanTransitionTo reports whether moving from s to next is a legal
// transition in the Repository state graph.
func (s Status) CanTransitionTo(next Status) bool {
	return validTransitions[s][next]
}

// Statistics holds optional aggregate counters about an ingested repository.
type Statistics struct {
	FileCount     int
	TotalBytes    int64
	DocumentCount int
}

// Repository is the aggregate root tracked by RepositoryStore.
type Repository struct {
	id          int64
	url         string
	name        string
	language    string
	description string
	status      Status
	branches    []Branch
	statistics  *Statistics
	createdAt   time.Time
	updatedAt   time.Time
}

// NewRepository creates a Repository in the initial Disconnected state.
func NewRepository(url, name string) (Repository, error) {
	if url == "" {
		return Repository{}, ErrEmptyURL
	}
	now := time.Now()
	return Repository{
		url:       url,
		name:      name,
		status:    StatusDisconnected,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// Reconstruct rebuilds a Repository from persistence without re-validating
// transition rules (the store is the source of truth for prior states).
func Reconstruct(
	id int64,
	url, name, language, description string,
	status Status,
	branches []Branch,
	statistics *Statistics,
	createdAt, updatedAt time.Time,
) Repository {
	return Repository{
		id:          id,
		url:         url,
		name:        name,
		language:    language,
		description: description,
		status:      status,
		branches:    append([]Branch(nil), branches...),
		statistics:  statistics,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

func (r Repository) ID() int64             { return r.id }
func (r Repository) URL() string           { return r.url }
func (r Repository) Name() string          { return r.name }
func (r Repository) Language() string      { return r.language }
func (r Repository) Description() string   { return r.description }
func (r Repository) Status() Status        { return r.status }
func (r Repository) CreatedAt() time.Time  { return r.createdAt }
func (r Repository) UpdatedAt() time.Time  { return r.updatedAt }
func (r Repository) Statistics() *Statistics {
	if r.statistics == nil {
		return nil
	}
	cp := *r.statistics
	return &cp
}

// Branches returns a defensive copy of the repository's branches.
func (r Repository) Branches() []Branch {
	return append([]Branch(nil), r.branches...)
}

// DefaultBranch returns the branch marked IsDefault, if any.
func (r Repository) DefaultBranch() (Branch, bool) {
	for _, b := range r.branches {
		if b.IsDefault() {
			return b, true
		}
	}
	return Branch{}, false
}

// WithID returns a copy with id set (used once after first persistence).
func (r Repository) WithID(id int64) Repository {
	r.id = id
	return r
}

// WithStatus returns a copy transitioned to next. Returns an error if the
// transition is not permitted by the Repository state graph in §3.
func (r Repository) WithStatus(next Status) (Repository, error) {
	if !r.status.CanTransitionTo(next) {
		return Repository{}, errInvalidTransition(r.status, next)
	}
	r.status = next
	r.updatedAt = time.Now()
	return r, nil
}

// WithMetadata returns a copy with name/language/description updated.
func (r Repository) WithMetadata(name, language, description string) Repository {
	r.name = name
	r.language = language
	r.description = description
	r.updatedAt = time.Now()
	return r
}

// WithBranches returns a copy with its branch set replaced. Exactly one
// branch may be marked default; this is not checked here, and if several
// are, DefaultBranch returns the first. Callers are expected to enforce
// uniqueness upstream.
func (r Repository) WithBranches(branches []Branch) Repository {
	r.branches = append([]Branch(nil), branches...)
	r.updatedAt = time.Now()
	return r
}

// WithStatistics returns a copy with updated statistics.
func (r Repository) WithStatistics(stats Statistics) Repository {
	cp := stats
	r.statistics = &cp
	r.updatedAt = time.Now()
	return r
}

func errInvalidTransition(from, to Status) error {
	return &InvalidTransitionError{From: from, To: to}
}

// InvalidTransitionError reports an illegal Repository status transition.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid repository status transition: " + string(e.From) + " -> " + string(e.To)
}
