package persistence

import "time"

// RepositoryModel is the GORM row for a repo.Store entry. Branches are
// stored as an embedded JSON column rather than a child table: §4.1 never
// queries a branch independently of its repository, and WithBranches
// replaces the whole set atomically, which maps directly onto a single
// JSON column write.
type RepositoryModel struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	URL         string     `gorm:"column:url;uniqueIndex"`
	Name        string     `gorm:"column:name"`
	Language    string     `gorm:"column:language"`
	Description string     `gorm:"column:description"`
	Status      string     `gorm:"column:status;index"`
	Branches    JSONRaw    `gorm:"column:branches;type:json"`
	Statistics  JSONRaw    `gorm:"column:statistics;type:json"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (RepositoryModel) TableName() string { return "archie_repositories" }

// IndexStatusModel is the GORM row for a search.IndexStatusStore entry, one
// row per repository (§3).
type IndexStatusModel struct {
	RepositoryID         int64      `gorm:"column:repository_id;primaryKey"`
	Status               string     `gorm:"column:status"`
	DocumentsIndexed     int        `gorm:"column:documents_indexed"`
	TotalDocuments       int        `gorm:"column:total_documents"`
	EstimatedCompletion  *time.Time `gorm:"column:estimated_completion"`
	ErrorMessage         string     `gorm:"column:error_message"`
	LastIndexedCommitSHA string     `gorm:"column:last_indexed_commit_sha"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (IndexStatusModel) TableName() string { return "archie_index_statuses" }

// ChunkDocumentModel is the GORM row hydrating a search.IndexedChunk: the
// system of record for content/metadata, separate from the BM25 FTS5 table
// and embedding tables which index a subset of these same rows by ID.
type ChunkDocumentModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	RepositoryID int64     `gorm:"column:repository_id;index"`
	Branch       string    `gorm:"column:branch;index"`
	Path         string    `gorm:"column:path"`
	ChunkIndex   int       `gorm:"column:chunk_index"`
	Language     string    `gorm:"column:language"`
	Content      string    `gorm:"column:content"`
	HasVector    bool      `gorm:"column:has_vector"`
	Metadata     JSONMap   `gorm:"column:metadata;type:json"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (ChunkDocumentModel) TableName() string { return "archie_chunk_documents" }

// GraphSnapshotModel is the GORM row for a graph.Store entry: one row per
// repository holding the latest buildID's full entity/relationship/pattern
// snapshot as JSON. ReplaceRepositoryGraph overwrites the row atomically in
// a single transaction, satisfying the store's all-or-nothing visibility
// requirement without needing per-entity tables.
type GraphSnapshotModel struct {
	RepositoryID  int64     `gorm:"column:repository_id;primaryKey"`
	BuildID       string    `gorm:"column:build_id"`
	Entities      JSONRaw   `gorm:"column:entities;type:json"`
	Relationships JSONRaw   `gorm:"column:relationships;type:json"`
	Patterns      JSONRaw   `gorm:"column:patterns;type:json"`
	AntiPatterns  JSONRaw   `gorm:"column:anti_patterns;type:json"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (GraphSnapshotModel) TableName() string { return "archie_graph_snapshots" }

// ConversationModel is the GORM row for a conversation.Store entry, one row
// per conversation with its message log embedded as JSON (§4.4: messages
// are only ever appended or read as a whole, never queried individually).
type ConversationModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         string    `gorm:"column:user_id;index"`
	Title          string    `gorm:"column:title"`
	Status         string    `gorm:"column:status;index"`
	Messages       JSONRaw   `gorm:"column:messages;type:json"`
	Context        JSONRaw   `gorm:"column:context;type:json"`
	Metadata       JSONMap   `gorm:"column:metadata;type:json"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	LastActivityAt time.Time `gorm:"column:last_activity_at"`
}

func (ConversationModel) TableName() string { return "archie_conversations" }
