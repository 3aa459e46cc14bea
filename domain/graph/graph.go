package graph

import "time"

// Depth controls how much of the transitive relationship graph
// buildKnowledgeGraph traces (§4.3).
type Depth string

const (
	DepthSurface  Depth = "surface"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// KnowledgeGraph is the result of a single build: a snapshot of entities,
// relationships, and derived patterns for one or more repositories.
type KnowledgeGraph struct {
	ID            string
	RepositoryIDs []int64
	Depth         Depth
	Entities      []CodeEntity
	Relationships []CodeRelationship
	Patterns      []ArchitecturalPattern
	AntiPatterns  []AntiPattern
	BuiltAt       time.Time
}
