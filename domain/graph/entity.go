// Package graph models the knowledge graph built over ingested repositories:
// code entities, typed relationships between them, and derived architectural
// pattern / anti-pattern records.
package graph

// EntityType classifies a CodeEntity.
type EntityType string

const (
	EntityFile       EntityType = "file"
	EntityNamespace  EntityType = "namespace"
	EntityClass      EntityType = "class"
	EntityInterface  EntityType = "interface"
	EntityStruct     EntityType = "struct"
	EntityEnum       EntityType = "enum"
	EntityMethod     EntityType = "method"
	EntityField      EntityType = "field"
	EntityProperty   EntityType = "property"
	EntityService    EntityType = "service"
	EntityRepository EntityType = "repository"
	EntityController EntityType = "controller"
	EntityAggregate  EntityType = "aggregate"
	EntityValueObj   EntityType = "value_object"
)

// SourceLocation pinpoints where an entity is declared.
type SourceLocation struct {
	Path      string
	StartLine int
	EndLine   int
}

// CodeEntity is a named code construct discovered during knowledge graph
// construction. EntityID is stable across re-analysis (§3): it is derived
// deterministically from (repositoryID, language-specific fully-qualified
// name, kind) so that rebuilding the graph for unchanged source produces the
// same entity identifiers.
type CodeEntity struct {
	EntityID        string
	RepositoryID    int64
	Name            string
	FullyQualifiedName string
	Type            EntityType
	ComplexityScore float64
	Language        string
	Location        SourceLocation
}
