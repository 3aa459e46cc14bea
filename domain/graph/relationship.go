package graph

// RelationshipType classifies a directed edge between two CodeEntity records.
type RelationshipType string

const (
	RelationCalls      RelationshipType = "calls"
	RelationUses       RelationshipType = "uses"
	RelationInherits   RelationshipType = "inherits"
	RelationImplements RelationshipType = "implements"
	RelationDependsOn  RelationshipType = "depends_on"
	RelationContains   RelationshipType = "contains"
	RelationReferences RelationshipType = "references"
)

// architecturalTypes are relationship types that describe structural
// composition rather than runtime usage; CodeRelationship.IsArchitectural
// derives from membership in this set. This is a design decision recorded
// in DESIGN.md: the spec states IsArchitectural is derived but does not fix
// the rule, so structural types (containment, inheritance, interface
// realization, module dependency) count as architectural, while usage-level
// edges (calls, uses, references) do not.
var architecturalTypes = map[RelationshipType]bool{
	RelationInherits:   true,
	RelationImplements: true,
	RelationDependsOn:  true,
	RelationContains:   true,
}

// CodeRelationship is a directed, typed, weighted edge between two
// CodeEntity records. Both SourceEntityID and TargetEntityID must reference
// entities that exist in the same build (§3 invariant).
type CodeRelationship struct {
	ID             string
	SourceEntityID string
	TargetEntityID string
	Type           RelationshipType
	Weight         float64
	Confidence     float64
}

// IsArchitectural reports whether this relationship's type is considered
// structural (see architecturalTypes).
func (r CodeRelationship) IsArchitectural() bool {
	return architecturalTypes[r.Type]
}
