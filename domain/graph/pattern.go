package graph

// Severity classifies an AntiPattern's impact.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityErrorLvl Severity = "error"
	SeverityCritical Severity = "critical"
)

// ArchitecturalPattern is a derived, rebuilt-per-analysis view asserting a
// structural property over a set of entities (e.g. "layered architecture",
// "repository pattern", "CQRS").
type ArchitecturalPattern struct {
	ID           string
	RepositoryID int64
	Type         string
	Participants []string
	Confidence   float64
	HasViolations bool
}

// AntiPattern is a derived record asserting an undesirable structural
// property (e.g. "god object", "circular dependency").
type AntiPattern struct {
	ID           string
	RepositoryID int64
	Type         string
	Participants []string
	Severity     Severity
	Remediation  string
}

// Matcher is a pure, side-effect-free function over a build's entities and
// relationships that emits zero or more ArchitecturalPattern/AntiPattern
// records. Matchers are registered in a Registry (§9: "a registry of pure
// matchers ... so adding a detector requires only registering a new
// matcher") and may run concurrently since they never mutate their inputs.
type Matcher interface {
	Name() string
	DetectPatterns(entities []CodeEntity, relationships []CodeRelationship) []ArchitecturalPattern
	DetectAntiPatterns(entities []CodeEntity, relationships []CodeRelationship) []AntiPattern
}
