package task

import "strings"

// Operation represents the type of background job the Scheduler runs.
type Operation string

// Operation values for the background job runner.
const (
	OperationRoot                   Operation = "archie.root"
	OperationIndexRepository        Operation = "archie.ingestion.index"
	OperationRefreshRepositoryIndex Operation = "archie.ingestion.refresh"
	OperationRemoveRepositoryIndex  Operation = "archie.ingestion.remove"
	OperationBuildKnowledgeGraph    Operation = "archie.graph.build"
	OperationUpdateKnowledgeGraph   Operation = "archie.graph.update"
	OperationDeleteKnowledgeGraph   Operation = "archie.graph.delete"
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// IsIngestionOperation returns true if this operation belongs to the
// IngestionPipeline.
func (o Operation) IsIngestionOperation() bool {
	return strings.HasPrefix(string(o), "archie.ingestion.")
}

// IsGraphOperation returns true if this operation belongs to the
// KnowledgeGraphBuilder.
func (o Operation) IsGraphOperation() bool {
	return strings.HasPrefix(string(o), "archie.graph.")
}

// PrescribedOperations provides predefined operation sequences for the two
// background workflows the Scheduler runs end to end.
type PrescribedOperations struct{}

// NewPrescribedOperations creates a PrescribedOperations.
func NewPrescribedOperations() PrescribedOperations {
	return PrescribedOperations{}
}

// All returns every operation used by any prescribed workflow. Used at
// startup to validate that all required handlers are registered.
func (p PrescribedOperations) All() []Operation {
	return []Operation{
		OperationIndexRepository,
		OperationRefreshRepositoryIndex,
		OperationRemoveRepositoryIndex,
		OperationBuildKnowledgeGraph,
		OperationUpdateKnowledgeGraph,
		OperationDeleteKnowledgeGraph,
	}
}

// IndexRepository returns the operation sequence for a full or forced
// reindex (§4.2).
func (p PrescribedOperations) IndexRepository() []Operation {
	return []Operation{OperationIndexRepository}
}

// RefreshRepositoryIndex returns the operation sequence for an incremental
// refresh (§4.2).
func (p PrescribedOperations) RefreshRepositoryIndex() []Operation {
	return []Operation{OperationRefreshRepositoryIndex}
}

// BuildKnowledgeGraph returns the operation sequence for a full graph build
// (§4.3).
func (p PrescribedOperations) BuildKnowledgeGraph() []Operation {
	return []Operation{OperationBuildKnowledgeGraph}
}
