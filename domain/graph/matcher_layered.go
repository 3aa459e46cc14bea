package graph

import "fmt"

// LayeredArchitectureMatcher detects a layered/repository-pattern split:
// EntityController/EntityService entities that depend on EntityRepository
// entities via DependsOn or Uses edges, and never the reverse. Confidence
// is the fraction of controller/service entities that participate in at
// least one such edge.
type LayeredArchitectureMatcher struct{}

// NewLayeredArchitectureMatcher creates a LayeredArchitectureMatcher.
func NewLayeredArchitectureMatcher() LayeredArchitectureMatcher {
	return LayeredArchitectureMatcher{}
}

func (LayeredArchitectureMatcher) Name() string { return "layered_architecture" }

func (LayeredArchitectureMatcher) DetectPatterns(entities []CodeEntity, relationships []CodeRelationship) []ArchitecturalPattern {
	byID := make(map[string]CodeEntity, len(entities))
	for _, e := range entities {
		byID[e.EntityID] = e
	}

	participants := make(map[string]bool)
	violations := 0
	upperCount := 0

	for _, e := range entities {
		if e.Type == EntityController || e.Type == EntityService {
			upperCount++
		}
	}
	if upperCount == 0 {
		return nil
	}

	for _, rel := range relationships {
		src, srcOK := byID[rel.SourceEntityID]
		dst, dstOK := byID[rel.TargetEntityID]
		if !srcOK || !dstOK {
			continue
		}
		isLayerEdge := rel.Type == RelationDependsOn || rel.Type == RelationUses
		if !isLayerEdge {
			continue
		}
		if (src.Type == EntityController || src.Type == EntityService) && dst.Type == EntityRepository {
			participants[src.EntityID] = true
			participants[dst.EntityID] = true
		}
		if src.Type == EntityRepository && (dst.Type == EntityController || dst.Type == EntityService) {
			violations++
		}
	}

	if len(participants) == 0 {
		return nil
	}

	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}

	upperParticipants := 0
	for id := range participants {
		if t := byID[id].Type; t == EntityController || t == EntityService {
			upperParticipants++
		}
	}
	confidence := float64(upperParticipants) / float64(upperCount)

	repositoryID := int64(0)
	if len(entities) > 0 {
		repositoryID = entities[0].RepositoryID
	}

	return []ArchitecturalPattern{{
		ID:            fmt.Sprintf("%d:%d:layered", repositoryID, len(ids)),
		RepositoryID:  repositoryID,
		Type:          "layered_architecture",
		Participants:  ids,
		Confidence:    confidence,
		HasViolations: violations > 0,
	}}
}

func (LayeredArchitectureMatcher) DetectAntiPatterns([]CodeEntity, []CodeRelationship) []AntiPattern {
	return nil
}

var _ Matcher = LayeredArchitectureMatcher{}
