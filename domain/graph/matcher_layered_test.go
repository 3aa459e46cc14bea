package graph

import "testing"

func TestLayeredArchitectureMatcher_DetectPatterns_FindsControllerServiceRepository(t *testing.T) {
	entities := []CodeEntity{
		{EntityID: "ctrl", RepositoryID: 1, Name: "UserController", Type: EntityController},
		{EntityID: "svc", RepositoryID: 1, Name: "UserService", Type: EntityService},
		{EntityID: "repo", RepositoryID: 1, Name: "UserRepository", Type: EntityRepository},
	}
	relationships := []CodeRelationship{
		{ID: "r1", SourceEntityID: "ctrl", TargetEntityID: "svc", Type: RelationCalls},
		{ID: "r2", SourceEntityID: "svc", TargetEntityID: "repo", Type: RelationDependsOn},
	}

	m := NewLayeredArchitectureMatcher()
	patterns := m.DetectPatterns(entities, relationships)

	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.Type != "layered_architecture" {
		t.Errorf("Type = %q, want %q", p.Type, "layered_architecture")
	}
	if p.HasViolations {
		t.Error("expected no violations for a one-directional service -> repository edge")
	}
	if p.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %f", p.Confidence)
	}
}

func TestLayeredArchitectureMatcher_DetectPatterns_FlagsReverseDependencyAsViolation(t *testing.T) {
	entities := []CodeEntity{
		{EntityID: "svc", RepositoryID: 1, Name: "UserService", Type: EntityService},
		{EntityID: "repo", RepositoryID: 1, Name: "UserRepository", Type: EntityRepository},
	}
	relationships := []CodeRelationship{
		{ID: "r1", SourceEntityID: "svc", TargetEntityID: "repo", Type: RelationDependsOn},
		{ID: "r2", SourceEntityID: "repo", TargetEntityID: "svc", Type: RelationUses},
	}

	m := NewLayeredArchitectureMatcher()
	patterns := m.DetectPatterns(entities, relationships)

	if len(patterns) != 1 || !patterns[0].HasViolations {
		t.Fatalf("expected a pattern with HasViolations=true, got %+v", patterns)
	}
}

func TestLayeredArchitectureMatcher_DetectPatterns_NoUpperLayerEntitiesYieldsNothing(t *testing.T) {
	entities := []CodeEntity{{EntityID: "repo", RepositoryID: 1, Name: "UserRepository", Type: EntityRepository}}

	m := NewLayeredArchitectureMatcher()
	if patterns := m.DetectPatterns(entities, nil); patterns != nil {
		t.Errorf("expected no pattern without any controller/service entities, got %v", patterns)
	}
}

func TestLayeredArchitectureMatcher_DetectPatterns_NoLayerEdgesYieldsNothing(t *testing.T) {
	entities := []CodeEntity{
		{EntityID: "ctrl", RepositoryID: 1, Name: "UserController", Type: EntityController},
		{EntityID: "repo", RepositoryID: 1, Name: "UserRepository", Type: EntityRepository},
	}
	relationships := []CodeRelationship{
		{ID: "r1", SourceEntityID: "ctrl", TargetEntityID: "repo", Type: RelationCalls},
	}

	m := NewLayeredArchitectureMatcher()
	if patterns := m.DetectPatterns(entities, relationships); patterns != nil {
		t.Errorf("expected Calls edges not to count as layer edges, got %v", patterns)
	}
}

func TestLayeredArchitectureMatcher_DetectAntiPatterns_AlwaysEmpty(t *testing.T) {
	m := NewLayeredArchitectureMatcher()
	if antiPatterns := m.DetectAntiPatterns(nil, nil); antiPatterns != nil {
		t.Errorf("expected LayeredArchitectureMatcher to never emit AntiPatterns, got %v", antiPatterns)
	}
}
