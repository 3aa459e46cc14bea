package graph

import "fmt"

// GodObjectThreshold is the outgoing-relationship count above which an
// entity is flagged as a god object by GodObjectMatcher.
const GodObjectThreshold = 12

// CircularDependencyMaxDepth bounds the cycle search GodObjectMatcher runs
// per entity when looking for DependsOn cycles.
const CircularDependencyMaxDepth = 6

// GodObjectMatcher flags entities with an outgoing-relationship fan-out
// above GodObjectThreshold (god object) and DependsOn cycles (circular
// dependency), the two anti-patterns named in §4.3's examples.
type GodObjectMatcher struct{}

// NewGodObjectMatcher creates a GodObjectMatcher.
func NewGodObjectMatcher() GodObjectMatcher { return GodObjectMatcher{} }

func (GodObjectMatcher) Name() string { return "god_object" }

func (GodObjectMatcher) DetectPatterns([]CodeEntity, []CodeRelationship) []ArchitecturalPattern {
	return nil
}

func (GodObjectMatcher) DetectAntiPatterns(entities []CodeEntity, relationships []CodeRelationship) []AntiPattern {
	outDegree := make(map[string]int)
	dependsOn := make(map[string][]string)
	for _, rel := range relationships {
		outDegree[rel.SourceEntityID]++
		if rel.Type == RelationDependsOn {
			dependsOn[rel.SourceEntityID] = append(dependsOn[rel.SourceEntityID], rel.TargetEntityID)
		}
	}

	var out []AntiPattern
	for _, e := range entities {
		if outDegree[e.EntityID] > GodObjectThreshold {
			out = append(out, AntiPattern{
				ID:           fmt.Sprintf("%d:%s:god_object", e.RepositoryID, e.EntityID),
				RepositoryID: e.RepositoryID,
				Type:         "god_object",
				Participants: []string{e.EntityID},
				Severity:     SeverityWarning,
				Remediation:  fmt.Sprintf("%s has %d outgoing relationships; consider splitting responsibilities", e.Name, outDegree[e.EntityID]),
			})
		}
	}

	seen := make(map[string]bool)
	for _, e := range entities {
		if cycle := findCycle(e.EntityID, dependsOn, CircularDependencyMaxDepth); cycle != nil {
			key := cycleKey(cycle)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, AntiPattern{
				ID:           fmt.Sprintf("%d:%s:circular_dependency", e.RepositoryID, e.EntityID),
				RepositoryID: e.RepositoryID,
				Type:         "circular_dependency",
				Participants: cycle,
				Severity:     SeverityErrorLvl,
				Remediation:  "break the dependency cycle by introducing an interface or extracting a shared module",
			})
		}
	}
	return out
}

// findCycle performs a depth-bounded DFS from start over the dependsOn
// adjacency, returning the first cycle found back to start, or nil.
func findCycle(start string, dependsOn map[string][]string, maxDepth int) []string {
	var path []string
	visiting := make(map[string]bool)

	var dfs func(node string, depth int) []string
	dfs = func(node string, depth int) []string {
		if depth > maxDepth {
			return nil
		}
		visiting[node] = true
		path = append(path, node)
		for _, next := range dependsOn[node] {
			if next == start && len(path) > 1 {
				return append(append([]string(nil), path...), next)
			}
			if visiting[next] {
				continue
			}
			if cycle := dfs(next, depth+1); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		visiting[node] = false
		return nil
	}

	return dfs(start, 0)
}

func cycleKey(cycle []string) string {
	key := ""
	for _, id := range cycle {
		key += id + ">"
	}
	return key
}

var _ Matcher = GodObjectMatcher{}
