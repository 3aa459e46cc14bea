package graph

import "golang.org/x/sync/errgroup"

// Registry is a collection of Matchers, run in parallel over the same
// (entities, relationships) since each Matcher is required to be pure and
// side-effect free (§9: "a registry of pure matchers ... so adding a
// detector requires only registering a new matcher"). The concurrency
// primitive mirrors the bounded errgroup usage elsewhere in this module
// (application/service.IngestionPipeline's embed/fetch fan-out).
type Registry struct {
	matchers []Matcher
}

// NewRegistry creates a Registry seeded with matchers.
func NewRegistry(matchers ...Matcher) *Registry {
	return &Registry{matchers: append([]Matcher(nil), matchers...)}
}

// Register adds a Matcher to the registry.
func (r *Registry) Register(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Names returns the registered matchers' names, in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.matchers))
	for i, m := range r.matchers {
		names[i] = m.Name()
	}
	return names
}

// DetectPatterns runs every registered matcher's DetectPatterns concurrently
// and concatenates the results. If names is non-empty, only matchers whose
// Name() appears in names run (detectArchitecturalPatterns(patternTypes?)).
func (r *Registry) DetectPatterns(entities []CodeEntity, relationships []CodeRelationship, names []string) []ArchitecturalPattern {
	matchers := r.selected(names)
	results := make([][]ArchitecturalPattern, len(matchers))

	var g errgroup.Group
	for i, m := range matchers {
		i, m := i, m
		g.Go(func() error {
			results[i] = m.DetectPatterns(entities, relationships)
			return nil
		})
	}
	_ = g.Wait()

	var out []ArchitecturalPattern
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// DetectAntiPatterns runs every registered matcher's DetectAntiPatterns
// concurrently and concatenates the results.
func (r *Registry) DetectAntiPatterns(entities []CodeEntity, relationships []CodeRelationship) []AntiPattern {
	var g errgroup.Group
	results := make([][]AntiPattern, len(r.matchers))
	for i, m := range r.matchers {
		i, m := i, m
		g.Go(func() error {
			results[i] = m.DetectAntiPatterns(entities, relationships)
			return nil
		})
	}
	_ = g.Wait()

	var out []AntiPattern
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (r *Registry) selected(names []string) []Matcher {
	if len(names) == 0 {
		return r.matchers
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Matcher
	for _, m := range r.matchers {
		if want[m.Name()] {
			out = append(out, m)
		}
	}
	return out
}
