package engine

import (
	"sort"
)

// DependencyGraph is a directed graph over service names. An edge A -> B
// means "A requires B to be already running". Built once per invocation.
type DependencyGraph struct {
	nodes map[string]ServiceSpec
}

func NewDependencyGraph(specs []ServiceSpec) *DependencyGraph {
	g := &DependencyGraph{nodes: map[string]ServiceSpec{}}
	for _, s := range specs {
		g.AddService(s)
	}
	return g
}

// AddService registers a node. Registering the same name twice replaces the
// earlier spec (last writer wins within a build pass).
func (g *DependencyGraph) AddService(spec ServiceSpec) {
	g.nodes[spec.Name] = spec
}

func (g *DependencyGraph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// StartWaves restricts the graph to selected and layers it into start order:
// a service is placed once every dependency is either outside the selection
// or already placed in an earlier wave. Names within a wave are sorted for
// stable rendering only; callers must not rely on within-wave order.
func (g *DependencyGraph) StartWaves(selected map[string]struct{}) ([][]string, error) {
	if err := g.checkReferences(selected); err != nil {
		return nil, err
	}
	return g.layer(selected, func(name string, placed map[string]bool) bool {
		for _, dep := range g.nodes[name].DependsOn {
			if _, in := selected[dep]; !in {
				continue
			}
			if !placed[dep] {
				return false
			}
		}
		return true
	})
}

// StopWaves mirrors StartWaves over the reverse edges: a service is placed
// once every selected service depending on it is already placed. Dependents
// therefore always stop before the services they depend on.
func (g *DependencyGraph) StopWaves(selected map[string]struct{}) ([][]string, error) {
	if err := g.checkReferences(selected); err != nil {
		return nil, err
	}
	dependents := map[string][]string{}
	for name := range selected {
		for _, dep := range g.nodes[name].DependsOn {
			if _, in := selected[dep]; !in {
				continue
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}
	return g.layer(selected, func(name string, placed map[string]bool) bool {
		for _, d := range dependents[name] {
			if !placed[d] {
				return false
			}
		}
		return true
	})
}

// checkReferences fails fast on any selected service whose depends_on names
// a service unknown to the graph, whether or not the dependency is itself
// selected.
func (g *DependencyGraph) checkReferences(selected map[string]struct{}) error {
	for _, name := range sortedKeys(selected) {
		spec, ok := g.nodes[name]
		if !ok {
			return &UnknownTargetError{Name: name}
		}
		for _, dep := range spec.DependsOn {
			if !g.Has(dep) {
				return &DanglingReferenceError{Service: name, Dependency: dep}
			}
		}
	}
	return nil
}

// layer repeatedly extracts every placeable node into the next wave. If a
// pass places nothing while nodes remain, those nodes contain a cycle.
func (g *DependencyGraph) layer(selected map[string]struct{}, placeable func(name string, placed map[string]bool) bool) ([][]string, error) {
	remaining := map[string]struct{}{}
	for name := range selected {
		remaining[name] = struct{}{}
	}
	placed := map[string]bool{}

	var waves [][]string
	for len(remaining) > 0 {
		var wave []string
		for name := range remaining {
			if placeable(name, placed) {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			return nil, &CycleError{Members: sortedKeys(remaining)}
		}
		sort.Strings(wave)
		for _, name := range wave {
			placed[name] = true
			delete(remaining, name)
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
