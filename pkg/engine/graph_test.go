package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func svc(name string, deps ...string) ServiceSpec {
	return ServiceSpec{Name: name, Kind: KindNative, Command: []string{"true"}, DependsOn: deps}
}

func sel(names ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestStartWaves_Chain(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a"),
		svc("b", "a"),
		svc("c", "b"),
	})

	waves, err := g.StartWaves(sel("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, waves)
}

func TestStopWaves_ChainReversed(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a"),
		svc("b", "a"),
		svc("c", "b"),
	})

	waves, err := g.StopWaves(sel("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"c"}, {"b"}, {"a"}}, waves)
}

func TestStartWaves_IndependentServicesShareWave(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("db"),
		svc("cache"),
		svc("api", "db", "cache"),
	})

	waves, err := g.StartWaves(sel("db", "cache", "api"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"cache", "db"}, {"api"}}, waves)
}

func TestStartWaves_EveryNameInExactlyOneWave(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a"),
		svc("b", "a"),
		svc("c", "a"),
		svc("d", "b", "c"),
		svc("e"),
	})
	selected := sel("a", "b", "c", "d", "e")

	waves, err := g.StartWaves(selected)
	require.NoError(t, err)
	require.LessOrEqual(t, len(waves), len(selected))

	seen := map[string]int{}
	for _, wave := range waves {
		for _, name := range wave {
			seen[name]++
		}
	}
	for name := range selected {
		require.Equal(t, 1, seen[name], "service %s", name)
	}
}

func TestStartWaves_SubsetSelection(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("database"),
		svc("api", "database"),
		svc("worker", "database"),
	})

	waves, err := g.StartWaves(sel("api"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"api"}}, waves)
}

func TestStartWaves_TwoNodeCycle(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a", "b"),
		svc("b", "a"),
	})

	_, err := g.StartWaves(sel("a", "b"))
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.NotEmpty(t, cycleErr.Members)
}

func TestStartWaves_ThreeNodeCycle(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a", "b"),
		svc("b", "c"),
		svc("c", "a"),
	})

	waves, err := g.StartWaves(sel("a", "b", "c"))
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Nil(t, waves, "no partial waves on cycle")
}

func TestStartWaves_DanglingReference(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a", "ghost"),
	})

	_, err := g.StartWaves(sel("a"))
	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	require.Equal(t, "ghost", dangling.Dependency)
}

func TestStartWaves_DanglingReferenceOutsideSelection(t *testing.T) {
	// The dependency is not selected, but it must still be a known service.
	g := NewDependencyGraph([]ServiceSpec{
		svc("a", "ghost"),
		svc("b"),
	})

	_, err := g.StartWaves(sel("a", "b"))
	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
}

func TestStartWaves_DependencyOutsideSelectionIsSkipped(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("db"),
		svc("api", "db"),
	})

	// db exists but is not selected: api starts alone in wave 0.
	waves, err := g.StartWaves(sel("api"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"api"}}, waves)
}

func TestStartWaves_Deterministic(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("a"),
		svc("b"),
		svc("c", "a", "b"),
		svc("d", "c"),
	})

	first, err := g.StartWaves(sel("a", "b", "c", "d"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := g.StartWaves(sel("a", "b", "c", "d"))
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestAddService_LastWriterWins(t *testing.T) {
	g := NewDependencyGraph(nil)
	g.AddService(svc("a", "missing"))
	g.AddService(svc("a"))

	waves, err := g.StartWaves(sel("a"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}}, waves)
}

func TestStopWaves_SharedDependencyStopsLast(t *testing.T) {
	g := NewDependencyGraph([]ServiceSpec{
		svc("db"),
		svc("api", "db"),
		svc("worker", "db"),
	})

	waves, err := g.StopWaves(sel("db", "api", "worker"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"api", "worker"}, {"db"}}, waves)
}
