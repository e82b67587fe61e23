package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/status"
)

func writeConfig(t *testing.T, root, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".devloop.yaml"), []byte(yaml), 0o644))
}

func loadTestOrchestrator(t *testing.T, yaml string) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	writeConfig(t, root, yaml)
	orch, err := Load(Options{
		Root:            root,
		LockDir:         t.TempDir(),
		ShutdownTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return orch
}

func TestLoad_ProjectAndSpecs(t *testing.T) {
	orch := loadTestOrchestrator(t, `
project: shop
services:
  - name: api
    command: ["sleep", "60"]
    depends_on: [db]
  - name: db
    command: ["sleep", "60"]
`)
	require.Equal(t, "shop", orch.Project)
	require.Len(t, orch.Specs, 2)
}

func TestPlan_OrdersByDependency(t *testing.T) {
	orch := loadTestOrchestrator(t, `
services:
  - name: api
    command: ["sleep", "60"]
    depends_on: [db]
  - name: db
    command: ["sleep", "60"]
`)
	plan, err := orch.Plan(context.Background(), engine.OpStart, nil, "")
	require.NoError(t, err)
	require.Len(t, plan.Waves, 2)
	require.Equal(t, "db", plan.Waves[0][0].Service)
	require.Equal(t, "api", plan.Waves[1][0].Service)
}

func TestApply_StartStatusStop(t *testing.T) {
	orch := loadTestOrchestrator(t, `
services:
  - name: sleeper
    command: ["sleep", "60"]
    healthcheck: 0
`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := orch.Apply(ctx, engine.OpStart, nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, plan.NumActions())

	rows, err := orch.Status(ctx, nil, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, status.StateUp, rows[0].State)
	require.True(t, rows[0].Enabled)

	// Lock is released after Apply.
	_, held, err := orch.locks.Holder(orch.Project)
	require.NoError(t, err)
	require.False(t, held)

	// Second start plans nothing.
	plan, err = orch.Apply(ctx, engine.OpStart, nil, "")
	require.NoError(t, err)
	require.True(t, plan.Empty())

	plan, err = orch.Apply(ctx, engine.OpStop, nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, plan.NumActions())

	rows, err = orch.Status(ctx, nil, "")
	require.NoError(t, err)
	require.Equal(t, status.StateDown, rows[0].State)
}

func TestStatus_UnknownTarget(t *testing.T) {
	orch := loadTestOrchestrator(t, `
services:
  - name: api
    command: ["sleep", "60"]
`)
	_, err := orch.Status(context.Background(), []string{"nope"}, "")
	var unknown *engine.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
}

func TestApply_ExplicitTargetAlreadyStopped(t *testing.T) {
	orch := loadTestOrchestrator(t, `
services:
  - name: api
    command: ["sleep", "60"]
`)
	_, err := orch.Apply(context.Background(), engine.OpStop, []string{"api"}, "")
	require.ErrorIs(t, err, engine.ErrNoMatchingService)
}
