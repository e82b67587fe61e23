// Package orchestrator wires the config snapshot, dependency planner,
// exclusive lock, executor and status reconciler into the operations the CLI
// exposes: up, down, restart, status and plan.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/devloop/pkg/backend"
	"github.com/go-go-golems/devloop/pkg/config"
	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/lock"
	"github.com/go-go-golems/devloop/pkg/proc"
	"github.com/go-go-golems/devloop/pkg/state"
	"github.com/go-go-golems/devloop/pkg/status"
)

type Options struct {
	Root            string
	ConfigPath      string
	LockDir         string
	ShutdownTimeout time.Duration
	Sink            engine.Sink
}

type Orchestrator struct {
	Root    string
	Project string
	Specs   []engine.ServiceSpec

	store      *state.Store
	markers    *state.Markers
	backends   map[engine.Kind]engine.Backend
	locks      *lock.Manager
	reconciler *status.Reconciler
	sink       engine.Sink
}

// Load reads and normalizes the project config and assembles the engine
// around it.
func Load(opts Options) (*Orchestrator, error) {
	if opts.Root == "" {
		return nil, errors.New("missing project root")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath(root)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(root, cfgPath)
	}
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, err
	}
	project, specs, err := cfg.Normalize(root)
	if err != nil {
		return nil, err
	}

	lockDir := opts.LockDir
	if lockDir == "" {
		lockDir = lock.DefaultDir()
	}

	store := state.NewStore(root)
	markers := state.NewMarkers(root)
	backends := backend.NewRegistry(backend.Options{
		Root:            root,
		Project:         project,
		ShutdownTimeout: opts.ShutdownTimeout,
	}, store)

	sink := opts.Sink
	if sink == nil {
		sink = engine.NopSink{}
	}

	return &Orchestrator{
		Root:       root,
		Project:    project,
		Specs:      specs,
		store:      store,
		markers:    markers,
		backends:   backends,
		locks:      lock.NewManager(lockDir, state.ProcessAlive),
		reconciler: status.NewReconciler(backends, markers, state.ProcessAlive),
		sink:       sink,
	}, nil
}

// Plan computes the ActionPlan without executing it.
func (o *Orchestrator) Plan(ctx context.Context, op engine.Operation, targets []string, profile string) (engine.ActionPlan, error) {
	planner := engine.NewPlanner(o.Specs, o.reconciler)
	return planner.Plan(ctx, op, targets, profile)
}

// Apply plans and executes one operation under the project's exclusive lock.
// The lock is held only while mutating and released on every exit path.
func (o *Orchestrator) Apply(ctx context.Context, op engine.Operation, targets []string, profile string) (engine.ActionPlan, error) {
	plan, err := o.Plan(ctx, op, targets, profile)
	if err != nil {
		return engine.ActionPlan{}, err
	}
	if plan.Empty() {
		log.Info().Str("op", string(op)).Msg("nothing to do")
		return plan, nil
	}

	if err := o.locks.Acquire(o.Project, o.Root); err != nil {
		return engine.ActionPlan{}, err
	}
	defer func() {
		if err := o.locks.Release(o.Project); err != nil {
			log.Warn().Str("project", o.Project).Err(err).Msg("release lock failed")
		}
	}()

	executor := engine.NewExecutor(o.Specs, o.backends, o.markers, o.sink)
	if err := executor.Execute(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// ServiceStatus is one row of the status report.
type ServiceStatus struct {
	status.Report
	Stats     *proc.Stats `json:"stats,omitempty"`
	StderrLog string      `json:"stderr_log,omitempty"`
}

// Status reports every configured service (or only the explicit targets),
// health-check aware. Read-only: takes no lock.
func (o *Orchestrator) Status(ctx context.Context, targets []string, profile string) ([]ServiceStatus, error) {
	specs, err := o.selectSpecs(targets)
	if err != nil {
		return nil, err
	}

	out := make([]ServiceStatus, 0, len(specs))
	for _, spec := range specs {
		row := ServiceStatus{Report: o.reconciler.Report(ctx, spec, profile)}
		if row.PID > 0 && row.State != status.StateDown {
			if st, err := proc.Sample(row.PID); err == nil {
				row.Stats = st
			}
		}
		if spec.Kind == engine.KindNative {
			if rec, ok, err := o.store.Get(spec.Name); err == nil && ok {
				row.StderrLog = rec.StderrLog
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// StderrTail returns the last n stderr lines recorded for a native service.
func (o *Orchestrator) StderrTail(name string, n int) ([]string, error) {
	rec, ok, err := o.store.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok || rec.StderrLog == "" {
		return nil, nil
	}
	if _, err := os.Stat(rec.StderrLog); err != nil {
		return nil, nil
	}
	return state.TailLines(rec.StderrLog, n)
}

func (o *Orchestrator) selectSpecs(targets []string) ([]engine.ServiceSpec, error) {
	if len(targets) == 0 {
		return o.Specs, nil
	}
	byName := make(map[string]engine.ServiceSpec, len(o.Specs))
	for _, s := range o.Specs {
		byName[s.Name] = s
	}
	out := make([]engine.ServiceSpec, 0, len(targets))
	for _, t := range targets {
		spec, ok := byName[t]
		if !ok {
			return nil, &engine.UnknownTargetError{Name: t}
		}
		out = append(out, spec)
	}
	return out, nil
}
