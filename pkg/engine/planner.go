package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Planner turns an operation plus optional explicit targets into an
// ActionPlan containing only the actions that actually change runtime state.
type Planner struct {
	specs     []ServiceSpec
	byName    map[string]ServiceSpec
	graph     *DependencyGraph
	inspector RuntimeInspector
}

func NewPlanner(specs []ServiceSpec, inspector RuntimeInspector) *Planner {
	byName := make(map[string]ServiceSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	return &Planner{
		specs:     specs,
		byName:    byName,
		graph:     NewDependencyGraph(specs),
		inspector: inspector,
	}
}

// Plan resolves the target set, reconciles it against live runtime state and
// computes dependency-ordered waves. Explicit targets that prune down to
// nothing raise ErrNoMatchingService instead of silently succeeding.
func (p *Planner) Plan(ctx context.Context, op Operation, targets []string, profile string) (ActionPlan, error) {
	for _, t := range targets {
		if _, ok := p.byName[t]; !ok {
			return ActionPlan{}, &UnknownTargetError{Name: t}
		}
	}

	selected := p.resolveTargets(op, targets, profile)

	var plan ActionPlan
	var err error
	switch op {
	case OpStart:
		plan, err = p.startPlan(ctx, selected)
	case OpStop:
		plan, err = p.stopPlan(ctx, selected)
	case OpRestart:
		plan, err = p.restartPlan(ctx, selected)
	default:
		return ActionPlan{}, errors.Errorf("unsupported operation %q", op)
	}
	if err != nil {
		return ActionPlan{}, err
	}

	if len(targets) > 0 && plan.Empty() {
		return ActionPlan{}, errors.Wrapf(ErrNoMatchingService, "%s %v", op, targets)
	}
	return plan, nil
}

// resolveTargets computes the default target set when none is given: start
// honors profile eligibility, stop and restart reach every configured
// service (anything might be running).
func (p *Planner) resolveTargets(op Operation, targets []string, profile string) map[string]struct{} {
	selected := map[string]struct{}{}
	if len(targets) > 0 {
		for _, t := range targets {
			selected[t] = struct{}{}
		}
		return selected
	}
	for _, s := range p.specs {
		if op == OpStart && !s.EligibleFor(profile) {
			continue
		}
		selected[s.Name] = struct{}{}
	}
	return selected
}

func (p *Planner) startPlan(ctx context.Context, selected map[string]struct{}) (ActionPlan, error) {
	needed, err := p.reconcile(ctx, selected, false)
	if err != nil {
		return ActionPlan{}, err
	}
	names, err := p.graph.StartWaves(needed)
	if err != nil {
		return ActionPlan{}, err
	}
	return p.assemble(OpStart, OpStart, names), nil
}

func (p *Planner) stopPlan(ctx context.Context, selected map[string]struct{}) (ActionPlan, error) {
	running, err := p.reconcile(ctx, selected, true)
	if err != nil {
		return ActionPlan{}, err
	}
	names, err := p.graph.StopWaves(running)
	if err != nil {
		return ActionPlan{}, err
	}
	return p.assemble(OpStop, OpStop, names), nil
}

// restartPlan is the composition stop-then-start. The start phase covers
// exactly the names the stop phase found running: restart bounces what is
// up, it does not bring up services that were already stopped.
func (p *Planner) restartPlan(ctx context.Context, selected map[string]struct{}) (ActionPlan, error) {
	stop, err := p.stopPlan(ctx, selected)
	if err != nil {
		return ActionPlan{}, err
	}
	bounced := map[string]struct{}{}
	for _, name := range stop.ServiceNames() {
		bounced[name] = struct{}{}
	}
	startNames, err := p.graph.StartWaves(bounced)
	if err != nil {
		return ActionPlan{}, err
	}
	plan := ActionPlan{Op: OpRestart, Waves: stop.Waves}
	plan.Waves = append(plan.Waves, p.assemble(OpStart, OpStart, startNames).Waves...)
	return plan, nil
}

// reconcile keeps only the services whose runtime state differs from the
// desired one: wantUp=true keeps what is up (stop candidates), wantUp=false
// keeps what is down (start candidates).
func (p *Planner) reconcile(ctx context.Context, selected map[string]struct{}, wantUp bool) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, name := range sortedKeys(selected) {
		spec, ok := p.byName[name]
		if !ok {
			return nil, &UnknownTargetError{Name: name}
		}
		up, err := p.inspector.IsUp(ctx, spec)
		if err != nil {
			return nil, errors.Wrapf(err, "inspect %s", name)
		}
		if up == wantUp {
			out[name] = struct{}{}
		} else {
			log.Debug().Str("service", name).Bool("up", up).Msg("reconciled away")
		}
	}
	return out, nil
}

func (p *Planner) assemble(planOp Operation, actionOp Operation, waves [][]string) ActionPlan {
	plan := ActionPlan{Op: planOp}
	for _, wave := range waves {
		w := make(Wave, 0, len(wave))
		for _, name := range wave {
			spec := p.byName[name]
			w = append(w, Action{
				Op:          actionOp,
				Kind:        spec.Kind,
				Service:     name,
				Healthcheck: spec.Healthcheck,
			})
		}
		plan.Waves = append(plan.Waves, w)
	}
	return plan
}
