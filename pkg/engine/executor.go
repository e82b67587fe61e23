package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Executor walks an ActionPlan wave by wave against the per-kind backends.
// The wave barrier is the only synchronization it imposes: every action of
// wave i settles before wave i+1 begins. Nothing is rolled back on failure;
// the remaining waves are abandoned and the failure surfaced as-is.
type Executor struct {
	Backends map[Kind]Backend
	Markers  MarkerStore
	Sink     Sink
	Now      func() time.Time

	specs map[string]ServiceSpec
}

func NewExecutor(specs []ServiceSpec, backends map[Kind]Backend, markers MarkerStore, sink Sink) *Executor {
	if sink == nil {
		sink = NopSink{}
	}
	byName := make(map[string]ServiceSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	return &Executor{
		Backends: backends,
		Markers:  markers,
		Sink:     sink,
		Now:      time.Now,
		specs:    byName,
	}
}

// Execute runs the plan. Actions within a wave dispatch concurrently; on
// failure the rest of the wave still settles, then execution stops. The
// returned error is an *ActionError naming the service and wave index of the
// first failure.
func (e *Executor) Execute(ctx context.Context, plan ActionPlan) error {
	e.emit(Event{Type: EventPlanStarted, Op: plan.Op})

	for i, wave := range plan.Waves {
		if err := e.runWave(ctx, i, wave); err != nil {
			e.emit(Event{Type: EventPlanFinished, Op: plan.Op, Wave: i, Error: err.Error()})
			return err
		}
	}
	e.emit(Event{Type: EventPlanFinished, Op: plan.Op, Wave: len(plan.Waves)})
	return nil
}

func (e *Executor) runWave(ctx context.Context, index int, wave Wave) error {
	e.emit(Event{Type: EventWaveStarted, Wave: index})

	// Plain errgroup, no context cancellation: a failing action must not
	// cancel its wave siblings, they run to completion or fail on their own.
	var g errgroup.Group
	var mu sync.Mutex
	var firstErr *ActionError

	for _, action := range wave {
		action := action
		g.Go(func() error {
			err := e.runAction(ctx, index, action)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.emit(Event{Type: EventWaveFinished, Wave: index})
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, wave int, action Action) *ActionError {
	e.emit(Event{Type: EventActionStarted, Op: action.Op, Service: action.Service, Wave: wave})

	backend, ok := e.Backends[action.Kind]
	if !ok {
		err := errors.Errorf("no backend for kind %q", action.Kind)
		e.emit(Event{Type: EventActionFailed, Op: action.Op, Service: action.Service, Wave: wave, Error: err.Error()})
		return &ActionError{Service: action.Service, Wave: wave, Op: action.Op, Err: err}
	}

	var err error
	switch action.Op {
	case OpStart:
		err = e.start(ctx, backend, action)
	case OpStop:
		err = e.stop(ctx, backend, action)
	default:
		err = errors.Errorf("unsupported action op %q", action.Op)
	}

	if err != nil {
		log.Error().Str("service", action.Service).Int("wave", wave).Err(err).Msg("action failed")
		e.emit(Event{Type: EventActionFailed, Op: action.Op, Service: action.Service, Wave: wave, Error: err.Error()})
		return &ActionError{Service: action.Service, Wave: wave, Op: action.Op, Err: err}
	}
	e.emit(Event{Type: EventActionSucceeded, Op: action.Op, Service: action.Service, Wave: wave})
	return nil
}

// start issues the backend start and, for kinds whose visibility is
// asynchronous (containers), records a start marker so status can report
// pending before the backend shows the service.
func (e *Executor) start(ctx context.Context, backend Backend, action Action) error {
	spec, ok := e.specs[action.Service]
	if !ok {
		return errors.Errorf("no spec for service %q", action.Service)
	}
	handle, err := backend.Start(ctx, spec)
	if err != nil {
		return errors.Wrapf(err, "start %s", action.Service)
	}
	log.Info().Str("service", action.Service).Int("pid", handle.PID).Str("id", handle.ID).Msg("service started")

	if action.Kind == KindContainer && e.Markers != nil {
		m := Marker{PID: handle.PID, ContainerID: handle.ID, RequestedAt: e.Now()}
		if err := e.Markers.Record(action.Service, m); err != nil {
			return errors.Wrapf(err, "record start marker for %s", action.Service)
		}
	}
	return nil
}

func (e *Executor) stop(ctx context.Context, backend Backend, action Action) error {
	if err := backend.Stop(ctx, action.Service); err != nil {
		return errors.Wrapf(err, "stop %s", action.Service)
	}
	log.Info().Str("service", action.Service).Msg("service stopped")
	if e.Markers != nil {
		if err := e.Markers.Clear(action.Service); err != nil {
			return errors.Wrapf(err, "clear start marker for %s", action.Service)
		}
	}
	return nil
}

func (e *Executor) emit(ev Event) {
	ev.Time = e.Now()
	e.Sink.Emit(ev)
}
