package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/nsscheduler/pkg/action"
	"github.com/cuemby/nsscheduler/pkg/config"
	"github.com/cuemby/nsscheduler/pkg/driver"
)

// Supervisor is the process-wide Controller Registry and Query/Command
// Façade: a single value owning map[env name]*Controller behind a
// sync.RWMutex, constructed once by cmd/nsscheduler and handed by pointer
// to both the controller-starting goroutines and the HTTP layer —
// reframing the Python source's module-level `_env_controllers` dict per
// SPEC_FULL.md §4.5 (keeps tests hermetic: a fresh
// Supervisor per test replaces the source's `reset()` smell).
type Supervisor struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	logger      zerolog.Logger
}

// NewSupervisor constructs an empty Supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		controllers: make(map[string]*Controller),
		logger:      logger,
	}
}

// Schedule registers and starts one Controller per environment. It
// validates every name and schedule reference before mutating any state, so
// a single bad environment in the batch leaves the registry untouched.
// Registering an already-scheduled name is ErrEnvironmentAlreadyScheduled.
func (s *Supervisor) Schedule(envs map[string]config.Environment, schedules map[string]config.Schedule, drv driver.Driver, opts ...Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range envs {
		if _, exists := s.controllers[name]; exists {
			return fmt.Errorf("%w: %s", ErrEnvironmentAlreadyScheduled, name)
		}
	}

	created := make(map[string]*Controller, len(envs))
	for name, env := range envs {
		sched, ok := schedules[env.Schedule]
		if !ok {
			return fmt.Errorf("environment %s references unknown schedule %s", name, env.Schedule)
		}
		created[name] = NewController(name, env, sched, drv, opts...)
	}

	names := make([]string, 0, len(created))
	for name := range created {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctrl := created[name]
		s.controllers[name] = ctrl
		ctrl.Start()
		s.logger.Info().Str("environment", name).Msg("controller started")
	}
	return nil
}

// Shutdown signals every controller to stop and waits for each, in turn,
// bounded by ctx — mirroring the teacher's signal-handling shutdown
// sequence of ordered Stop() calls.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	ctrls := make([]*Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		ctrls = append(ctrls, c)
	}
	s.mu.RUnlock()

	for _, c := range ctrls {
		c.Stop()
	}
	for _, c := range ctrls {
		if err := c.Wait(ctx); err != nil {
			return fmt.Errorf("shutting down controller %s: %w", c.Name(), err)
		}
	}
	return nil
}

// ListStates fans out one goroutine per environment and joins via
// sync.WaitGroup — the Go analogue of the Python source's
// `asyncio.TaskGroup` fan-out in `get_all_env_states`.
func (s *Supervisor) ListStates(ctx context.Context) ([]EnvState, error) {
	s.mu.RLock()
	ctrls := make([]*Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		ctrls = append(ctrls, c)
	}
	s.mu.RUnlock()

	type result struct {
		state EnvState
		err   error
	}
	results := make([]result, len(ctrls))
	var wg sync.WaitGroup
	for i, ctrl := range ctrls {
		wg.Add(1)
		go func(i int, c *Controller) {
			defer wg.Done()
			st, err := c.State(ctx)
			results[i] = result{state: st, err: err}
		}(i, ctrl)
	}
	wg.Wait()

	states := make([]EnvState, 0, len(ctrls))
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		states = append(states, r.state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].EnvName < states[j].EnvName })
	return states, nil
}

// GetState returns a single environment's state. The registry's read-lock
// is held only long enough to copy the *Controller pointer; the driver
// fetch inside Controller.State runs unlocked.
func (s *Supervisor) GetState(ctx context.Context, name string) (EnvState, error) {
	s.mu.RLock()
	ctrl, ok := s.controllers[name]
	s.mu.RUnlock()
	if !ok {
		return EnvState{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	return ctrl.State(ctx)
}

// RequestAction delegates to the named controller's AddManual, surfacing
// each rejection as a distinct sentinel error.
func (s *Supervisor) RequestAction(name string, kind action.Kind) error {
	s.mu.RLock()
	ctrl, ok := s.controllers[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	return ctrl.AddManual(kind)
}
