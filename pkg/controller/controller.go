// Package controller implements the per-environment scheduling state
// machine (the Environment Controller), its process-wide registry, and the
// query/command façade the HTTP API drives.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/cuemby/nsscheduler/pkg/action"
	"github.com/cuemby/nsscheduler/pkg/config"
	"github.com/cuemby/nsscheduler/pkg/driver"
	"github.com/cuemby/nsscheduler/pkg/log"
	"github.com/cuemby/nsscheduler/pkg/metrics"
)

// State is the Controller's place in the IDLE / ACTION_IN_PROGRESS /
// MANUAL_ACTION_SCHEDULED state machine.
type State int

const (
	Idle State = iota
	ActionInProgress
	ManualActionScheduled
)

func (s State) String() string {
	switch s {
	case ActionInProgress:
		return "Action in progress"
	case ManualActionScheduled:
		return "manual action scheduled"
	default:
		return "idle"
	}
}

const (
	defaultTick         = 3 * time.Second
	defaultRecalcWindow = 30 * 24 * time.Hour
	minSaneRecalcWindow = 24 * time.Hour
)

// NamespaceStateView is the JSON/API-facing snapshot of one namespace.
type NamespaceStateView struct {
	Namespace string
	Pods      int
	CPU       resource.Quantity
	Memory    resource.Quantity
}

// EnvState is the observable, point-in-time state of one environment.
type EnvState struct {
	EnvName     string
	EnvState    string // "Up", "Down", or "Action in progress"
	EnvSchedule string
	NextAction  *action.Action
	Namespaces  []NamespaceStateView
}

// Controller is the per-environment state machine: a FIFO action queue, a
// state, and the mutex guarding both — mirroring the teacher's
// ticker-driven Scheduler/Reconciler shape (Start/Stop, stopCh, run loop).
type Controller struct {
	name     string
	env      config.Environment
	schedule config.Schedule
	driver   driver.Driver
	logger   zerolog.Logger

	tick         time.Duration
	recalcWindow time.Duration
	nowFunc      func() time.Time

	mu           sync.Mutex // guards queue, state, nextRecalcAt only — never held across driver calls or sleeps
	queue        []action.Action
	state        State
	nextRecalcAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Controller at construction time.
type Option func(*Controller)

func WithTick(d time.Duration) Option {
	return func(c *Controller) { c.tick = d }
}

// WithRecalcWindow overrides the default 30-day recalculation window. Per
// spec.md §4.4 it must be strictly positive; a non-positive value is
// rejected in favor of the default, and a value under 24h is accepted but
// logged at Warn (long ticks with a short window risk re-expanding across
// already-executed instants).
func WithRecalcWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d <= 0 {
			c.logger.Error().Dur("window", d).Msg("recalculation window must be positive, keeping default")
			return
		}
		if d < minSaneRecalcWindow {
			c.logger.Warn().Dur("window", d).Msg("recalculation window is under 1 day")
		}
		c.recalcWindow = d
	}
}

// WithClock overrides the controller's notion of "now" for deterministic
// tests. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.nowFunc = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController constructs a Controller and performs the initial queue
// population: expand [now, now+2W] and enqueue it, then set
// nextRecalcAt = now+W, guaranteeing the queue always covers at least W of
// future horizon (spec.md §4.4 "Initial population").
func NewController(name string, env config.Environment, schedule config.Schedule, drv driver.Driver, opts ...Option) *Controller {
	c := &Controller{
		name:         name,
		env:          env,
		schedule:     schedule,
		driver:       drv,
		logger:       log.WithEnvironment("controller", name),
		tick:         defaultTick,
		recalcWindow: defaultRecalcWindow,
		nowFunc:      time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	now := c.nowFunc().In(c.schedule.Location)
	c.queue = action.Expand(c.schedule, now, now.Add(2*c.recalcWindow))
	c.nextRecalcAt = now.Add(c.recalcWindow)
	return c
}

// Name returns the environment name this controller manages.
func (c *Controller) Name() string { return c.name }

// Start launches the controller's tick loop in its own goroutine.
func (c *Controller) Start() {
	go c.run()
}

// Stop signals the tick loop to exit at its next tick boundary. It does not
// wait for the loop to finish; call Wait for that.
func (c *Controller) Stop() {
	close(c.stopCh)
}

// Wait blocks until the tick loop has exited or ctx is done, whichever
// comes first.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tickOnce()
		case <-c.stopCh:
			return
		}
	}
}

// tickOnce implements the three main-loop steps of spec.md §4.4: queue
// recalculation, due-action dispatch, and (implicitly) the tick sleep
// handled by the caller's ticker. The driver call happens with the guard
// released, per spec.md §5.
func (c *Controller) tickOnce() {
	now := c.nowFunc().In(c.schedule.Location)

	c.mu.Lock()
	if !now.Before(c.nextRecalcAt) {
		from := c.nextRecalcAt.Add(c.recalcWindow)
		until := c.nextRecalcAt.Add(2 * c.recalcWindow)
		c.nextRecalcAt = c.nextRecalcAt.Add(c.recalcWindow)
		c.mu.Unlock()

		newActions := action.Expand(c.schedule, from, until)
		metrics.RecalculationsTotal.WithLabelValues(c.name).Inc()

		c.mu.Lock()
		c.queue = append(c.queue, newActions...)
	}

	var due *action.Action
	if len(c.queue) > 0 && !c.queue[0].When.After(now) && (c.state == Idle || c.state == ManualActionScheduled) {
		head := c.queue[0]
		c.queue = c.queue[1:]
		c.state = ActionInProgress
		due = &head
	}
	metrics.QueueDepth.WithLabelValues(c.name).Set(float64(len(c.queue)))
	c.mu.Unlock()

	if due == nil {
		return
	}

	c.dispatch(due)

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// dispatch invokes the Workload Driver for a dequeued action, lock-free.
func (c *Controller) dispatch(a *action.Action) {
	ctx := context.Background()
	timer := metrics.NewTimer()

	var err error
	switch a.Kind {
	case action.Down:
		err = c.driver.ScaleDown(ctx, c.env.Namespaces)
		timer.ObserveDurationVec(metrics.ScaleDuration, c.name, "down")
	case action.Up:
		err = c.driver.ScaleUp(ctx, c.env.Namespaces, c.env.Batch)
		timer.ObserveDurationVec(metrics.ScaleDuration, c.name, "up")
	}

	metrics.ActionsTotal.WithLabelValues(c.name, a.Source.String(), a.Kind.String()).Inc()
	if err != nil {
		c.logger.Error().Err(err).Str("kind", a.Kind.String()).Str("source", a.Source.String()).
			Msg("driver call failed")
	}
}

// AddManual implements the manual-override contract of spec.md §4.4: it
// prepends a MANUAL action to the queue under the guard, rejecting the
// request with a distinct sentinel error when the controller is currently
// dispatching or already has a manual action pending.
func (c *Controller) AddManual(kind action.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ActionInProgress:
		metrics.ManualRejectionsTotal.WithLabelValues(c.name, "action_in_progress").Inc()
		return ErrAnotherActionInProgress
	case ManualActionScheduled:
		metrics.ManualRejectionsTotal.WithLabelValues(c.name, "manual_already_scheduled").Inc()
		return ErrManualAlreadyScheduled
	}

	when := c.nowFunc().In(c.schedule.Location)
	manual := action.Action{Kind: kind, Source: action.Manual, When: when}
	c.queue = append([]action.Action{manual}, c.queue...)
	c.state = ManualActionScheduled
	return nil
}

// State reports the controller's observable environment state. The guard
// is taken only for the in-memory read and released before the driver's
// GetState call — fixing the source bug in `get_env_state`, which read
// env_state without any lock at all (spec.md §9).
func (c *Controller) State(ctx context.Context) (EnvState, error) {
	c.mu.Lock()
	state := c.state
	var next *action.Action
	if len(c.queue) > 0 {
		head := c.queue[0]
		next = &head
	}
	c.mu.Unlock()

	if state == ActionInProgress {
		return EnvState{
			EnvName:     c.name,
			EnvState:    ActionInProgress.String(),
			EnvSchedule: c.schedule.Name,
			NextAction:  next,
		}, nil
	}

	nsStates, err := c.driver.GetState(ctx, c.env.Namespaces)
	if err != nil {
		return EnvState{}, err
	}

	up := false
	views := make([]NamespaceStateView, 0, len(c.env.Namespaces))
	for _, ns := range c.env.Namespaces {
		s := nsStates[ns]
		if s.IsUp() {
			up = true
		}
		views = append(views, NamespaceStateView{Namespace: ns, Pods: s.Pods, CPU: s.CPU, Memory: s.Memory})
	}

	label := "Down"
	if up {
		label = "Up"
	}
	return EnvState{
		EnvName:     c.name,
		EnvState:    label,
		EnvSchedule: c.schedule.Name,
		NextAction:  next,
		Namespaces:  views,
	}, nil
}
