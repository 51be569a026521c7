package controller

import "errors"

// Sentinel errors for the Controller state machine and its registry,
// compared with errors.Is — the Go analogue of the Python source's
// custom exception hierarchy (EnvironmentSchedulerException and friends).
var (
	// ErrUnknownEnvironment is returned by the registry/façade for a name
	// that was never scheduled.
	ErrUnknownEnvironment = errors.New("controller: unknown environment")

	// ErrAnotherActionInProgress is returned by AddManual when the
	// controller is currently dispatching to the driver.
	ErrAnotherActionInProgress = errors.New("controller: another action is already in progress")

	// ErrManualAlreadyScheduled is returned by AddManual when a manual
	// action is already at the front of the queue, pending its tick.
	ErrManualAlreadyScheduled = errors.New("controller: a manual action is already scheduled")

	// ErrEnvironmentAlreadyScheduled is returned by Supervisor.Schedule
	// when an environment name is registered twice.
	ErrEnvironmentAlreadyScheduled = errors.New("controller: environment is already scheduled")
)
