package controller

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nsscheduler/pkg/action"
	"github.com/cuemby/nsscheduler/pkg/config"
)

func testEnvs() map[string]config.Environment {
	return map[string]config.Environment{
		"dev-vasya": {Name: "dev-vasya", Namespaces: []string{"vasya-data"}, Schedule: "main"},
		"dev-petya": {Name: "dev-petya", Namespaces: []string{"petya-data"}, Schedule: "main"},
	}
}

func testSchedules() map[string]config.Schedule {
	return map[string]config.Schedule{"main": testSchedule()}
}

func newTestSupervisor() *Supervisor {
	return NewSupervisor(zerolog.Nop())
}

func TestScheduleRegistersAndStartsControllers(t *testing.T) {
	s := newTestSupervisor()
	err := s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(time.Hour))
	require.NoError(t, err)

	states, err := s.ListStates(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestScheduleRejectsDuplicateEnvironmentName(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(time.Hour)))

	err := s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(time.Hour))
	assert.ErrorIs(t, err, ErrEnvironmentAlreadyScheduled)
}

func TestScheduleRejectsUnknownScheduleReference(t *testing.T) {
	s := newTestSupervisor()
	envs := map[string]config.Environment{
		"dev": {Name: "dev", Namespaces: []string{"ns1"}, Schedule: "does-not-exist"},
	}
	err := s.Schedule(envs, testSchedules(), newFakeDriver())
	require.Error(t, err)
}

func TestGetStateUnknownEnvironment(t *testing.T) {
	s := newTestSupervisor()
	_, err := s.GetState(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestRequestActionUnknownEnvironment(t *testing.T) {
	s := newTestSupervisor()
	err := s.RequestAction("ghost", action.Up)
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestRequestActionDelegatesToController(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(time.Hour)))

	require.NoError(t, s.RequestAction("dev-vasya", action.Up))
	err := s.RequestAction("dev-vasya", action.Down)
	assert.ErrorIs(t, err, ErrManualAlreadyScheduled)
}

func TestShutdownStopsAllControllers(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(5*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestListStatesSortedByName(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Schedule(testEnvs(), testSchedules(), newFakeDriver(), WithTick(time.Hour)))

	states, err := s.ListStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "dev-petya", states[0].EnvName)
	assert.Equal(t, "dev-vasya", states[1].EnvName)
}
