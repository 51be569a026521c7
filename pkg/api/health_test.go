package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nsscheduler/pkg/config"
	"github.com/cuemby/nsscheduler/pkg/controller"
	"github.com/cuemby/nsscheduler/pkg/driver"
)

type stubDriver struct {
	states map[string]driver.NamespaceState
}

func (d *stubDriver) ScaleDown(ctx context.Context, namespaces []string) error { return nil }
func (d *stubDriver) ScaleUp(ctx context.Context, namespaces []string, batch *config.BatchPolicy) error {
	return nil
}
func (d *stubDriver) GetState(ctx context.Context, namespaces []string) (map[string]driver.NamespaceState, error) {
	out := make(map[string]driver.NamespaceState, len(namespaces))
	for _, ns := range namespaces {
		out[ns] = d.states[ns]
	}
	return out, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	sup := controller.NewSupervisor(zerolog.Nop())
	envs := map[string]config.Environment{
		"dev-vasya": {Name: "dev-vasya", Namespaces: []string{"vasya-data"}, Schedule: "main"},
	}
	schedules := map[string]config.Schedule{"main": {Name: "main", Location: time.UTC}}
	require.NoError(t, sup.Schedule(envs, schedules, &stubDriver{states: map[string]driver.NamespaceState{}}, controller.WithTick(time.Hour)))
	return NewServer(sup, zerolog.Nop())
}

func TestHealthzHandler(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStateAllHandler(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state_all", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp stateAllDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Environments, 1)
	assert.Equal(t, "dev-vasya", resp.Environments[0].EnvName)
	assert.Equal(t, "Down", resp.Environments[0].EnvState)
}

func TestStateHandlerUnknownEnvironmentReturns422(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state/ghost", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStateHandlerKnownEnvironment(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state/dev-vasya", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp envStateDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "main", resp.EnvSchedule)
}

func TestUpHandlerSucceedsThenConflictsOnSecondManual(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/up/dev-vasya", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/down/dev-vasya", nil)
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestUpHandlerUnknownEnvironmentReturns422(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/up/ghost", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRequestIDHeaderIsStamped(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
