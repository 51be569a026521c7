package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/nsscheduler/pkg/action"
	"github.com/cuemby/nsscheduler/pkg/controller"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the sentinel errors of spec.md §7 to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrUnknownEnvironment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, controller.ErrAnotherActionInProgress), errors.Is(err, controller.ErrManualAlreadyScheduled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stateAllHandler(w http.ResponseWriter, r *http.Request) {
	states, err := s.supervisor.ListStates(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	dto := stateAllDTO{Environments: make([]envStateDTO, 0, len(states))}
	for _, st := range states {
		dto.Environments = append(dto.Environments, toEnvStateDTO(st))
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	env := r.PathValue("env")
	st, err := s.supervisor.GetState(r.Context(), env)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toEnvStateDTO(st))
}

func (s *Server) upHandler(w http.ResponseWriter, r *http.Request) {
	s.requestActionHandler(w, r, action.Up)
}

func (s *Server) downHandler(w http.ResponseWriter, r *http.Request) {
	s.requestActionHandler(w, r, action.Down)
}

func (s *Server) requestActionHandler(w http.ResponseWriter, r *http.Request, kind action.Kind) {
	env := r.PathValue("env")
	if err := s.supervisor.RequestAction(env, kind); err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}
