package http

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/engine"
)

// RunsResponse lists the latest outcome per engine
type RunsResponse struct {
	Runs []engine.Outcome `json:"runs"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	resp := RunsResponse{Runs: []engine.Outcome{}}
	if s.runs != nil {
		resp.Runs = append(resp.Runs, s.runs.LastRuns()...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		writeError(w, http.StatusNotFound, "action history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	actions, err := s.actions.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list actions")
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}
