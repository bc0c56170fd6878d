package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// maxBodyBytes bounds node request bodies.
const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		InFlight:      len(s.semaphore),
		MaxConcurrent: cap(s.semaphore),
	})
}

func (s *Server) handleClaudeCode(w http.ResponseWriter, r *http.Request) {
	if s.deps.ClaudeCode == nil {
		s.writeError(w, http.StatusServiceUnavailable, "claude-code node is not configured")
		return
	}
	var req ClaudeCodeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "items is required")
		return
	}

	results, err := s.deps.ClaudeCode.Execute(r.Context(), req.Items, req.ContinueOnFail)
	s.respondNode(w, results, err)
}

func (s *Server) handleCloudRunDispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.CloudRunDispatch == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cloud-run-dispatch node is not configured")
		return
	}
	var req CloudRunDispatchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "items is required")
		return
	}

	results, err := s.deps.CloudRunDispatch.Execute(r.Context(), req.Items, req.ContinueOnFail)
	s.respondNode(w, results, err)
}

func (s *Server) respondNode(w http.ResponseWriter, results []nodes.Result, err error) {
	if results == nil {
		results = []nodes.Result{}
	}
	if err == nil {
		respondJSON(w, http.StatusOK, NodeResponse{Results: results})
		return
	}

	resp := NodeErrorResponse{Error: err.Error(), Results: results}
	var itemErr *nodes.ItemError
	if errors.As(err, &itemErr) {
		resp.ItemIndex = itemErr.Index
	}

	status := http.StatusUnprocessableEntity
	if errors.Is(err, claude.ErrMissingConfiguration) {
		status = http.StatusBadRequest
	}
	s.logger.Warn("node batch aborted", "item", resp.ItemIndex, "status", status, "error", err)
	respondJSON(w, status, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	q := r.URL.Query()
	filter := runs.ListFilter{
		Kind:   runs.Kind(q.Get("kind")),
		Status: runs.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	list, err := s.deps.Runs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []runs.Run{}
	}
	respondJSON(w, http.StatusOK, RunListResponse{Runs: list})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, runs.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// decodeBody writes a 400 and returns false when the body is not valid JSON.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
