package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/taskmind/taskmind/internal/scheduler"
)

func handleSchedulerStart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			IntervalSeconds int `json:"interval_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		interval := time.Duration(req.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = deps.Scheduler.Stats().Interval
		}
		if err := deps.Scheduler.Start(interval); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to start scheduler: %v", err)
			return
		}
		writeJSON(w, deps.Scheduler.Stats())
	}
}

func handleSchedulerStop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Scheduler.Stop()
		writeJSON(w, deps.Scheduler.Stats())
	}
}

func handleSchedulerStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Scheduler.Stats())
	}
}

func handleSchedulerInterval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			IntervalSeconds int `json:"interval_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IntervalSeconds <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "interval_seconds must be a positive integer")
			return
		}
		if err := deps.Scheduler.SetInterval(time.Duration(req.IntervalSeconds) * time.Second); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set interval: %v", err)
			return
		}
		writeJSON(w, deps.Scheduler.Stats())
	}
}

// handleCaptureRun triggers one matching cycle outside the regular cadence.
func handleCaptureRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Scheduler.RunNow(r.Context()); err != nil {
			if errors.Is(err, scheduler.ErrCycleInFlight) {
				httpError(w, http.StatusConflict, "conflict", "a capture cycle is already running")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "capture cycle failed: %v", err)
			return
		}
		writeJSON(w, deps.Scheduler.Stats())
	}
}
