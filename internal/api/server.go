// Package api exposes the daemon's command surface over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/events"
	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/scheduler"
	"github.com/taskmind/taskmind/internal/storage"
)

const maxRequestBodySize = 1 << 20      // 1MB
const maxSelectionBodySize = 10 << 20   // 10MB, selections can carry document data

// ModelStatus is the slice of the inference gateway the API needs.
type ModelStatus interface {
	Status() inference.Status
	Model() string
}

// Deps holds everything the HTTP surface depends on.
type Deps struct {
	Store     *storage.Store
	Conv      *conversation.Manager
	Gateway   ModelStatus
	Scheduler *scheduler.Scheduler
	Bus       *events.Bus
	Token     string
}

// NewHandler builds the daemon's HTTP router. Health is unauthenticated;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/model/status", handleModelStatus(deps))
		r.Post("/generate", handleGenerate(deps))
		r.Get("/events", handleEvents(deps))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(deps))
			r.Post("/", handleCreateConversation(deps))
			r.Get("/current", handleCurrentConversation(deps))
			r.Put("/current", handleSetCurrentConversation(deps))
			r.Get("/{id}/history", handleConversationHistory(deps))
			r.Post("/{id}/reset", handleResetConversation(deps))
			r.Patch("/{id}", handleRenameConversation(deps))
			r.Delete("/{id}", handleDeleteConversation(deps))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", handleListTasks(deps))
			r.Post("/", handleCreateTask(deps))
			r.Get("/{id}", handleGetTask(deps))
			r.Patch("/{id}", handleUpdateTask(deps))
			r.Delete("/{id}", handleDeleteTask(deps))
			r.Post("/{id}/complete", handleCompleteTask(deps))
			r.Get("/{id}/progress", handleTaskProgress(deps))
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/start", handleSchedulerStart(deps))
			r.Post("/stop", handleSchedulerStop(deps))
			r.Get("/status", handleSchedulerStatus(deps))
			r.Put("/interval", handleSchedulerInterval(deps))
		})

		r.Route("/capture", func(r chi.Router) {
			r.Post("/selection", handleCaptureSelection(deps))
			r.Post("/run", handleCaptureRun(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModelStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"model":  deps.Gateway.Model(),
			"status": deps.Gateway.Status(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
