package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taskmind/taskmind/internal/recurrence"
	"github.com/taskmind/taskmind/internal/storage"
)

type taskStepResponse struct {
	ID          int64      `json:"id"`
	StepNumber  int        `json:"step_number"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type taskResponse struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Category         string             `json:"category,omitempty"`
	Priority         int                `json:"priority"`
	Frequency        string             `json:"frequency"`
	FirstScheduledAt time.Time          `json:"first_scheduled_at"`
	LastCompletedAt  *time.Time         `json:"last_completed_at,omitempty"`
	Status           string             `json:"status"`
	DueStatus        string             `json:"due_status"`
	NextDueAt        *time.Time         `json:"next_due_at,omitempty"`
	ProgressPercent  float64            `json:"progress_percent"`
	Steps            []taskStepResponse `json:"steps"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func toTaskResponse(t storage.TaskWithSteps, today time.Time) taskResponse {
	sched := t.Task.Schedule()
	resp := taskResponse{
		ID:               t.Task.ID,
		Name:             t.Task.Name,
		Description:      t.Task.Description,
		Category:         t.Task.Category,
		Priority:         t.Task.Priority,
		Frequency:        t.Task.Frequency.String(),
		FirstScheduledAt: t.Task.FirstScheduledAt,
		LastCompletedAt:  t.Task.LastCompletedAt,
		Status:           string(t.Task.Status),
		DueStatus:        recurrence.StatusOf(sched, today).String(),
		ProgressPercent:  t.ProgressPercent,
		CreatedAt:        t.Task.CreatedAt,
		UpdatedAt:        t.Task.UpdatedAt,
	}
	if due, ok := sched.NextDue(); ok {
		resp.NextDueAt = &due
	}
	resp.Steps = make([]taskStepResponse, len(t.Steps))
	for i, s := range t.Steps {
		resp.Steps[i] = taskStepResponse{
			ID:          s.ID,
			StepNumber:  s.StepNumber,
			Title:       s.Title,
			Description: s.Description,
			Status:      string(s.Status),
			CompletedAt: s.CompletedAt,
		}
	}
	return resp
}

type createTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
	Frequency   string `json:"frequency"`
	Steps       []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"steps"`
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Frequency == "" {
			req.Frequency = "one_time"
		}
		freq, err := recurrence.Parse(req.Frequency)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid frequency: %v", err)
			return
		}

		create := storage.CreateTaskRequest{
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			Priority:    req.Priority,
			Frequency:   freq,
		}
		for _, s := range req.Steps {
			if s.Title == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "step title is required")
				return
			}
			create.Steps = append(create.Steps, storage.CreateStepRequest{Title: s.Title, Description: s.Description})
		}

		task, err := deps.Store.CreateTask(create)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create task: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toTaskResponse(task, time.Now().UTC()))
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		today := time.Now().UTC()

		tasks, err := deps.Store.ListTasks(offset, limit, today)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}

		out := make([]taskResponse, len(tasks))
		for i, t := range tasks {
			out[i] = toTaskResponse(t, today)
		}
		writeJSON(w, out)
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}

		task, err := deps.Store.GetTaskWithSteps(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get task: %v", err)
			return
		}
		writeJSON(w, toTaskResponse(task, time.Now().UTC()))
	}
}

type updateTaskRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Priority    *int    `json:"priority"`
	Frequency   *string `json:"frequency"`
	Status      *string `json:"status"`
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		update := storage.UpdateTaskRequest{
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			Priority:    req.Priority,
		}
		if req.Frequency != nil {
			freq, err := recurrence.Parse(*req.Frequency)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid frequency: %v", err)
				return
			}
			update.Frequency = &freq
		}
		if req.Status != nil {
			st := storage.TaskStatus(*req.Status)
			switch st {
			case storage.TaskActive, storage.TaskCompleted, storage.TaskArchived:
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid status %q", *req.Status)
				return
			}
			update.Status = &st
		}

		if _, err := deps.Store.UpdateTask(id, update); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "task not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update task: %v", err)
			return
		}

		task, err := deps.Store.GetTaskWithSteps(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload task: %v", err)
			return
		}
		writeJSON(w, toTaskResponse(task, time.Now().UTC()))
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}

		err = deps.Store.DeleteTask(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete task: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleCompleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}

		task, err := deps.Store.CompleteTask(id, time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if errors.Is(err, storage.ErrConflict) {
			httpError(w, http.StatusConflict, "conflict", "task is not active")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to complete task: %v", err)
			return
		}

		withSteps, err := deps.Store.GetTaskWithSteps(task.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload task: %v", err)
			return
		}
		writeJSON(w, toTaskResponse(withSteps, time.Now().UTC()))
	}
}

type progressResponse struct {
	ID         string    `json:"id"`
	TaskID     int64     `json:"task_id"`
	StepID     *int64    `json:"step_id,omitempty"`
	Confidence float64   `json:"confidence"`
	Evidence   string    `json:"evidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func handleTaskProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id")
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)

		records, err := deps.Store.ListProgress(id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list progress: %v", err)
			return
		}
		total, err := deps.Store.CountProgress(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count progress: %v", err)
			return
		}

		out := make([]progressResponse, len(records))
		for i, rec := range records {
			out[i] = progressResponse{
				ID:         rec.ID,
				TaskID:     rec.TaskID,
				StepID:     rec.StepID,
				Confidence: rec.Confidence,
				Evidence:   rec.Evidence,
				Reasoning:  rec.Reasoning,
				CreatedAt:  rec.CreatedAt,
			}
		}
		writeJSON(w, map[string]any{"records": out, "total": total})
	}
}
