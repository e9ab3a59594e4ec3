package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"

	"github.com/taskmind/taskmind/internal/recurrence"
	"github.com/taskmind/taskmind/internal/scheduler"
	"github.com/taskmind/taskmind/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Scheduler *scheduler.Scheduler
}

// NewMCPServer creates an MCP server exposing task management to agent
// clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"taskmind",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("taskmind — local task scheduler that watches screen activity and tracks progress on recurring tasks."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks with their steps, due status and progress."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default 20)")),
			mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task, optionally recurring and broken into ordered steps."),
			mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the task is about")),
			mcp.WithString("frequency", mcp.Description("one_time, daily, weekly, monthly or custom_<days>")),
			mcp.WithNumber("priority", mcp.Description("Priority, higher sorts first")),
			mcp.WithArray("steps", mcp.Description("Ordered step titles")),
		),
		mcpCreateTask(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed. Recurring tasks reschedule from the completion date."),
			mcp.WithNumber("task_id", mcp.Description("ID of the task"), mcp.Required()),
		),
		mcpCompleteTask(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_step",
			mcp.WithDescription("Mark one step of a task completed."),
			mcp.WithNumber("task_id", mcp.Description("ID of the task"), mcp.Required()),
			mcp.WithNumber("step_id", mcp.Description("ID of the step"), mcp.Required()),
		),
		mcpCompleteStep(deps),
	)

	s.AddTool(
		mcp.NewTool("capture_now",
			mcp.WithDescription("Run one screen capture and task matching cycle immediately."),
		),
		mcpCaptureNow(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"taskmind://tasks/today",
			"Tasks Due Today",
			mcp.WithResourceDescription("Active tasks that are due or overdue today, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceToday(deps),
	)

	return s
}

type mcpTaskSummary struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Frequency       string   `json:"frequency"`
	Status          string   `json:"status"`
	DueStatus       string   `json:"due_status"`
	ProgressPercent float64  `json:"progress_percent"`
	Steps           []string `json:"steps,omitempty"`
}

func mcpTaskSummaries(tasks []storage.TaskWithSteps, today time.Time) []mcpTaskSummary {
	out := make([]mcpTaskSummary, len(tasks))
	for i, t := range tasks {
		steps := make([]string, len(t.Steps))
		for j, st := range t.Steps {
			steps[j] = fmt.Sprintf("[%d] %s (%s)", st.ID, st.Title, st.Status)
		}
		out[i] = mcpTaskSummary{
			ID:              t.Task.ID,
			Name:            t.Task.Name,
			Frequency:       t.Task.Frequency.String(),
			Status:          string(t.Task.Status),
			DueStatus:       recurrence.StatusOf(t.Task.Schedule(), today).String(),
			ProgressPercent: t.ProgressPercent,
			Steps:           steps,
		}
	}
	return out
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		today := time.Now().UTC()
		tasks, err := deps.Store.ListTasks(offset, limit, today)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}

		b, err := json.Marshal(mcpTaskSummaries(tasks, today))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		freqStr := req.GetString("frequency", "one_time")
		freq, err := recurrence.Parse(freqStr)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid frequency: %v", err)), nil
		}

		create := storage.CreateTaskRequest{
			Name:        name,
			Description: req.GetString("description", ""),
			Priority:    req.GetInt("priority", 0),
			Frequency:   freq,
		}
		for _, title := range req.GetStringSlice("steps", nil) {
			if title == "" {
				continue
			}
			create.Steps = append(create.Steps, storage.CreateStepRequest{Title: title})
		}

		task, err := deps.Store.CreateTask(create)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create task: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created task %d: %s (%s, %d steps)",
			task.Task.ID, task.Task.Name, task.Task.Frequency.String(), len(task.Steps))), nil
	}
}

func mcpCompleteTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireInt("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}

		task, err := deps.Store.CompleteTask(int64(taskID), time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("task %d not found", taskID)), nil
		}
		if errors.Is(err, storage.ErrConflict) {
			return mcpError(fmt.Sprintf("task %d is not active", taskID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to complete task: %v", err)), nil
		}

		if task.Status == storage.TaskActive {
			return mcpText(fmt.Sprintf("Completed task %d (%s). Recurs, next occurrence scheduled.", task.ID, task.Name)), nil
		}
		return mcpText(fmt.Sprintf("Completed task %d (%s).", task.ID, task.Name)), nil
	}
}

func mcpCompleteStep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireInt("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		stepID, err := req.RequireInt("step_id")
		if err != nil {
			return mcpError("step_id is required"), nil
		}

		now := time.Now().UTC()
		stepRef := int64(stepID)
		record := storage.TaskProgress{
			ID:         ulid.Make().String(),
			TaskID:     int64(taskID),
			StepID:     &stepRef,
			Confidence: 1,
			Evidence:   "marked completed by the user",
			CreatedAt:  now,
		}
		completion := storage.StepCompletion{TaskID: int64(taskID), StepID: int64(stepID)}

		res, err := deps.Store.CommitEvaluation([]storage.TaskProgress{record}, []storage.StepCompletion{completion}, now)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to complete step: %v", err)), nil
		}
		if len(res.CompletedSteps) == 0 {
			return mcpError(fmt.Sprintf("step %d of task %d not found or already completed", stepID, taskID)), nil
		}
		if len(res.CompletedTasks) > 0 {
			return mcpText(fmt.Sprintf("Completed step %d. All steps done, task %d completed.", stepID, taskID)), nil
		}
		return mcpText(fmt.Sprintf("Completed step %d of task %d.", stepID, taskID)), nil
	}
}

func mcpCaptureNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Scheduler.RunNow(ctx); err != nil {
			if errors.Is(err, scheduler.ErrCycleInFlight) {
				return mcpError("a capture cycle is already running"), nil
			}
			return mcpError(fmt.Sprintf("capture cycle failed: %v", err)), nil
		}

		st := deps.Scheduler.Stats()
		return mcpText(fmt.Sprintf("Capture cycle finished in %s.", st.LastDuration)), nil
	}
}

func mcpResourceToday(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tasks, err := deps.Store.ActiveTasks()
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		today := time.Now().UTC()
		var due []storage.TaskWithSteps
		for _, t := range tasks {
			switch recurrence.StatusOf(t.Task.Schedule(), today) {
			case recurrence.StatusDueToday, recurrence.StatusOverdue:
				due = append(due, t)
			}
		}

		b, err := json.Marshal(mcpTaskSummaries(due, today))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
