package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/taskmind/taskmind/internal/recurrence"
)

const taskColumns = "id, name, description, category, priority, frequency, first_scheduled_at, last_completed_at, status, created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var freq, first, created, updated string
	var completed sql.NullString
	var status string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.Priority,
		&freq, &first, &completed, &status, &created, &updated)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}

	if t.Frequency, err = recurrence.Parse(freq); err != nil {
		return Task{}, fmt.Errorf("task %d: %w", t.ID, err)
	}
	if t.FirstScheduledAt, err = parseTime(first); err != nil {
		return Task{}, fmt.Errorf("task %d first_scheduled_at: %w", t.ID, err)
	}
	if t.LastCompletedAt, err = parseTimePtr(completed); err != nil {
		return Task{}, fmt.Errorf("task %d last_completed_at: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return Task{}, fmt.Errorf("task %d created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return Task{}, fmt.Errorf("task %d updated_at: %w", t.ID, err)
	}
	t.Status = TaskStatus(status)
	return t, nil
}

// CreateTask inserts a task and its steps in one transaction. Step numbers
// are assigned from the request order, starting at 1.
func (s *Store) CreateTask(req CreateTaskRequest) (TaskWithSteps, error) {
	if req.Name == "" {
		return TaskWithSteps{}, fmt.Errorf("task name is required")
	}

	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return TaskWithSteps{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO tasks (name, description, category, priority, frequency, first_scheduled_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Name, req.Description, req.Category, req.Priority,
		req.Frequency.String(), fmtTime(now), string(TaskActive), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return TaskWithSteps{}, fmt.Errorf("inserting task: %w", err)
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return TaskWithSteps{}, err
	}

	steps := make([]TaskStep, 0, len(req.Steps))
	for i, sr := range req.Steps {
		stepRes, err := tx.Exec(`
			INSERT INTO task_steps (task_id, step_number, title, description, status)
			VALUES (?, ?, ?, ?, ?)`,
			taskID, i+1, sr.Title, sr.Description, string(StepPending),
		)
		if err != nil {
			return TaskWithSteps{}, fmt.Errorf("inserting step %d: %w", i+1, err)
		}
		stepID, err := stepRes.LastInsertId()
		if err != nil {
			return TaskWithSteps{}, err
		}
		steps = append(steps, TaskStep{
			ID:          stepID,
			TaskID:      taskID,
			StepNumber:  i + 1,
			Title:       sr.Title,
			Description: sr.Description,
			Status:      StepPending,
		})
	}

	if err := tx.Commit(); err != nil {
		return TaskWithSteps{}, fmt.Errorf("committing: %w", err)
	}

	return TaskWithSteps{
		Task: Task{
			ID:               taskID,
			Name:             req.Name,
			Description:      req.Description,
			Category:         req.Category,
			Priority:         req.Priority,
			Frequency:        req.Frequency,
			FirstScheduledAt: now,
			Status:           TaskActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Steps: steps,
	}, nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(id int64) (Task, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	return scanTask(row)
}

// GetTaskWithSteps returns a task with its ordered steps and progress percentage.
func (s *Store) GetTaskWithSteps(id int64) (TaskWithSteps, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return TaskWithSteps{}, err
	}
	steps, err := s.GetTaskSteps(id)
	if err != nil {
		return TaskWithSteps{}, err
	}
	return TaskWithSteps{Task: task, Steps: steps, ProgressPercent: progressPercent(steps)}, nil
}

// GetTaskSteps returns a task's steps ordered by step number.
func (s *Store) GetTaskSteps(taskID int64) ([]TaskStep, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, step_number, title, description, status, completed_at
		FROM task_steps WHERE task_id = ? ORDER BY step_number`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []TaskStep
	for rows.Next() {
		var st TaskStep
		var status string
		var completed sql.NullString
		if err := rows.Scan(&st.ID, &st.TaskID, &st.StepNumber, &st.Title, &st.Description, &status, &completed); err != nil {
			return nil, err
		}
		st.Status = StepStatus(status)
		if st.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ListTasks returns a page of tasks ordered for display: overdue first, then
// due today, upcoming, completed; ties by ascending due date, then by
// descending creation time.
func (s *Store) ListTasks(offset, limit int, today time.Time) ([]TaskWithSteps, error) {
	rows, err := s.db.Query("SELECT " + taskColumns + " FROM tasks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return recurrence.Less(tasks[i].Schedule(), tasks[j].Schedule(), today)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(tasks) {
		return []TaskWithSteps{}, nil
	}
	end := len(tasks)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]TaskWithSteps, 0, end-offset)
	for _, t := range tasks[offset:end] {
		steps, err := s.GetTaskSteps(t.ID)
		if err != nil {
			return nil, fmt.Errorf("loading steps for task %d: %w", t.ID, err)
		}
		page = append(page, TaskWithSteps{Task: t, Steps: steps, ProgressPercent: progressPercent(steps)})
	}
	return page, nil
}

// ActiveTasks returns all active tasks that still have at least one
// non-completed step, with their steps. This is the matcher's candidate set.
func (s *Store) ActiveTasks() ([]TaskWithSteps, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? ORDER BY priority DESC, created_at ASC`, string(TaskActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []TaskWithSteps
	for _, t := range tasks {
		steps, err := s.GetTaskSteps(t.ID)
		if err != nil {
			return nil, fmt.Errorf("loading steps for task %d: %w", t.ID, err)
		}
		pending := false
		for _, st := range steps {
			if st.Status != StepCompleted {
				pending = true
				break
			}
		}
		if !pending {
			continue
		}
		result = append(result, TaskWithSteps{Task: t, Steps: steps, ProgressPercent: progressPercent(steps)})
	}
	return result, nil
}

// UpdateTask applies the non-nil fields of req to the task.
func (s *Store) UpdateTask(id int64, req UpdateTaskRequest) (Task, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return Task{}, err
	}

	if req.Name != nil {
		task.Name = *req.Name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Category != nil {
		task.Category = *req.Category
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Frequency != nil {
		task.Frequency = *req.Frequency
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	task.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE tasks SET name = ?, description = ?, category = ?, priority = ?, frequency = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		task.Name, task.Description, task.Category, task.Priority,
		task.Frequency.String(), string(task.Status), fmtTime(task.UpdatedAt), id,
	)
	if err != nil {
		return Task{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Task{}, err
	} else if n == 0 {
		return Task{}, ErrNotFound
	}
	return task, nil
}

// DeleteTask removes a task; steps and progress records cascade.
func (s *Store) DeleteTask(id int64) error {
	res, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteTask marks every step completed and rolls the task's recurrence
// over, exactly as if the matcher had completed the final step.
func (s *Store) CompleteTask(id int64, now time.Time) (Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Task{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err != nil {
		return Task{}, err
	}
	if task.Status != TaskActive {
		return Task{}, fmt.Errorf("task %d is not active: %w", id, ErrConflict)
	}

	if _, err := tx.Exec(`
		UPDATE task_steps SET status = ?, completed_at = ? WHERE task_id = ?`,
		string(StepCompleted), fmtTime(now), id,
	); err != nil {
		return Task{}, fmt.Errorf("completing steps: %w", err)
	}

	task, err = rolloverTask(tx, task, now)
	if err != nil {
		return Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("committing: %w", err)
	}
	return task, nil
}

// rolloverTask finalizes a task whose steps are all completed. One-time
// tasks become terminal; recurring tasks record the completion and get their
// steps reset to pending for the next cycle.
func rolloverTask(tx *sql.Tx, task Task, now time.Time) (Task, error) {
	task.LastCompletedAt = &now
	task.UpdatedAt = now

	if task.Frequency.Kind == recurrence.OneTime {
		task.Status = TaskCompleted
		if _, err := tx.Exec(`
			UPDATE tasks SET status = ?, last_completed_at = ?, updated_at = ? WHERE id = ?`,
			string(TaskCompleted), fmtTime(now), fmtTime(now), task.ID,
		); err != nil {
			return Task{}, fmt.Errorf("completing task %d: %w", task.ID, err)
		}
		return task, nil
	}

	if _, err := tx.Exec(`
		UPDATE tasks SET last_completed_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(now), fmtTime(now), task.ID,
	); err != nil {
		return Task{}, fmt.Errorf("rolling over task %d: %w", task.ID, err)
	}
	if _, err := tx.Exec(`
		UPDATE task_steps SET status = ?, completed_at = NULL WHERE task_id = ?`,
		string(StepPending), task.ID,
	); err != nil {
		return Task{}, fmt.Errorf("resetting steps for task %d: %w", task.ID, err)
	}
	return task, nil
}
