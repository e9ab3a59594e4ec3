package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CommitEvaluation atomically applies the matcher's output for one capture
// event: progress records are inserted in the given order, the listed steps
// are marked completed, and tasks whose final step completed are rolled over.
//
// Claims whose task or step no longer exists (or is no longer active) at
// commit time are dropped and counted, never written, so user edits and
// recurrence rollovers racing inference latency cannot resurrect rows. Any error
// rolls the whole commit back; a capture event writes all of its surviving
// records or none of them.
func (s *Store) CommitEvaluation(records []TaskProgress, completions []StepCompletion, now time.Time) (CommitResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return CommitResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var result CommitResult

	for _, rec := range records {
		ok, err := claimStillValid(tx, rec.TaskID, rec.StepID)
		if err != nil {
			return CommitResult{}, err
		}
		if !ok {
			result.Dropped++
			continue
		}

		if _, err := tx.Exec(`
			INSERT INTO task_progress (id, task_id, step_id, confidence, evidence, reasoning, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.TaskID, stepIDValue(rec.StepID), rec.Confidence,
			rec.Evidence, rec.Reasoning, fmtTime(rec.CreatedAt),
		); err != nil {
			return CommitResult{}, fmt.Errorf("inserting progress record: %w", err)
		}
		result.Written++
	}

	completedByTask := make(map[int64]bool)
	for _, c := range completions {
		// Guarded update: a step that vanished or already completed is a
		// no-op, never a double-complete.
		res, err := tx.Exec(`
			UPDATE task_steps SET status = ?, completed_at = ?
			WHERE id = ? AND task_id = ? AND status != ?`,
			string(StepCompleted), fmtTime(now), c.StepID, c.TaskID, string(StepCompleted),
		)
		if err != nil {
			return CommitResult{}, fmt.Errorf("completing step %d: %w", c.StepID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return CommitResult{}, err
		}
		if n == 0 {
			continue
		}
		result.CompletedSteps = append(result.CompletedSteps, c.StepID)
		completedByTask[c.TaskID] = true
	}

	for taskID := range completedByTask {
		var remaining int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM task_steps WHERE task_id = ? AND status != ?`,
			taskID, string(StepCompleted),
		).Scan(&remaining); err != nil {
			return CommitResult{}, fmt.Errorf("counting remaining steps for task %d: %w", taskID, err)
		}
		if remaining > 0 {
			continue
		}

		task, err := scanTask(tx.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID))
		if err != nil {
			return CommitResult{}, err
		}
		if task.Status != TaskActive {
			continue
		}
		task, err = rolloverTask(tx, task, now)
		if err != nil {
			return CommitResult{}, err
		}
		result.CompletedTasks = append(result.CompletedTasks, task)
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("committing evaluation: %w", err)
	}
	return result, nil
}

// claimStillValid reports whether the claimed task (and step, if any) still
// exists with the task active.
func claimStillValid(tx *sql.Tx, taskID int64, stepID *int64) (bool, error) {
	var status string
	err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking task %d: %w", taskID, err)
	}
	if TaskStatus(status) != TaskActive {
		return false, nil
	}
	if stepID == nil {
		return true, nil
	}

	var count int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM task_steps WHERE id = ? AND task_id = ?", *stepID, taskID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("checking step %d: %w", *stepID, err)
	}
	return count > 0, nil
}

func stepIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// ListProgress returns a task's progress records in creation order (ULID
// primary keys sort lexicographically by creation time).
func (s *Store) ListProgress(taskID int64, limit int) ([]TaskProgress, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, task_id, step_id, confidence, evidence, reasoning, created_at
		FROM task_progress WHERE task_id = ? ORDER BY id ASC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TaskProgress
	for rows.Next() {
		var p TaskProgress
		var stepID sql.NullInt64
		var created string
		if err := rows.Scan(&p.ID, &p.TaskID, &stepID, &p.Confidence, &p.Evidence, &p.Reasoning, &created); err != nil {
			return nil, err
		}
		if stepID.Valid {
			v := stepID.Int64
			p.StepID = &v
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// CountProgress returns the number of progress records for a task.
func (s *Store) CountProgress(taskID int64) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM task_progress WHERE task_id = ?", taskID).Scan(&n)
	return n, err
}
