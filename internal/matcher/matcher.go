// Package matcher judges capture events against active tasks using the
// inference gateway and commits accepted evidence to storage.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/storage"
)

// Generator is the slice of the inference gateway the matcher needs.
type Generator interface {
	Generate(ctx context.Context, req inference.Request) (string, error)
}

// Store is the slice of the storage layer the matcher needs.
type Store interface {
	CommitEvaluation(records []storage.TaskProgress, completions []storage.StepCompletion, now time.Time) (storage.CommitResult, error)
}

// Thresholds controls which model claims are persisted and which complete
// steps.
type Thresholds struct {
	// Accept is the minimum confidence for a claim to be recorded as
	// evidence at all.
	Accept float64
	// Complete is the minimum confidence for a completed claim to actually
	// mark the step completed.
	Complete float64
}

// DefaultThresholds match the guidance embedded in the judgment prompt.
var DefaultThresholds = Thresholds{Accept: 0.6, Complete: 0.8}

// Matcher evaluates capture events against monitored tasks.
type Matcher struct {
	gen        Generator
	store      Store
	log        *slog.Logger
	thresholds Thresholds

	// OnTaskCompleted is invoked for each task whose final step completed
	// during an evaluation. Optional.
	OnTaskCompleted func(task storage.Task)
}

// New creates a matcher. Zero thresholds fall back to the defaults.
func New(gen Generator, store Store, log *slog.Logger, t Thresholds) *Matcher {
	if t.Accept <= 0 {
		t.Accept = DefaultThresholds.Accept
	}
	if t.Complete <= 0 {
		t.Complete = DefaultThresholds.Complete
	}
	return &Matcher{gen: gen, store: store, log: log, thresholds: t}
}

var verdictSchema = &inference.Schema{
	Type: "object",
	Properties: map[string]inference.SchemaProperty{
		"completed_steps":   {Type: "array", Description: "steps with clear evidence of completion"},
		"in_progress_steps": {Type: "array", Description: "steps showing partial progress"},
	},
	Required: []string{"completed_steps", "in_progress_steps"},
}

// Evaluate judges one capture event against the given tasks. Only active
// tasks with at least one non-completed step are considered. All writes of
// one evaluation land in a single transaction; any generation, parse or
// store error leaves the database untouched.
func (m *Matcher) Evaluate(ctx context.Context, event capture.Event, tasks []storage.TaskWithSteps) (storage.CommitResult, error) {
	monitored := filterMonitored(tasks)
	if len(monitored) == 0 {
		return storage.CommitResult{}, nil
	}

	raw, err := m.gen.Generate(ctx, inference.Request{
		Prompt: buildPrompt(event, monitored),
		Schema: verdictSchema,
	})
	if err != nil {
		return storage.CommitResult{}, fmt.Errorf("judgment generation: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return storage.CommitResult{}, err
	}

	records, completions := m.collect(verdict, monitored)
	if len(records) == 0 {
		return storage.CommitResult{}, nil
	}

	now := time.Now().UTC()
	for i := range records {
		records[i].CreatedAt = now
	}
	result, err := m.store.CommitEvaluation(records, completions, now)
	if err != nil {
		return storage.CommitResult{}, fmt.Errorf("committing evaluation: %w", err)
	}

	m.log.Info("evaluation committed",
		"event", event.ID,
		"written", result.Written,
		"dropped", result.Dropped,
		"completed_steps", len(result.CompletedSteps),
		"completed_tasks", len(result.CompletedTasks))

	if m.OnTaskCompleted != nil {
		for _, t := range result.CompletedTasks {
			m.OnTaskCompleted(t)
		}
	}
	return result, nil
}

// filterMonitored keeps active tasks that still have work left.
func filterMonitored(tasks []storage.TaskWithSteps) []storage.TaskWithSteps {
	var out []storage.TaskWithSteps
	for _, t := range tasks {
		if t.Task.Status != storage.TaskActive {
			continue
		}
		open := false
		for _, s := range t.Steps {
			if s.Status != storage.StepCompleted {
				open = true
				break
			}
		}
		if open {
			out = append(out, t)
		}
	}
	return out
}

// collect turns accepted claims into progress records and step completions.
// Claims referencing ids outside the monitored set are discarded here; the
// commit transaction re-validates against live rows anyway.
func (m *Matcher) collect(v Verdict, monitored []storage.TaskWithSteps) ([]storage.TaskProgress, []storage.StepCompletion) {
	valid := make(map[int64]map[int64]bool, len(monitored))
	for _, t := range monitored {
		steps := make(map[int64]bool, len(t.Steps))
		for _, s := range t.Steps {
			if s.Status != storage.StepCompleted {
				steps[s.ID] = true
			}
		}
		valid[t.Task.ID] = steps
	}

	var records []storage.TaskProgress
	var completions []storage.StepCompletion

	accept := func(c StepClaim, complete bool) {
		if c.Confidence < m.thresholds.Accept {
			return
		}
		steps, ok := valid[c.TaskID]
		if !ok || !steps[c.StepID] {
			m.log.Debug("discarding claim for unknown step", "task", c.TaskID, "step", c.StepID)
			return
		}
		stepID := c.StepID
		records = append(records, storage.TaskProgress{
			ID:         ulid.Make().String(),
			TaskID:     c.TaskID,
			StepID:     &stepID,
			Confidence: c.Confidence,
			Evidence:   c.Evidence,
			Reasoning:  c.Reasoning,
		})
		if complete && c.Confidence >= m.thresholds.Complete {
			completions = append(completions, storage.StepCompletion{TaskID: c.TaskID, StepID: c.StepID})
		}
	}

	for _, c := range v.Completed {
		accept(c, true)
	}
	for _, c := range v.InProgress {
		accept(c, false)
	}
	return records, completions
}
