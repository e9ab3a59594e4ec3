package storage

import (
	"errors"
	"time"

	"github.com/taskmind/taskmind/internal/recurrence"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write loses a race with a concurrent
// modification, e.g. completing a step that was deleted mid-evaluation.
var ErrConflict = errors.New("concurrent modification conflict")

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskArchived  TaskStatus = "archived"
)

// StepStatus is a step's progress state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// Task is a user-defined one-time or recurring objective.
type Task struct {
	ID               int64
	Name             string
	Description      string
	Category         string
	Priority         int
	Frequency        recurrence.Frequency
	FirstScheduledAt time.Time
	LastCompletedAt  *time.Time
	Status           TaskStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Schedule projects the task onto the recurrence engine's view of it.
func (t Task) Schedule() recurrence.Schedule {
	return recurrence.Schedule{
		Frequency:        t.Frequency,
		FirstScheduledAt: t.FirstScheduledAt,
		LastCompletedAt:  t.LastCompletedAt,
		Terminal:         t.Status != TaskActive,
		CreatedAt:        t.CreatedAt,
	}
}

// TaskStep is an ordered sub-unit of a task. Step numbers are contiguous
// and unique within one task.
type TaskStep struct {
	ID          int64
	TaskID      int64
	StepNumber  int
	Title       string
	Description string
	Status      StepStatus
	CompletedAt *time.Time
}

// TaskWithSteps bundles a task with its ordered steps.
type TaskWithSteps struct {
	Task            Task
	Steps           []TaskStep
	ProgressPercent float64
}

// TaskProgress is an immutable evidence record from one matcher judgment.
// The ULID id makes creation order recoverable by lexicographic sort.
type TaskProgress struct {
	ID         string
	TaskID     int64
	StepID     *int64
	Confidence float64
	Evidence   string
	Reasoning  string
	CreatedAt  time.Time
}

// Conversation is a chat session owning an ordered message history.
type Conversation struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Message roles as persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one entry in a conversation's history.
type ConversationMessage struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// CreateTaskRequest describes a new task and its steps.
type CreateTaskRequest struct {
	Name        string
	Description string
	Category    string
	Priority    int
	Frequency   recurrence.Frequency
	Steps       []CreateStepRequest
}

// CreateStepRequest describes one step of a new task.
type CreateStepRequest struct {
	Title       string
	Description string
}

// UpdateTaskRequest carries optional field updates; nil means unchanged.
type UpdateTaskRequest struct {
	Name        *string
	Description *string
	Category    *string
	Priority    *int
	Frequency   *recurrence.Frequency
	Status      *TaskStatus
}

// StepCompletion asks the commit step to mark one step completed.
type StepCompletion struct {
	TaskID int64
	StepID int64
}

// CommitResult reports what an evaluation commit actually wrote.
type CommitResult struct {
	Written        int
	Dropped        int // claims referencing tasks/steps gone at commit time
	CompletedSteps []int64
	CompletedTasks []Task // tasks whose final step completed this cycle
}

func progressPercent(steps []TaskStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range steps {
		if s.Status == StepCompleted {
			done++
		}
	}
	return float64(done) / float64(len(steps)) * 100
}
