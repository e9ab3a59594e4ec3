package recurrence

import "time"

// Status classifies a task's schedule relative to a reference day.
// The declaration order doubles as the list sort order.
type Status int

const (
	StatusOverdue Status = iota
	StatusDueToday
	StatusUpcoming
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusOverdue:
		return "overdue"
	case StatusDueToday:
		return "due_today"
	case StatusUpcoming:
		return "upcoming"
	case StatusCompleted:
		return "completed"
	}
	return "unknown"
}

// Schedule is the recurrence-relevant slice of a task.
type Schedule struct {
	Frequency        Frequency
	FirstScheduledAt time.Time
	LastCompletedAt  *time.Time
	Terminal         bool // task status is Completed or Archived
	CreatedAt        time.Time
}

// NextDue returns the schedule's next due instant, or false when none exists.
func (s Schedule) NextDue() (time.Time, bool) {
	return s.Frequency.NextDue(s.FirstScheduledAt, s.LastCompletedAt)
}

// StatusOf classifies the schedule against the given reference time.
// Comparison is by calendar date in today's location, never by instant, so a
// task due later the same day is DueToday rather than Upcoming and a task
// due earlier the same day is never spuriously Overdue.
func StatusOf(s Schedule, today time.Time) Status {
	if s.Terminal {
		return StatusCompleted
	}
	due, ok := s.NextDue()
	if !ok {
		return StatusCompleted
	}

	dueDay := dateOnly(due.In(today.Location()))
	todayDay := dateOnly(today)
	switch {
	case dueDay.Equal(todayDay):
		return StatusDueToday
	case dueDay.Before(todayDay):
		return StatusOverdue
	default:
		return StatusUpcoming
	}
}

// Less orders schedules for task listings: Overdue < DueToday < Upcoming <
// Completed, then ascending due date, then descending creation time. Use
// with a stable sort.
func Less(a, b Schedule, today time.Time) bool {
	sa, sb := StatusOf(a, today), StatusOf(b, today)
	if sa != sb {
		return sa < sb
	}

	dueA, okA := a.NextDue()
	dueB, okB := b.NextDue()
	switch {
	case okA && okB && !dueA.Equal(dueB):
		return dueA.Before(dueB)
	case okA != okB:
		return okA // schedules with a due date sort before terminal ones
	}

	return a.CreatedAt.After(b.CreatedAt)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
