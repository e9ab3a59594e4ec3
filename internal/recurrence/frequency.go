package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the supported recurrence frequencies.
type Kind int

const (
	OneTime Kind = iota
	Daily
	Weekly
	BiWeekly
	Monthly
	Quarterly
	Yearly
	Custom
)

// Frequency is a tagged union: Every is meaningful only when Kind is Custom,
// and holds the interval in days.
type Frequency struct {
	Kind  Kind
	Every int
}

// NewCustom returns a Custom frequency repeating every n days.
// n must be at least 1.
func NewCustom(n int) (Frequency, error) {
	if n < 1 {
		return Frequency{}, fmt.Errorf("custom frequency interval must be >= 1 day, got %d", n)
	}
	return Frequency{Kind: Custom, Every: n}, nil
}

var kindNames = map[Kind]string{
	OneTime:   "one_time",
	Daily:     "daily",
	Weekly:    "weekly",
	BiWeekly:  "bi_weekly",
	Monthly:   "monthly",
	Quarterly: "quarterly",
	Yearly:    "yearly",
}

// String returns the wire representation, e.g. "weekly" or "custom_10".
func (f Frequency) String() string {
	if f.Kind == Custom {
		return "custom_" + strconv.Itoa(f.Every)
	}
	if s, ok := kindNames[f.Kind]; ok {
		return s
	}
	return "one_time"
}

// Parse converts a wire representation back into a Frequency.
func Parse(s string) (Frequency, error) {
	for k, name := range kindNames {
		if s == name {
			return Frequency{Kind: k}, nil
		}
	}
	if rest, ok := strings.CutPrefix(s, "custom_"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return Frequency{}, fmt.Errorf("parsing custom frequency %q: %w", s, err)
		}
		return NewCustom(n)
	}
	return Frequency{}, fmt.Errorf("unknown frequency %q", s)
}

// Description returns a human-readable label for task listings.
func (f Frequency) Description() string {
	switch f.Kind {
	case OneTime:
		return "One time only"
	case Daily:
		return "Every day"
	case Weekly:
		return "Every week"
	case BiWeekly:
		return "Every 2 weeks"
	case Monthly:
		return "Every month"
	case Quarterly:
		return "Every 3 months"
	case Yearly:
		return "Every year"
	case Custom:
		if f.Every == 1 {
			return "Every day"
		}
		return fmt.Sprintf("Every %d days", f.Every)
	}
	return "One time only"
}

// NextDue computes the next due instant from the first scheduled time and the
// optional last completion. The second return value is false when the task
// has no further due date (a completed one-time task).
//
// Fixed-length frequencies add their nominal duration to the base instant
// (last completion when present, first schedule otherwise). Monthly and
// Yearly advance by calendar month/year, clamping the day of month to the
// last valid day of the target month: Jan 31 + 1 month is Feb 29 in a leap
// year and Feb 28 otherwise, never a skip into March.
func (f Frequency) NextDue(firstScheduledAt time.Time, lastCompletedAt *time.Time) (time.Time, bool) {
	base := firstScheduledAt
	if lastCompletedAt != nil {
		base = *lastCompletedAt
	}

	switch f.Kind {
	case OneTime:
		if lastCompletedAt != nil {
			return time.Time{}, false
		}
		return firstScheduledAt, true
	case Daily:
		return base.AddDate(0, 0, 1), true
	case Weekly:
		return base.AddDate(0, 0, 7), true
	case BiWeekly:
		return base.AddDate(0, 0, 14), true
	case Quarterly:
		return base.AddDate(0, 0, 90), true
	case Monthly:
		return addMonthsClamped(base, 1), true
	case Yearly:
		return addMonthsClamped(base, 12), true
	case Custom:
		n := f.Every
		if n < 1 {
			n = 1
		}
		return base.AddDate(0, 0, n), true
	}
	return time.Time{}, false
}

// addMonthsClamped advances t by n calendar months, clamping the day of
// month so overflow never rolls into the following month. time.AddDate
// normalizes Jan 31 + 1 month to Mar 2/3; that silent skip is exactly what
// this avoids.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := lastDayOfMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
