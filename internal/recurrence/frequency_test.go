package recurrence

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) Frequency {
	t.Helper()
	f, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return f
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"one_time", "daily", "weekly", "bi_weekly", "monthly", "quarterly", "yearly", "custom_10"} {
		f := mustParse(t, s)
		if got := f.String(); got != s {
			t.Errorf("Parse(%q).String() = %q", s, got)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "fortnightly", "custom_", "custom_abc", "custom_0", "custom_-3", "custom:7"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestNewCustomValidation(t *testing.T) {
	if _, err := NewCustom(0); err == nil {
		t.Error("NewCustom(0): expected error")
	}
	f, err := NewCustom(3)
	if err != nil {
		t.Fatalf("NewCustom(3): %v", err)
	}
	if f.String() != "custom_3" {
		t.Errorf("String() = %q, want custom_3", f.String())
	}
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextDueFixedIntervals(t *testing.T) {
	first := ts("2024-01-10T09:30:00Z")
	completed := ts("2024-01-12T17:00:00Z")

	tests := []struct {
		freq      string
		completed *time.Time
		want      string
	}{
		{"daily", nil, "2024-01-11T09:30:00Z"},
		{"daily", &completed, "2024-01-13T17:00:00Z"},
		{"weekly", nil, "2024-01-17T09:30:00Z"},
		{"weekly", &completed, "2024-01-19T17:00:00Z"},
		{"bi_weekly", &completed, "2024-01-26T17:00:00Z"},
		{"quarterly", &completed, "2024-04-11T17:00:00Z"},
		{"custom_10", &completed, "2024-01-22T17:00:00Z"},
	}

	for _, tt := range tests {
		f := mustParse(t, tt.freq)
		got, ok := f.NextDue(first, tt.completed)
		if !ok {
			t.Errorf("%s: NextDue returned no due date", tt.freq)
			continue
		}
		if !got.Equal(ts(tt.want)) {
			t.Errorf("%s: NextDue = %v, want %v", tt.freq, got, tt.want)
		}
	}
}

func TestNextDueOneTime(t *testing.T) {
	first := ts("2024-01-10T00:00:00Z")
	f := Frequency{Kind: OneTime}

	due, ok := f.NextDue(first, nil)
	if !ok || !due.Equal(first) {
		t.Errorf("uncompleted one-time: NextDue = (%v, %v), want (%v, true)", due, ok, first)
	}

	done := ts("2024-01-10T15:00:00Z")
	if _, ok := f.NextDue(first, &done); ok {
		t.Error("completed one-time task should have no next due date")
	}
}

func TestNextDueMonthlyClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		// 2024 is a leap year: Jan 31 + 1 month lands on Feb 29, not Mar 2.
		{"2024-01-31T12:00:00Z", "2024-02-29T12:00:00Z"},
		{"2023-01-31T12:00:00Z", "2023-02-28T12:00:00Z"},
		{"2024-03-31T08:00:00Z", "2024-04-30T08:00:00Z"},
		{"2024-02-29T08:00:00Z", "2024-03-29T08:00:00Z"},
		{"2024-01-15T08:00:00Z", "2024-02-15T08:00:00Z"},
		{"2024-12-31T23:59:59Z", "2025-01-31T23:59:59Z"},
	}

	f := Frequency{Kind: Monthly}
	for _, tt := range tests {
		base := ts(tt.base)
		got, ok := f.NextDue(base, &base)
		if !ok {
			t.Fatalf("monthly NextDue(%s): no due date", tt.base)
		}
		if !got.Equal(ts(tt.want)) {
			t.Errorf("monthly NextDue(%s) = %v, want %v", tt.base, got, tt.want)
		}
	}
}

func TestNextDueYearlyHandlesLeapDay(t *testing.T) {
	f := Frequency{Kind: Yearly}
	base := ts("2024-02-29T10:00:00Z")
	got, ok := f.NextDue(base, &base)
	if !ok {
		t.Fatal("yearly NextDue: no due date")
	}
	if want := ts("2025-02-28T10:00:00Z"); !got.Equal(want) {
		t.Errorf("yearly NextDue(2024-02-29) = %v, want %v", got, want)
	}
}

func TestNextDueStrictlyAfterBase(t *testing.T) {
	base := ts("2024-06-15T12:00:00Z")
	for _, s := range []string{"daily", "weekly", "bi_weekly", "monthly", "quarterly", "yearly", "custom_5"} {
		f := mustParse(t, s)
		got, ok := f.NextDue(base, &base)
		if !ok {
			t.Errorf("%s: no due date", s)
			continue
		}
		if !got.After(base) {
			t.Errorf("%s: NextDue %v not after base %v", s, got, base)
		}
	}
}
