package matcher

import (
	"errors"
	"strings"
	"testing"

	"github.com/taskmind/taskmind/internal/inference"
)

func TestParseVerdict_WrappedInProse(t *testing.T) {
	raw := `Here's the analysis: {"completed_steps": [{"task_id": 1, "step_id": 2, "confidence": 0.9, "evidence": "Sent button clicked", "reasoning": "email was sent"}], "in_progress_steps": []} That's my conclusion.`

	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if len(v.Completed) != 1 {
		t.Fatalf("got %d completed claims, want 1", len(v.Completed))
	}
	c := v.Completed[0]
	if c.TaskID != 1 || c.StepID != 2 {
		t.Errorf("claim ids = (%d, %d), want (1, 2)", c.TaskID, c.StepID)
	}
	if c.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", c.Confidence)
	}
}

func TestParseVerdict_ConfidenceClamped(t *testing.T) {
	raw := `{"completed_steps": [{"task_id": 1, "step_id": 1, "confidence": 1.7, "evidence": "x", "reasoning": "y"}], "in_progress_steps": [{"task_id": 1, "step_id": 2, "confidence": -0.3, "evidence": "z"}]}`

	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if v.Completed[0].Confidence != 1 {
		t.Errorf("completed confidence = %f, want clamped to 1", v.Completed[0].Confidence)
	}
	if v.InProgress[0].Confidence != 0 {
		t.Errorf("in-progress confidence = %f, want clamped to 0", v.InProgress[0].Confidence)
	}
}

func TestParseVerdict_EmptyEvidenceIsMalformed(t *testing.T) {
	raw := `{"completed_steps": [{"task_id": 1, "step_id": 1, "confidence": 0.9, "evidence": "  ", "reasoning": "y"}], "in_progress_steps": []}`

	_, err := parseVerdict(raw)
	if !errors.Is(err, inference.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestParseVerdict_EmptyReasoningIsMalformed(t *testing.T) {
	raw := `{"completed_steps": [{"task_id": 1, "step_id": 1, "confidence": 0.9, "evidence": "x", "reasoning": ""}], "in_progress_steps": []}`

	_, err := parseVerdict(raw)
	if !errors.Is(err, inference.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestParseVerdict_InProgressWithoutEvidenceDropped(t *testing.T) {
	raw := `{"completed_steps": [], "in_progress_steps": [{"task_id": 1, "step_id": 1, "confidence": 0.7, "evidence": ""}]}`

	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if len(v.InProgress) != 0 {
		t.Errorf("got %d in-progress claims, want 0", len(v.InProgress))
	}
}

func TestParseVerdict_NotJSON(t *testing.T) {
	_, err := parseVerdict("I could not find any relevant activity.")
	if !errors.Is(err, inference.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestParseVerdict_EmptyArrays(t *testing.T) {
	v, err := parseVerdict(`{"completed_steps": [], "in_progress_steps": []}`)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if len(v.Completed) != 0 || len(v.InProgress) != 0 {
		t.Errorf("verdict not empty: %+v", v)
	}
}

func TestTruncateText(t *testing.T) {
	long := strings.Repeat("a", 3000)
	got := truncateText(long, 2000)
	if len(got) <= 2000 {
		t.Error("truncation marker missing")
	}
	if !strings.Contains(got, "TRUNCATED") {
		t.Errorf("no truncation marker in %q", got[len(got)-80:])
	}

	short := "short text"
	if truncateText(short, 2000) != short {
		t.Error("short text modified")
	}
}

func TestTruncateText_RuneBoundary(t *testing.T) {
	// Multibyte runes placed so a naive byte cut would split one.
	text := strings.Repeat("é", 100)
	got := truncateText(text, 101)
	if !strings.HasPrefix(got, strings.Repeat("é", 50)) {
		t.Errorf("truncated text corrupted: %q", got[:20])
	}
	if strings.ContainsRune(got[:50], '�') {
		t.Error("truncation split a UTF-8 sequence")
	}
}
