package matcher

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/taskmind/taskmind/internal/inference"
)

// StepClaim is one model assertion about a step.
type StepClaim struct {
	TaskID     int64
	StepID     int64
	Confidence float64
	Evidence   string
	Reasoning  string
}

// Verdict is the parsed output of one judgment generation.
type Verdict struct {
	Completed  []StepClaim
	InProgress []StepClaim
}

// parseVerdict extracts the judgment JSON from raw model output. Models
// sometimes wrap the JSON in prose; anything between the first '{' and the
// last '}' is treated as the payload. Confidence values are clamped into
// [0,1]. Completed claims with empty evidence or reasoning make the whole
// verdict malformed.
func parseVerdict(raw string) (Verdict, error) {
	payload := extractJSON(raw)
	if !gjson.Valid(payload) {
		return Verdict{}, fmt.Errorf("%w: no valid JSON in response", inference.ErrMalformedOutput)
	}

	doc := gjson.Parse(payload)
	var v Verdict
	var parseErr error

	doc.Get("completed_steps").ForEach(func(_, item gjson.Result) bool {
		claim := claimFrom(item)
		if strings.TrimSpace(claim.Evidence) == "" {
			parseErr = fmt.Errorf("%w: completed step %d has empty evidence", inference.ErrMalformedOutput, claim.StepID)
			return false
		}
		if strings.TrimSpace(claim.Reasoning) == "" {
			parseErr = fmt.Errorf("%w: completed step %d has empty reasoning", inference.ErrMalformedOutput, claim.StepID)
			return false
		}
		v.Completed = append(v.Completed, claim)
		return true
	})
	if parseErr != nil {
		return Verdict{}, parseErr
	}

	doc.Get("in_progress_steps").ForEach(func(_, item gjson.Result) bool {
		claim := claimFrom(item)
		if strings.TrimSpace(claim.Evidence) == "" {
			return true // progress hints without evidence are dropped, not fatal
		}
		v.InProgress = append(v.InProgress, claim)
		return true
	})

	return v, nil
}

func claimFrom(item gjson.Result) StepClaim {
	return StepClaim{
		TaskID:     item.Get("task_id").Int(),
		StepID:     item.Get("step_id").Int(),
		Confidence: clamp01(item.Get("confidence").Float()),
		Evidence:   item.Get("evidence").String(),
		Reasoning:  item.Get("reasoning").String(),
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// extractJSON returns the substring between the first '{' and the last '}',
// or the input unchanged when no such pair exists.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
