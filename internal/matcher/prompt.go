package matcher

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/storage"
)

// maxScreenTextLen bounds how much capture text goes into one judgment
// prompt.
const maxScreenTextLen = 2000

// buildPrompt assembles the single judgment prompt for one capture event
// against all monitored steps.
func buildPrompt(event capture.Event, tasks []storage.TaskWithSteps) string {
	windowTitle := event.WindowTitle
	if windowTitle == "" {
		windowTitle = "Unknown"
	}

	return fmt.Sprintf(`You are a task completion detection system. Analyze the current screen content to determine if any task steps have been completed or are in progress.

ACTIVE TASK STEPS TO MONITOR:
%s

CURRENT SCREEN INFORMATION:
Application: %s
Window Title: %s
Screen Text Content:
%s

INSTRUCTIONS:
1. Carefully analyze the screen content against each active task step
2. Look for evidence that matches each step's title and description
3. Provide confidence scores between 0.0 and 1.0 (only mark as completed if confidence >= 0.8)
4. Include specific evidence from the screen that supports your decision

Respond with valid JSON in this exact format:
{
  "completed_steps": [
    {
      "task_id": <number>,
      "step_id": <number>,
      "confidence": <0.0-1.0>,
      "evidence": "<specific text or elements from screen that indicate completion>",
      "reasoning": "<explain why this step is considered complete>"
    }
  ],
  "in_progress_steps": [
    {
      "task_id": <number>,
      "step_id": <number>,
      "confidence": <0.0-1.0>,
      "evidence": "<indicators of partial progress or setup>"
    }
  ]
}

Only include steps in the response if there is clear evidence. If no steps are completed or in progress, return empty arrays.`,
		formatSteps(tasks), event.Application, windowTitle, truncateText(event.Text, maxScreenTextLen))
}

// formatSteps renders every non-completed step of every task for the prompt.
func formatSteps(tasks []storage.TaskWithSteps) string {
	var blocks []string
	for _, t := range tasks {
		for _, s := range t.Steps {
			if s.Status == storage.StepCompleted {
				continue
			}
			desc := s.Description
			if desc == "" {
				desc = "No description"
			}
			blocks = append(blocks, fmt.Sprintf(
				"Task ID: %d\nTask: %s\nStep ID: %d\nStep %d: %s\nDescription: %s\nCurrent Status: %s\n",
				t.Task.ID, t.Task.Name, s.ID, s.StepNumber, s.Title, desc, s.Status))
		}
	}
	if len(blocks) == 0 {
		return "No active steps to monitor."
	}
	return strings.Join(blocks, "\n---\n")
}

// truncateText deterministically keeps the head of the text, marking the cut
// so the model knows content is missing. The cut never splits a UTF-8
// sequence.
func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... [TRUNCATED - showing first %d chars of %d total]", text[:cut], cut, len(text))
}
