package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskmind/taskmind/internal/config"
)

// Wire shapes mirrored from the daemon's JSON responses.

type taskJSON struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Priority        int     `json:"priority"`
	Frequency       string  `json:"frequency"`
	Status          string  `json:"status"`
	DueStatus       string  `json:"due_status"`
	NextDueAt       string  `json:"next_due_at"`
	ProgressPercent float64 `json:"progress_percent"`
	Steps           []struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"steps"`
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks ordered by urgency",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/tasks?limit=%d", limit))
		if err != nil {
			return err
		}

		var tasks []taskJSON
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		for _, t := range tasks {
			due := t.DueStatus
			switch due {
			case "overdue":
				due = colorize(colorRed, due)
			case "due_today":
				due = colorize(colorYellow, due)
			}
			fmt.Printf("%s  %-30s  %-10s  %s  %3.0f%%\n",
				colorize(colorCyan, fmt.Sprintf("#%-4d", t.ID)),
				truncate(t.Name, 30), t.Frequency, due, t.ProgressPercent)
		}
		return nil
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a task",
	Long: `Create a task.

Examples:
  taskmind task add "Write weekly report" --frequency weekly --step "Collect metrics" --step "Draft summary"
  taskmind task add "File taxes" --priority 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		description, _ := cmd.Flags().GetString("description")
		frequency, _ := cmd.Flags().GetString("frequency")
		priority, _ := cmd.Flags().GetInt("priority")
		stepTitles, _ := cmd.Flags().GetStringArray("step")

		steps := make([]map[string]string, len(stepTitles))
		for i, title := range stepTitles {
			steps[i] = map[string]string{"title": title}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/tasks", map[string]any{
			"name":        name,
			"description": description,
			"frequency":   frequency,
			"priority":    priority,
			"steps":       steps,
		})
		if err != nil {
			return err
		}

		var created taskJSON
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created task #%d: %s (%s)", created.ID, created.Name, created.Frequency)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/tasks/" + args[0])
		if err != nil {
			return err
		}

		var t taskJSON
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}

		fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("#%d", t.ID)), t.Name)
		if t.Description != "" {
			fmt.Printf("  %s\n", t.Description)
		}
		printStatus("Frequency", "%s", t.Frequency)
		printStatus("Status", "%s (%s)", t.Status, t.DueStatus)
		if t.NextDueAt != "" {
			printStatus("Next due", "%s", t.NextDueAt)
		}
		printStatus("Progress", "%.0f%%", t.ProgressPercent)
		for _, s := range t.Steps {
			mark := " "
			if s.Status == "completed" {
				mark = colorize(colorGreen, "✓")
			}
			fmt.Printf("  [%s] %d. %s\n", mark, s.ID, s.Title)
		}
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/tasks/"+args[0]+"/complete", nil)
		if err != nil {
			return err
		}

		var t taskJSON
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}

		if t.Status == "active" {
			printSuccess("Completed %s. Next occurrence: %s", t.Name, t.NextDueAt)
		} else {
			printSuccess("Completed %s", t.Name)
		}
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/tasks/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted task %s", args[0])
		return nil
	},
}

var taskProgressCmd = &cobra.Command{
	Use:   "progress <id>",
	Short: "Show recorded evidence for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/tasks/%s/progress?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var out struct {
			Records []struct {
				Confidence float64 `json:"confidence"`
				Evidence   string  `json:"evidence"`
				CreatedAt  string  `json:"created_at"`
			} `json:"records"`
			Total int `json:"total"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Total == 0 {
			fmt.Println("No progress recorded yet.")
			return nil
		}
		for _, rec := range out.Records {
			fmt.Printf("%s  [%.2f]  %s\n", rec.CreatedAt, rec.Confidence, truncate(rec.Evidence, 80))
		}
		fmt.Printf("%d records total\n", out.Total)
		return nil
	},
}

func init() {
	taskListCmd.Flags().Int("limit", 20, "maximum number of tasks to list")
	taskAddCmd.Flags().String("description", "", "task description")
	taskAddCmd.Flags().String("frequency", "one_time", "one_time, daily, weekly, monthly or custom_<days>")
	taskAddCmd.Flags().Int("priority", 0, "priority, higher sorts first")
	taskAddCmd.Flags().StringArray("step", nil, "step title (repeatable)")
	taskProgressCmd.Flags().Int("limit", 20, "maximum number of records")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskProgressCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant",
	Long: `Chat with the assistant.

With a message argument, sends it and prints the reply. Without arguments,
starts an interactive session in the current conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		thinking, _ := cmd.Flags().GetBool("thinking")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			return sendChat(client, strings.Join(args, " "), thinking)
		}

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}
			if err := sendChat(client, line, thinking); err != nil {
				printError("%v", err)
			}
		}
	},
}

func sendChat(client *apiClient, prompt string, thinking bool) error {
	resp, err := client.post("/generate", map[string]any{
		"prompt":       prompt,
		"use_thinking": thinking,
	})
	if err != nil {
		return err
	}

	var out map[string]string
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Println(out["response"])
	return nil
}

func init() {
	chatCmd.Flags().Bool("thinking", false, "keep the model's thinking blocks in the reply")
}

// --- capture ---

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a capture and matching cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/capture/run", nil)
		if err != nil {
			return err
		}

		var stats struct {
			LastDuration int64  `json:"last_duration"`
			LastError    string `json:"last_error"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		if stats.LastError != "" {
			printWarning("Cycle finished with error: %s", stats.LastError)
			return nil
		}
		printSuccess("Capture cycle finished")
		return nil
	},
}

// --- scheduler ---

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the capture scheduler",
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/scheduler/status")
		if err != nil {
			return err
		}

		var stats map[string]any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start periodic capture cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/scheduler/start", map[string]int{"interval_seconds": interval})
		if err != nil {
			return err
		}

		var stats map[string]any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printSuccess("Scheduler running")
		return nil
	},
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop periodic capture cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/scheduler/stop", nil)
		if err != nil {
			return err
		}

		var stats map[string]any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printSuccess("Scheduler stopped")
		return nil
	},
}

func init() {
	schedulerStartCmd.Flags().Int("interval", 0, "capture interval in seconds (0 keeps the configured value)")

	schedulerCmd.AddCommand(schedulerStatusCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerStopCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
