package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [task-id]",
	Short: "List or inspect tasks",
	Long: `List your tasks or inspect a specific task by ID.

Examples:
  orchestrator tasks           # List all tasks
  orchestrator tasks abc123    # Show details for task abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showTask(ctx, args[0])
	}

	return listTasks(ctx)
}

func listTasks(ctx context.Context) error {
	tasks, err := apiClient.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	fmt.Printf("%-38s %-18s %-18s %-8s %s\n", "ID", "KIND", "STATUS", "PROG", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------------")

	for _, task := range tasks {
		id := models.MustRecordIDString(task.ID)
		prog := fmt.Sprintf("%.0f%%", progressPercent(task.Progress))
		created := task.CreatedAt.Format("01-02 15:04")
		fmt.Printf("%-38s %-18s %-18s %-8s %s\n", id, task.Kind, task.Status, prog, created)
	}

	return nil
}

func showTask(ctx context.Context, id string) error {
	task, err := apiClient.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("Task: %s\n", models.MustRecordIDString(task.ID))
	fmt.Printf("  Kind: %s\n", task.Kind)
	fmt.Printf("  Target: %s/%s\n", task.TargetType, task.TargetID)
	fmt.Printf("  Purpose: %s\n", task.Purpose)
	fmt.Printf("  Engine: %s\n", task.Engine)
	fmt.Printf("  Status: %s\n", task.Status)
	if task.Phase != nil {
		fmt.Printf("  Phase: %s\n", *task.Phase)
	}
	fmt.Printf("  Progress: %.0f%%\n", progressPercent(task.Progress))
	if task.JobID != nil {
		fmt.Printf("  Job: %s\n", *task.JobID)
	}
	fmt.Printf("  Created: %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.StartedAt != nil {
		fmt.Printf("  Started: %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if task.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", task.FinishedAt.Format(time.RFC3339))
		start := task.CreatedAt
		if task.StartedAt != nil {
			start = *task.StartedAt
		}
		fmt.Printf("  Duration: %s\n", task.FinishedAt.Sub(start).Round(time.Second))
	}
	if task.Error != nil && *task.Error != "" {
		fmt.Printf("  Error: %s\n", *task.Error)
	}

	return nil
}

// progressPercent normalizes progress to 0..100. Workers report either a
// 0..1 fraction or a percentage depending on engine.
func progressPercent(p float64) float64 {
	if p <= 1 {
		return p * 100
	}
	if p > 100 {
		return 100
	}
	return p
}
