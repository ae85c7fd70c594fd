package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/client"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

var (
	enqueueTargetType string
	enqueuePurpose    string
	enqueueEngine     string
	enqueueTitle      string
	enqueueSourceURL  string
	enqueueVideoKey   string
	enqueueAudioKey   string
	enqueueOptions    string
	enqueueWatch      bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <kind> <target-id>",
	Short: "Submit a new task",
	Long: `Submit a new task to the orchestration server. Any still-active task
for the same target and purpose is canceled in favor of the new one.

Examples:
  orchestrator enqueue download media-42 --source-url https://example.com/v/42
  orchestrator enqueue asr media-42 --engine whisper --watch
  orchestrator enqueue thread_render thread-7 --engine remotion`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTargetType, "target-type", "media", "target type (media, channel, thread, system)")
	enqueueCmd.Flags().StringVar(&enqueuePurpose, "purpose", "", "purpose (defaults to the kind)")
	enqueueCmd.Flags().StringVar(&enqueueEngine, "engine", "ytdlp", "worker engine")
	enqueueCmd.Flags().StringVar(&enqueueTitle, "title", "", "display title")
	enqueueCmd.Flags().StringVar(&enqueueSourceURL, "source-url", "", "source URL input")
	enqueueCmd.Flags().StringVar(&enqueueVideoKey, "video-key", "", "video object key input")
	enqueueCmd.Flags().StringVar(&enqueueAudioKey, "audio-key", "", "audio object key input")
	enqueueCmd.Flags().StringVar(&enqueueOptions, "options", "", "engine options as a JSON object")
	enqueueCmd.Flags().BoolVarP(&enqueueWatch, "watch", "w", false, "follow progress until the task finishes")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind := models.TaskKind(args[0])
	targetID := args[1]

	purpose := enqueuePurpose
	if purpose == "" {
		purpose = string(kind)
	}

	var options map[string]any
	if enqueueOptions != "" {
		if err := json.Unmarshal([]byte(enqueueOptions), &options); err != nil {
			return fmt.Errorf("parse --options: %w", err)
		}
	}

	result, err := apiClient.Enqueue(ctx, client.EnqueueInput{
		Kind:       kind,
		TargetType: models.TargetType(enqueueTargetType),
		TargetID:   targetID,
		Purpose:    purpose,
		Engine:     enqueueEngine,
		Title:      enqueueTitle,
		Inputs: models.ManifestInputs{
			SourceURL: enqueueSourceURL,
			VideoKey:  enqueueVideoKey,
			AudioKey:  enqueueAudioKey,
		},
		Options: options,
	})
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	fmt.Printf("Task submitted: %s (job %s)\n", result.TaskID, result.JobID)

	if enqueueWatch {
		return RunTaskProgress(apiClient, result.TaskID)
	}
	return nil
}
