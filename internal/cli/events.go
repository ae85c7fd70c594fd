package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var eventsFollow bool

var eventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "Show or follow a job's event log",
	Long: `Show the recorded event log for a worker job, or stream live status
events with --follow.

Examples:
  orchestrator events job-42            # Show recorded events
  orchestrator events job-42 --follow   # Stream live events until the job ends`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "stream live events")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if eventsFollow {
		return followEvents(jobID)
	}

	events, err := apiClient.ListJobEvents(context.Background(), jobID)
	if err != nil {
		return fmt.Errorf("list job events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	fmt.Printf("%-14s %-18s %-12s %-8s %s\n", "TIME", "STATUS", "SOURCE", "SEQ", "MESSAGE")
	fmt.Println("------------------------------------------------------------------------")

	for _, e := range events {
		seq := ""
		if e.EventSeq != nil {
			seq = fmt.Sprintf("%d", *e.EventSeq)
		}
		msg := ""
		if e.Message != nil {
			msg = *e.Message
		}
		fmt.Printf("%-14s %-18s %-12s %-8s %s\n",
			e.CreatedAt.Format("01-02 15:04:05"), e.Status, e.Source, seq, msg)
	}

	return nil
}

func followEvents(jobID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := apiClient.WatchEvents(ctx, jobID, func(event string) error {
		fmt.Println(strings.TrimRight(event, "\n"))
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
