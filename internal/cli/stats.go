package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long:  `Show in-memory server statistics. Counters reset when the server restarts.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	snap, err := apiClient.GetStats(context.Background())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	uptime := time.Duration(snap.UptimeSeconds * float64(time.Second))
	fmt.Printf("Uptime: %s\n\n", uptime.Round(time.Second))

	fmt.Printf("%-18s %8s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "FAILED", "AVG", "MIN", "MAX")
	fmt.Println("----------------------------------------------------------------------")
	printOp("callback_apply", snap.CallbackApply)
	printOp("dispatch", snap.Dispatch)
	printOp("probe", snap.Probe)
	printOp("reconcile_sweep", snap.ReconcileSweep)
	printOp("db_query", snap.DBQuery)

	return nil
}

func printOp(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}
	fmt.Printf("%-18s %8d %8d %9.1fms %8dms %8dms\n",
		name, op.Count, op.Failures, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
