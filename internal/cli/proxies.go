package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

var (
	proxiesCheck       bool
	proxiesConcurrency int
)

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "List proxy candidates or run health checks",
	Long: `List the proxy pool with the latest health-check results, or run the
checks now with --check.

Examples:
  orchestrator proxies                      # List proxies
  orchestrator proxies --check              # Probe all proxies now
  orchestrator proxies --check --concurrency 10`,
	RunE: runProxies,
}

func init() {
	proxiesCmd.Flags().BoolVar(&proxiesCheck, "check", false, "run health checks before listing")
	proxiesCmd.Flags().IntVar(&proxiesConcurrency, "concurrency", 0, "probe concurrency (0 uses stored settings)")
	rootCmd.AddCommand(proxiesCmd)
}

func runProxies(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if proxiesCheck {
		summary, err := apiClient.CheckProxies(ctx, proxiesConcurrency)
		if err != nil {
			return fmt.Errorf("check proxies: %w", err)
		}
		fmt.Printf("Checked %d proxies: %d ok, %d failed\n", summary.Checked, summary.Succeeded, summary.Failed)
		if summary.BestProxy != "" {
			fmt.Printf("Best proxy: %s\n", summary.BestProxy)
		}
		fmt.Println()
	}

	proxies, err := apiClient.ListProxies(ctx)
	if err != nil {
		return fmt.Errorf("list proxies: %w", err)
	}

	if len(proxies) == 0 {
		fmt.Println("No proxies configured")
		return nil
	}

	fmt.Printf("%-38s %-28s %-8s %-9s %-8s %s\n", "ID", "SERVER", "PROTO", "STATUS", "TIME", "TESTED")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, p := range proxies {
		id := models.MustRecordIDString(p.ID)
		server := fmt.Sprintf("%s:%d", p.Server, p.Port)
		rt := ""
		if p.ResponseTimeMs != nil {
			rt = fmt.Sprintf("%dms", *p.ResponseTimeMs)
		}
		tested := ""
		if p.LastTestedAt != nil {
			tested = p.LastTestedAt.Format("01-02 15:04")
		}
		fmt.Printf("%-38s %-28s %-8s %-9s %-8s %s\n", id, server, p.Protocol, p.TestStatus, rt, tested)
	}

	return nil
}
