package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvestly/warden/pkg/model"
)

var healthAddrFlag string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Fetch the health report from a running daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(healthAddrFlag + "/api/v1/health")
		if err != nil {
			return fmt.Errorf("fetch health report: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}

		var report model.HealthReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return fmt.Errorf("decode health report: %w", err)
		}

		fmt.Printf("Overall: %s (checked %s)\n\n", report.Overall,
			report.CheckedAt.Format("2006-01-02 15:04:05"))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tSTATUS\tFAILS\tUPTIME\tLAST CHECK")
		for _, h := range report.Components {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%s\n",
				h.Name, h.Status, h.ConsecutiveFailures, h.UptimePct,
				h.LastCheck.Format("15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddrFlag, "addr", "http://localhost:8090", "daemon address")
	rootCmd.AddCommand(healthCmd)
}
