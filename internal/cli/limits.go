package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the configured resource limits",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		limits, err := cfg.ResourceLimits()
		if err != nil {
			return err
		}
		if len(limits) == 0 {
			fmt.Println("No limits configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RESOURCE\tWINDOW\tSOFT\tHARD\tENABLED")
		for _, l := range limits {
			if err := l.Normalize(); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%t\n",
				l.Resource, l.Window, l.SoftLimit, l.HardLimit, l.Enabled)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
}
