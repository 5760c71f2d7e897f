package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/storage"
)

var (
	alertStatusFlag string
	alertLevelFlag  string
	alertSourceFlag string
	alertSinceFlag  int
	suppressMinutes int
	ackByFlag       string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and manage alert history",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts from the store",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		alerts, err := store.QueryAlerts(ctx, model.AlertFilter{
			Status:     model.AlertStatus(alertStatusFlag),
			Level:      model.AlertLevel(alertLevelFlag),
			Source:     alertSourceFlag,
			SinceHours: alertSinceFlag,
		})
		if err != nil {
			return fmt.Errorf("query alerts: %w", err)
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLEVEL\tSTATUS\tSOURCE\tTITLE\tRAISED")
		for _, a := range alerts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID[:8], a.Level, a.Status, a.Source, a.Title,
				a.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return mutateAlert(args[0], func(a *model.Alert) {
			a.Status = model.AlertAcknowledged
			a.AcknowledgedBy = ackByFlag
			a.AcknowledgedAt = time.Now().UTC()
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return mutateAlert(args[0], func(a *model.Alert) {
			a.Status = model.AlertResolved
			a.ResolvedAt = time.Now().UTC()
		})
	},
}

var alertsSuppressCmd = &cobra.Command{
	Use:   "suppress <alert-id>",
	Short: "Suppress an alert for a number of minutes",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return mutateAlert(args[0], func(a *model.Alert) {
			a.Status = model.AlertSuppressed
			a.SuppressedUntil = time.Now().UTC().Add(time.Duration(suppressMinutes) * time.Minute)
		})
	},
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return initStore(cfg)
}

// mutateAlert edits one stored alert by id, accepting an unambiguous
// id prefix the way the list output abbreviates them.
func mutateAlert(id string, mutate func(*model.Alert)) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alerts, err := store.QueryAlerts(ctx, model.AlertFilter{})
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}

	var target *model.Alert
	for i := range alerts {
		if alerts[i].ID == id || (len(id) >= 8 && len(alerts[i].ID) >= len(id) && alerts[i].ID[:len(id)] == id) {
			if target != nil {
				return fmt.Errorf("alert id %q is ambiguous", id)
			}
			target = &alerts[i]
		}
	}
	if target == nil {
		return fmt.Errorf("alert %q not found", id)
	}

	mutate(target)
	if err := store.UpdateAlert(ctx, target); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("alert %q not found", id)
		}
		return fmt.Errorf("update alert: %w", err)
	}

	fmt.Printf("Alert %s is now %s.\n", target.ID[:8], target.Status)
	return nil
}

func init() {
	alertsListCmd.Flags().StringVar(&alertStatusFlag, "status", "", "filter by status (active, acknowledged, resolved, suppressed)")
	alertsListCmd.Flags().StringVar(&alertLevelFlag, "level", "", "filter by level (info, warning, error, critical)")
	alertsListCmd.Flags().StringVar(&alertSourceFlag, "source", "", "filter by source")
	alertsListCmd.Flags().IntVar(&alertSinceFlag, "since-hours", 0, "only alerts raised within the last N hours")
	alertsAckCmd.Flags().StringVar(&ackByFlag, "by", "operator", "who acknowledges the alert")
	alertsSuppressCmd.Flags().IntVar(&suppressMinutes, "minutes", 60, "suppression duration in minutes")

	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd, alertsSuppressCmd)
	rootCmd.AddCommand(alertsCmd)
}
