package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvestly/warden/pkg/metrics"
	"github.com/harvestly/warden/pkg/model"
)

var (
	metricNamesFlag   string
	metricSinceFlag   int
	metricLimitFlag   int
	metricAggFlag     string
	metricBucketFlag  int
	metricCleanupDays int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Query and aggregate stored metrics",
}

var metricsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List stored samples, newest first",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		samples, err := store.QueryMetrics(ctx, metricFilterFromFlags())
		if err != nil {
			return fmt.Errorf("query metrics: %w", err)
		}
		if len(samples) == 0 {
			fmt.Println("No samples found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tVALUE\tTAGS\tTIMESTAMP")
		for _, m := range samples {
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\t%s\n",
				m.Name, m.Kind, m.Value, formatTags(m.Tags),
				m.Timestamp.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var metricsAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Bucket and reduce stored samples",
	RunE: func(_ *cobra.Command, _ []string) error {
		agg := metrics.Aggregation(metricAggFlag)
		if !agg.Valid() {
			return fmt.Errorf("unknown aggregation %q", metricAggFlag)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		filter := metricFilterFromFlags()
		filter.Limit = 0
		samples, err := store.QueryMetrics(ctx, filter)
		if err != nil {
			return fmt.Errorf("query metrics: %w", err)
		}

		buckets := metrics.BucketSamples(samples, agg, metricBucketFlag)
		if len(buckets) == 0 {
			fmt.Println("No samples found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBUCKET\tVALUE\tCOUNT")
		for name, series := range buckets {
			for _, b := range series {
				fmt.Fprintf(w, "%s\t%s\t%.4f\t%d\n",
					name, b.Timestamp.Format("2006-01-02 15:04"), b.Value, b.Count)
			}
		}
		return w.Flush()
	},
}

var metricsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete samples older than the retention horizon",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cutoff := time.Now().UTC().AddDate(0, 0, -metricCleanupDays)
		removed, err := store.DeleteMetricsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup metrics: %w", err)
		}
		fmt.Printf("Removed %d samples older than %s.\n", removed, cutoff.Format("2006-01-02"))
		return nil
	},
}

func metricFilterFromFlags() model.MetricFilter {
	filter := model.MetricFilter{Limit: metricLimitFlag}
	if metricNamesFlag != "" {
		filter.Names = strings.Split(metricNamesFlag, ",")
	}
	if metricSinceFlag > 0 {
		filter.StartTime = time.Now().UTC().Add(-time.Duration(metricSinceFlag) * time.Hour)
	}
	return filter
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func init() {
	for _, cmd := range []*cobra.Command{metricsQueryCmd, metricsAggregateCmd} {
		cmd.Flags().StringVar(&metricNamesFlag, "names", "", "comma-separated metric names")
		cmd.Flags().IntVar(&metricSinceFlag, "since-hours", 24, "only samples within the last N hours")
	}
	metricsQueryCmd.Flags().IntVar(&metricLimitFlag, "limit", 50, "maximum samples to print")
	metricsAggregateCmd.Flags().StringVar(&metricAggFlag, "agg", "avg", "aggregation (sum, avg, min, max, count, p50, p90, p95, p99)")
	metricsAggregateCmd.Flags().IntVar(&metricBucketFlag, "bucket-minutes", 5, "bucket width in minutes")
	metricsCleanupCmd.Flags().IntVar(&metricCleanupDays, "days", 30, "retention horizon in days")

	metricsCmd.AddCommand(metricsQueryCmd, metricsAggregateCmd, metricsCleanupCmd)
	rootCmd.AddCommand(metricsCmd)
}
