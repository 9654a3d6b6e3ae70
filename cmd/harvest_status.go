package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sensor-harvest/internal/monitoring"
	"github.com/sells-group/sensor-harvest/internal/repository"
)

var (
	statusLimit int
	statusPaths bool
)

var harvestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show harvest run log",
	Long:  "Displays recent harvest runs, a health summary over the monitoring window and, with --paths, the selected paths of every datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "harvest status")
		}
		formatSnapshot(os.Stdout, snap)

		runs, err := st.Runs(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "harvest status")
		}
		_, _ = fmt.Fprintln(os.Stdout)
		formatRuns(os.Stdout, runs)

		if !statusPaths {
			return nil
		}
		sources, err := st.ListDatasources(ctx)
		if err != nil {
			return eris.Wrap(err, "harvest status")
		}
		for _, ds := range sources {
			paths, err := st.Paths(ctx, ds.ID)
			if err != nil {
				return eris.Wrap(err, "harvest status")
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nDatasource %d: %s (%s)\n", ds.ID, ds.URL, ds.StoreKind)
			formatPaths(os.Stdout, paths)
		}
		return nil
	},
}

func init() {
	harvestStatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to show")
	harvestStatusCmd.Flags().BoolVar(&statusPaths, "paths", false, "list the selected paths of every datasource")
	harvestCmd.AddCommand(harvestStatusCmd)
}

// formatSnapshot writes the health summary.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot) {
	_, _ = fmt.Fprintf(out, "Last %dh: %d runs (%d complete, %d failed, %d running), fail rate %.1f%%\n",
		snap.LookbackHours, snap.RunsTotal, snap.RunsComplete, snap.RunsFailed, snap.RunsRunning, snap.RunFailRate*100)
	_, _ = fmt.Fprintf(out, "Data accepted: %d, sensors imported: %d, import failures: %d\n",
		snap.DataAccepted, snap.SensorsImported, snap.DistributionFailures)
}

// formatRuns writes a tabular representation of harvest runs to out.
func formatRuns(out io.Writer, runs []repository.HarvestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATASOURCE\tSTATUS\tSTARTED\tDURATION\tDATA\tSENSORS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----------\t------\t-------\t--------\t----\t-------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.DatasourceID,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.DataAccepted,
			r.SensorsImported,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatPaths writes the selected paths of one datasource.
func formatPaths(out io.Writer, paths []repository.SelectedPath) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tSTATUS\tUPDATED")
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Path, p.Status, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
