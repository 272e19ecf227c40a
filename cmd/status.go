package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
	"github.com/sells-group/profile-enrich/internal/monitoring"
)

var (
	statusFormat string
	statusAlert  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many guests sit in each retry phase",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, cfg.Enrich.RetryCeiling).Collect(ctx, 20)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if err := writeStatus(os.Stdout, snap, statusFormat); err != nil {
			return err
		}

		if statusAlert {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			if alerts := alerter.Evaluate(snap); len(alerts) > 0 {
				sent := alerter.SendAlerts(ctx, alerts)
				fmt.Fprintf(os.Stderr, "%d alert(s) triggered, %d sent.\n", len(alerts), sent)
			}
		}
		return nil
	},
}

// writeStatus renders snap as table, json or yaml.
func writeStatus(out io.Writer, snap *monitoring.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(snap), "status: encode json")
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return eris.Wrap(err, "status: encode yaml")
		}
		return eris.Wrap(enc.Close(), "status: encode yaml")
	case "table", "":
		formatStatusTable(out, snap)
		return nil
	default:
		return eris.Errorf("status: unknown format %q (want table, json or yaml)", format)
	}
}

func formatStatusTable(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tGUESTS")
	_, _ = fmt.Fprintln(w, "-----\t------")
	for _, p := range enrich.Phases {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", p, snap.Phases[p])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", snap.TotalRows)
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nRetry ceiling %d; %.1f%% of %d attempted guests exhausted.\n",
		snap.Ceiling, snap.ExhaustedRate*100, snap.Attempted)
	if r := snap.LastRun; r != nil {
		_, _ = fmt.Fprintf(out, "Last run %s (%s) %s at %s; %d of %d recent runs failed.\n",
			truncateID(r.RunID), r.Mode, r.Status, r.StartedAt.Format("2006-01-02 15:04"),
			snap.RecentFailed, snap.RecentRuns)
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table, json or yaml")
	statusCmd.Flags().BoolVar(&statusAlert, "alert", false, "send webhook alerts for any thresholds breached")
	rootCmd.AddCommand(statusCmd)
}
