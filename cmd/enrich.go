package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
	"github.com/sells-group/profile-enrich/internal/monitoring"
	"github.com/sells-group/profile-enrich/internal/telemetry"
)

var (
	enrichCount    int
	enrichProfiles []string
	enrichEvery    time.Duration
	enrichDryRun   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Look up LinkedIn profiles for guests due an attempt",
	Long: `Selects up to --count guests whose handle is unresolved and outside its
backoff window, fetches their profiles from Apify and records the outcome.
With --profiles only the named handles are looked up, ignoring backoff.
With --every the batch repeats on an interval until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := checkEnrichFlags(); err != nil {
			return err
		}

		mode := config.ModeEnrich
		if enrichDryRun {
			mode = config.ModeStore
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}
		if !cmd.Flags().Changed("count") {
			enrichCount = cfg.Enrich.BatchSize
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if enrichDryRun {
			runner := enrich.NewRunner(st, nil, runnerOptions(cfg.Enrich)...)
			cands, err := runner.Preview(ctx, enrichCount)
			if err != nil {
				return err
			}
			formatCandidates(os.Stdout, cands)
			return nil
		}

		provider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry)
		if err != nil {
			return eris.Wrap(err, "enrich: init telemetry")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx, provider); err != nil {
				zap.L().Warn("enrich: telemetry shutdown", zap.Error(err))
			}
		}()
		metrics, err := telemetry.NewEnrichmentMetrics(provider)
		if err != nil {
			return eris.Wrap(err, "enrich: init metrics")
		}

		runner := newRunner(st, newGateway(cfg.Apify), metrics)
		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, cfg.Enrich.RetryCeiling),
			monitoring.NewAlerter(cfg.Monitoring),
		)

		if enrichEvery > 0 {
			return runner.RunEvery(ctx, enrichEvery, enrichCount, func(ctx context.Context, sum *enrich.Summary, err error) {
				if sum != nil {
					_ = writeSummary(os.Stdout, sum)
				}
				checker.AfterRun(ctx, sum, err)
			})
		}

		var sum *enrich.Summary
		if len(enrichProfiles) > 0 {
			sum, err = runner.RunHandles(ctx, enrichProfiles)
		} else {
			sum, err = runner.Run(ctx, enrichCount)
		}
		checker.AfterRun(ctx, sum, err)
		if sum != nil {
			if werr := writeSummary(os.Stdout, sum); werr != nil {
				return werr
			}
		}
		return err
	},
}

// checkEnrichFlags rejects flag combinations that have no sensible meaning.
func checkEnrichFlags() error {
	if len(enrichProfiles) > 0 && enrichEvery > 0 {
		return eris.New("enrich: --profiles cannot be combined with --every")
	}
	if len(enrichProfiles) > 0 && enrichDryRun {
		return eris.New("enrich: --profiles cannot be combined with --dry-run")
	}
	if enrichEvery < 0 {
		return eris.Errorf("enrich: --every must be positive, got %s", enrichEvery)
	}
	return nil
}

func writeSummary(w io.Writer, sum *enrich.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(sum), "enrich: write summary")
}

func formatCandidates(w io.Writer, cands []enrich.Candidate) {
	if len(cands) == 0 {
		_, _ = fmt.Fprintln(w, "No guests are due a lookup.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SUBJECT\tNAME\tHANDLE\tRETRIES\tURL")
	for _, c := range cands {
		url, err := enrich.ProfileURL(c.RawHandle)
		if err != nil {
			url = "invalid"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.SubjectID, c.DisplayName, c.RawHandle, c.RetryCount, url)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d guest(s) would be looked up.\n", len(cands))
}

func init() {
	enrichCmd.Flags().IntVar(&enrichCount, "count", 5, "maximum guests to look up per run")
	enrichCmd.Flags().StringSliceVar(&enrichProfiles, "profiles", nil, "comma-separated handles to look up instead of a batch")
	enrichCmd.Flags().DurationVar(&enrichEvery, "every", 0, "repeat the batch on this interval until interrupted")
	enrichCmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "list the guests a batch would select without calling Apify")
	rootCmd.AddCommand(enrichCmd)
}
