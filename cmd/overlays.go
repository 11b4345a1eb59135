package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-cli/internal/monitoring"
	"github.com/sells-group/tariff-cli/internal/store"
)

var overlaysCmd = &cobra.Command{
	Use:   "overlays",
	Short: "Inspect policy overlays",
}

var (
	overlaysListCode   string
	overlaysListActive bool
)

var overlaysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy overlays",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		overlays, err := st.ListOverlays(ctx, store.OverlayFilter{
			HSCode:     overlaysListCode,
			OnlyActive: overlaysListActive,
		})
		if err != nil {
			return eris.Wrap(err, "list overlays")
		}
		if len(overlays) == 0 {
			fmt.Fprintln(os.Stderr, "No overlays found.")
			return nil
		}

		now := time.Now().UTC()
		cutoff := now.Add(-cfg.Policy.FreshnessWindow())

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POLICY ID\tPATTERN\tTYPE\tADJ\tWINDOW\tSTATE")
		for _, o := range overlays {
			state := "active"
			switch {
			case !o.ExpiresAt.After(now):
				state = "expired"
			case !o.IsActive:
				state = "inactive"
			case o.EffectiveDate.After(now):
				state = "not yet effective"
			case o.VerifiedDate.Before(cutoff):
				state = "needs re-verification"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t+%.1f%%\t%s..%s\t%s\n",
				o.PolicyID, o.HSCodePattern, o.AdjustmentType, o.AdjustmentPercentage,
				o.EffectiveDate.Format("2006-01-02"), o.ExpiresAt.Format("2006-01-02"), state)
		}
		return tw.Flush()
	},
}

var overlaysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show freshness of reference and policy data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := monitoring.NewCollector(st, cfg.Policy.FreshnessWindow()).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "collect freshness")
		}

		fmt.Printf("Collected at:        %s\n", snap.CollectedAt.Format(time.RFC3339))
		fmt.Printf("Rate records:        %d (%d unknown MFN, %d unknown USMCA)\n",
			snap.TotalRates, snap.UnknownMFNRates, snap.UnknownUSMCARates)
		fmt.Printf("Policy overlays:     %d (%d expired, %d past verification window)\n",
			snap.TotalOverlays, snap.ExpiredOverlays, snap.UnverifiedOverlays)
		fmt.Printf("Runs:                %d total, %d complete, %d failed (fail rate %.0f%%)\n",
			snap.RunsTotal, snap.RunsComplete, snap.RunsFailed, snap.RunFailRate*100)
		return nil
	},
}

func init() {
	overlaysListCmd.Flags().StringVar(&overlaysListCode, "hs-code", "", "filter by HS code")
	overlaysListCmd.Flags().BoolVar(&overlaysListActive, "active", false, "only active, unexpired overlays")
	overlaysCmd.AddCommand(overlaysListCmd)
	overlaysCmd.AddCommand(overlaysStatusCmd)
	rootCmd.AddCommand(overlaysCmd)
}
