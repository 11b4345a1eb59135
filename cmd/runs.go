package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect qualification run history",
}

var (
	runsListStatus  string
	runsListProduct string
	runsListLimit   int
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List qualification runs",
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

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:  model.RunStatus(runsListStatus),
			Product: runsListProduct,
			Limit:   runsListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
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

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPRODUCT\tSTATUS\tVERDICT\tCREATED")
	for _, r := range runs {
		verdict := "-"
		if r.Verdict != nil {
			verdict = string(r.Verdict.Qualified)
		} else if r.Reason != "" {
			verdict = r.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Product.Name, r.Status, verdict, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	runsListCmd.Flags().StringVar(&runsListStatus, "status", "", "filter by run status")
	runsListCmd.Flags().StringVar(&runsListProduct, "product", "", "filter by product name")
	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 50, "maximum rows")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
