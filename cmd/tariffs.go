package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/hts"
)

var tariffsCmd = &cobra.Command{
	Use:   "tariffs",
	Short: "Manage the tariff rate reference table",
}

var (
	tariffsImportSheet string
	tariffsImportSkip  int
)

var tariffsImportCmd = &cobra.Command{
	Use:   "import <schedule.xlsx>",
	Short: "Import a tariff schedule workbook into the reference store",
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

		opts := hts.Options{SheetName: tariffsImportSheet}
		if tariffsImportSkip > 0 {
			opts.SkipRows = tariffsImportSkip
		}

		records, report, err := hts.ImportXLSX(args[0], opts)
		if err != nil {
			return err
		}

		n, err := st.UpsertTariffRates(ctx, records)
		if err != nil {
			return eris.Wrap(err, "upsert rates")
		}

		zap.L().Info("tariff schedule imported",
			zap.Int("imported", n),
			zap.Int("skipped", report.Skipped),
			zap.Int("unparseable_rates", len(report.Notes)),
		)
		for _, note := range report.Notes {
			fmt.Fprintln(os.Stderr, "note:", note)
		}
		fmt.Printf("Imported %d rate records (%d rows skipped).\n", n, report.Skipped)
		return nil
	},
}

var tariffsLookupCmd = &cobra.Command{
	Use:   "lookup <hs-code-prefix>",
	Short: "Look up rate records by HS code prefix",
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

		records, err := st.LookupByPrefix(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "lookup")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No matching rate records.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HS CODE\tMFN\tUSMCA\tDESCRIPTION")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.HSCode, rec.MFNRate, rec.USMCARate, rec.Description)
		}
		return tw.Flush()
	},
}

func init() {
	tariffsImportCmd.Flags().StringVar(&tariffsImportSheet, "sheet", "", "worksheet name (default first sheet)")
	tariffsImportCmd.Flags().IntVar(&tariffsImportSkip, "skip-rows", 0, "header rows to skip (default 1)")
	tariffsCmd.AddCommand(tariffsImportCmd)
	tariffsCmd.AddCommand(tariffsLookupCmd)
	rootCmd.AddCommand(tariffsCmd)
}
