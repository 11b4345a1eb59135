package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tariff-cli/internal/engine"
	"github.com/sells-group/tariff-cli/internal/model"
)

var qualifyJSON bool

var qualifyCmd = &cobra.Command{
	Use:   "qualify <product-file>",
	Short: "Run a qualification for one product",
	Long:  "Reads a product definition (YAML or JSON) and produces a qualification verdict with the effective duty rate and savings estimate.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		product, err := loadProduct(args[0])
		if err != nil {
			return err
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.engine.Qualify(ctx, *product)
		if err != nil {
			return eris.Wrap(err, "qualify")
		}

		if qualifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printVerdict(os.Stdout, result)
		return nil
	},
}

func loadProduct(path string) (*model.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read product file")
	}

	var product model.Product
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &product)
	default:
		err = yaml.Unmarshal(data, &product)
	}
	if err != nil {
		return nil, eris.Wrap(err, "parse product file")
	}
	if len(product.Components) == 0 {
		return nil, eris.New("product has no components")
	}
	return &product, nil
}

func printVerdict(w io.Writer, result *engine.Result) {
	v := result.Verdict
	p := message.NewPrinter(language.AmericanEnglish)

	fmt.Fprintf(w, "Run:            %s\n", result.RunID)
	fmt.Fprintf(w, "HS code:        %s (confidence %.2f, %s)\n", v.ResolvedHSCode, v.ClassificationConfidence, v.ClassificationSource)
	fmt.Fprintf(w, "Regional value: %.1f%% (threshold %.1f%%)\n", v.RegionalContentPercentage, v.ThresholdApplied)
	fmt.Fprintf(w, "Determination:  %s\n", v.Qualified)
	fmt.Fprintf(w, "MFN rate:       %s\n", v.BaseMFNRate)
	fmt.Fprintf(w, "USMCA rate:     %s\n", v.BaseUSMCARate)

	if len(v.ActiveOverlays) > 0 {
		fmt.Fprintln(w, "Active overlays:")
		for _, o := range v.ActiveOverlays {
			fmt.Fprintf(w, "  %-24s %s +%.1f%%\n", o.PolicyID, o.AdjustmentType, o.AdjustmentPercentage)
		}
	}
	for _, o := range v.StaleOverlays {
		fmt.Fprintf(w, "Stale overlay:  %s (%s)\n", o.PolicyID, v.StaleReasons[o.PolicyID])
	}

	fmt.Fprintf(w, "Effective rate: %s\n", v.EffectiveDutyRate)
	p.Fprintf(w, "Est. savings:   $%.2f/yr\n", v.AnnualSavingsEstimate)
	fmt.Fprintf(w, "Rule applied:   %s\n", v.RuleApplied)
}

func init() {
	qualifyCmd.Flags().BoolVar(&qualifyJSON, "json", false, "print raw verdict JSON")
	rootCmd.AddCommand(qualifyCmd)
}
