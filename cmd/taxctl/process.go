package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func processCmd(flags *globalFlags) *cobra.Command {
	var (
		category string
		vendor   string
		vat      string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "process [file]",
		Short: "Extract the tax fields of an invoice or receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := loadDocument(args[0], category)
			if err != nil {
				return err
			}
			result, err := app.Orchestrator.Process(ctx, doc, domain.ProcessOptions{
				ForceReprocess: force,
				Context: domain.BusinessContext{
					KnownVendor: vendor,
					VATNumber:   vat,
				},
			})
			if err != nil {
				return err
			}
			if flags.asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "Document category (SALES or PURCHASE)")
	cmd.Flags().StringVar(&vendor, "vendor", "", "Known vendor name")
	cmd.Flags().StringVar(&vat, "vat", "", "Known VAT number")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore stored results for identical content")
	return cmd
}

func printResult(w io.Writer, result *domain.ExtractionResult) error {
	fmt.Fprintf(w, "Strategy:    %s\n", result.Strategy)
	fmt.Fprintf(w, "Success:     %t\n", result.Success)
	fmt.Fprintf(w, "Confidence:  %.2f\n", result.Confidence)
	if result.NeedsReview {
		fmt.Fprintln(w, "Review:      required")
	}
	if result.Error != nil {
		fmt.Fprintf(w, "Error:       %s\n", result.Error.Message)
	}
	for _, d := range result.Degradations {
		fmt.Fprintf(w, "Degraded:    %s\n", d)
	}

	if len(result.Fields) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tVALUE\tCONFIDENCE\tSOURCE")
		for _, f := range result.Fields {
			var value string
			switch v := f.Value.(type) {
			case nil:
			case domain.AmountValue:
				value = strings.TrimSpace(v.String() + " " + v.Currency)
			default:
				value = v.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", f.Name, value, f.Confidence, f.Source)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(result.SuggestedImprovements) > 0 {
		fmt.Fprintf(w, "\nSuggestions: %s\n", strings.Join(result.SuggestedImprovements, "; "))
	}
	return nil
}
