package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func aggregateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [file]",
		Short: "Total a CSV or XLSX tax report without double counting subtotals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := loadDocument(args[0], "")
			if err != nil {
				return err
			}
			result, err := app.Reports.AggregateReport(ctx, doc)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printAggregation(cmd.OutOrStdout(), result)
		},
	}
}

func printAggregation(w io.Writer, result *domain.AggregationResult) error {
	fmt.Fprintf(w, "Total:       %.2f\n", result.Total)
	fmt.Fprintf(w, "Method:      %s\n", result.Method)
	fmt.Fprintf(w, "Confidence:  %.2f\n", result.Confidence)
	if result.StatedTotal != nil {
		fmt.Fprintf(w, "Stated:      %.2f\n", *result.StatedTotal)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tROWS\tSUBTOTALS\tCONTRIBUTION\tRESOLUTION")
	for _, g := range result.Groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%s\n", g.Group, g.Rows, g.SubtotalRows, g.Contribution, g.Resolution)
	}
	return tw.Flush()
}

func healthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the configured dependencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			statuses := app.Insights.Health(ctx)
			if flags.asJSON {
				return printJSON(cmd.OutOrStdout(), statuses)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATUS\tERROR")
			for _, s := range statuses {
				status := "ok"
				if !s.Healthy {
					status = "FAILED"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Service, status, s.Error)
			}
			return tw.Flush()
		},
	}
}
