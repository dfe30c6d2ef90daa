package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"caliper/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics [query]",
	Short: "List available metrics",
	Long: `List the metrics Caliper can extract. The optional query is a regular
expression matched against metric names.

Examples:
  caliper metrics
  caliper metrics 'lines$'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	regs, err := metrics.Search(query)
	if err != nil {
		return err
	}
	if len(regs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No metrics match %q\n", query)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tDESCRIPTION")
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.DefaultFormat, r.Description)
	}
	return w.Flush()
}
