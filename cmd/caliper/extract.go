package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"caliper/internal/metrics"
)

var (
	extractMetrics   []string
	extractVersions  []string
	extractFormat    string
	extractOutdir    string
	extractForce     bool
	extractNoCleanup bool
	extractDB        string
)

var extractCmd = &cobra.Command{
	Use:   "extract [flags] <manager>:<package>...",
	Short: "Extract metrics for one or more packages",
	Long: `Download every version of each package, build a git history with one
tagged commit per version and extract the requested metrics.

Results are written to <outdir>/<manager>/<package>/<metric>/. Existing
results are left alone unless --force is given.

Examples:
  caliper extract pypi:sif
  caliper extract --metric compspec --versions 0.0.1,0.0.2 pypi:sif
  caliper extract --metric all --fmt zip conda:conda-forge/zlib github:singularityhub/sregistry`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringSliceVarP(&extractMetrics, "metric", "m", []string{"all"}, "Metrics to extract, or all")
	extractCmd.Flags().StringSliceVar(&extractVersions, "versions", nil, "Only these versions (default: all)")
	extractCmd.Flags().StringVar(&extractFormat, "fmt", "", "Export format: json, json-single or zip (default: per metric)")
	extractCmd.Flags().StringVarP(&extractOutdir, "outdir", "o", "", "Results directory (default: output.dir)")
	extractCmd.Flags().BoolVarP(&extractForce, "force", "f", false, "Merge into and overwrite existing results")
	extractCmd.Flags().BoolVar(&extractNoCleanup, "no-cleanup", false, "Keep the working directory")
	extractCmd.Flags().StringVar(&extractDB, "db", "", "Write compspec facts to this SQLite file (one package only)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if extractNoCleanup {
		e.cfg.KeepWorkDir = true
	}
	opts := metrics.ExtractOptions{
		Metrics:  extractMetrics,
		Versions: extractVersions,
		Format:   firstNonEmpty(extractFormat, e.cfg.Output.Format),
		Outdir:   firstNonEmpty(extractOutdir, e.cfg.Output.Dir),
		Force:    extractForce,
		Database: firstNonEmpty(extractDB, e.cfg.Database),
	}

	outcomes, err := metrics.NewRunner(e.cfg, e.logger).Extract(cmd.Context(), args, opts)
	printOutcomes(cmd.OutOrStdout(), outcomes)
	return err
}

func printOutcomes(w io.Writer, outcomes []metrics.Outcome) {
	for _, o := range outcomes {
		if o.Package == "" {
			continue
		}
		fmt.Fprintf(w, "%s\n", o.Package)
		if len(o.Written) == 0 {
			fmt.Fprintln(w, "  nothing written (use --force to overwrite existing results)")
		}
		for _, dir := range o.Written {
			fmt.Fprintf(w, "  wrote %s\n", dir)
		}
		for _, s := range o.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", s.Version, s.Reason)
		}
		if issues := issueSummary(o.Issues); issues != "" {
			fmt.Fprintf(w, "  parse issues: %s\n", issues)
		}
	}
}

func issueSummary(issues map[string]int) string {
	var parts []string
	for v, n := range issues {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", v, n))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
