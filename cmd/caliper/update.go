package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/metrics"
)

var (
	updateMetrics []string
	updateCheck   bool
	updateOutdir  string
	updateFormat  string
)

var updateCmd = &cobra.Command{
	Use:   "update [flags] [<manager>:<package>...]",
	Short: "Bring saved results up to date with newly released versions",
	Long: `Compare the results saved under the output directory with the versions each
package index lists today, and extract only the versions that are missing.

Packages come from the arguments or, when none are given, from the packages
section of the config file:

  packages:
    - name: pypi:sif
      metrics: [compspec, changedlines]

Examples:
  caliper update --check pypi:sif
  caliper update --config packages.yaml --outdir results`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringSliceVarP(&updateMetrics, "metric", "m", nil, "Metrics to update (default: per package, or all)")
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "Only report missing versions")
	updateCmd.Flags().StringVarP(&updateOutdir, "outdir", "o", "", "Results directory (default: output.dir)")
	updateCmd.Flags().StringVar(&updateFormat, "fmt", "", "Export format for new results (default: per metric)")
	rootCmd.AddCommand(updateCmd)
}

// updatePackages combines positional packages, the --metric flag and the
// config's packages section.
func updatePackages(cfg *config.Config, args, metricNames []string) ([]config.PackageConfig, error) {
	var pkgs []config.PackageConfig
	if len(args) > 0 {
		for _, name := range args {
			pkgs = append(pkgs, config.PackageConfig{Name: name})
		}
	} else {
		pkgs = append(pkgs, cfg.Packages...)
	}
	if len(pkgs) == 0 {
		return nil, errors.Newf(errors.InputMissing, "no packages given and none configured")
	}
	if len(metricNames) > 0 {
		for i := range pkgs {
			pkgs[i].Metrics = metricNames
		}
	}
	return pkgs, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	pkgs, err := updatePackages(e.cfg, args, updateMetrics)
	if err != nil {
		return err
	}
	outdir := firstNonEmpty(updateOutdir, e.cfg.Output.Dir)
	runner := metrics.NewRunner(e.cfg, e.logger)

	var statuses []metrics.Status
	if updateCheck {
		statuses, err = runner.Check(cmd.Context(), outdir, pkgs)
	} else {
		statuses, err = runner.Update(cmd.Context(), outdir, firstNonEmpty(updateFormat, e.cfg.Output.Format), pkgs)
	}
	if werr := printStatuses(cmd.OutOrStdout(), statuses); err == nil {
		err = werr
	}
	return err
}

func printStatuses(w io.Writer, statuses []metrics.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tMETRIC\tCURRENT\tMISSING")
	for _, st := range statuses {
		missing := "-"
		if len(st.Missing) > 0 {
			missing = strings.Join(st.Missing, ",")
		}
		current := fmt.Sprintf("%d", len(st.Current))
		if !st.Indexed {
			current = "not indexed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Package, st.Metric, current, missing)
	}
	return tw.Flush()
}
