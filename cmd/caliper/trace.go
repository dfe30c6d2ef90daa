package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"caliper/internal/compat"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/tracer"
)

var (
	traceDB  string
	traceOut string
)

var traceCmd = &cobra.Command{
	Use:   "trace --db <facts.sqlite> --out <ledger.json> -- <command> [args...]",
	Short: "Trace a Python program against extracted facts",
	Long: `Run a Python command under a call tracer and check every call against the
functions recorded for all versions in a fact database (see extract --db).

Calls passing more arguments than a version's function accepts, and calls
into modules the database has never seen, are written to the ledger.

Example:
  caliper extract --metric compspec --db sif.sqlite pypi:sif
  caliper trace --db sif.sqlite --out ledger.json -- python3 app.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceDB, "db", "", "Fact database written by extract --db")
	traceCmd.Flags().StringVar(&traceOut, "out", "", "Where to write the ledger JSON")
	_ = traceCmd.MarkFlagRequired("db")
	_ = traceCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := os.Stat(traceDB); err != nil {
		return errors.New(errors.InputMissing, "fact database "+traceDB, err)
	}
	store, err := factstore.Open(traceDB, e.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	checker := compat.NewChecker(store, compat.NewLedger(), e.logger)
	command := tracer.PythonCommand(tracer.PythonOptions{
		Logger: e.logger,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}, args[0], args[1:]...)

	traceErr := tracer.Trace(cmd.Context(), checker, []tracer.Command{command})

	ledger := checker.Ledger()
	if err := ledger.Save(traceOut); err != nil {
		return err
	}
	e.logger.Info("Ledger written", "path", traceOut, "facts", ledger.Len())
	if err := printLedger(cmd.ErrOrStderr(), ledger); err != nil {
		return err
	}
	return traceErr
}

func printLedger(w io.Writer, ledger *compat.Ledger) error {
	rows := ledger.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No compatibility issues found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tPATH\tTAG\tREASON")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Version, r.Path, r.Tag, r.Reason)
	}
	return tw.Flush()
}
