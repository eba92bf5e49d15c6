package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/stock-importer/internal/importer"
)

var (
	runMigrate bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import every XML file waiting in the import directory",
	Long:  "Processes each XML file in import.dir once: extract, sync in a single transaction, record a report, then delete or quarantine the file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initImport(ctx, runMigrate)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Importer.Run(ctx)
		if sum != nil {
			if runJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(sum); encErr != nil {
					return encErr
				}
			} else {
				formatSummary(os.Stdout, sum)
			}
		}
		if cfg.Monitoring.Enabled() && ctx.Err() == nil {
			newChecker(env.History).Check(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}
		if sum.Failed > 0 {
			return eris.Errorf("run: %d of %d file(s) failed", sum.Failed, sum.Processed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runMigrate, "migrate", false, "apply target schema migrations before importing")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}

// formatSummary writes one line per processed file followed by totals.
func formatSummary(out io.Writer, sum *importer.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTATUS\tPARSED\tROW_ERRORS\tMETRICS")
	_, _ = fmt.Fprintln(w, "----\t------\t------\t----------\t-------")
	for _, rec := range sum.Reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			rec.File,
			rec.Status,
			rec.ProductsParsed,
			len(rec.RowErrors),
			formatMetrics(rec.Metrics),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nrun %s: %d processed, %d ok, %d with errors, %d failed (%d unknown)\n",
		truncateID(sum.RunID), sum.Processed, sum.Succeeded, sum.WithErrors, sum.Failed, sum.Unknown)
}
