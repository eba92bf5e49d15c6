package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/stock-importer/internal/report"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Show recent import reports",
	Long:  "Lists report history entries within the retention window, newest last.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("reports"); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		records := filterStatus(openHistory(afero.NewOsFs()).Recent(), report.Status(status))
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		formatReports(os.Stdout, records)
		return nil
	},
}

func init() {
	reportsCmd.Flags().String("status", "", "filter by status (success, completed_with_errors, failed)")
	reportsCmd.Flags().Bool("json", false, "print raw JSON records")
	rootCmd.AddCommand(reportsCmd)
}

func filterStatus(records []report.Record, status report.Status) []report.Record {
	if status == "" {
		return records
	}
	out := make([]report.Record, 0, len(records))
	for _, r := range records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// formatReports writes a tabular list of reports to out.
func formatReports(out io.Writer, records []report.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tFILE\tSTATUS\tFINISHED\tPARSED\tROW_ERRORS\tDETAIL")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t--------\t------\t----------\t------")

	for _, r := range records {
		finished := ""
		if r.FinishedAt != nil {
			finished = *r.FinishedAt
		}
		detail := formatMetrics(r.Metrics)
		if r.Error != nil {
			detail = r.Error.Kind + ": " + r.Error.Message
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(r.RunID),
			r.File,
			r.Status,
			finished,
			r.ProductsParsed,
			len(r.RowErrors),
			detail,
		)
	}
	_ = w.Flush()
}

// formatMetrics renders counters as sorted key=value pairs.
func formatMetrics(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
