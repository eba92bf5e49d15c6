package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/stock-importer/internal/extract"
	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/reconcile"
	"github.com/sells-group/stock-importer/internal/sqltmpl"
)

var checkFile string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and SQL templates",
	Long:  "Validates settings and resolves every schema descriptor without touching the database. With --file, also extracts that file and prints its rows and row errors.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("check"); err != nil {
			return err
		}
		store, err := loadTemplates()
		if err != nil {
			return err
		}
		if err := formatSchemas(os.Stdout, store); err != nil {
			return err
		}

		if checkFile == "" {
			return nil
		}
		return dryRun(os.Stdout, afero.NewOsFs(), checkFile)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkFile, "file", "", "extract this XML file without syncing it")
	rootCmd.AddCommand(checkCmd)
}

// formatSchemas lists each domain with its staging tables and phases.
func formatSchemas(out io.Writer, store *sqltmpl.Store) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tTABLE\tSTAGING\tPHASES")
	for _, d := range store.Domains() {
		schema, err := store.Schema(d)
		if err != nil {
			return err
		}
		staging := make([]string, 0, len(schema.Staging))
		for _, st := range schema.Staging {
			staging = append(staging, st.Name)
		}
		phases := make([]string, 0, len(schema.Phases))
		for _, p := range schema.Phases {
			name := p.Name
			if p.When != reconcile.Always {
				name += "[" + string(p.When) + "]"
			}
			phases = append(phases, name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d, schema.Table, strings.Join(staging, ","), strings.Join(phases, ","))
	}
	return w.Flush()
}

// dryRun extracts path with the extractor its file name routes to.
func dryRun(out io.Writer, fsys afero.Fs, path string) error {
	name := strings.ToLower(filepath.Base(path))
	var domain model.Domain
	for d, file := range cfg.Import.Files {
		if strings.ToLower(file) == name {
			domain = model.Domain(d)
		}
	}
	if domain == "" {
		return eris.Errorf("check: no domain mapped for %s", filepath.Base(path))
	}

	fn, err := extract.For(domain)
	if err != nil {
		return err
	}
	doc, err := extract.File(fsys, path, fn, extractOptions())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "\n%s (%s): %d row elements, %d valid, %d children, %d row errors, delete=%t reset=%t",
		filepath.Base(path), domain, doc.Lines, len(doc.Rows), len(doc.Children), len(doc.Errors), doc.Flags.Delete, doc.Flags.Reset)
	if doc.InfoDate != "" {
		_, _ = fmt.Fprintf(out, " as of %s", doc.InfoDate)
	}
	_, _ = fmt.Fprintln(out)
	for _, e := range doc.Errors {
		_, _ = fmt.Fprintf(out, "  line %d: %s\n", e.Line, e.Message)
	}
	return nil
}
