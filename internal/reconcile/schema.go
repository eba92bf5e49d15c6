package reconcile

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/stock-importer/internal/model"
)

// Condition gates a phase on the file's control flags.
type Condition string

const (
	Always   Condition = "always"
	OnDelete Condition = "delete"
	OnReset  Condition = "reset"
)

// Applies reports whether a phase with condition c runs under flags.
func (c Condition) Applies(flags model.ControlFlags) bool {
	switch c {
	case OnDelete:
		return flags.Delete
	case OnReset:
		return flags.Reset
	default:
		return true
	}
}

// Source names which part of an extracted document feeds a staging table.
type Source string

const (
	SourceRows     Source = "rows"
	SourceChildren Source = "children"
)

// Staging describes one ephemeral staging table.
type Staging struct {
	Name    string
	Source  Source
	Create  string // DDL, opaque
	Columns []string
}

// Phase is one named merge statement. Its affected-row count is reported
// under Name; phases sharing a name are summed.
type Phase struct {
	Name string
	SQL  string
	When Condition
}

// Schema is the target-schema descriptor for one domain.
type Schema struct {
	Domain  model.Domain
	Table   string
	Staging []Staging
	Phases  []Phase
}

// Validate checks the descriptor is complete enough to run.
func (s Schema) Validate() error {
	if s.Table == "" {
		return eris.Errorf("reconcile: schema %s: no target table", s.Domain)
	}
	if len(s.Staging) == 0 {
		return eris.Errorf("reconcile: schema %s: no staging tables", s.Domain)
	}
	for _, st := range s.Staging {
		if st.Name == "" || st.Create == "" || len(st.Columns) == 0 {
			return eris.Errorf("reconcile: schema %s: incomplete staging table %q", s.Domain, st.Name)
		}
		if st.Source != SourceRows && st.Source != SourceChildren {
			return eris.Errorf("reconcile: schema %s: staging %s has unknown source %q", s.Domain, st.Name, st.Source)
		}
	}
	if len(s.Phases) == 0 {
		return eris.Errorf("reconcile: schema %s: no phases", s.Domain)
	}
	for _, p := range s.Phases {
		if p.Name == "" || p.SQL == "" {
			return eris.Errorf("reconcile: schema %s: incomplete phase %q", s.Domain, p.Name)
		}
		switch p.When {
		case Always, OnDelete, OnReset:
		default:
			return eris.Errorf("reconcile: schema %s: phase %s has unknown condition %q", s.Domain, p.Name, p.When)
		}
	}
	return nil
}
