// Package sqltmpl loads the per-domain schema descriptors and their SQL
// templates. Defaults are embedded; an override filesystem can replace any
// file by path.
package sqltmpl

import (
	"embed"
	"errors"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/reconcile"
)

//go:embed templates
var embedded embed.FS

const manifestName = "manifest.yaml"

// ErrTemplateMissing is returned when the manifest or a template it
// references cannot be found.
var ErrTemplateMissing = eris.New("sqltmpl: template missing")

// Scope selects which stock delete-missing template the snapshot domain uses.
type Scope string

const (
	// ScopeProduct deletes stock rows absent from their own product's entry.
	ScopeProduct Scope = "product"
	// ScopeFile deletes every stock row absent from the whole file.
	ScopeFile Scope = "file"
)

// ParseScope validates a configured scope; empty means ScopeProduct.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeProduct:
		return ScopeProduct, nil
	case ScopeFile:
		return ScopeFile, nil
	}
	return "", eris.Errorf("sqltmpl: unknown delete scope %q", s)
}

type manifestStaging struct {
	Name    string   `yaml:"name"`
	Source  string   `yaml:"source"`
	Create  string   `yaml:"create"`
	Columns []string `yaml:"columns"`
}

type manifestPhase struct {
	Name     string            `yaml:"name"`
	Template string            `yaml:"template"`
	Variants map[string]string `yaml:"variants"`
	When     string            `yaml:"when"`
}

type manifestDomain struct {
	Table   string            `yaml:"table"`
	Staging []manifestStaging `yaml:"staging"`
	Phases  []manifestPhase   `yaml:"phases"`
}

// Store holds resolved schema descriptors keyed by domain.
type Store struct {
	schemas map[model.Domain]reconcile.Schema
}

// Default returns the embedded template tree.
func Default() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

// Load parses the manifest and reads every referenced template once. Files in
// override, when non-nil, take precedence over base. Any missing file fails
// the whole load.
func Load(base, override fs.FS, scope Scope) (*Store, error) {
	r := reader{base: base, override: override, cache: make(map[string]string)}

	raw, err := r.read(manifestName)
	if err != nil {
		return nil, err
	}
	var manifest map[string]manifestDomain
	if err := yaml.Unmarshal([]byte(raw), &manifest); err != nil {
		return nil, eris.Wrap(err, "sqltmpl: parse manifest")
	}
	if len(manifest) == 0 {
		return nil, eris.New("sqltmpl: manifest declares no domains")
	}

	s := &Store{schemas: make(map[model.Domain]reconcile.Schema, len(manifest))}
	for name, md := range manifest {
		schema, err := r.resolve(model.Domain(name), md, scope)
		if err != nil {
			return nil, err
		}
		if err := schema.Validate(); err != nil {
			return nil, err
		}
		s.schemas[schema.Domain] = schema
	}
	return s, nil
}

// Schema returns the descriptor for domain.
func (s *Store) Schema(domain model.Domain) (reconcile.Schema, error) {
	schema, ok := s.schemas[domain]
	if !ok {
		return reconcile.Schema{}, eris.Wrapf(ErrTemplateMissing, "sqltmpl: no schema for domain %s", domain)
	}
	return schema, nil
}

// Domains lists the loaded domains in sorted order.
func (s *Store) Domains() []model.Domain {
	out := make([]model.Domain, 0, len(s.schemas))
	for d := range s.schemas {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type reader struct {
	base     fs.FS
	override fs.FS
	cache    map[string]string
}

func (r reader) read(path string) (string, error) {
	if sql, ok := r.cache[path]; ok {
		return sql, nil
	}
	if path == "" {
		return "", eris.Wrap(ErrTemplateMissing, "sqltmpl: empty template path")
	}

	var (
		b   []byte
		err error
	)
	if r.override != nil {
		b, err = fs.ReadFile(r.override, path)
	}
	if r.override == nil || errors.Is(err, fs.ErrNotExist) {
		b, err = fs.ReadFile(r.base, path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", eris.Wrapf(ErrTemplateMissing, "sqltmpl: %s", path)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqltmpl: read %s", path)
	}

	r.cache[path] = string(b)
	return r.cache[path], nil
}

func (r reader) resolve(domain model.Domain, md manifestDomain, scope Scope) (reconcile.Schema, error) {
	schema := reconcile.Schema{Domain: domain, Table: md.Table}

	for _, st := range md.Staging {
		create, err := r.read(st.Create)
		if err != nil {
			return schema, eris.Wrapf(err, "sqltmpl: %s staging %s", domain, st.Name)
		}
		schema.Staging = append(schema.Staging, reconcile.Staging{
			Name:    st.Name,
			Source:  reconcile.Source(st.Source),
			Create:  create,
			Columns: st.Columns,
		})
	}

	for _, p := range md.Phases {
		path := p.Template
		if len(p.Variants) > 0 {
			v, ok := p.Variants[string(scope)]
			if !ok {
				return schema, eris.Wrapf(ErrTemplateMissing, "sqltmpl: %s phase %s has no %q variant", domain, p.Name, scope)
			}
			path = v
		}
		sql, err := r.read(path)
		if err != nil {
			return schema, eris.Wrapf(err, "sqltmpl: %s phase %s", domain, p.Name)
		}
		when := reconcile.Condition(p.When)
		if when == "" {
			when = reconcile.Always
		}
		schema.Phases = append(schema.Phases, reconcile.Phase{Name: p.Name, SQL: sql, When: when})
	}
	return schema, nil
}
