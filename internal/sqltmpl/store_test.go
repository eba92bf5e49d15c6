package sqltmpl

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/reconcile"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	store, err := Load(Default(), nil, ScopeProduct)
	require.NoError(t, err)

	assert.Equal(t, []model.Domain{model.DomainFlags, model.DomainSnapshot, model.DomainInventory}, store.Domains())

	flags, err := store.Schema(model.DomainFlags)
	require.NoError(t, err)
	assert.Equal(t, "tbl_prod_dop", flags.Table)
	require.Len(t, flags.Staging, 1)
	assert.Equal(t, []string{"id_1c", "it_ya"}, flags.Staging[0].Columns)
	assert.Contains(t, flags.Staging[0].Create, "CREATE TEMP TABLE tmp_tbl_prod_dop")

	require.Len(t, flags.Phases, 3)
	assert.Equal(t, "updated", flags.Phases[0].Name)
	assert.Equal(t, "inserted", flags.Phases[1].Name)
	assert.Equal(t, "deleted", flags.Phases[2].Name)
	assert.Equal(t, reconcile.Always, flags.Phases[0].When)
	assert.Equal(t, reconcile.OnDelete, flags.Phases[2].When)
}

func TestLoad_InventoryColumnsMatchRowValues(t *testing.T) {
	store, err := Load(Default(), nil, ScopeProduct)
	require.NoError(t, err)

	inv, err := store.Schema(model.DomainInventory)
	require.NoError(t, err)
	assert.Len(t, inv.Staging[0].Columns, len(model.InventoryRow{}.Values()))

	snap, err := store.Schema(model.DomainSnapshot)
	require.NoError(t, err)
	require.Len(t, snap.Staging, 2)
	assert.Len(t, snap.Staging[0].Columns, len(model.Product{}.Values()))
	assert.Equal(t, reconcile.SourceChildren, snap.Staging[1].Source)
	assert.Len(t, snap.Staging[1].Columns, len(model.StockItem{}.Values()))
}

func TestLoad_SnapshotPhaseOrder(t *testing.T) {
	store, err := Load(Default(), nil, ScopeProduct)
	require.NoError(t, err)
	snap, err := store.Schema(model.DomainSnapshot)
	require.NoError(t, err)

	var names []string
	for _, p := range snap.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"products_updated", "skus_updated", "stocks_logged", "stocks_upserted", "stocks_deleted",
		"products_reset", "skus_reset", "stocks_deleted", "logs_cleaned",
	}, names)

	last := snap.Phases[len(snap.Phases)-1]
	assert.Equal(t, reconcile.Always, last.When)
	assert.Contains(t, last.SQL, "shop_product_stocks_log")
	assert.Equal(t, reconcile.OnReset, snap.Phases[5].When)
}

func TestLoad_DeleteScopeSelectsVariant(t *testing.T) {
	product, err := Load(Default(), nil, ScopeProduct)
	require.NoError(t, err)
	file, err := Load(Default(), nil, ScopeFile)
	require.NoError(t, err)

	ps, _ := product.Schema(model.DomainSnapshot)
	fs, _ := file.Schema(model.DomainSnapshot)
	assert.Contains(t, ps.Phases[4].SQL, "USING shop_product p, tmp_products t")
	assert.NotContains(t, fs.Phases[4].SQL, "tmp_products")
}

func TestLoad_OverrideReplacesTemplate(t *testing.T) {
	override := fstest.MapFS{
		"prod_dop/update.sql": {Data: []byte("UPDATE tbl_prod_dop SET it_ya = FALSE")},
	}
	store, err := Load(Default(), override, ScopeProduct)
	require.NoError(t, err)

	flags, err := store.Schema(model.DomainFlags)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE tbl_prod_dop SET it_ya = FALSE", flags.Phases[0].SQL)
	assert.Contains(t, flags.Phases[1].SQL, "INSERT INTO tbl_prod_dop")
}

const miniManifest = `
prod_dop:
  table: tbl_prod_dop
  staging:
    - name: tmp_flags
      source: rows
      create: create.sql
      columns: [id_1c, it_ya]
  phases:
    - name: updated
      template: update.sql
`

func TestLoad_MissingTemplate(t *testing.T) {
	base := fstest.MapFS{
		"manifest.yaml": {Data: []byte(miniManifest)},
		"create.sql":    {Data: []byte("CREATE TEMP TABLE tmp_flags (id_1c TEXT)")},
	}
	_, err := Load(base, nil, ScopeProduct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateMissing))
	assert.Contains(t, err.Error(), "update.sql")
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(fstest.MapFS{}, nil, ScopeProduct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateMissing))
}

func TestLoad_InvalidManifest(t *testing.T) {
	base := fstest.MapFS{"manifest.yaml": {Data: []byte("prod_dop: [unclosed")}}
	_, err := Load(base, nil, ScopeProduct)
	assert.ErrorContains(t, err, "parse manifest")
}

func TestLoad_InvalidCondition(t *testing.T) {
	base := fstest.MapFS{
		"manifest.yaml": {Data: []byte(miniManifest + "      when: sometimes\n")},
		"create.sql":    {Data: []byte("CREATE TEMP TABLE tmp_flags (id_1c TEXT)")},
		"update.sql":    {Data: []byte("UPDATE tbl_prod_dop SET it_ya = TRUE")},
	}
	_, err := Load(base, nil, ScopeProduct)
	assert.ErrorContains(t, err, "unknown condition")
}

func TestStore_UnknownDomain(t *testing.T) {
	store, err := Load(Default(), nil, ScopeProduct)
	require.NoError(t, err)
	_, err = store.Schema("catalog")
	assert.True(t, errors.Is(err, ErrTemplateMissing))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeProduct, s)

	s, err = ParseScope("file")
	require.NoError(t, err)
	assert.Equal(t, ScopeFile, s)

	_, err = ParseScope("global")
	assert.Error(t, err)
}
