// Package extract streams upstream XML extracts into typed rows, collecting
// per-row validation failures without aborting the file.
package extract

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/model"
)

// Options tunes row recognition and line numbering.
type Options struct {
	RowTag string
	// HeaderOffset <= 0 selects DefaultHeaderOffset.
	HeaderOffset int
}

func (o Options) withDefaults() Options {
	if o.RowTag == "" {
		o.RowTag = DefaultRowTag
	}
	if o.HeaderOffset <= 0 {
		o.HeaderOffset = DefaultHeaderOffset
	}
	return o
}

// Document is everything extracted from one file.
type Document struct {
	Domain   model.Domain
	Flags    model.ControlFlags
	InfoDate string
	// Rows holds flag rows, inventory rows or snapshot products.
	Rows []model.Row
	// Children holds snapshot stock items; empty for other domains.
	Children []model.Row
	Errors   []model.RowError
	// Lines is the number of row elements seen, valid or not.
	Lines int

	seen map[string]int // row and child key -> first line
}

func (d *Document) addError(line int, err error) {
	d.Errors = append(d.Errors, model.RowError{Line: line, Message: err.Error()})
}

// claim records key as seen on line. A key repeated within one file is a row
// error; the first occurrence wins.
func (d *Document) claim(kind, key string, line int) error {
	if d.seen == nil {
		d.seen = make(map[string]int)
	}
	k := kind + "\x00" + key
	if first, dup := d.seen[k]; dup {
		return eris.Errorf("duplicate %s key %q, first seen on line %d", kind, key, first)
	}
	d.seen[k] = line
	return nil
}

func (d *Document) addRow(line int, row model.Row) error {
	if err := d.claim("row", row.Key(), line); err != nil {
		return err
	}
	d.Rows = append(d.Rows, row)
	return nil
}

// Func extracts one document from r.
type Func func(r io.Reader, opts Options) (*Document, error)

// For returns the extractor for a domain.
func For(domain model.Domain) (Func, error) {
	switch domain {
	case model.DomainFlags:
		return ExtractFlags, nil
	case model.DomainInventory:
		return ExtractInventory, nil
	case model.DomainSnapshot:
		return ExtractSnapshot, nil
	}
	return nil, eris.Errorf("extract: unknown domain %q", domain)
}

// File opens path on fsys and runs fn over it.
func File(fsys afero.Fs, path string, fn Func, opts Options) (*Document, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return fn(f, opts)
}

// rowFunc materializes one row element. A returned error becomes a RowError
// for the row's line and the row is skipped.
type rowFunc func(doc *Document, line int, el *Element) error

func scan(r io.Reader, opts Options, domain model.Domain, fn rowFunc) (*Document, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("domain", string(domain)))

	doc := &Document{Domain: domain}
	sc := NewScanner(r, opts)
	for sc.Next() {
		line := sc.Line()
		if err := fn(doc, line, sc.Element()); err != nil {
			log.Warn("row rejected", zap.Int("line", line), zap.Error(err))
			doc.addError(line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	doc.Flags = sc.Flags()
	doc.InfoDate = sc.InfoDate()
	doc.Lines = sc.Count()
	doc.seen = nil
	return doc, nil
}

// Field aliases: the upstream suffixes its identifiers with the source
// system tag, older exports do not.
var (
	fieldID         = []string{"id_1c", "id"}
	fieldFlag       = []string{"it_ya", "flag"}
	fieldProductID  = []string{"product_id_1c", "product_id"}
	fieldStockID    = []string{"stock_id_1c", "stock_id"}
	fieldPrice      = []string{"price"}
	fieldEditDate   = []string{"edit_date"}
	fieldChangeDate = []string{"change_price_date", "change_date"}
	fieldLoadDate   = []string{"load_price_date", "load_date"}
	fieldRRC        = []string{"it_rrc", "rrc"}
	fieldArchived   = []string{"arch", "archived"}
	fieldTotalQty   = []string{"total_quantity"}
	fieldQuantity   = []string{"quantity"}
)

func required(el *Element, canonical string, names []string) (string, error) {
	v, ok := el.Field(names...)
	if !ok {
		return "", eris.Errorf("missing mandatory field %q", canonical)
	}
	return v, nil
}

// ExtractFlags reads prod_dop rows: a mandatory id and a mandatory boolean.
func ExtractFlags(r io.Reader, opts Options) (*Document, error) {
	return scan(r, opts, model.DomainFlags, func(doc *Document, line int, el *Element) error {
		id, err := required(el, "id", fieldID)
		if err != nil {
			return err
		}
		raw, _ := el.Field(fieldFlag...)
		flag, err := ParseBool(raw, "flag")
		if err != nil {
			return err
		}
		return doc.addRow(line, model.FlagRow{ID: id, Flag: flag})
	})
}

// ExtractInventory reads warehouse rows keyed by (product_id, stock_id).
func ExtractInventory(r io.Reader, opts Options) (*Document, error) {
	return scan(r, opts, model.DomainInventory, func(doc *Document, line int, el *Element) error {
		productID, err := required(el, "product_id", fieldProductID)
		if err != nil {
			return err
		}
		stockID, err := required(el, "stock_id", fieldStockID)
		if err != nil {
			return err
		}

		rawPrice, _ := el.Field(fieldPrice...)
		price, err := ParseDecimal(rawPrice, "price")
		if err != nil {
			return err
		}

		row := model.InventoryRow{ProductID: productID, StockID: stockID, Price: price}

		dates := []struct {
			dst   **time.Time
			name  string
			names []string
		}{
			{&row.EditDate, "edit_date", fieldEditDate},
			{&row.ChangeDate, "change_date", fieldChangeDate},
			{&row.LoadDate, "load_date", fieldLoadDate},
		}
		for _, d := range dates {
			raw, _ := el.Field(d.names...)
			if *d.dst, err = ParseDate(raw, d.name); err != nil {
				return err
			}
		}

		raw, _ := el.Field(fieldRRC...)
		if row.RRC, err = ParseBool(raw, "rrc"); err != nil {
			return err
		}
		raw, _ = el.Field(fieldArchived...)
		if row.Archived, err = ParseBool(raw, "archived"); err != nil {
			return err
		}

		return doc.addRow(line, row)
	})
}

// ExtractSnapshot reads stock_prices rows: one Product per row plus its
// nested stocks/stock children. A bad child is reported on its own and does
// not drop the product.
func ExtractSnapshot(r io.Reader, opts Options) (*Document, error) {
	return scan(r, opts, model.DomainSnapshot, func(doc *Document, line int, el *Element) error {
		productID, err := required(el, "product_id", fieldProductID)
		if err != nil {
			return err
		}

		price, err := optionalDecimal(el, "price", fieldPrice)
		if err != nil {
			return err
		}
		total, err := optionalDecimal(el, "total_quantity", fieldTotalQty)
		if err != nil {
			return err
		}
		if err := doc.claim("row", productID, line); err != nil {
			return err
		}

		if stocks := el.Child("stocks"); stocks != nil {
			for _, st := range stocks.ChildrenNamed("stock") {
				item, err := stockItem(productID, st)
				if err == nil {
					err = doc.claim("stock", item.Key(), line)
				}
				if err != nil {
					doc.addError(line, eris.Wrapf(err, "product %s stock entry", productID))
					continue
				}
				doc.Children = append(doc.Children, item)
			}
		}

		doc.Rows = append(doc.Rows, model.Product{ProductID: productID, Price: price, TotalQuantity: total})
		return nil
	})
}

func optionalDecimal(el *Element, canonical string, names []string) (decimal.Decimal, error) {
	raw, ok := el.Field(names...)
	if !ok {
		return decimal.Zero, nil
	}
	return ParseDecimal(raw, canonical)
}

func stockItem(productID string, el *Element) (model.StockItem, error) {
	stockID, err := required(el, "stock_id", fieldStockID)
	if err != nil {
		return model.StockItem{}, err
	}
	raw, _ := el.Field(fieldQuantity...)
	qty, err := ParseDecimal(raw, "quantity")
	if err != nil {
		return model.StockItem{}, eris.Wrapf(err, "stock %s", stockID)
	}
	return model.StockItem{ProductID: productID, StockID: stockID, Quantity: qty}, nil
}
