package model

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Domain identifies one of the upstream extract shapes.
type Domain string

const (
	DomainFlags     Domain = "prod_dop"     // product flag rows
	DomainInventory Domain = "warehouses"   // warehouse stock/price rows
	DomainSnapshot  Domain = "stock_prices" // aggregated stock-and-price snapshot
)

// Row is a materialized extract row ready to be staged.
type Row interface {
	// Key returns the row's unique key within its extract.
	Key() string
	// Values returns column values in staging-table order.
	Values() []any
}

// ControlFlags are per-file directives read from top-level elements.
type ControlFlags struct {
	Delete bool `json:"delete"`
	Reset  bool `json:"reset"`
}

// RowError is a recoverable, per-row validation failure.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// FlagRow is a product flag from prod_dop.xml.
type FlagRow struct {
	ID   string
	Flag bool
}

func (r FlagRow) Key() string   { return r.ID }
func (r FlagRow) Values() []any { return []any{r.ID, r.Flag} }

// InventoryRow is a warehouse stock/price row from warehouses.xml.
type InventoryRow struct {
	ProductID  string
	StockID    string
	EditDate   *time.Time
	Price      decimal.Decimal
	RRC        bool
	ChangeDate *time.Time
	LoadDate   *time.Time
	Archived   bool
}

func (r InventoryRow) Key() string { return r.ProductID + "|" + r.StockID }

func (r InventoryRow) Values() []any {
	return []any{
		r.ProductID,
		r.StockID,
		Date(r.EditDate),
		Numeric(r.Price),
		r.RRC,
		Date(r.ChangeDate),
		Date(r.LoadDate),
		r.Archived,
	}
}

// Product is the aggregate row of stock_prices.xml.
type Product struct {
	ProductID     string
	Price         decimal.Decimal
	TotalQuantity decimal.Decimal
}

func (p Product) Key() string { return p.ProductID }

func (p Product) Values() []any {
	return []any{p.ProductID, Numeric(p.Price), Numeric(p.TotalQuantity)}
}

// StockItem is a per-warehouse quantity nested under a Product.
type StockItem struct {
	ProductID string
	StockID   string
	Quantity  decimal.Decimal
}

func (s StockItem) Key() string { return s.ProductID + "|" + s.StockID }

func (s StockItem) Values() []any {
	return []any{s.ProductID, s.StockID, Numeric(s.Quantity)}
}

// Numeric converts a decimal into the pgx numeric representation used by COPY.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// Date converts an optional calendar date into a pgx date; nil becomes NULL.
func Date(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

// Values flattens rows into the [][]any shape consumed by COPY.
func Values[R Row](rows []R) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}
