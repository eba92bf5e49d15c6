// Package db provides shared database helpers: the pool abstraction, batched
// COPY into staging tables and schema migrations.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// DefaultBatchSize bounds the number of rows sent per COPY statement.
const DefaultBatchSize = 10000

// Copier is anything that can COPY rows, typically a pgx.Tx or a Pool.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyBatches bulk-loads rows into table in chunks of batchSize rows, one COPY
// per chunk. It returns the total number of rows copied.
func CopyBatches(ctx context.Context, c Copier, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ident := Identifier(table)
	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		n, err := c.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows[start:end]))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s (rows %d-%d)", table, start, end-1)
		}
		total += n
	}
	return total, nil
}

// Identifier handles schema-qualified table names like "public.warehouses".
func Identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}
