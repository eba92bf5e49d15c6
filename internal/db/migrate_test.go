package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func expectLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestMigrate_FreshDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	expectLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS importer_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM importer_schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO importer_schema_migrations").
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AllApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"filename"})
	for _, name := range names {
		rows.AddRow(name)
	}

	expectLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS importer_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM importer_schema_migrations").WillReturnRows(rows)
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_ApplyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)

	expectLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS importer_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM importer_schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE TABLE").WillReturnError(fmt.Errorf("syntax error"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration "+names[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrationLockID).WillReturnError(fmt.Errorf("lock timeout"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin migration tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_CommitError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)
	rows := pgxmock.NewRows([]string{"filename"})
	for _, name := range names {
		rows.AddRow(name)
	}

	expectLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS importer_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM importer_schema_migrations").WillReturnRows(rows)
	mock.ExpectCommit().WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit migrations")
	assert.NoError(t, mock.ExpectationsWereMet())
}
