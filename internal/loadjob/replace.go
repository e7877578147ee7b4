package loadjob

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"ingestpipe/internal/schema"
)

// stagingTableName derives the per-package staging table a replace
// disposition load accumulates into: every file in loadID targeting table
// shares the same staging table, truncated to the backend's identifier
// ceiling like any other derived identifier in this package.
func stagingTableName(loadID, table string, maxLen int) string {
	return schema.TruncateIdentifier("_staging_"+loadID+"_"+table, maxLen)
}

// ensureStagingTable idempotently creates staging as an empty structural
// copy of table, so a replace load's rows accumulate somewhere other than
// the live table until the whole package has loaded successfully.
func ensureStagingTable(ctx context.Context, db *sql.DB, d Dialect, table, staging string) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s LIKE %s;", d.QuoteIdentifier(staging), d.QuoteIdentifier(table))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return &TerminalError{Op: "create staging table", Err: fmt.Errorf("%s: %w", staging, err)}
	}
	return nil
}

// swapStagingTable atomically replaces target's contents with staging's via
// MySQL's multi-table RENAME TABLE, then drops the table that held target's
// old rows. RENAME TABLE never runs inside the row-insert transaction: MySQL
// DDL implicitly commits and would break that transaction's atomicity.
func swapStagingTable(ctx context.Context, db *sql.DB, d Dialect, loadID, staging, target string) error {
	displaced := schema.TruncateIdentifier("_replaced_"+loadID+"_"+target, 64)
	swap := fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s;",
		d.QuoteIdentifier(target), d.QuoteIdentifier(displaced),
		d.QuoteIdentifier(staging), d.QuoteIdentifier(target),
	)
	if _, err := db.ExecContext(ctx, swap); err != nil {
		return &TerminalError{Op: "swap staging table", Err: fmt.Errorf("%s -> %s: %w", staging, target, err)}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s;", d.QuoteIdentifier(displaced))); err != nil {
		return &TerminalError{Op: "drop replaced table", Err: fmt.Errorf("%s: %w", displaced, err)}
	}
	return nil
}

// rewriteInsertTarget redirects a pre-rendered insert_values file at a
// staging table: it rewrites every "INSERT INTO <from>" statement header to
// target <to> instead, anchored on the quoted identifier so a coincidental
// occurrence of the original name inside a quoted data value is never
// touched.
func rewriteInsertTarget(data []byte, d Dialect, from, to string) []byte {
	fromClause := []byte("INSERT INTO " + d.QuoteIdentifier(from))
	toClause := []byte("INSERT INTO " + d.QuoteIdentifier(to))
	return bytes.ReplaceAll(data, fromClause, toClause)
}
