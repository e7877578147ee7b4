package loadjob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ingestpipe/internal/schema"
)

// ledgerTable is the warehouse-side bookkeeping table recording every
// completed load package and the schema version it shipped, mirroring
// dlt's own "_dlt_loads"/"_dlt_version" side tables. It gives
// UpdateStorageSchema somewhere to check for drift between runs and gives
// StartFileLoad an explicit existence check instead of pattern-matching a
// generic driver error (spec §9's "BadRequest vs already exists" Open
// Question).
const ledgerTable = "_ingestpipe_loads"

// dispositionTable records each table's write disposition as of its
// creation, since hints and dispositions alike are only ever decided at
// CREATE TABLE time; StartFileLoad consults it on every call because the
// Client interface gives it no schema parameter to read one from directly.
const dispositionTable = "_ingestpipe_table_dispositions"

// stagingLedgerTable tracks every staging table a replace-disposition load
// created for a given load package, so CompleteLoad can swap each one into
// its target without having to reverse-engineer table names out of
// information_schema.
const stagingLedgerTable = "_ingestpipe_staging_tables"

// ledger wraps the job-ledger side table's DDL and bookkeeping queries.
type ledger struct {
	db      *sql.DB
	dialect Dialect
}

func newLedger(db *sql.DB, d Dialect) *ledger {
	return &ledger{db: db, dialect: d}
}

func (l *ledger) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  load_id VARCHAR(128) NOT NULL,
  job_id VARCHAR(255) NOT NULL,
  schema_name VARCHAR(255) NOT NULL,
  schema_version BIGINT NOT NULL,
  status VARCHAR(32) NOT NULL,
  inserted_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  PRIMARY KEY (job_id)
);`, l.dialect.QuoteIdentifier(ledgerTable))
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return &TransientError{Op: "ensure ledger table", Err: err}
	}

	dispStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name VARCHAR(255) NOT NULL,
  disposition VARCHAR(32) NOT NULL,
  PRIMARY KEY (table_name)
);`, l.dialect.QuoteIdentifier(dispositionTable))
	if _, err := l.db.ExecContext(ctx, dispStmt); err != nil {
		return &TransientError{Op: "ensure disposition table", Err: err}
	}

	stagingStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  load_id VARCHAR(128) NOT NULL,
  staging_table VARCHAR(255) NOT NULL,
  target_table VARCHAR(255) NOT NULL,
  PRIMARY KEY (staging_table)
);`, l.dialect.QuoteIdentifier(stagingLedgerTable))
	if _, err := l.db.ExecContext(ctx, stagingStmt); err != nil {
		return &TransientError{Op: "ensure staging ledger table", Err: err}
	}
	return nil
}

// recordDisposition durably records the write disposition a newly created
// table was materialized with.
func (l *ledger) recordDisposition(ctx context.Context, table string, disposition schema.WriteDisposition) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (table_name, disposition) VALUES (?, ?) ON DUPLICATE KEY UPDATE disposition = VALUES(disposition)",
		l.dialect.QuoteIdentifier(dispositionTable),
	)
	if _, err := l.db.ExecContext(ctx, stmt, table, string(disposition)); err != nil {
		return &TransientError{Op: "record disposition", Err: err}
	}
	return nil
}

// disposition returns table's recorded write disposition, defaulting to
// DispositionAppend when no row exists yet (matching
// Table.EffectiveDisposition's own append fallback).
func (l *ledger) disposition(ctx context.Context, table string) (schema.WriteDisposition, error) {
	row := l.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT disposition FROM %s WHERE table_name = ?", l.dialect.QuoteIdentifier(dispositionTable)),
		table,
	)
	var d string
	switch err := row.Scan(&d); {
	case err == nil:
		return schema.WriteDisposition(d), nil
	case errors.Is(err, sql.ErrNoRows):
		return schema.DispositionAppend, nil
	default:
		return "", &TransientError{Op: "disposition lookup", Err: err}
	}
}

// stagingEntry names one staging table a replace load created and the live
// table it is destined to swap into.
type stagingEntry struct {
	staging string
	target  string
}

// recordStaging records that staging was created to replace-load into
// target as part of loadID, so CompleteLoad can find it again later.
func (l *ledger) recordStaging(ctx context.Context, loadID, staging, target string) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (load_id, staging_table, target_table) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE target_table = VALUES(target_table)",
		l.dialect.QuoteIdentifier(stagingLedgerTable),
	)
	if _, err := l.db.ExecContext(ctx, stmt, loadID, staging, target); err != nil {
		return &TransientError{Op: "record staging table", Err: err}
	}
	return nil
}

// stagingTablesForLoad returns every staging table recorded against loadID.
func (l *ledger) stagingTablesForLoad(ctx context.Context, loadID string) ([]stagingEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT staging_table, target_table FROM %s WHERE load_id = ?", l.dialect.QuoteIdentifier(stagingLedgerTable)),
		loadID,
	)
	if err != nil {
		return nil, &TransientError{Op: "list staging tables", Err: err}
	}
	defer rows.Close()

	var entries []stagingEntry
	for rows.Next() {
		var e stagingEntry
		if err := rows.Scan(&e.staging, &e.target); err != nil {
			return nil, &TransientError{Op: "scan staging table", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "iterate staging tables", Err: err}
	}
	return entries, nil
}

// deleteStaging removes staging's ledger row once it has been swapped into
// place (or dropped outright).
func (l *ledger) deleteStaging(ctx context.Context, staging string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE staging_table = ?", l.dialect.QuoteIdentifier(stagingLedgerTable))
	if _, err := l.db.ExecContext(ctx, stmt, staging); err != nil {
		return &TransientError{Op: "delete staging ledger row", Err: err}
	}
	return nil
}

// jobExists reports whether jobID already has a completed or started row in
// the ledger, letting StartFileLoad rebind instead of re-inserting.
func (l *ledger) jobExists(ctx context.Context, jobID string) (bool, error) {
	row := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE job_id = ?", l.dialect.QuoteIdentifier(ledgerTable)), jobID)
	var one int
	err := row.Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, &TransientError{Op: "ledger lookup", Err: err}
	}
}

func (l *ledger) recordJob(ctx context.Context, loadID, jobID, schemaName string, schemaVersion int, status string) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (load_id, job_id, schema_name, schema_version, status) VALUES (?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE status = VALUES(status)",
		l.dialect.QuoteIdentifier(ledgerTable),
	)
	if _, err := l.db.ExecContext(ctx, stmt, loadID, jobID, schemaName, schemaVersion, status); err != nil {
		return &TransientError{Op: "ledger insert", Err: err}
	}
	return nil
}

// latestSchemaVersion returns the highest schema_version recorded for
// schemaName, or 0 if the schema has never shipped a load.
func (l *ledger) latestSchemaVersion(ctx context.Context, schemaName string) (int, error) {
	row := l.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(schema_version), 0) FROM %s WHERE schema_name = ?", l.dialect.QuoteIdentifier(ledgerTable)),
		schemaName,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, &TransientError{Op: "ledger version lookup", Err: err}
	}
	return version, nil
}
