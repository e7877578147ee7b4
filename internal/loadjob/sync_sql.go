package loadjob

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"

	"ingestpipe/internal/normalize"
	"ingestpipe/internal/schema"
	"ingestpipe/internal/storage"
)

// connectMaxElapsed bounds how long NewSyncSQLJobClient retries a transient
// dial/ping failure before giving up, per spec §5's "transient errors retry
// with a deadline" rule.
const connectMaxElapsed = 30 * time.Second

// SyncSQLJobClient is the family-b backend of spec §4.4: every file loads
// fully inside start_file_load within a single transaction, so the job it
// returns always reports StatusCompleted — there is no server-side polling
// state to restore, only the ledger row left behind by a prior attempt.
type SyncSQLJobClient struct {
	db      *sql.DB
	dialect Dialect
	fs      afero.Fs
	ledger  *ledger
	ddl     *ddlAnalyzer

	// schemaName identifies this pipeline's destination namespace; it is
	// recorded as schema_name on the ledger row of every loaded job.
	schemaName string
}

// NewSyncSQLJobClient opens a MySQL-family connection at dsn for schemaName,
// backed by fs for reading staged load files.
func NewSyncSQLJobClient(ctx context.Context, dsn, schemaName string, fs afero.Fs) (*SyncSQLJobClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("loadjob: open dsn: %w", err)
	}

	bo := backoff.WithContext(backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), connectMaxElapsed), ctx)
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, bo); err != nil {
		_ = db.Close()
		return nil, &TransientError{Op: "connect", Err: err}
	}
	return &SyncSQLJobClient{
		db:         db,
		dialect:    MySQL,
		fs:         fs,
		ledger:     newLedger(db, MySQL),
		ddl:        newDDLAnalyzer(),
		schemaName: schemaName,
	}, nil
}

// Close releases the underlying connection pool.
func (c *SyncSQLJobClient) Close() error {
	return c.db.Close()
}

func (c *SyncSQLJobClient) Capabilities() Capabilities {
	return Capabilities{
		PreferredFileFormat: storage.ExtInsertValues,
		MaxIdentifierLength: 64,
	}
}

// InitializeStorage idempotently ensures the job ledger side table exists.
// The destination database itself is assumed to already exist (creating a
// MySQL database is an operator/DSN-level concern, not something this
// client does on a caller's behalf).
func (c *SyncSQLJobClient) InitializeStorage(ctx context.Context) error {
	return c.ledger.ensureTable(ctx)
}

// UpdateStorageSchema reconciles s against the live database: a missing
// table is created with its hints materialized; an existing table gets
// ALTER TABLE ADD COLUMN for any column present only in s. A hinted column
// on an already-existing table is rejected with *SchemaWillNotUpdateError.
func (c *SyncSQLJobClient) UpdateStorageSchema(ctx context.Context, s *schema.Schema) error {
	caps := c.Capabilities()
	for _, t := range s.Tables() {
		disposition := s.Disposition(t)
		if !caps.SupportsDisposition(disposition) {
			return &UnsupportedWriteDispositionError{Table: t.Name, Disposition: disposition}
		}

		exists, cols, err := c.remoteColumns(ctx, t.Name)
		if err != nil {
			return err
		}

		if !exists {
			stmt := c.dialect.CreateTable(t)
			if err := c.ddl.checkCreateOrAlter(firstStatement(stmt)); err != nil {
				return err
			}
			if _, err := c.db.ExecContext(ctx, firstStatement(stmt)); err != nil {
				return &TerminalError{Op: "create table", Err: fmt.Errorf("%s: %w", t.Name, err)}
			}
			if err := c.ledger.recordDisposition(ctx, t.Name, disposition); err != nil {
				return err
			}
			continue
		}

		for _, col := range t.Columns() {
			if _, known := cols[col.Name]; known {
				continue
			}
			if col.Hints.Any() {
				return &SchemaWillNotUpdateError{Table: t.Name, Column: col.Name}
			}
			stmt := c.dialect.AddColumn(t.Name, col)
			if err := c.ddl.checkCreateOrAlter(stmt); err != nil {
				return err
			}
			if _, err := c.db.ExecContext(ctx, stmt); err != nil {
				return &TerminalError{Op: "add column", Err: fmt.Errorf("%s.%s: %w", t.Name, col.Name, err)}
			}
		}
	}

	return c.ledger.recordJob(ctx, "", "schema:"+s.Name, s.Name, s.Version, "schema_update")
}

// remoteColumns queries information_schema for table's existing columns.
func (c *SyncSQLJobClient) remoteColumns(ctx context.Context, table string) (bool, map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?",
		table,
	)
	if err != nil {
		return false, nil, &TransientError{Op: "introspect columns", Err: err}
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, nil, &TransientError{Op: "scan column", Err: err}
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return false, nil, &TransientError{Op: "iterate columns", Err: err}
	}
	return len(cols) > 0, cols, nil
}

// remoteTimestampColumns returns the set of table's columns backed by a
// TIMESTAMP/DATETIME MySQL type, used by execJSONL to recognize which bound
// values need epoch-to-datetime conversion.
func (c *SyncSQLJobClient) remoteTimestampColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND data_type IN ('timestamp', 'datetime')",
		table,
	)
	if err != nil {
		return nil, &TransientError{Op: "introspect timestamp columns", Err: err}
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &TransientError{Op: "scan timestamp column", Err: err}
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "iterate timestamp columns", Err: err}
	}
	return cols, nil
}

// StartFileLoad loads file into table within one transaction. If a ledger
// row already exists for the job's canonicalized ID, it rebinds to the
// prior attempt instead of re-running the insert (spec §4.4's idempotent
// start semantics; spec §9's explicit pre-check resolution, rather than
// pattern-matching a generic "already exists" driver error).
//
// A replace-disposition table never has its rows inserted directly: every
// file in the load package accumulates into a shared per-package staging
// table instead (created as a structural copy of the live table on first
// use), and CompleteLoad swaps that staging table into place exactly once,
// after every file in the package has loaded successfully. This keeps a
// crash mid-package from truncating live data that was never fully
// replaced.
func (c *SyncSQLJobClient) StartFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error) {
	jobID := canonicalJobID(table, file)

	exists, err := c.ledger.jobExists(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &completedJob{id: jobID}, nil
	}

	if file.Ext != storage.ExtInsertValues && file.Ext != storage.ExtJSONL {
		return nil, &UnsupportedFileFormatError{Ext: file.Ext}
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, &TransientError{Op: "read staged file", Err: err}
	}

	disposition, err := c.ledger.disposition(ctx, table)
	if err != nil {
		return nil, err
	}

	target := table
	if disposition == schema.DispositionReplace {
		staging := stagingTableName(file.LoadID, table, c.Capabilities().MaxIdentifierLength)
		if err := ensureStagingTable(ctx, c.db, c.dialect, table, staging); err != nil {
			return nil, err
		}
		if err := c.ledger.recordStaging(ctx, file.LoadID, staging, table); err != nil {
			return nil, err
		}
		if file.Ext == storage.ExtInsertValues {
			data = rewriteInsertTarget(data, c.dialect, table, staging)
		}
		target = staging
	}

	var tsCols map[string]struct{}
	if file.Ext == storage.ExtJSONL {
		tsCols, err = c.remoteTimestampColumns(ctx, target)
		if err != nil {
			return nil, err
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TransientError{Op: "begin transaction", Err: err}
	}

	var loadErr error
	switch file.Ext {
	case storage.ExtInsertValues:
		loadErr = execInsertValues(ctx, tx, data)
	case storage.ExtJSONL:
		loadErr = execJSONL(ctx, tx, c.dialect, target, tsCols, data)
	}

	if loadErr != nil {
		_ = tx.Rollback()
		return nil, classifyDriverError("start file load", table, loadErr)
	}

	if err := tx.Commit(); err != nil {
		return nil, &TransientError{Op: "commit", Err: err}
	}

	if err := c.ledger.recordJob(ctx, file.LoadID, jobID, c.schemaName, 0, string(StatusCompleted)); err != nil {
		return nil, err
	}

	return &completedJob{id: jobID}, nil
}

// RestoreFileLoad always returns a synthetic completed job for this family:
// a crash after StartFileLoad began either committed (the desired outcome)
// or was rolled back by the server, so the file itself is the source of
// truth and is not replayed for append dispositions.
func (c *SyncSQLJobClient) RestoreFileLoad(ctx context.Context, table string, file storage.FileName, path string) (Job, error) {
	return &completedJob{id: canonicalJobID(table, file)}, nil
}

// CompleteLoad swaps every staging table this load package created for a
// replace-disposition table into place, then drops the ledger rows that
// tracked them. It runs once per package, after every file in it has
// already committed, so a replace table's live rows are only ever
// discarded once the new data has fully and successfully loaded.
func (c *SyncSQLJobClient) CompleteLoad(ctx context.Context, loadID string) error {
	entries, err := c.ledger.stagingTablesForLoad(ctx, loadID)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := swapStagingTable(ctx, c.db, c.dialect, loadID, e.staging, e.target); err != nil {
			return err
		}
		if err := c.ledger.deleteStaging(ctx, e.staging); err != nil {
			return err
		}
	}
	return nil
}

// completedJob is the always-terminal Job handle StartFileLoad/
// RestoreFileLoad return for the synchronous SQL backend.
type completedJob struct {
	id  string
	err error
}

func (j *completedJob) ID() string { return j.id }

func (j *completedJob) Status(ctx context.Context) (Status, error) {
	if j.err != nil {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

func (j *completedJob) Err() error { return j.err }

// canonicalJobID is the deterministic job identity of spec §4.4:
// "job_id = file_name_canonicalized", derived from the table name and the
// file's stem+ext (the count/load_id segments do not participate, since
// they vary across restarts of a file that did not change content).
func canonicalJobID(table string, file storage.FileName) string {
	return fmt.Sprintf("%s.%s.%s", table, file.Stem, file.Ext)
}

// execInsertValues executes an insert_values file's content verbatim: one
// or more fully-rendered "INSERT INTO ... VALUES ...;" statements produced
// by the normalizer, split on statement-terminating semicolons.
func execInsertValues(ctx context.Context, tx *sql.Tx, data []byte) error {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var stmt strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		stmt.WriteString(line)
		stmt.WriteByte('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if s := strings.TrimSpace(stmt.String()); s != "" {
				if _, err := tx.ExecContext(ctx, s); err != nil {
					return fmt.Errorf("execute insert_values statement: %w", err)
				}
			}
			stmt.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan insert_values file: %w", err)
	}
	if remaining := strings.TrimSpace(stmt.String()); remaining != "" {
		if _, err := tx.ExecContext(ctx, remaining); err != nil {
			return fmt.Errorf("execute trailing insert_values statement: %w", err)
		}
	}
	return nil
}

// execJSONL decodes one order-preserving record per line and inserts it as
// a parameterized statement whose column list is the record's own keys.
// tsCols names every destination column backed by a TIMESTAMP/DATETIME
// type, so a raw numeric value bound against one of them can be converted
// from a Unix epoch into a proper datetime value first.
func execJSONL(ctx context.Context, tx *sql.Tx, d Dialect, table string, tsCols map[string]struct{}, data []byte) error {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := normalize.DecodeOrdered([]byte(line))
		if err != nil {
			return fmt.Errorf("decode jsonl line: %w", err)
		}
		obj, ok := v.(*normalize.Object)
		if !ok {
			return fmt.Errorf("jsonl line did not decode to an object")
		}

		cols := make([]string, 0, len(obj.Pairs))
		placeholders := make([]string, 0, len(obj.Pairs))
		args := make([]any, 0, len(obj.Pairs))
		for _, pair := range obj.Pairs {
			cols = append(cols, d.QuoteIdentifier(pair.Key))
			placeholders = append(placeholders, "?")
			args = append(args, convertLoadValue(pair.Key, pair.Value, tsCols))
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
			d.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert jsonl row: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan jsonl file: %w", err)
	}
	return nil
}

// convertLoadValue reinterprets v for binding against col: a bare numeric
// value destined for a TIMESTAMP/DATETIME column is treated as a Unix
// epoch (seconds) and passed as a time.Time, so the driver binds a proper
// datetime literal instead of a raw integer, which MySQL would otherwise
// read back as a YYYYMMDDHHMMSS literal rather than an epoch.
func convertLoadValue(col string, v any, tsCols map[string]struct{}) any {
	if _, ok := tsCols[col]; !ok {
		return v
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	default:
		return v
	}
}

// firstStatement strips a trailing partition-hint comment line (see
// Dialect.CreateTable) so the DDL analyzer parses exactly one statement.
func firstStatement(stmt string) string {
	if idx := strings.Index(stmt, "\n-- "); idx >= 0 {
		return stmt[:idx]
	}
	return stmt
}

// classifyDriverError maps a raw database/sql/mysql driver error to
// TransientError, TerminalError, or UnknownTableError per spec §5's
// classification table and §4.4's table-absent signal.
func classifyDriverError(op, table string, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1205, 1213, 2002, 2003, 2006, 2013: // lock wait / deadlock / connection errors
			return &TransientError{Op: op, Err: err}
		case 1146: // table doesn't exist
			return &UnknownTableError{Table: table}
		default:
			return &TerminalError{Op: op, Err: err}
		}
	}
	return &TransientError{Op: op, Err: err}
}
