package normalize

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"ingestpipe/internal/idgen"
	"ingestpipe/internal/schema"
)

// TableRef names the destination table a Row belongs to and, for a child
// table produced by nested-record unwinding, its parent table.
type TableRef struct {
	Table  string
	Parent string
}

// Row is one flattened record's columns, keyed by its normalized column
// path (system columns included).
type Row map[string]any

// Normalizer flattens Value trees against a Schema, evolving the schema as
// previously unseen columns are observed.
type Normalizer struct {
	Schema *schema.Schema
	Rules  *schema.InferenceRules

	// MaxIdentifierLen truncates flattened column names with a
	// deterministic suffix hash on overflow; 0 disables truncation. Table
	// names are not truncated.
	MaxIdentifierLen int

	// NewID generates the _dlt_id assigned to every emitted row, overridable
	// in tests for deterministic output.
	NewID func() string
}

// New builds a Normalizer bound to s, deriving inference rules from its
// Settings and defaulting identifiers to a 64-byte limit (the MySQL-family
// warehouse backend's column name ceiling).
func New(s *schema.Schema) *Normalizer {
	return &Normalizer{
		Schema:           s,
		Rules:            schema.NewInferenceRules(s.Settings),
		MaxIdentifierLen: 64,
		NewID:            idgen.NewRecordID,
	}
}

type emitted struct {
	ref TableRef
	row Row
}

type walker struct {
	n      *Normalizer
	rows   []emitted
	update schema.TSchemaUpdate
}

// Normalize flattens record, rooted at rootTable, into a finite sequence of
// (TableRef, Row) pairs plus the schema columns newly observed along the
// way. A top-level value that is not an object is wrapped as
// {"value": record} before the walk begins, per the normalizer's contract
// for non-mapping inputs.
func (n *Normalizer) Normalize(ctx context.Context, rootTable string, record Value) (iter.Seq2[TableRef, Row], schema.TSchemaUpdate, error) {
	obj, ok := record.(*Object)
	if !ok {
		obj = NewObject(Pair{Key: "value", Value: record})
	}

	w := &walker{n: n, update: schema.TSchemaUpdate{}}
	if _, err := w.flattenRow(ctx, rootTable, "", "", nil, obj); err != nil {
		return nil, nil, err
	}

	seq := func(yield func(TableRef, Row) bool) {
		for _, e := range w.rows {
			if !yield(e.ref, e.row) {
				return
			}
		}
	}
	if len(w.update) == 0 {
		return seq, nil, nil
	}
	return seq, w.update, nil
}

// flattenRow emits one row for tableName (optionally a child of
// parentTable/parentID, optionally list-indexed) and returns its _dlt_id
// for use by a further-nested child table.
func (w *walker) flattenRow(ctx context.Context, tableName, parentTable, parentID string, listIdx *int, obj *Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}

	id := w.n.NewID()
	row := Row{schema.ColumnDltID: id}
	cols := []*schema.Column{{Name: schema.ColumnDltID, DataType: schema.TypeText}}

	if parentTable != "" {
		row[schema.ColumnDltParentID] = parentID
		cols = append(cols, &schema.Column{Name: schema.ColumnDltParentID, DataType: schema.TypeText})
	}
	if listIdx != nil {
		row[schema.ColumnDltListIdx] = int64(*listIdx)
		cols = append(cols, &schema.Column{Name: schema.ColumnDltListIdx, DataType: schema.TypeBigInt})
	}

	// The row is appended before descending into nested lists so a parent is
	// always emitted ahead of its children; row is a map, so walkFields'
	// further writes to it below remain visible through this same reference.
	w.rows = append(w.rows, emitted{ref: TableRef{Table: tableName, Parent: parentTable}, row: row})

	if err := w.walkFields(ctx, tableName, nil, id, row, &cols, obj); err != nil {
		return "", err
	}

	update, err := w.n.Schema.UpdateTable(schema.TableUpdate{
		Name:    tableName,
		Parent:  parentTable,
		Columns: cols,
	})
	if err != nil {
		return "", err
	}
	w.update = w.update.Merge(update)
	return id, nil
}

// walkFields flattens obj's key/value pairs into row/cols. A nested mapping
// recurses into the same row with its key prefixed onto path. A list value
// synthesizes a child table named "<tableName>__<path>"; list elements that
// are themselves mappings recurse as child rows, scalar elements become a
// child row whose only payload column is "value".
func (w *walker) walkFields(ctx context.Context, tableName string, prefix []string, rowID string, row Row, cols *[]*schema.Column, obj *Object) error {
	for _, pair := range obj.Pairs {
		path := append(append([]string{}, prefix...), pair.Key)

		switch v := pair.Value.(type) {
		case *Object:
			if err := w.walkFields(ctx, tableName, path, rowID, row, cols, v); err != nil {
				return err
			}
		case []Value:
			childTable := schema.NormalizeName(tableName + "__" + strings.Join(path, "__"))
			if err := w.walkList(ctx, tableName, childTable, rowID, v); err != nil {
				return err
			}
		default:
			joined := strings.Join(path, "__")
			if tbl := w.n.Schema.Table(tableName); tbl != nil && !tbl.FilterRow(joined) {
				continue
			}
			colName := schema.TruncateIdentifier(joined, w.n.MaxIdentifierLen)
			row[colName] = v
			*cols = append(*cols, &schema.Column{
				Name:     colName,
				DataType: w.n.Rules.InferColumnType(joined, v),
				Nullable: v == nil,
				Hints:    w.n.Rules.ResolveHints(joined),
			})
		}
	}
	return nil
}

// walkList emits one child row per element of list, positionally indexed.
func (w *walker) walkList(ctx context.Context, parentTable, childTable, parentID string, list []Value) error {
	for idx, item := range list {
		i := idx
		obj, ok := item.(*Object)
		if !ok {
			obj = NewObject(Pair{Key: "value", Value: item})
		}
		if _, err := w.flattenRow(ctx, childTable, parentTable, parentID, &i, obj); err != nil {
			return err
		}
	}
	return nil
}
