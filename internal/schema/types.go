// Package schema contains the single source of truth for a pipeline's
// destination schema: tables, columns, hints, and the versioning and
// inference rules that let the schema evolve as records flow through the
// pipeline.
package schema

import "fmt"

// DataType is an ENUM with all possible column data types. Once a column is
// introduced at a data type in some schema version, that data type never
// changes in any later version (see Schema.UpdateTable).
type DataType string

const (
	TypeText      DataType = "text"
	TypeDouble    DataType = "double"
	TypeBool      DataType = "bool"
	TypeTimestamp DataType = "timestamp"
	TypeBigInt    DataType = "bigint"
	TypeBinary    DataType = "binary"
	TypeComplex   DataType = "complex"
	TypeDecimal   DataType = "decimal"
	TypeWei       DataType = "wei"
)

// AllDataTypes returns every recognized DataType value, in declaration order.
func AllDataTypes() []DataType {
	return []DataType{
		TypeText, TypeDouble, TypeBool, TypeTimestamp,
		TypeBigInt, TypeBinary, TypeComplex, TypeDecimal, TypeWei,
	}
}

// ValidDataType reports whether t is a recognized data type.
func ValidDataType(t DataType) bool {
	for _, dt := range AllDataTypes() {
		if dt == t {
			return true
		}
	}
	return false
}

// WriteDisposition is the per-table instruction telling a job client how to
// reconcile loaded rows with existing destination rows.
type WriteDisposition string

const (
	DispositionAppend  WriteDisposition = "append"
	DispositionReplace WriteDisposition = "replace"
	DispositionSkip    WriteDisposition = "skip"
	DispositionMerge   WriteDisposition = "merge"
	DispositionUpsert  WriteDisposition = "upsert"
)

// MandatoryDispositions are the write dispositions every job client must
// support; the rest are optional and may be rejected with
// UnsupportedWriteDispositionError.
func MandatoryDispositions() []WriteDisposition {
	return []WriteDisposition{DispositionAppend, DispositionReplace}
}

// System columns synthesized by the normalizer on every row it emits.
const (
	ColumnDltID       = "_dlt_id"
	ColumnDltParentID = "_dlt_parent_id"
	ColumnDltListIdx  = "_dlt_list_idx"
)

// Hints are non-type column properties that guide physical layout at the
// destination. Hints default to false and, per spec, are only ever honored
// at table-creation time; later attempts to add them to an existing column
// are silently dropped by UpdateTable.
type Hints struct {
	Partition  bool `yaml:"partition,omitempty"`
	Cluster    bool `yaml:"cluster,omitempty"`
	PrimaryKey bool `yaml:"primary_key,omitempty"`
	ForeignKey bool `yaml:"foreign_key,omitempty"`
	Sort       bool `yaml:"sort,omitempty"`
	Unique     bool `yaml:"unique,omitempty"`
}

// Any reports whether at least one hint flag is set.
func (h Hints) Any() bool {
	return h.Partition || h.Cluster || h.PrimaryKey || h.ForeignKey || h.Sort || h.Unique
}

// Column represents a single destination column.
type Column struct {
	Name     string   `yaml:"name"`
	DataType DataType `yaml:"data_type"`
	Nullable bool     `yaml:"nullable"`
	Hints    Hints    `yaml:",inline"`
}

// Filters restrict which flattened column paths are materialized on a
// table. Excludes are applied before includes; with neither set, every
// path is kept.
type Filters struct {
	Includes []string `yaml:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
}

// Table is a named, ordered collection of columns plus the per-table
// dispositions and hints that apply to it.
type Table struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description,omitempty"`
	Parent           string           `yaml:"parent,omitempty"`
	WriteDisposition WriteDisposition `yaml:"write_disposition,omitempty"`
	Filters          *Filters         `yaml:"filters,omitempty"`

	columnNames []string
	columns     map[string]*Column
}

// IsRoot reports whether t was declared directly (not created by nested
// record unwinding).
func (t *Table) IsRoot() bool { return t.Parent == "" }

// Columns returns the table's columns in declaration order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, 0, len(t.columnNames))
	for _, name := range t.columnNames {
		out = append(out, t.columns[name])
	}
	return out
}

// Column looks up a column by name, returning nil if absent.
func (t *Table) Column(name string) *Column {
	if t.columns == nil {
		return nil
	}
	return t.columns[name]
}

func (t *Table) addColumn(c *Column) {
	if t.columns == nil {
		t.columns = make(map[string]*Column)
	}
	if _, exists := t.columns[c.Name]; !exists {
		t.columnNames = append(t.columnNames, c.Name)
	}
	t.columns[c.Name] = c
}

// EffectiveDisposition returns the table's write disposition, falling back
// to DispositionAppend when unset (a child table with no explicit
// disposition inherits its root's, handled by Schema.resolveDisposition).
func (t *Table) EffectiveDisposition() WriteDisposition {
	if t.WriteDisposition == "" {
		return DispositionAppend
	}
	return t.WriteDisposition
}

// String implements fmt.Stringer for debugging and log lines.
func (t *Table) String() string {
	return fmt.Sprintf("Table: %s (%d columns)", t.Name, len(t.columnNames))
}

// Settings holds schema-wide configuration consulted during inference.
type Settings struct {
	// DefaultHints maps a hint name to the list of "re:"-prefixed regexes
	// whose matching column paths should receive that hint at creation.
	DefaultHints map[string][]string `yaml:"default_hints,omitempty"`
	// PreferredTypes maps a "re:"-prefixed regex over the fully-qualified
	// column path to the data type that should be inferred when it matches,
	// evaluated in the order PreferredTypeOrder lists the patterns.
	PreferredTypes map[string]DataType `yaml:"preferred_types,omitempty"`
	// PreferredTypeOrder fixes evaluation order for PreferredTypes, since Go
	// map iteration order is not stable.
	PreferredTypeOrder []string `yaml:"-"`
	SchemaSealed       bool     `yaml:"schema_sealed,omitempty"`
}
