package loadjob

import (
	"fmt"
	"strings"

	"ingestpipe/internal/schema"
)

// Dialect is the small, backend-specific value a SyncSQLJobClient is built
// with: identifier/string quoting, the DataType-to-column-type mapping, and
// the DDL fragment each hint contributes at table creation.
type Dialect struct {
	Name string
}

// MySQL is the reference dialect: the only warehouse SQL family this module
// generates concretely, per spec §1's scope boundary.
var MySQL = Dialect{Name: "mysql"}

// QuoteIdentifier backtick-quotes name, doubling any embedded backtick.
func (d Dialect) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "`", "``")
	return "`" + name + "`"
}

// QuoteString single-quotes value for inline use in generated SQL,
// escaping the characters MySQL treats specially in a quoted literal.
func (d Dialect) QuoteString(value string) string {
	var b strings.Builder
	b.Grow(len(value) + len(value)/10 + 2)

	b.WriteByte('\'')
	for _, char := range value {
		switch char {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		case '\x00':
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\x1A':
			b.WriteString(`\Z`)
		default:
			b.WriteRune(char)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// ColumnType maps a schema.DataType to the MySQL column type used in a
// CREATE/ALTER TABLE statement. wei (|v| >= 2^64) needs more precision than
// BIGINT offers, so it is stored as a DECIMAL wide enough for a uint256.
func (d Dialect) ColumnType(t schema.DataType) string {
	switch t {
	case schema.TypeText:
		return "TEXT"
	case schema.TypeDouble:
		return "DOUBLE"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP(6)"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeBinary:
		return "VARBINARY(65535)"
	case schema.TypeComplex:
		return "JSON"
	case schema.TypeDecimal:
		return "DECIMAL(38,9)"
	case schema.TypeWei:
		return "DECIMAL(78,0)"
	default:
		return "TEXT"
	}
}

// ColumnDefinition renders one CREATE TABLE column line for c.
func (d Dialect) ColumnDefinition(c *schema.Column) string {
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	line := fmt.Sprintf("%s %s %s", d.QuoteIdentifier(c.Name), d.ColumnType(c.DataType), null)
	if c.Hints.PrimaryKey {
		line += " PRIMARY KEY"
	}
	if c.Hints.Unique {
		line += " UNIQUE"
	}
	return line
}

// HintClauses returns the table-level DDL fragments (partitioning,
// clustering, index/key definitions) a table's hinted columns contribute,
// emitted only at CREATE TABLE time.
func (d Dialect) HintClauses(t *schema.Table) []string {
	var clauses []string
	var sortCols, clusterCols []string
	for _, c := range t.Columns() {
		if c.Hints.Sort {
			sortCols = append(sortCols, d.QuoteIdentifier(c.Name))
		}
		if c.Hints.Cluster {
			clusterCols = append(clusterCols, d.QuoteIdentifier(c.Name))
		}
		if c.Hints.ForeignKey {
			clauses = append(clauses, fmt.Sprintf("KEY (%s)", d.QuoteIdentifier(c.Name)))
		}
	}
	if len(sortCols) > 0 {
		clauses = append(clauses, fmt.Sprintf("KEY %s (%s)", d.QuoteIdentifier(t.Name+"_sort_idx"), strings.Join(sortCols, ", ")))
	}
	if len(clusterCols) > 0 {
		clauses = append(clauses, fmt.Sprintf("KEY %s (%s)", d.QuoteIdentifier(t.Name+"_cluster_idx"), strings.Join(clusterCols, ", ")))
	}
	return clauses
}

// partitionColumns returns the names of columns hinted as the partitioning
// key, in declaration order.
func (d Dialect) partitionColumns(t *schema.Table) []string {
	var cols []string
	for _, c := range t.Columns() {
		if c.Hints.Partition {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// CreateTable renders a full CREATE TABLE statement for t, including any
// hint-derived key clauses. A partition hint is reported as a trailing
// comment rather than a PARTITION BY clause: the concrete partitioning
// scheme (RANGE/HASH/LIST, and over what expression) is a deployment
// decision this dialect does not make on the table's behalf.
func (d Dialect) CreateTable(t *schema.Table) string {
	lines := make([]string, 0, len(t.Columns())+2)
	for _, c := range t.Columns() {
		lines = append(lines, "  "+d.ColumnDefinition(c))
	}
	for _, clause := range d.HintClauses(t) {
		lines = append(lines, "  "+clause)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n);", d.QuoteIdentifier(t.Name), strings.Join(lines, ",\n"))
	if cols := d.partitionColumns(t); len(cols) > 0 {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = d.QuoteIdentifier(c)
		}
		stmt += fmt.Sprintf("\n-- partition hint on %s: choose a PARTITION BY scheme for this deployment", strings.Join(quoted, ", "))
	}
	return stmt
}

// AddColumn renders an ALTER TABLE ... ADD COLUMN statement for adding c to
// an existing table.
func (d Dialect) AddColumn(table string, c *schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", d.QuoteIdentifier(table), d.ColumnDefinition(c))
}
