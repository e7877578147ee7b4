package schema

import "fmt"

// CannotCoerceColumnError is raised when an observed value's data type
// conflicts with a column's already-established data type. It is a
// terminal schema error: once a column is introduced at a data type, that
// data type never changes (spec: column monotonicity).
type CannotCoerceColumnError struct {
	Table    string
	Column   string
	Existing DataType
	New      DataType
}

func (e *CannotCoerceColumnError) Error() string {
	return fmt.Sprintf("cannot coerce column %s.%s: existing type %s, new value implies %s",
		e.Table, e.Column, e.Existing, e.New)
}

// HintsOnExistingColumnError is raised when a caller attempts to attach
// hint flags to a column that already exists in the schema. Per spec, hint
// flags are only honored at table/column creation time; a later attempt is
// silently dropped by UpdateTable, not an error by itself. No code in this
// module returns this type; internal/loadjob reports the destination-side
// case (a hinted column added to an existing table) with its own
// SchemaWillNotUpdateError.
type HintsOnExistingColumnError struct {
	Table  string
	Column string
}

func (e *HintsOnExistingColumnError) Error() string {
	return fmt.Sprintf("cannot add hints to existing column %s.%s: hints are only honored at creation", e.Table, e.Column)
}

// InvalidParentError is raised when a table declares a parent that is not a
// known root table in the schema.
type InvalidParentError struct {
	Table  string
	Parent string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("table %s declares unknown parent %s", e.Table, e.Parent)
}
