package schema

// TableUpdate is a partial table definition merged into a Schema by
// UpdateTable: at minimum a table name, optionally a parent, disposition,
// filters, and any newly observed columns.
type TableUpdate struct {
	Name             string
	Parent           string
	WriteDisposition WriteDisposition
	Filters          *Filters
	Columns          []*Column
}

// TSchemaUpdate is the set of column additions discovered across one
// normalizer pass, keyed by normalized table name. It is what gets
// persisted as a Load package's schema_updates.json sentinel and consumed
// exactly once by a JobClient's UpdateStorageSchema.
type TSchemaUpdate map[string][]*Column

// Merge folds other into u, used to accumulate updates across multiple
// records normalized into the same in-memory Schema.
func (u TSchemaUpdate) Merge(other TSchemaUpdate) TSchemaUpdate {
	if u == nil {
		u = make(TSchemaUpdate)
	}
	for table, cols := range other {
		existing := make(map[string]bool, len(u[table]))
		for _, c := range u[table] {
			existing[c.Name] = true
		}
		for _, c := range cols {
			if !existing[c.Name] {
				u[table] = append(u[table], c)
				existing[c.Name] = true
			}
		}
	}
	return u
}

// UpdateTable merges a partial table definition into the schema:
//   - unknown table name -> table is created (root if Parent == "", else a
//     child of the named root, which must already exist)
//   - unknown column -> appended, hints honored since the table/column is
//     being created or extended for the first time
//   - known column with a different DataType -> *CannotCoerceColumnError
//   - known column with a strictly weaker Nullable (false -> true) -> accepted
//   - known column whose hints differ from the stored column -> silently
//     dropped (hints are only honored at creation)
//
// Returns the TSchemaUpdate describing which columns were newly added, for
// the caller to persist and later hand to a JobClient.
func (s *Schema) UpdateTable(u TableUpdate) (TSchemaUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := NormalizeName(u.Name)
	parent := NormalizeName(u.Parent)
	if parent != "" {
		if _, ok := s.tables[parent]; !ok {
			return nil, &InvalidParentError{Table: name, Parent: parent}
		}
	}

	t, existed := s.tables[name]
	if !existed {
		t = &Table{Name: name, Parent: parent}
		s.tables[name] = t
		s.tableNames = append(s.tableNames, name)
	}
	if t.Parent == "" && parent != "" {
		t.Parent = parent
	}
	if u.WriteDisposition != "" {
		t.WriteDisposition = u.WriteDisposition
	}
	if u.Filters != nil {
		t.Filters = u.Filters
	}

	var added []*Column
	for _, newCol := range u.Columns {
		existing := t.Column(newCol.Name)
		if existing == nil {
			cp := *newCol
			t.addColumn(&cp)
			added = append(added, &cp)
			continue
		}

		if existing.DataType != newCol.DataType {
			return nil, &CannotCoerceColumnError{
				Table: name, Column: newCol.Name,
				Existing: existing.DataType, New: newCol.DataType,
			}
		}
		if newCol.Nullable && !existing.Nullable {
			existing.Nullable = true
		}
		// Hint changes on an existing column are silently dropped.
	}

	if !existed || len(added) > 0 {
		s.markMutated()
	}

	if len(added) == 0 {
		return nil, nil
	}
	return TSchemaUpdate{name: added}, nil
}

// FilterRow reports whether the flattened column path should be kept on
// table, applying excludes first then includes. With no filters configured,
// every path is kept.
func (t *Table) FilterRow(path string) bool {
	if t.Filters == nil {
		return true
	}
	for _, pattern := range t.Filters.Excludes {
		if matchFilterRegex(pattern, path) {
			return false
		}
	}
	if len(t.Filters.Includes) == 0 {
		return true
	}
	for _, pattern := range t.Filters.Includes {
		if matchFilterRegex(pattern, path) {
			return true
		}
	}
	return false
}
