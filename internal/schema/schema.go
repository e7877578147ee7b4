package schema

import "sync"

// EngineVersion is bumped only when the on-disk schema format itself
// changes, independent of the per-schema Version counter.
const EngineVersion = 1

// Schema is a named, versioned collection of table definitions plus
// settings. A Schema loaded for a load package is immutable for the
// lifetime of that load (callers must not mutate a Schema obtained from a
// frozen package snapshot).
type Schema struct {
	mu sync.Mutex

	Name          string   `yaml:"name"`
	Version       int      `yaml:"version"`
	EngineVersion int      `yaml:"engine_version"`
	Settings      Settings `yaml:"settings"`

	tableNames []string
	tables     map[string]*Table

	// dirty tracks whether a mutation has been observed since the schema
	// was constructed/loaded or last marked persisted. The *first* mutation after a persist
	// bumps Version; subsequent mutations before the next persist do not.
	dirty bool
}

// New creates an empty schema with version 1.
func New(name string) *Schema {
	return &Schema{
		Name:          NormalizeName(name),
		Version:       1,
		EngineVersion: EngineVersion,
		tables:        make(map[string]*Table),
	}
}

// Tables returns the schema's tables in declaration order.
func (s *Schema) Tables() []*Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Table, 0, len(s.tableNames))
	for _, name := range s.tableNames {
		out = append(out, s.tables[name])
	}
	return out
}

// Table looks up a table by its normalized name.
func (s *Schema) Table(name string) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[NormalizeName(name)]
}

// markMutated bumps Version exactly once per persist cycle, per spec: the
// first mutation observed after the most recent successful persist
// increments Version; later mutations in the same cycle are no-ops.
func (s *Schema) markMutated() {
	if s.dirty {
		return
	}
	s.dirty = true
	s.Version++
}

// MarkPersisted resets the dirty flag so the next mutation bumps Version
// again. Called by the caller once the schema has actually been written to
// durable storage (e.g. as a frozen Load package snapshot).
func (s *Schema) MarkPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// ensureTable returns the table by normalized name, creating a bare root
// table if absent. Callers must hold s.mu.
func (s *Schema) ensureTable(name string) *Table {
	name = NormalizeName(name)
	if s.tables == nil {
		s.tables = make(map[string]*Table)
	}
	t, ok := s.tables[name]
	if !ok {
		t = &Table{Name: name}
		s.tables[name] = t
		s.tableNames = append(s.tableNames, name)
	}
	return t
}

// resolveDisposition returns disp if set, otherwise the root table's
// effective disposition for a child table, otherwise DispositionAppend.
func (s *Schema) resolveDisposition(t *Table) WriteDisposition {
	if t.WriteDisposition != "" {
		return t.WriteDisposition
	}
	if t.Parent != "" {
		if root := s.tables[t.Parent]; root != nil {
			return s.resolveDisposition(root)
		}
	}
	return DispositionAppend
}

// Disposition returns t's effective write disposition: its own if set,
// otherwise the one inherited from its root table, otherwise
// DispositionAppend. Job clients use this instead of Table.WriteDisposition
// directly so a child table created by the normalizer picks up its root's
// disposition.
func (s *Schema) Disposition(t *Table) WriteDisposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveDisposition(t)
}

// Clone returns a deep, independent copy of the schema, used to snapshot a
// schema into a Load package without risking later in-memory mutation
// leaking into an already-frozen package.
func (s *Schema) Clone() *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := &Schema{
		Name:          s.Name,
		Version:       s.Version,
		EngineVersion: s.EngineVersion,
		Settings:      s.Settings,
		tables:        make(map[string]*Table, len(s.tables)),
		tableNames:    append([]string(nil), s.tableNames...),
	}
	for name, t := range s.tables {
		nt := &Table{
			Name:             t.Name,
			Description:      t.Description,
			Parent:           t.Parent,
			WriteDisposition: t.WriteDisposition,
			columnNames:      append([]string(nil), t.columnNames...),
			columns:          make(map[string]*Column, len(t.columns)),
		}
		if t.Filters != nil {
			f := *t.Filters
			nt.Filters = &f
		}
		for cname, c := range t.columns {
			cc := *c
			nt.columns[cname] = &cc
		}
		clone.tables[name] = nt
	}
	return clone
}
