package schema

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// defaultNormalizerModule is recorded in the "normalizers" YAML block so a
// loaded schema always documents which JSON-normalizer implementation
// produced it.
const defaultNormalizerModule = "ingestpipe.normalize"

// ToYAML serializes the schema to its on-disk YAML representation (spec
// §6: version, engine_version, name, settings, tables, normalizers). Table
// and column ordering is preserved exactly as declared. When
// removeDefaults is true, fields equal to their declared zero value are
// omitted from the output.
func (s *Schema) ToYAML(removeDefaults bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := newMapping()
	putScalar(root, "version", intNode(s.Version))
	putScalar(root, "engine_version", intNode(s.EngineVersion))
	putScalar(root, "name", strNode(s.Name))

	if settings := buildSettingsNode(s.Settings, removeDefaults); settings != nil {
		putScalar(root, "settings", settings)
	}

	putScalar(root, "tables", buildTablesNode(s.tableNames, s.tables, removeDefaults))
	putScalar(root, "normalizers", buildNormalizersNode())

	return yaml.Marshal(root)
}

// FromYAML parses a schema's on-disk YAML representation.
func FromYAML(data []byte) (*Schema, error) {
	var doc yamlSchemaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}

	s := &Schema{
		Name:          doc.Name,
		Version:       doc.Version,
		EngineVersion: doc.EngineVersion,
		Settings:      doc.Settings.toSettings(),
		tables:        make(map[string]*Table, len(doc.Tables.entries)),
	}
	for _, te := range doc.Tables.entries {
		t := &Table{
			Name:             te.key,
			Description:      te.value.Description,
			Parent:           te.value.Parent,
			WriteDisposition: WriteDisposition(te.value.WriteDisposition),
			Filters:          te.value.Filters,
		}
		for _, ce := range te.value.Columns.entries {
			c := &Column{
				Name:     ce.key,
				DataType: ce.value.DataType,
				Nullable: ce.value.Nullable,
				Hints:    ce.value.Hints,
			}
			t.addColumn(c)
		}
		s.tables[te.key] = t
		s.tableNames = append(s.tableNames, te.key)
	}
	return s, nil
}

// yamlSchemaDoc and friends mirror the on-disk shape for decode only; encode
// goes through the hand-built yaml.Node tree above so that table/column
// insertion order is preserved (a plain Go map would be re-sorted by
// gopkg.in/yaml.v3 on encode).
type yamlSchemaDoc struct {
	Version       int               `yaml:"version"`
	EngineVersion int               `yaml:"engine_version"`
	Name          string            `yaml:"name"`
	Settings      yamlSettingsDoc   `yaml:"settings"`
	Tables        orderedTablesDoc  `yaml:"tables"`
	Normalizers   yamlNormalizerDoc `yaml:"normalizers"`
}

type yamlSettingsDoc struct {
	DefaultHints   map[string][]string `yaml:"default_hints,omitempty"`
	PreferredTypes yaml.Node           `yaml:"preferred_types,omitempty"`
	SchemaSealed   bool                `yaml:"schema_sealed,omitempty"`
}

func (d yamlSettingsDoc) toSettings() Settings {
	s := Settings{
		DefaultHints: d.DefaultHints,
		SchemaSealed: d.SchemaSealed,
	}
	if d.PreferredTypes.Kind == yaml.MappingNode {
		s.PreferredTypes = make(map[string]DataType)
		for i := 0; i+1 < len(d.PreferredTypes.Content); i += 2 {
			key := d.PreferredTypes.Content[i].Value
			val := d.PreferredTypes.Content[i+1].Value
			s.PreferredTypes[key] = DataType(val)
			s.PreferredTypeOrder = append(s.PreferredTypeOrder, key)
		}
	}
	return s
}

type yamlNormalizerDoc struct {
	Names      []string       `yaml:"names,omitempty"`
	Detections []string       `yaml:"detections,omitempty"`
	JSON       yamlJSONConfig `yaml:"json,omitempty"`
}

type yamlJSONConfig struct {
	Module string         `yaml:"module,omitempty"`
	Config map[string]any `yaml:"config,omitempty"`
}

type yamlTableDoc struct {
	Description      string            `yaml:"description,omitempty"`
	Parent           string            `yaml:"parent,omitempty"`
	WriteDisposition string            `yaml:"write_disposition,omitempty"`
	Filters          *Filters          `yaml:"filters,omitempty"`
	Columns          orderedColumnsDoc `yaml:"columns"`
}

type yamlColumnDoc struct {
	DataType DataType `yaml:"data_type"`
	Nullable bool     `yaml:"nullable,omitempty"`
	Hints    Hints    `yaml:",inline"`
}

// orderedTablesDoc/orderedColumnsDoc implement yaml.Unmarshaler directly so
// decode preserves the source mapping's key order, matching the order the
// same data would have been serialized in.
type orderedTablesDoc struct {
	entries []orderedTableEntry
}

type orderedTableEntry struct {
	key   string
	value yamlTableDoc
}

func (d *orderedTablesDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema: tables: expected mapping, got kind %d", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v yamlTableDoc
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("schema: table %q: %w", node.Content[i].Value, err)
		}
		d.entries = append(d.entries, orderedTableEntry{key: node.Content[i].Value, value: v})
	}
	return nil
}

type orderedColumnsDoc struct {
	entries []orderedColumnEntry
}

type orderedColumnEntry struct {
	key   string
	value yamlColumnDoc
}

func (d *orderedColumnsDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema: columns: expected mapping, got kind %d", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v yamlColumnDoc
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("schema: column %q: %w", node.Content[i].Value, err)
		}
		d.entries = append(d.entries, orderedColumnEntry{key: node.Content[i].Value, value: v})
	}
	return nil
}

// --- node-builder helpers used by ToYAML ---

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func putScalar(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, strNode(key), value)
}

func buildSettingsNode(s Settings, removeDefaults bool) *yaml.Node {
	mapping := newMapping()
	if len(s.DefaultHints) > 0 {
		hints := newMapping()
		for hint, patterns := range s.DefaultHints {
			seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for _, p := range patterns {
				seq.Content = append(seq.Content, strNode(p))
			}
			putScalar(hints, hint, seq)
		}
		putScalar(mapping, "default_hints", hints)
	}
	if len(s.PreferredTypeOrder) > 0 {
		types := newMapping()
		for _, pattern := range s.PreferredTypeOrder {
			putScalar(types, pattern, strNode(string(s.PreferredTypes[pattern])))
		}
		putScalar(mapping, "preferred_types", types)
	}
	if !removeDefaults || s.SchemaSealed {
		putScalar(mapping, "schema_sealed", boolNode(s.SchemaSealed))
	}
	if len(mapping.Content) == 0 && removeDefaults {
		return nil
	}
	return mapping
}

func buildTablesNode(names []string, tables map[string]*Table, removeDefaults bool) *yaml.Node {
	mapping := newMapping()
	for _, name := range names {
		t := tables[name]
		putScalar(mapping, name, buildTableNode(t, removeDefaults))
	}
	return mapping
}

func buildTableNode(t *Table, removeDefaults bool) *yaml.Node {
	mapping := newMapping()
	if t.Description != "" {
		putScalar(mapping, "description", strNode(t.Description))
	}
	if t.Parent != "" {
		putScalar(mapping, "parent", strNode(t.Parent))
	}
	if t.WriteDisposition != "" && (!removeDefaults || t.WriteDisposition != DispositionAppend) {
		putScalar(mapping, "write_disposition", strNode(string(t.WriteDisposition)))
	}
	if t.Filters != nil && (len(t.Filters.Includes) > 0 || len(t.Filters.Excludes) > 0) {
		filtersNode := newMapping()
		if len(t.Filters.Includes) > 0 {
			seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for _, p := range t.Filters.Includes {
				seq.Content = append(seq.Content, strNode(p))
			}
			putScalar(filtersNode, "includes", seq)
		}
		if len(t.Filters.Excludes) > 0 {
			seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for _, p := range t.Filters.Excludes {
				seq.Content = append(seq.Content, strNode(p))
			}
			putScalar(filtersNode, "excludes", seq)
		}
		putScalar(mapping, "filters", filtersNode)
	}

	columns := newMapping()
	for _, c := range t.Columns() {
		putScalar(columns, c.Name, buildColumnNode(c, removeDefaults))
	}
	putScalar(mapping, "columns", columns)

	return mapping
}

func buildColumnNode(c *Column, removeDefaults bool) *yaml.Node {
	mapping := newMapping()
	putScalar(mapping, "data_type", strNode(string(c.DataType)))
	if !removeDefaults || c.Nullable {
		putScalar(mapping, "nullable", boolNode(c.Nullable))
	}

	hintFlags := []struct {
		key string
		on  bool
	}{
		{"partition", c.Hints.Partition},
		{"cluster", c.Hints.Cluster},
		{"primary_key", c.Hints.PrimaryKey},
		{"foreign_key", c.Hints.ForeignKey},
		{"sort", c.Hints.Sort},
		{"unique", c.Hints.Unique},
	}
	for _, h := range hintFlags {
		if !removeDefaults || h.on {
			putScalar(mapping, h.key, boolNode(h.on))
		}
	}
	return mapping
}

func buildNormalizersNode() *yaml.Node {
	mapping := newMapping()
	names := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	names.Content = append(names.Content, strNode("json"))
	putScalar(mapping, "names", names)

	jsonCfg := newMapping()
	putScalar(jsonCfg, "module", strNode(defaultNormalizerModule))
	putScalar(mapping, "json", jsonCfg)
	return mapping
}
