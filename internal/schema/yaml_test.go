package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleSchema(t *testing.T) *Schema {
	t.Helper()
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name:             "clicks",
		WriteDisposition: DispositionMerge,
		Columns: []*Column{
			{Name: "id", DataType: TypeText, Hints: Hints{PrimaryKey: true, Unique: true}},
			{Name: "ts", DataType: TypeTimestamp},
			{Name: "amount", DataType: TypeWei, Nullable: true},
		},
	})
	require.NoError(t, err)
	_, err = s.UpdateTable(TableUpdate{
		Name:   "clicks__tags",
		Parent: "clicks",
		Columns: []*Column{
			{Name: "value", DataType: TypeText},
		},
	})
	require.NoError(t, err)
	return s
}

func TestToYAMLFromYAMLRoundTrip(t *testing.T) {
	s := buildSampleSchema(t)

	data, err := s.ToYAML(false)
	require.NoError(t, err)

	loaded, err := FromYAML(data)
	require.NoError(t, err)

	assert.Equal(t, s.Name, loaded.Name)
	assert.Equal(t, s.Version, loaded.Version)
	assert.Equal(t, s.EngineVersion, loaded.EngineVersion)

	wantTables := []string{"clicks", "clicks__tags"}
	gotTables := make([]string, 0, 2)
	for _, tbl := range loaded.Tables() {
		gotTables = append(gotTables, tbl.Name)
	}
	assert.Equal(t, wantTables, gotTables, "table order must be preserved")

	clicks := loaded.Table("clicks")
	require.NotNil(t, clicks)
	assert.Equal(t, DispositionMerge, clicks.WriteDisposition)

	id := clicks.Column("id")
	require.NotNil(t, id)
	assert.Equal(t, TypeText, id.DataType)
	assert.True(t, id.Hints.PrimaryKey)
	assert.True(t, id.Hints.Unique)

	amount := clicks.Column("amount")
	require.NotNil(t, amount)
	assert.True(t, amount.Nullable)

	child := loaded.Table("clicks__tags")
	require.NotNil(t, child)
	assert.Equal(t, "clicks", child.Parent)
}

func TestToYAMLRemoveDefaultsOmitsZeroValues(t *testing.T) {
	s := buildSampleSchema(t)

	full, err := s.ToYAML(false)
	require.NoError(t, err)
	trimmed, err := s.ToYAML(true)
	require.NoError(t, err)

	assert.Contains(t, string(full), "nullable: false")
	assert.NotContains(t, string(trimmed), "nullable: false")
	assert.NotContains(t, string(trimmed), "unique: false")
}

func TestToYAMLRoundTripIsStableAcrossSaves(t *testing.T) {
	s := buildSampleSchema(t)

	first, err := s.ToYAML(true)
	require.NoError(t, err)

	loaded, err := FromYAML(first)
	require.NoError(t, err)

	second, err := loaded.ToYAML(true)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "load -> save must be byte-identical with remove_defaults")
}

func TestFromYAMLRejectsMalformedTables(t *testing.T) {
	_, err := FromYAML([]byte("tables: [not, a, mapping]\n"))
	require.Error(t, err)
}
