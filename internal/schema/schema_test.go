package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaStartsAtVersionOne(t *testing.T) {
	s := New("events")
	assert.Equal(t, "events", s.Name)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, EngineVersion, s.EngineVersion)
	assert.Empty(t, s.Tables())
}

func TestUpdateTableCreatesRootTable(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name: "clicks",
		Columns: []*Column{
			{Name: "id", DataType: TypeText},
			{Name: "ts", DataType: TypeTimestamp},
		},
	})
	require.NoError(t, err)

	tbl := s.Table("clicks")
	require.NotNil(t, tbl)
	assert.True(t, tbl.IsRoot())
	assert.Len(t, tbl.Columns(), 2)
}

func TestUpdateTableRequiresExistingParent(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{Name: "clicks__tags", Parent: "clicks"})
	require.Error(t, err)

	var invalidParent *InvalidParentError
	assert.ErrorAs(t, err, &invalidParent)
}

func TestUpdateTableAppendsNewColumns(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "id", DataType: TypeText}},
	})
	require.NoError(t, err)

	update, err := s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "id", DataType: TypeText}, {Name: "url", DataType: TypeText}},
	})
	require.NoError(t, err)
	require.Contains(t, update, "clicks")
	assert.Len(t, update["clicks"], 1)
	assert.Equal(t, "url", update["clicks"][0].Name)
}

func TestUpdateTableRejectsTypeCoercion(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "count", DataType: TypeBigInt}},
	})
	require.NoError(t, err)

	_, err = s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "count", DataType: TypeText}},
	})
	require.Error(t, err)

	var coerce *CannotCoerceColumnError
	require.ErrorAs(t, err, &coerce)
	assert.Equal(t, TypeBigInt, coerce.Existing)
	assert.Equal(t, TypeText, coerce.New)
}

func TestUpdateTableWeakensNullableOnly(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "referrer", DataType: TypeText, Nullable: false}},
	})
	require.NoError(t, err)

	_, err = s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "referrer", DataType: TypeText, Nullable: true}},
	})
	require.NoError(t, err)
	assert.True(t, s.Table("clicks").Column("referrer").Nullable)

	_, err = s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "referrer", DataType: TypeText, Nullable: false}},
	})
	require.NoError(t, err)
	assert.True(t, s.Table("clicks").Column("referrer").Nullable, "nullable must never re-tighten")
}

func TestUpdateTableDropsHintsOnExistingColumn(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "id", DataType: TypeText, Hints: Hints{PrimaryKey: true}}},
	})
	require.NoError(t, err)

	_, err = s.UpdateTable(TableUpdate{
		Name:    "clicks",
		Columns: []*Column{{Name: "id", DataType: TypeText, Hints: Hints{Unique: true}}},
	})
	require.NoError(t, err)

	col := s.Table("clicks").Column("id")
	assert.True(t, col.Hints.PrimaryKey, "original hint survives")
	assert.False(t, col.Hints.Unique, "later hint change on existing column is dropped")
}

func TestMarkMutatedBumpsVersionOnce(t *testing.T) {
	s := New("events")
	before := s.Version

	_, err := s.UpdateTable(TableUpdate{Name: "clicks", Columns: []*Column{{Name: "id", DataType: TypeText}}})
	require.NoError(t, err)
	assert.Equal(t, before+1, s.Version)

	_, err = s.UpdateTable(TableUpdate{Name: "clicks", Columns: []*Column{{Name: "url", DataType: TypeText}}})
	require.NoError(t, err)
	assert.Equal(t, before+1, s.Version, "second mutation before persist must not bump again")

	s.MarkPersisted()
	_, err = s.UpdateTable(TableUpdate{Name: "clicks", Columns: []*Column{{Name: "referrer", DataType: TypeText}}})
	require.NoError(t, err)
	assert.Equal(t, before+2, s.Version, "mutation after persist bumps again")
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{Name: "clicks", Columns: []*Column{{Name: "id", DataType: TypeText}}})
	require.NoError(t, err)

	clone := s.Clone()
	_, err = s.UpdateTable(TableUpdate{Name: "clicks", Columns: []*Column{{Name: "url", DataType: TypeText}}})
	require.NoError(t, err)

	assert.Len(t, clone.Table("clicks").Columns(), 1, "clone must not see later mutations")
	assert.Len(t, s.Table("clicks").Columns(), 2)
}

func TestChildTableInheritsRootDisposition(t *testing.T) {
	s := New("events")
	_, err := s.UpdateTable(TableUpdate{Name: "clicks", WriteDisposition: DispositionReplace})
	require.NoError(t, err)
	_, err = s.UpdateTable(TableUpdate{Name: "clicks__tags", Parent: "clicks"})
	require.NoError(t, err)

	child := s.Table("clicks__tags")
	assert.Equal(t, DispositionReplace, s.resolveDisposition(child))
}
