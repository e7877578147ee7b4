package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestpipe/internal/schema"
)

func collect(t *testing.T, seq func(func(TableRef, Row) bool)) []struct {
	Ref TableRef
	Row Row
} {
	t.Helper()
	var out []struct {
		Ref TableRef
		Row Row
	}
	seq(func(ref TableRef, row Row) bool {
		out = append(out, struct {
			Ref TableRef
			Row Row
		}{ref, row})
		return true
	})
	return out
}

func TestNormalizeSingleRecord(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)
	id := 0
	n.NewID = func() string { id++; return "id" + string(rune('0'+id)) }

	record := NewObject(
		P("id", int64(1)),
		P("ev", "click"),
		P("ts", int64(1690000000)),
	)

	seq, update, err := n.Normalize(context.Background(), "events", record)
	require.NoError(t, err)
	require.NotNil(t, update)

	rows := collect(t, seq)
	require.Len(t, rows, 1)

	row := rows[0].Row
	assert.Equal(t, "events", rows[0].Ref.Table)
	assert.Equal(t, "", rows[0].Ref.Parent)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, "click", row["ev"])
	assert.Equal(t, int64(1690000000), row["ts"])
	assert.NotEmpty(t, row[schema.ColumnDltID])

	tbl := s.Table("events")
	require.NotNil(t, tbl)
	assert.Equal(t, schema.TypeBigInt, tbl.Column("id").DataType)
	assert.Equal(t, schema.TypeText, tbl.Column("ev").DataType)
	assert.Equal(t, schema.TypeTimestamp, tbl.Column("ts").DataType)
	assert.Equal(t, schema.TypeText, tbl.Column(schema.ColumnDltID).DataType)
}

func TestNormalizeNestedListOfMappings(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	record := NewObject(
		P("id", int64(1)),
		P("tags", []Value{
			NewObject(P("k", "a")),
			NewObject(P("k", "b")),
		}),
	)

	seq, _, err := n.Normalize(context.Background(), "events", record)
	require.NoError(t, err)

	rows := collect(t, seq)
	require.Len(t, rows, 3)

	parent := rows[0]
	assert.Equal(t, "events", parent.Ref.Table)
	parentID := parent.Row[schema.ColumnDltID]

	child1, child2 := rows[1], rows[2]
	assert.Equal(t, "events__tags", child1.Ref.Table)
	assert.Equal(t, "events", child1.Ref.Parent)
	assert.Equal(t, parentID, child1.Row[schema.ColumnDltParentID])
	assert.Equal(t, parentID, child2.Row[schema.ColumnDltParentID])

	idxs := []int64{child1.Row[schema.ColumnDltListIdx].(int64), child2.Row[schema.ColumnDltListIdx].(int64)}
	assert.ElementsMatch(t, []int64{0, 1}, idxs)

	assert.Equal(t, "a", child1.Row["k"])
	assert.Equal(t, "b", child2.Row["k"])

	childTable := s.Table("events__tags")
	require.NotNil(t, childTable)
	assert.Equal(t, schema.TypeText, childTable.Column("k").DataType)
	assert.Equal(t, "events", childTable.Parent)
}

func TestNormalizeAppliesDefaultHintsAtColumnCreation(t *testing.T) {
	s := schema.New("pipeline")
	s.Settings.DefaultHints = map[string][]string{
		"partition": {"re:^region$"},
	}
	n := New(s)

	record := NewObject(
		P("id", int64(1)),
		P("region", "us-east"),
	)

	_, _, err := n.Normalize(context.Background(), "events", record)
	require.NoError(t, err)

	tbl := s.Table("events")
	require.NotNil(t, tbl)
	assert.True(t, tbl.Column("region").Hints.Partition)
	assert.False(t, tbl.Column("id").Hints.Any())
}

func TestNormalizeListOfScalarsUsesValueColumn(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	record := NewObject(
		P("id", int64(1)),
		P("labels", []Value{"a", "b"}),
	)

	seq, _, err := n.Normalize(context.Background(), "events", record)
	require.NoError(t, err)
	rows := collect(t, seq)
	require.Len(t, rows, 3)

	assert.Equal(t, "a", rows[1].Row["value"])
	assert.Equal(t, "b", rows[2].Row["value"])
}

func TestNormalizeNestedMappingFlattensIntoSameRow(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	record := NewObject(
		P("id", int64(1)),
		P("address", NewObject(P("city", "nyc"))),
	)

	seq, _, err := n.Normalize(context.Background(), "events", record)
	require.NoError(t, err)
	rows := collect(t, seq)
	require.Len(t, rows, 1)
	assert.Equal(t, "nyc", rows[0].Row["address__city"])
}

func TestNormalizeTopLevelScalarIsWrapped(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	seq, _, err := n.Normalize(context.Background(), "events", "just-a-string")
	require.NoError(t, err)
	rows := collect(t, seq)
	require.Len(t, rows, 1)
	assert.Equal(t, "just-a-string", rows[0].Row["value"])
}

func TestNormalizeRejectsTypeConflict(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	_, _, err := n.Normalize(context.Background(), "events", NewObject(P("id", int64(1))))
	require.NoError(t, err)

	_, _, err = n.Normalize(context.Background(), "events", NewObject(P("id", "not-a-number")))
	require.Error(t, err)

	var coerce *schema.CannotCoerceColumnError
	assert.ErrorAs(t, err, &coerce)
}

func TestNormalizeCancelledContext(t *testing.T) {
	s := schema.New("pipeline")
	n := New(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := n.Normalize(ctx, "events", NewObject(P("id", int64(1))))
	require.Error(t, err)
}
