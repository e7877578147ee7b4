package schema

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferColumnTypeRuntimeCategories(t *testing.T) {
	r := NewInferenceRules(Settings{})

	cases := []struct {
		name string
		v    any
		want DataType
	}{
		{"bool", true, TypeBool},
		{"string", "hello", TypeText},
		{"float64", 3.14, TypeDouble},
		{"int", 42, TypeBigInt},
		{"bytes", []byte("raw"), TypeBinary},
		{"map", map[string]any{"a": 1}, TypeComplex},
		{"slice", []any{1, 2}, TypeComplex},
		{"nil", nil, TypeText},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, r.InferColumnType("col", c.v))
		})
	}
}

func TestInferColumnTypeWeiThreshold(t *testing.T) {
	r := NewInferenceRules(Settings{})

	small := big.NewInt(1_000_000)
	assert.Equal(t, TypeBigInt, r.InferColumnType("amount", small))

	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	assert.Equal(t, TypeWei, r.InferColumnType("amount", huge))

	assert.Equal(t, TypeDecimal, r.InferColumnType("amount", big.NewFloat(1.5)))
}

func TestInferColumnTypeDetectsNumericTimestamp(t *testing.T) {
	r := NewInferenceRules(Settings{})
	assert.Equal(t, TypeTimestamp, r.InferColumnType("created_at", float64(1700000000)))
	assert.Equal(t, TypeDouble, r.InferColumnType("page_count", float64(42)), "outside the epoch window, a float64 falls back to its runtime category")
}

func TestInferColumnTypeDetectsISOTimestamp(t *testing.T) {
	r := NewInferenceRules(Settings{})
	assert.Equal(t, TypeTimestamp, r.InferColumnType("created_at", "2024-01-15T10:30:00Z"))
	assert.Equal(t, TypeText, r.InferColumnType("name", "not-a-timestamp"))
}

func TestInferColumnTypePreferredTypesWinFirstMatch(t *testing.T) {
	r := NewInferenceRules(Settings{
		PreferredTypes: map[string]DataType{
			"re:^price$":  TypeDecimal,
			"re:^price.*": TypeText,
		},
		PreferredTypeOrder: []string{"re:^price$", "re:^price.*"},
	})

	assert.Equal(t, TypeDecimal, r.InferColumnType("price", float64(9.99)))
	assert.Equal(t, TypeText, r.InferColumnType("price_usd", float64(9.99)))
}

func TestInferColumnTypePreferredTypesOverrideDetections(t *testing.T) {
	r := NewInferenceRules(Settings{
		PreferredTypes:     map[string]DataType{"re:^ts$": TypeBigInt},
		PreferredTypeOrder: []string{"re:^ts$"},
	})

	assert.Equal(t, TypeBigInt, r.InferColumnType("ts", float64(1700000000)))
}

func TestResolveHintsMatchesDefaultHintPatterns(t *testing.T) {
	r := NewInferenceRules(Settings{
		DefaultHints: map[string][]string{
			"partition": {"re:^created_at$"},
			"cluster":   {"re:^region$", "re:^country$"},
			"unique":    {"exact_id"},
		},
	})

	assert.Equal(t, Hints{Partition: true}, r.ResolveHints("created_at"))
	assert.Equal(t, Hints{Cluster: true}, r.ResolveHints("region"))
	assert.Equal(t, Hints{Cluster: true}, r.ResolveHints("country"))
	assert.Equal(t, Hints{Unique: true}, r.ResolveHints("exact_id"))
	assert.Equal(t, Hints{}, r.ResolveHints("exact_id_other"))
	assert.Equal(t, Hints{}, r.ResolveHints("unrelated"))
}
