package schema

import (
	"math/big"
	"regexp"
	"strings"
	"time"
)

// Detection inspects a raw leaf value and optionally overrides the default
// classification, consulted in registration order after PreferredTypes and
// before the default runtime-category mapping.
type Detection func(path string, v any) (DataType, bool)

// minEpoch/maxEpoch bound the sane window for the timestamp detection:
// 2000-01-01T00:00:00Z .. 2100-01-01T00:00:00Z.
const (
	minEpoch = 946684800
	maxEpoch = 4102444800
)

// DefaultDetections returns the built-in detection chain: numeric-epoch
// timestamp detection, then RFC-3339 string parse detection.
func DefaultDetections() []Detection {
	return []Detection{detectNumericTimestamp, detectISOTimestamp}
}

func detectNumericTimestamp(_ string, v any) (DataType, bool) {
	f, ok := asFloat(v)
	if !ok {
		return "", false
	}
	if f == float64(int64(f)) && f >= minEpoch && f <= maxEpoch {
		return TypeTimestamp, true
	}
	return "", false
}

func detectISOTimestamp(_ string, v any) (DataType, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return TypeTimestamp, true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// InferenceRules bundles the ordered preferred-type regexes, detection
// chain, and default-hint patterns consulted while a column is created.
type InferenceRules struct {
	PreferredTypes     map[string]DataType
	PreferredTypeOrder []string
	Detections         []Detection
	DefaultHints       map[string][]string

	compiled map[string]*regexp.Regexp
}

// NewInferenceRules builds a rule set from a schema's Settings, using the
// built-in detection chain.
func NewInferenceRules(s Settings) *InferenceRules {
	return &InferenceRules{
		PreferredTypes:     s.PreferredTypes,
		PreferredTypeOrder: s.PreferredTypeOrder,
		Detections:         DefaultDetections(),
		DefaultHints:       s.DefaultHints,
	}
}

// ResolveHints returns the Hints settings.default_hints assigns to a newly
// created column at path: a hint is set when any of its registered
// "re:"-prefixed regexes (or exact literals, per matchFilterRegex) matches
// path. Hints are only ever consulted here, at column-creation time;
// Schema.UpdateTable never revisits them for a column that already exists.
func (r *InferenceRules) ResolveHints(path string) Hints {
	var h Hints
	for name, patterns := range r.DefaultHints {
		for _, pattern := range patterns {
			if matchFilterRegex(pattern, path) {
				applyHintName(&h, name)
				break
			}
		}
	}
	return h
}

func applyHintName(h *Hints, name string) {
	switch name {
	case "partition":
		h.Partition = true
	case "cluster":
		h.Cluster = true
	case "primary_key":
		h.PrimaryKey = true
	case "foreign_key":
		h.ForeignKey = true
	case "sort":
		h.Sort = true
	case "unique":
		h.Unique = true
	}
}

func (r *InferenceRules) compile(pattern string) *regexp.Regexp {
	if r.compiled == nil {
		r.compiled = make(map[string]*regexp.Regexp)
	}
	if re, ok := r.compiled[pattern]; ok {
		return re
	}
	re := regexp.MustCompile(strings.TrimPrefix(pattern, "re:"))
	r.compiled[pattern] = re
	return re
}

// InferColumnType classifies a raw leaf value into a DataType following the
// spec's three-step procedure: (1) preferred_types regex over the column
// path, first match wins in definition order; (2) registered detections in
// order; (3) runtime-category mapping.
func (r *InferenceRules) InferColumnType(path string, v any) DataType {
	for _, pattern := range r.PreferredTypeOrder {
		if r.compile(pattern).MatchString(path) {
			if dt, ok := r.PreferredTypes[pattern]; ok {
				return dt
			}
		}
	}
	for _, detect := range r.Detections {
		if dt, ok := detect(path, v); ok {
			return dt
		}
	}
	return classifyRuntimeValue(v)
}

// classifyRuntimeValue maps a decoded JSON/Go value to its default
// DataType category per spec §4.2 step 3.
func classifyRuntimeValue(v any) DataType {
	switch val := v.(type) {
	case nil:
		return TypeText
	case bool:
		return TypeBool
	case []byte:
		return TypeBinary
	case *big.Int:
		if isWei(val) {
			return TypeWei
		}
		return TypeBigInt
	case *big.Float:
		return TypeDecimal
	case string:
		return TypeText
	case float32, float64:
		return TypeDouble
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeBigInt
	case map[string]any:
		return TypeComplex
	case []any:
		return TypeComplex
	default:
		return TypeText
	}
}

// weiThreshold is 2^64: integers whose absolute value is at least this
// large are classified as wei rather than bigint.
var weiThreshold = new(big.Int).Lsh(big.NewInt(1), 64)

func isWei(v *big.Int) bool {
	abs := new(big.Int).Abs(v)
	return abs.Cmp(weiThreshold) >= 0
}
