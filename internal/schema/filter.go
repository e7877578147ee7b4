package schema

import (
	"regexp"
	"strings"
	"sync"
)

// filterRegexCache memoizes compiled filter patterns across calls, since the
// same Filters are evaluated once per leaf value during normalization.
var (
	filterRegexMu    sync.Mutex
	filterRegexCache = make(map[string]*regexp.Regexp)
)

// matchFilterRegex evaluates a filter pattern against path. Patterns are
// written "re:<regex>" per spec; a pattern without the prefix is matched
// literally as an exact path match.
func matchFilterRegex(pattern, path string) bool {
	expr, ok := strings.CutPrefix(pattern, "re:")
	if !ok {
		return pattern == path
	}

	filterRegexMu.Lock()
	re, cached := filterRegexCache[expr]
	if !cached {
		re = regexp.MustCompile(expr)
		filterRegexCache[expr] = re
	}
	filterRegexMu.Unlock()

	return re.MatchString(path)
}
