package schema

import (
	"regexp"
	"strings"
)

var (
	nonIdentRe  = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatRe    = regexp.MustCompile(`_{2,}`)
	leadDigitRe = regexp.MustCompile(`^[0-9]`)
)

// NormalizeName canonicalizes an arbitrary string into a valid schema/table/
// column identifier: ASCII-fold, lowercase, replace any run of characters
// outside [a-z0-9_] with a single underscore, collapse repeated
// underscores, and prefix a leading digit with an underscore.
//
//	"Foo Bar!" -> "foo_bar_"
//	"__x"      -> "_x"
//	"1abc"     -> "_1abc"
func NormalizeName(s string) string {
	s = asciiFold(s)
	s = strings.ToLower(s)
	s = nonIdentRe.ReplaceAllString(s, "_")
	s = repeatRe.ReplaceAllString(s, "_")
	if leadDigitRe.MatchString(s) {
		s = "_" + s
	}
	return s
}

// asciiFold strips diacritics from Latin-1 supplement characters by mapping
// each rune to its closest ASCII equivalent where one is known, and passes
// everything else through unchanged (non-ASCII runs outside the known table
// fall through to nonIdentRe and become underscores).
func asciiFold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := asciiFoldTable[r]; ok {
			b.WriteString(folded)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var asciiFoldTable = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ã': "a", 'ä': "a", 'å': "a",
	'è': "e", 'é': "e", 'ê': "e", 'ë': "e",
	'ì': "i", 'í': "i", 'î': "i", 'ï': "i",
	'ò': "o", 'ó': "o", 'ô': "o", 'õ': "o", 'ö': "o",
	'ù': "u", 'ú': "u", 'û': "u", 'ü': "u",
	'ñ': "n", 'ç': "c", 'ý': "y", 'ÿ': "y",
	'À': "A", 'Á': "A", 'Â': "A", 'Ã': "A", 'Ä': "A", 'Å': "A",
	'È': "E", 'É': "E", 'Ê': "E", 'Ë': "E",
	'Ì': "I", 'Í': "I", 'Î': "I", 'Ï': "I",
	'Ò': "O", 'Ó': "O", 'Ô': "O", 'Õ': "O", 'Ö': "O",
	'Ù': "U", 'Ú': "U", 'Û': "U", 'Ü': "U",
	'Ñ': "N", 'Ç': "C", 'Ý': "Y",
}

// ColumnPath joins a sequence of keys into the "__"-delimited flattened
// column path used by the normalizer, then truncates it to maxLen with a
// deterministic suffix hash on overflow.
func ColumnPath(parts []string, maxLen int) string {
	joined := strings.Join(parts, "__")
	return TruncateIdentifier(joined, maxLen)
}

// TruncateIdentifier shortens name to maxLen, appending a short,
// deterministic hash of the full name so that two different long names
// that share a prefix don't collide after truncation. maxLen <= 0 disables
// truncation.
func TruncateIdentifier(name string, maxLen int) string {
	if maxLen <= 0 || len(name) <= maxLen {
		return name
	}
	suffix := "_" + shortHash(name)
	keep := maxLen - len(suffix)
	if keep < 1 {
		keep = 1
	}
	if keep > len(name) {
		keep = len(name)
	}
	return name[:keep] + suffix
}

func shortHash(s string) string {
	const fnvOffset64 = 14695981039346656037
	const fnvPrime64 = 1099511628211
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	const alphabet = "0123456789abcdefghijklmnopqrstuv"
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = alphabet[h&0x1f]
		h >>= 5
	}
	return string(buf)
}
