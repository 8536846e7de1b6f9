package conference

import (
	"regexp"
	"strconv"
	"strings"
)

// labelPattern matches the canonical volume label form
// "{index}/{total}-{productCode}", e.g. "2/5-sofa-01". The product code
// portion may itself contain digits and hyphens.
var labelPattern = regexp.MustCompile(`^(\d+)/(\d+)-([a-z0-9-]+)$`)

// Normalize canonicalizes raw scanner or keyboard input into a matchable
// label key. It trims surrounding whitespace, maps the ';' separator (and
// its full-width variant '；') to '/', strips internal whitespace and
// lowercases the result. Normalization is total: malformed input comes
// back cleaned but otherwise unchanged, it never fails.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ";", "/")
	s = strings.ReplaceAll(s, "；", "/")
	s = strings.Join(strings.Fields(s), "")
	s = strings.ToLower(s)
	if m := labelPattern.FindStringSubmatch(s); m != nil {
		return m[1] + "/" + m[2] + "-" + m[3]
	}
	return s
}

// ExtractProductCode returns the product code portion of a normalized
// label key: everything after the first '-' that follows the '/'. Returns
// "" when no such '-' exists.
func ExtractProductCode(normalized string) string {
	start := strings.Index(normalized, "/") + 1
	rest := normalized[start:]
	i := strings.Index(rest, "-")
	if i < 0 {
		return ""
	}
	return rest[i+1:]
}

// parseLabel decomposes a normalized key into its volume index, volume
// total and product code. ok is false when the key does not have the
// canonical form.
func parseLabel(normalized string) (index, total int, productCode string, ok bool) {
	m := labelPattern.FindStringSubmatch(normalized)
	if m == nil {
		return 0, 0, "", false
	}
	index, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return index, total, m[3], true
}
