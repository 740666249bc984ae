// internal/extract/name.go
package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// listMarker matches one leading bullet, heading mark or numeric index.
var listMarker = regexp.MustCompile(`^(?:[-–—*•·+#>]+\s*|\d+[.)](?:\s+|$)|\d+\s+)`)

// NormalizeName turns the label half of a line into a bare item name.
// It returns "" when nothing but markers and punctuation is left.
func NormalizeName(label string) string {
	s := strings.TrimSpace(strings.ReplaceAll(label, "**", ""))
	for s != "" {
		loc := listMarker.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == ':' || r == '.' || r == '*' || unicode.IsSpace(r)
	})
}
