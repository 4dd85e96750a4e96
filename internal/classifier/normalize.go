package classifier

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility forms (NFKC) and lower-cases s so that
// full-width or stylized letters match plain keywords.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	// cases.Caser is stateful; build one per call.
	return strings.TrimSpace(cases.Lower(language.Und).String(s))
}
