package activity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeProject converts a project name to PascalCase without
// separators: "type alchemy", "type-alchemy" and "TypeAlchemy" all become
// "TypeAlchemy". Applying it twice gives the same result.
func NormalizeProject(name string) string {
	var spaced strings.Builder
	for _, r := range name {
		if unicode.IsUpper(r) {
			spaced.WriteRune(' ')
		}
		spaced.WriteRune(r)
	}

	words := strings.FieldsFunc(spaced.String(), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})

	var out strings.Builder
	for _, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		out.WriteRune(unicode.ToUpper(first))
		out.WriteString(strings.ToLower(word[size:]))
	}
	return out.String()
}
