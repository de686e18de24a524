package trackchanges

import (
	"hash/fnv"
	"strings"
	"unicode"
)

var authorPalette = [...]string{
	"#2563eb", // blue
	"#dc2626", // red
	"#16a34a", // green
	"#9333ea", // purple
	"#ea580c", // orange
	"#0891b2", // cyan
	"#db2777", // pink
	"#65a30d", // lime
	"#4f46e5", // indigo
	"#ca8a04", // amber
	"#0d9488", // teal
	"#7c3aed", // violet
}

// AuthorColor maps an author name to a stable palette colour.
func AuthorColor(author string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(author))
	return authorPalette[h.Sum32()%uint32(len(authorPalette))]
}

// AuthorInitials returns up to two upper-case initials, or "?" for an empty
// name.
func AuthorInitials(author string) string {
	fields := strings.FieldsFunc(author, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '-' || r == '_'
	})
	if len(fields) == 0 {
		return "?"
	}
	var initials []rune
	for _, field := range fields {
		initials = append(initials, unicode.ToUpper([]rune(field)[0]))
		if len(initials) == 2 {
			break
		}
	}
	return string(initials)
}
