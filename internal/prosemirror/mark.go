package prosemirror

import "reflect"

// Mark represents a text mark (formatting or metadata attached to a range)
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// stackableMarks may appear more than once on a node when their attrs differ.
// Every other mark type excludes other marks of the same type.
var stackableMarks = map[string]struct{}{
	"comment": {},
}

func (m Mark) Clone() Mark {
	return Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
}

// Attr returns a string attribute or "".
func (m Mark) Attr(key string) string {
	value, _ := m.Attrs[key].(string)
	return value
}

// Equal compares type and every attribute.
func (m Mark) Equal(other Mark) bool {
	if m.Type != other.Type || len(m.Attrs) != len(other.Attrs) {
		return false
	}
	for key, value := range m.Attrs {
		otherValue, ok := other.Attrs[key]
		if !ok || !reflect.DeepEqual(value, otherValue) {
			return false
		}
	}
	return true
}

// Matches reports whether m has the pattern's type and every attribute the
// pattern sets. A pattern without attrs matches any mark of its type.
func (m Mark) Matches(pattern Mark) bool {
	if m.Type != pattern.Type {
		return false
	}
	for key, value := range pattern.Attrs {
		if !reflect.DeepEqual(m.Attrs[key], value) {
			return false
		}
	}
	return true
}

// SameMarkSet compares two mark sets regardless of order.
func SameMarkSet(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for _, m := range a {
		found := false
		for _, other := range b {
			if m.Equal(other) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// addMark returns marks with m added. Non-stackable marks replace an
// existing mark of the same type.
func addMark(marks []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(marks)+1)
	_, stackable := stackableMarks[m.Type]
	for _, existing := range marks {
		if existing.Equal(m) {
			return marks
		}
		if existing.Type == m.Type && !stackable {
			continue
		}
		out = append(out, existing)
	}
	return append(out, m.Clone())
}

func removeMark(marks []Mark, pattern Mark) []Mark {
	if len(marks) == 0 {
		return marks
	}
	out := make([]Mark, 0, len(marks))
	for _, existing := range marks {
		if existing.Matches(pattern) {
			continue
		}
		out = append(out, existing)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
