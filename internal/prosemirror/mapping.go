package prosemirror

// StepMap records how one step moved positions: the range
// [Pos, Pos+OldSize) was replaced by NewSize positions.
type StepMap struct {
	Pos     int
	OldSize int
	NewSize int
}

// EmptyMap is the map of steps that do not change positions.
var EmptyMap = StepMap{}

// Map moves pos through the step. assoc decides which side a position at
// the edge of an inserted range sticks to: negative keeps it before the
// insertion, positive moves it after.
func (m StepMap) Map(pos, assoc int) int {
	if m.OldSize == 0 && m.NewSize == 0 {
		return pos
	}
	start := m.Pos
	end := start + m.OldSize
	if pos < start {
		return pos
	}
	if pos > end {
		return pos + m.NewSize - m.OldSize
	}
	side := assoc
	if m.OldSize > 0 {
		switch pos {
		case start:
			side = -1
		case end:
			side = 1
		}
	}
	if side < 0 {
		return start
	}
	return start + m.NewSize
}

// Deleted reports whether the position sat strictly inside a replaced range.
func (m StepMap) Deleted(pos int) bool {
	return m.OldSize > 0 && pos > m.Pos && pos < m.Pos+m.OldSize
}

// Mapping composes the maps of a sequence of steps.
type Mapping struct {
	maps []StepMap
}

func (m *Mapping) Append(sm StepMap) {
	m.maps = append(m.maps, sm)
}

// AppendMapping adds every map of other after the ones already present.
func (m *Mapping) AppendMapping(other Mapping) {
	m.maps = append(m.maps, other.maps...)
}

func (m Mapping) Len() int {
	return len(m.maps)
}

func (m Mapping) Maps() []StepMap {
	return append([]StepMap(nil), m.maps...)
}

// Slice returns the mapping made of the maps from index from onward.
func (m Mapping) Slice(from int) Mapping {
	if from >= len(m.maps) {
		return Mapping{}
	}
	return Mapping{maps: append([]StepMap(nil), m.maps[from:]...)}
}

func (m Mapping) Map(pos, assoc int) int {
	for _, sm := range m.maps {
		pos = sm.Map(pos, assoc)
	}
	return pos
}
