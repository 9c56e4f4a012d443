package color

// Matrix is a 3x3 linear map applied to an RGB triplet in [0,1] space,
// used by stage 2 (channel adjustment) of the pipeline.
type Matrix [3][3]float64

// IdentityMatrix returns the 3x3 identity, the neutral element for Apply.
func IdentityMatrix() Matrix {
	return Matrix{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// Apply runs the linear map, clamping each output channel to [0,1].
func (m Matrix) Apply(f Float) Float {
	r := m[0][0]*f.R + m[0][1]*f.G + m[0][2]*f.B
	g := m[1][0]*f.R + m[1][1]*f.G + m[1][2]*f.B
	b := m[2][0]*f.R + m[2][1]*f.G + m[2][2]*f.B
	return Float{R: clamp01(r), G: clamp01(g), B: clamp01(b)}
}

// SelectorKind distinguishes the three ways a channel adjustment can be
// scoped to a subset of LEDs.
type SelectorKind int

const (
	// SelectAll matches every LED index.
	SelectAll SelectorKind = iota
	// SelectRange matches a contiguous, inclusive [Min,Max] index range.
	SelectRange
	// SelectSet matches an explicit, enumerated set of indices.
	SelectSet
)

// Selector scopes a channel adjustment to a subset of LED indices.
type Selector struct {
	Kind     SelectorKind
	Min, Max int
	Set      map[int]struct{}
}

// Matches reports whether the selector covers the given LED index.
func (s Selector) Matches(index int) bool {
	switch s.Kind {
	case SelectAll:
		return true
	case SelectRange:
		return index >= s.Min && index <= s.Max
	case SelectSet:
		_, ok := s.Set[index]
		return ok
	default:
		return false
	}
}

// RangeAdjustment pairs a Selector with the Matrix to apply to LEDs it
// matches. A configured list of RangeAdjustments is evaluated in order;
// the first match wins.
type RangeAdjustment struct {
	Selector Selector
	Matrix   Matrix
}

// SelectFor returns the Matrix for the first RangeAdjustment (in list
// order) whose Selector matches index, or the identity matrix if none do.
func SelectFor(index int, adjustments []RangeAdjustment) Matrix {
	for _, a := range adjustments {
		if a.Selector.Matches(index) {
			return a.Matrix
		}
	}
	return IdentityMatrix()
}
