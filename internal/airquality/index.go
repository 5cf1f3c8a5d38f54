package airquality

// Index is the upstream air quality index: 1 (Good) through 5 (Very Poor).
type Index int

// Index bounds.
const (
	IndexGood     Index = 1
	IndexFair     Index = 2
	IndexModerate Index = 3
	IndexPoor     Index = 4
	IndexVeryPoor Index = 5
)

// UnknownAdvice is returned by Advice for indices outside 1..5.
const UnknownAdvice = "Unknown AQI level."

var levels = [...]string{"Good", "Fair", "Moderate", "Poor", "Very Poor"}

// Valid reports whether i is within 1..5.
func (i Index) Valid() bool {
	return i >= IndexGood && i <= IndexVeryPoor
}

// Level returns the category label for i, or "" when i is out of range.
// Callers are expected to check Valid first.
func (i Index) Level() string {
	if !i.Valid() {
		return ""
	}
	return levels[i-1]
}

// Advice returns the advisory text for i. It is total: out-of-range indices
// get UnknownAdvice.
func (i Index) Advice() string {
	switch i {
	case IndexGood:
		return "Air quality is good. Enjoy your day!"
	case IndexFair:
		return "Air quality is fair. No major risks."
	case IndexModerate:
		return "Air quality is moderate. Sensitive individuals should take caution."
	case IndexPoor:
		return "Air quality is poor. Reduce outdoor activity."
	case IndexVeryPoor:
		return "Air quality is very poor. Avoid outdoor activities."
	default:
		return UnknownAdvice
	}
}
