package booking

import "time"

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. Used both by the slot generator and the booking path so the
// two can never disagree about what counts as a conflict.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
