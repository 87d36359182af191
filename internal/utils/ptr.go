package utils

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }

// Clamp limits v to the closed range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
