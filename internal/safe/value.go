package safe

import (
	"math"
)

// Uint64ToInt converts a uint64 to int, clamping to math.MaxInt when the value
// does not fit. The boolean reports whether clamping occurred.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}

// Uint64ToInt64 converts a uint64 to int64, clamping to math.MaxInt64 if overflow
// would occur.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}
