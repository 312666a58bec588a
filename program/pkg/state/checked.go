package state

import "math/bits"

// CheckedAdd returns a+b or an ArithmeticOverflow error.
func CheckedAdd(op string, a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, Errorf(KindArithmeticOverflow, op, "%d + %d overflows", a, b)
	}
	return sum, nil
}

// CheckedSub returns a-b or an ArithmeticOverflow error.
func CheckedSub(op string, a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, Errorf(KindArithmeticOverflow, op, "%d - %d underflows", a, b)
	}
	return diff, nil
}

// CheckedAddTime returns t+d for unix-second timestamps.
func CheckedAddTime(op string, t, d int64) (int64, error) {
	if d < 0 || t < 0 {
		return 0, Errorf(KindInvalidArgument, op, "negative time %d + %d", t, d)
	}
	sum := t + d
	if sum < t {
		return 0, Errorf(KindArithmeticOverflow, op, "time %d + %d overflows", t, d)
	}
	return sum, nil
}
