package core

import "math/big"

// CheckedAdd returns a+b, or Overflow if the sum does not fit in a uint64.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, Fail(KindOverflow, "checked add overflow: %d + %d", a, b)
	}
	return sum, nil
}

// CheckedSub returns a-b, or Overflow if b > a (the domain never has
// negative balances or reservations, so underflow is an overflow too).
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, Fail(KindOverflow, "checked sub overflow: %d - %d", a, b)
	}
	return a - b, nil
}

// Released computes the amount of amount that has vested by now under a
// linear schedule [start, end). It floors to an integer and clamps to
// [0, amount], truncation favoring the sender (spec §4.5, §8).
//
// The multiply-then-divide is done in arbitrary precision so that
// (now-start)*amount never overflows a machine word before the division
// brings it back down, per the spec's "128-bit arithmetic" instruction --
// the source's 64-bit float version lost precision on large amounts.
func Released(now, start, end int64, amount uint64) uint64 {
	switch {
	case now <= start:
		return 0
	case now >= end:
		return amount
	}

	elapsed := big.NewInt(now - start)
	span := big.NewInt(end - start)
	amt := new(big.Int).SetUint64(amount)

	num := new(big.Int).Mul(elapsed, amt)
	num.Quo(num, span) // Quo truncates toward zero == floor for non-negative operands

	if !num.IsUint64() {
		// Cannot happen for any amount that fits in a uint64 to begin with,
		// but guard rather than silently wrap.
		return amount
	}
	return num.Uint64()
}

// Withdrawable returns the amount a withdraw call may release right now:
// released(now) - withdrawn, capped by withdrawLimit while paused.
func Withdrawable(rec *StreamRecord, now int64) uint64 {
	released := Released(now, rec.StartTime, rec.EndTime, rec.Amount)
	if released <= rec.Withdrawn {
		return 0
	}
	avail := released - rec.Withdrawn
	if rec.Paused {
		if avail > rec.WithdrawLimit {
			avail = rec.WithdrawLimit
		}
	}
	return avail
}
