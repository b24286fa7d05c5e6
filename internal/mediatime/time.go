package mediatime

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// DefaultScale is the timescale used when a zero scale is supplied.
const DefaultScale int32 = 600

// nanoScale is the fallback scale for results whose exact denominator
// does not fit in an int32.
const nanoScale int32 = 1_000_000_000

// Time is a rational timestamp: Value/Scale seconds.
type Time struct {
	Value int64
	Scale int32
}

// Zero is 0 seconds.
var Zero = Time{Value: 0, Scale: DefaultScale}

// New creates a Time of value/scale seconds
func New(value int64, scale int32) Time {
	if scale <= 0 {
		scale = DefaultScale
	}
	return Time{Value: value, Scale: scale}
}

// FromSeconds converts floating point seconds to the given scale, rounding to the nearest unit
func FromSeconds(seconds float64, scale int32) Time {
	if scale <= 0 {
		scale = DefaultScale
	}
	return Time{Value: int64(math.Round(seconds * float64(scale))), Scale: scale}
}

// FromDuration converts a time.Duration to a nanosecond-scaled Time
func FromDuration(d time.Duration) Time {
	return Time{Value: int64(d), Scale: nanoScale}
}

// FromFrames returns the timestamp of a frame index at the given sample rate
func FromFrames(frame int64, sampleRate int) Time {
	if sampleRate <= 0 {
		return Zero
	}
	return Time{Value: frame, Scale: int32(sampleRate)}
}

// FromRat converts an exact rational number of seconds to a Time.
// The rational's own denominator is used when it fits in an int32,
// otherwise the value is floored to nanosecond precision.
func FromRat(r *big.Rat) Time {
	num, den := r.Num(), r.Denom()
	if den.IsInt64() && den.Int64() <= math.MaxInt32 && num.IsInt64() {
		return Time{Value: num.Int64(), Scale: int32(den.Int64())}
	}

	scaled := new(big.Int).Mul(num, big.NewInt(int64(nanoScale)))
	floorDiv(scaled, den)
	return Time{Value: scaled.Int64(), Scale: nanoScale}
}

func (t Time) normalized() Time {
	if t.Scale <= 0 {
		t.Scale = DefaultScale
	}
	return t
}

// Rat returns the exact number of seconds
func (t Time) Rat() *big.Rat {
	t = t.normalized()
	return big.NewRat(t.Value, int64(t.Scale))
}

// Seconds returns the approximate number of seconds
func (t Time) Seconds() float64 {
	t = t.normalized()
	return float64(t.Value) / float64(t.Scale)
}

// Duration returns the time as a time.Duration, truncated to nanoseconds
func (t Time) Duration() time.Duration {
	r := t.Rat()
	ns := new(big.Int).Mul(r.Num(), big.NewInt(int64(time.Second)))
	floorDiv(ns, r.Denom())
	return time.Duration(ns.Int64())
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after o
func (t Time) Compare(o Time) int {
	return t.Rat().Cmp(o.Rat())
}

// Before reports whether t < o
func (t Time) Before(o Time) bool { return t.Compare(o) < 0 }

// After reports whether t > o
func (t Time) After(o Time) bool { return t.Compare(o) > 0 }

// Equal reports whether t and o denote the same instant regardless of scale
func (t Time) Equal(o Time) bool { return t.Compare(o) == 0 }

// IsZero reports whether t is 0 seconds
func (t Time) IsZero() bool { return t.Value == 0 }

// Add returns t+o
func (t Time) Add(o Time) Time {
	t, o = t.normalized(), o.normalized()
	if t.Scale == o.Scale {
		return Time{Value: t.Value + o.Value, Scale: t.Scale}
	}
	return FromRat(new(big.Rat).Add(t.Rat(), o.Rat()))
}

// Sub returns t-o
func (t Time) Sub(o Time) Time {
	t, o = t.normalized(), o.normalized()
	if t.Scale == o.Scale {
		return Time{Value: t.Value - o.Value, Scale: t.Scale}
	}
	return FromRat(new(big.Rat).Sub(t.Rat(), o.Rat()))
}

// MulFrac returns t*num/den
func (t Time) MulFrac(num, den int64) Time {
	if den == 0 {
		return Zero
	}
	r := new(big.Rat).Mul(t.Rat(), big.NewRat(num, den))
	return FromRat(r)
}

// Div returns t/n; n <= 0 yields Zero
func (t Time) Div(n int) Time {
	if n <= 0 {
		return Zero
	}
	return t.MulFrac(1, int64(n))
}

// Key returns an exact, scale-independent representation suitable for map keys
func (t Time) Key() string {
	return t.Rat().RatString()
}

// String formats the time in seconds with millisecond precision
func (t Time) String() string {
	return fmt.Sprintf("%.3fs", t.Seconds())
}

// Min returns the earlier of a and b
func Min(a, b Time) Time {
	if a.Compare(b) <= 0 {
		return a
	}
	return b
}

// Max returns the later of a and b
func Max(a, b Time) Time {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// floorDiv sets n = floor(n/d) for d > 0
func floorDiv(n, d *big.Int) {
	m := new(big.Int)
	n.DivMod(n, d, m)
}

// ceilRat returns ceil(r) as an int64
func ceilRat(r *big.Rat) int64 {
	q, m := new(big.Int).DivMod(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
