package mediatime

import (
	"fmt"
	"math/big"
)

// TimeRange is the half-open interval [Start, Start+Duration)
type TimeRange struct {
	Start    Time
	Duration Time
}

// NewRange creates a range from a start time and a duration
func NewRange(start, duration Time) TimeRange {
	return TimeRange{Start: start.normalized(), Duration: duration.normalized()}
}

// RangeFromSeconds creates a range from floating point seconds on the given scale
func RangeFromSeconds(start, duration float64, scale int32) TimeRange {
	return TimeRange{Start: FromSeconds(start, scale), Duration: FromSeconds(duration, scale)}
}

// End returns Start+Duration
func (r TimeRange) End() Time {
	return r.Start.Add(r.Duration)
}

// IsEmpty reports whether the range covers no time
func (r TimeRange) IsEmpty() bool {
	return r.Duration.Compare(Zero) <= 0
}

// Contains reports whether t lies inside [Start, End)
func (r TimeRange) Contains(t Time) bool {
	return t.Compare(r.Start) >= 0 && t.Compare(r.End()) < 0
}

// Clamp restricts the range to [0, limit]. Negative starts move to zero,
// negative durations collapse to zero and ranges running past limit are
// shortened. It never fails.
func (r TimeRange) Clamp(limit Time) TimeRange {
	start := r.Start.normalized()
	duration := r.Duration.normalized()

	if duration.Compare(Zero) < 0 {
		duration = Time{Value: 0, Scale: duration.Scale}
	}

	end := start.Add(duration)
	if start.Compare(Zero) < 0 {
		start = Time{Value: 0, Scale: start.Scale}
	}
	if limit.Compare(Zero) < 0 {
		limit = Zero
	}
	if start.Compare(limit) > 0 {
		start = limit
	}
	if end.Compare(limit) > 0 {
		end = limit
	}
	if end.Compare(start) < 0 {
		end = start
	}

	return TimeRange{Start: start, Duration: end.Sub(start)}
}

// ClampStart only removes negative start times and durations, for assets
// whose duration is not known in advance
func (r TimeRange) ClampStart() TimeRange {
	start := r.Start.normalized()
	duration := r.Duration.normalized()
	if duration.Compare(Zero) < 0 {
		duration = Time{Value: 0, Scale: duration.Scale}
	}
	if start.Compare(Zero) < 0 {
		end := start.Add(duration)
		start = Time{Value: 0, Scale: start.Scale}
		if end.Compare(start) < 0 {
			end = start
		}
		duration = end.Sub(start)
	}
	return TimeRange{Start: start, Duration: duration}
}

// PerPixel returns Duration/width
func (r TimeRange) PerPixel(width int) Time {
	return r.Duration.Div(width)
}

// Key returns an exact, scale-independent representation of the range
func (r TimeRange) Key() string {
	return r.Start.Key() + "+" + r.Duration.Key()
}

// Equal reports whether both ranges cover the same interval
func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.Duration.Equal(o.Duration)
}

// String formats the range as [start, end)
func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End())
}

// PixelTime returns the timestamp of the left edge of pixel column x
func PixelTime(r TimeRange, width, x int) Time {
	if width <= 0 {
		return r.Start
	}
	offset := new(big.Rat).Mul(r.Duration.Rat(), big.NewRat(int64(x), int64(width)))
	return FromRat(offset.Add(offset, r.Start.Rat()))
}

// FrameBoundaries returns width+1 frame indices. Frames in
// [b[x], b[x+1]) belong to pixel column x, i.e. their timestamp t satisfies
// floor((t - Start) / (Duration/width)) == x. b[width] is the first frame
// past the end of the range. All arithmetic is exact.
func FrameBoundaries(r TimeRange, sampleRate, width int) []int64 {
	if width <= 0 {
		width = 1
	}
	bounds := make([]int64, width+1)
	if sampleRate <= 0 {
		return bounds
	}

	rate := new(big.Rat).SetInt64(int64(sampleRate))
	start := new(big.Rat).Mul(r.Start.Rat(), rate)
	span := new(big.Rat).Mul(r.Duration.Rat(), rate)
	w := big.NewRat(int64(width), 1)
	step := new(big.Rat).Quo(span, w)

	for x := 0; x <= width; x++ {
		edge := new(big.Rat).Mul(step, big.NewRat(int64(x), 1))
		edge.Add(edge, start)
		bounds[x] = ceilRat(edge)
	}

	return bounds
}
