package mediatime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeArithmeticIsExact(t *testing.T) {
	a := New(1, 3)
	b := New(1, 6)

	sum := a.Add(b)
	assert.True(t, sum.Equal(New(1, 2)), "1/3 + 1/6 should be 1/2, got %v/%v", sum.Value, sum.Scale)

	diff := a.Sub(b)
	assert.True(t, diff.Equal(New(1, 6)))

	// 0.1s added ten times stays exactly one second
	acc := Zero
	for i := 0; i < 10; i++ {
		acc = acc.Add(New(60, 600))
	}
	assert.True(t, acc.Equal(New(1, 1)))
}

func TestTimeZeroScaleNormalizes(t *testing.T) {
	tm := Time{Value: 600}
	assert.Equal(t, 1.0, tm.Seconds())
	assert.Equal(t, DefaultScale, New(5, 0).Scale)
}

func TestTimeCompare(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     Time
		expected int
	}{
		{"equal across scales", New(1, 2), New(300, 600), 0},
		{"before", New(1, 3), New(1, 2), -1},
		{"after", New(44101, 44100), New(1, 1), 1},
		{"negative", New(-1, 10), Zero, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
		})
	}
}

func TestTimeDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, New(900, 600).Duration())
	assert.Equal(t, 40*time.Millisecond, FromDuration(40*time.Millisecond).Duration())
}

func TestTimeDiv(t *testing.T) {
	perPixel := New(2, 1).Div(50)
	assert.Equal(t, 40*time.Millisecond, perPixel.Duration())
	assert.True(t, New(2, 1).Div(0).IsZero())
}

func TestTimeKeyIsScaleIndependent(t *testing.T) {
	assert.Equal(t, New(1, 2).Key(), New(300, 600).Key())
	assert.NotEqual(t, New(1, 2).Key(), New(1, 3).Key())
}

func TestFromSeconds(t *testing.T) {
	tm := FromSeconds(2.5, 1000)
	assert.Equal(t, int64(2500), tm.Value)
	assert.Equal(t, int32(1000), tm.Scale)
}

func TestMinMax(t *testing.T) {
	a, b := New(1, 1), New(2, 1)
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max(a, b).Equal(b))
}

func TestRangeClamp(t *testing.T) {
	limit := New(10, 1)

	testCases := []struct {
		name          string
		in            TimeRange
		expectedStart float64
		expectedDur   float64
	}{
		{"inside", RangeFromSeconds(2, 2, 600), 2, 2},
		{"past end", RangeFromSeconds(8, 5, 600), 8, 2},
		{"negative start", RangeFromSeconds(-1, 3, 600), 0, 2},
		{"negative duration", RangeFromSeconds(3, -1, 600), 3, 0},
		{"entirely after", RangeFromSeconds(12, 3, 600), 10, 0},
		{"entirely before", RangeFromSeconds(-5, 2, 600), 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := tc.in.Clamp(limit)
			assert.InDelta(t, tc.expectedStart, out.Start.Seconds(), 1e-9)
			assert.InDelta(t, tc.expectedDur, out.Duration.Seconds(), 1e-9)
			assert.GreaterOrEqual(t, out.Duration.Compare(Zero), 0)
		})
	}
}

func TestRangeClampStart(t *testing.T) {
	out := RangeFromSeconds(-1, 3, 600).ClampStart()
	assert.InDelta(t, 0, out.Start.Seconds(), 1e-9)
	assert.InDelta(t, 2, out.Duration.Seconds(), 1e-9)

	out = RangeFromSeconds(5, 100, 600).ClampStart()
	assert.InDelta(t, 100, out.Duration.Seconds(), 1e-9)
}

func TestRangePerPixel(t *testing.T) {
	r := RangeFromSeconds(2, 2, 600)
	assert.Equal(t, 40*time.Millisecond, r.PerPixel(50).Duration())
}

func TestPixelTime(t *testing.T) {
	r := RangeFromSeconds(2, 2, 600)
	assert.True(t, PixelTime(r, 50, 0).Equal(New(2, 1)))
	assert.True(t, PixelTime(r, 50, 1).Equal(New(2040, 1000)))
	assert.True(t, PixelTime(r, 50, 50).Equal(New(4, 1)))
}

func TestFrameBoundaries(t *testing.T) {
	// 1 second at 10 Hz over 4 pixels: each pixel spans 2.5 frames
	bounds := FrameBoundaries(RangeFromSeconds(0, 1, 600), 10, 4)
	require.Len(t, bounds, 5)
	assert.Equal(t, []int64{0, 3, 5, 8, 10}, bounds)
}

func TestFrameBoundariesOffsetStart(t *testing.T) {
	// [2s, 4s) at 1000 Hz over 50 pixels: 40 frames per pixel starting at frame 2000
	bounds := FrameBoundaries(RangeFromSeconds(2, 2, 600), 1000, 50)
	require.Len(t, bounds, 51)
	assert.Equal(t, int64(2000), bounds[0])
	assert.Equal(t, int64(2040), bounds[1])
	assert.Equal(t, int64(4000), bounds[50])
}

func TestFrameBoundariesMatchFloorMapping(t *testing.T) {
	r := NewRange(New(7, 3), New(5, 7))
	rate, width := 44100, 37
	bounds := FrameBoundaries(r, rate, width)
	perPixel := r.PerPixel(width)

	for x := 0; x < width; x++ {
		for f := bounds[x]; f < bounds[x+1]; f++ {
			offset := FromFrames(f, rate).Sub(r.Start)
			// offset / perPixel must floor to x
			lo := perPixel.MulFrac(int64(x), 1)
			hi := perPixel.MulFrac(int64(x+1), 1)
			require.False(t, offset.Before(lo), "frame %d before pixel %d", f, x)
			require.True(t, offset.Before(hi), "frame %d past pixel %d", f, x)
		}
	}
}

func TestFrameBoundariesWidthsAreSane(t *testing.T) {
	bounds := FrameBoundaries(RangeFromSeconds(0, 1, 600), 0, 3)
	assert.Equal(t, []int64{0, 0, 0, 0}, bounds)

	bounds = FrameBoundaries(RangeFromSeconds(0, 1, 600), 8, 0)
	assert.Len(t, bounds, 2)
}
