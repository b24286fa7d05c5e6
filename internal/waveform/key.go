package waveform

import (
	"fmt"

	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
)

// Key identifies one memoizable extraction. The range is the requested one,
// before clamping, and the selector is kept as given.
type Key struct {
	AssetID  string
	Range    mediatime.TimeRange
	Width    int
	Channels media.ChannelSelector
}

// String is exact: equal keys always produce equal strings, regardless of
// the time scale the range was expressed in
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.AssetID, k.Range.Key(), k.Width, k.Channels.Key())
}

// PixelRange is a half-open range of pixel columns [Start, End)
type PixelRange struct {
	Start int
	End   int
}

// AllPixels covers every column of a width
func AllPixels(width int) PixelRange {
	return PixelRange{Start: 0, End: width}
}

// clamp limits the range to [0, width)
func (p PixelRange) clamp(width int) PixelRange {
	start, end := p.Start, p.End
	if start < 0 {
		start = 0
	}
	if end > width {
		end = width
	}
	if end < start {
		end = start
	}
	return PixelRange{Start: start, End: end}
}

// Len returns the number of columns in the range
func (p PixelRange) Len() int {
	if p.End < p.Start {
		return 0
	}
	return p.End - p.Start
}
