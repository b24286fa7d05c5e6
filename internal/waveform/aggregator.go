// Package waveform reduces decoded samples to per-pixel peak bands and
// memoizes the results per asset.
package waveform

import (
	"context"
	"log/slog"
	"math"

	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
)

// SampleReader is the part of media.SampleSource the aggregator needs
type SampleReader interface {
	ReadClampedRange(ctx context.Context, clamped mediatime.TimeRange, width int, sel media.ChannelSelector, yield func(media.Sample) error) error
	ClampRange(r mediatime.TimeRange) mediatime.TimeRange
	Channels() int
	ActualDuration() mediatime.Time
}

// Bands holds width peak amplitudes for each channel of a range. It is not
// modified after Aggregate returns.
type Bands struct {
	Range        mediatime.TimeRange
	Width        int
	Channels     media.ChannelRange
	TimePerPixel mediatime.Time

	peaks [][]float32
}

// NormalizeWidth treats widths below one as a single column
func NormalizeWidth(width int) int {
	if width < 1 {
		return 1
	}
	return width
}

func newBands(r mediatime.TimeRange, width int, channels media.ChannelRange) *Bands {
	peaks := make([][]float32, channels.Count())
	for i := range peaks {
		peaks[i] = make([]float32, width)
	}
	return &Bands{
		Range:        r,
		Width:        width,
		Channels:     channels,
		TimePerPixel: r.PerPixel(width),
		peaks:        peaks,
	}
}

// Peak returns the amplitude of column x for channel, 0 outside the bands
func (b *Bands) Peak(channel, x int) float32 {
	if !b.Channels.Contains(channel) || x < 0 || x >= b.Width {
		return 0
	}
	return b.peaks[channel-b.Channels.First][x]
}

// Channel returns a copy of the bands of one channel, nil if not selected
func (b *Bands) Channel(channel int) []float32 {
	if !b.Channels.Contains(channel) {
		return nil
	}
	out := make([]float32, b.Width)
	copy(out, b.peaks[channel-b.Channels.First])
	return out
}

// PixelTime returns the timestamp of the left edge of column x
func (b *Bands) PixelTime(x int) mediatime.Time {
	return mediatime.PixelTime(b.Range, b.Width, x)
}

// Max returns the largest amplitude across all channels
func (b *Bands) Max() float32 {
	var top float32
	for _, ch := range b.peaks {
		for _, v := range ch {
			if v > top {
				top = v
			}
		}
	}
	return top
}

// Aggregate decodes r from src and keeps, for every channel and pixel
// column, the largest absolute sample value. Columns that receive no
// samples stay at 0.
func Aggregate(ctx context.Context, src SampleReader, r mediatime.TimeRange, width int, sel media.ChannelSelector) (*Bands, error) {
	width = NormalizeWidth(width)
	clamped := src.ClampRange(r)
	channels := sel.Resolve(src.Channels())

	slog.Debug("aggregating bands",
		"range", clamped.String(),
		"width", width,
		"channels", channels.String())

	bands := newBands(clamped, width, channels)

	err := src.ReadClampedRange(ctx, clamped, width, sel, func(s media.Sample) error {
		if !channels.Contains(s.Channel) {
			return nil
		}
		x := s.Pixel
		if x < 0 {
			x = 0
		} else if x >= width {
			x = width - 1
		}
		v := float32(math.Abs(float64(s.Value)))
		bucket := &bands.peaks[s.Channel-channels.First][x]
		if v > *bucket {
			*bucket = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("bands aggregated",
		"range", clamped.String(),
		"width", width,
		"peak", bands.Max())

	return bands, nil
}
