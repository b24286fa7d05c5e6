package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"waveform.click/internal/audio"
	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
	"waveform.click/internal/waveform"
)

var (
	ErrInvalidOptions = errors.New("invalid render options")
	ErrInvalidColor   = errors.New("invalid color")
	ErrEmptyImage     = errors.New("nothing to render")
)

// BandSource is the part of the waveform cache the renderer reads from
type BandSource interface {
	ReadRange(r mediatime.TimeRange, width int, pixels waveform.PixelRange, handler waveform.BandHandler) error
}

// Options controls how bands are drawn
type Options struct {
	Height        int
	NormalColor   color.Color
	ProgressColor color.Color
	Background    color.Color

	// Columns whose timestamp is before ProgressTime use ProgressColor
	ProgressTime mediatime.Time

	// Precision is the bar density in (0, 1]: 1 draws a bar every column,
	// 0.25 every fourth column
	Precision float64

	// LineWidthRatio is the bar width as a fraction of the bar spacing
	LineWidthRatio float64

	// Padding is left blank above and below every channel lane
	Padding int
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Height:         200,
		NormalColor:    color.RGBA{180, 228, 255, 255},
		ProgressColor:  color.RGBA{255, 170, 60, 255},
		Background:     color.RGBA{38, 38, 44, 255},
		ProgressTime:   mediatime.Zero,
		Precision:      1,
		LineWidthRatio: 1,
		Padding:        0,
	}
}

// Validate checks option ranges and reports every problem at once
func (o Options) Validate() error {
	var problems []string
	if o.Height < 1 {
		problems = append(problems, fmt.Sprintf("height must be positive, got %d", o.Height))
	}
	if o.Precision <= 0 || o.Precision > 1 || math.IsNaN(o.Precision) {
		problems = append(problems, fmt.Sprintf("precision must be in (0, 1], got %g", o.Precision))
	}
	if o.LineWidthRatio <= 0 || o.LineWidthRatio > 1 || math.IsNaN(o.LineWidthRatio) {
		problems = append(problems, fmt.Sprintf("line width ratio must be in (0, 1], got %g", o.LineWidthRatio))
	}
	if o.Padding < 0 {
		problems = append(problems, fmt.Sprintf("padding must not be negative, got %d", o.Padding))
	}
	if o.NormalColor == nil || o.ProgressColor == nil || o.Background == nil {
		problems = append(problems, "colors must be set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}

// Renderer draws cached bands into an image
type Renderer struct {
	opts Options
}

// NewRenderer validates opts and returns a renderer using them
func NewRenderer(opts Options) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Renderer{opts: opts}, nil
}

// Options returns the renderer's options
func (r *Renderer) Options() Options {
	return r.opts
}

// column is one pixel column of every channel
type column struct {
	ts    mediatime.Time
	peaks map[int]float32
}

// Render reads every column of r at width from src and draws it. The bands
// must already be cached. Channels are stacked top to bottom in ascending
// order.
func (r *Renderer) Render(src BandSource, tr mediatime.TimeRange, width int) (*image.RGBA, error) {
	width = waveform.NormalizeWidth(width)
	slog.Debug("rendering waveform", "range", tr.String(), "width", width, "height", r.opts.Height)

	cols := make([]column, width)
	firstCh, lastCh := math.MaxInt, -1
	err := src.ReadRange(tr, width, waveform.AllPixels(width), func(ch, x int, amp float32, ts mediatime.Time) {
		if x < 0 || x >= width {
			return
		}
		if cols[x].peaks == nil {
			cols[x] = column{ts: ts, peaks: make(map[int]float32)}
		}
		cols[x].peaks[ch] = amp
		firstCh = min(firstCh, ch)
		lastCh = max(lastCh, ch)
	})
	if err != nil {
		slog.Error("failed to read bands for rendering", "range", tr.String(), "width", width, "error", err)
		return nil, fmt.Errorf("failed to read bands: %w", err)
	}
	if lastCh < 0 {
		return nil, ErrEmptyImage
	}

	img := image.NewRGBA(image.Rect(0, 0, width, r.opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.opts.Background), image.Point{}, draw.Src)

	lanes := lastCh - firstCh + 1
	laneHeight := r.opts.Height / lanes
	step := r.step()
	barWidth := max(1, int(math.Round(step*r.opts.LineWidthRatio)))
	normal := image.NewUniform(r.opts.NormalColor)
	progress := image.NewUniform(r.opts.ProgressColor)

	for i := 0; ; i++ {
		x := int(math.Round(float64(i) * step))
		if x >= width {
			break
		}
		next := min(width, int(math.Round(float64(i+1)*step)))
		if next <= x {
			next = x + 1
		}

		paint := normal
		if cols[x].peaks != nil && cols[x].ts.Before(r.opts.ProgressTime) {
			paint = progress
		}

		for lane := 0; lane < lanes; lane++ {
			amp := peakOver(cols[x:next], firstCh+lane)
			top := lane * laneHeight
			rect := barRect(x, min(width, x+barWidth), top, laneHeight, r.opts.Padding, amp)
			draw.Draw(img, rect, paint, image.Point{}, draw.Over)
		}
	}

	slog.Debug("waveform rendered", "width", width, "height", r.opts.Height, "channels", lanes, "bar_width", barWidth)
	return img, nil
}

// step is the spacing between bars in columns
func (r *Renderer) step() float64 {
	return 1 / r.opts.Precision
}

// peakOver is the loudest band of ch across the columns a bar covers
func peakOver(cols []column, ch int) float32 {
	var peak float32
	for _, c := range cols {
		if v := c.peaks[ch]; v > peak {
			peak = v
		}
	}
	return min(peak, 1)
}

// barRect is a bar centred in its lane, at least one pixel tall
func barRect(x0, x1, top, laneHeight, padding int, amp float32) image.Rectangle {
	usable := laneHeight - 2*padding
	if usable < 1 {
		usable = 1
	}
	center := top + padding + usable/2
	half := int(math.Round(float64(amp) * float64(usable) / 2))
	y0 := max(top+padding, center-half)
	y1 := min(top+padding+usable, center+half+1)
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// ParseHexColor parses #rgb, #rrggbb or #rrggbbaa
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}

// GenerateImage renders the whole asset at width x height in one color
func GenerateImage(ctx context.Context, asset media.Asset, registry *audio.DecoderRegistry, width, height int, c color.Color) (*image.RGBA, error) {
	slog.Debug("generating waveform image", "asset_id", asset.ID(), "width", width, "height", height)

	src, err := media.Open(asset, registry)
	if err != nil {
		return nil, err
	}
	if src.NominalDuration().IsZero() {
		return nil, fmt.Errorf("%w: duration of %s is unknown", ErrEmptyImage, asset.Name())
	}

	cache := waveform.NewCache(registry, waveform.WithSourceOpener(func(media.Asset) (waveform.SampleReader, error) {
		return src, nil
	}))
	cache.SetAsset(asset)
	defer cache.Close()

	whole := mediatime.NewRange(mediatime.Zero, src.NominalDuration())
	if err := cache.ReadTimeRange(ctx, whole, width); err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	opts.Height = height
	opts.NormalColor = c
	opts.ProgressColor = c
	opts.Background = color.Transparent

	r, err := NewRenderer(opts)
	if err != nil {
		return nil, err
	}
	return r.Render(cache, whole, width)
}
