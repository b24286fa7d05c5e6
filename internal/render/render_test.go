package render

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveform.click/internal/audiotest"
	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
	"waveform.click/internal/waveform"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	black = color.RGBA{0, 0, 0, 255}
)

// fakeBands serves a fixed grid of peaks, one slice per channel
type fakeBands struct {
	peaks [][]float32
	err   error
}

func (f *fakeBands) ReadRange(r mediatime.TimeRange, width int, pixels waveform.PixelRange, handler waveform.BandHandler) error {
	if f.err != nil {
		return f.err
	}
	for x := pixels.Start; x < pixels.End; x++ {
		for ch, peaks := range f.peaks {
			handler(ch, x, peaks[x], mediatime.PixelTime(r, width, x))
		}
	}
	return nil
}

func testOptions(height int) Options {
	opts := DefaultOptions()
	opts.Height = height
	opts.NormalColor = red
	opts.ProgressColor = green
	opts.Background = black
	return opts
}

func oneSecond() mediatime.TimeRange {
	return mediatime.NewRange(mediatime.Zero, mediatime.New(1, 1))
}

func TestRenderBarsFromCenter(t *testing.T) {
	r, err := NewRenderer(testOptions(11))
	require.NoError(t, err)

	img, err := r.Render(&fakeBands{peaks: [][]float32{{0, 1, 0.5, 0}}}, oneSecond(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 11, img.Bounds().Dy())

	// silence is a single centre pixel
	assert.Equal(t, red, img.RGBAAt(0, 5))
	assert.Equal(t, black, img.RGBAAt(0, 4))
	assert.Equal(t, black, img.RGBAAt(0, 6))

	// full amplitude fills the column
	assert.Equal(t, red, img.RGBAAt(1, 0))
	assert.Equal(t, red, img.RGBAAt(1, 10))

	// half amplitude
	assert.Equal(t, black, img.RGBAAt(2, 1))
	assert.Equal(t, red, img.RGBAAt(2, 2))
	assert.Equal(t, red, img.RGBAAt(2, 8))
	assert.Equal(t, black, img.RGBAAt(2, 9))
}

func TestRenderProgressColor(t *testing.T) {
	opts := testOptions(10)
	opts.ProgressTime = mediatime.New(1, 2)
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	img, err := r.Render(&fakeBands{peaks: [][]float32{{1, 1, 1, 1}}}, oneSecond(), 4)
	require.NoError(t, err)

	assert.Equal(t, green, img.RGBAAt(0, 5))
	assert.Equal(t, green, img.RGBAAt(1, 5))
	assert.Equal(t, red, img.RGBAAt(2, 5), "column starting at the progress time is not played yet")
	assert.Equal(t, red, img.RGBAAt(3, 5))
}

func TestRenderStacksChannels(t *testing.T) {
	r, err := NewRenderer(testOptions(20))
	require.NoError(t, err)

	img, err := r.Render(&fakeBands{peaks: [][]float32{{1}, {0}}}, oneSecond(), 1)
	require.NoError(t, err)

	assert.Equal(t, red, img.RGBAAt(0, 0))
	assert.Equal(t, red, img.RGBAAt(0, 9))
	assert.Equal(t, black, img.RGBAAt(0, 12))
	assert.Equal(t, red, img.RGBAAt(0, 15))
	assert.Equal(t, black, img.RGBAAt(0, 19))
}

func TestRenderPrecisionAndLineWidth(t *testing.T) {
	opts := testOptions(11)
	opts.Precision = 0.5
	opts.LineWidthRatio = 0.5
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	img, err := r.Render(&fakeBands{peaks: [][]float32{{0, 1, 0, 0}}}, oneSecond(), 4)
	require.NoError(t, err)

	assert.Equal(t, red, img.RGBAAt(0, 0), "bar carries the loudest column it covers")
	assert.Equal(t, black, img.RGBAAt(1, 0), "gap between bars")
	assert.Equal(t, red, img.RGBAAt(2, 5))
	assert.Equal(t, black, img.RGBAAt(3, 5))
}

func TestRenderPadding(t *testing.T) {
	opts := testOptions(12)
	opts.Padding = 2
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	img, err := r.Render(&fakeBands{peaks: [][]float32{{1}}}, oneSecond(), 1)
	require.NoError(t, err)

	assert.Equal(t, black, img.RGBAAt(0, 0))
	assert.Equal(t, black, img.RGBAAt(0, 1))
	assert.Equal(t, red, img.RGBAAt(0, 2))
	assert.Equal(t, red, img.RGBAAt(0, 9))
	assert.Equal(t, black, img.RGBAAt(0, 10))
}

func TestRenderErrors(t *testing.T) {
	r, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = r.Render(&fakeBands{err: boom}, oneSecond(), 4)
	assert.ErrorIs(t, err, boom)

	_, err = r.Render(&fakeBands{}, oneSecond(), 4)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestRenderRequiresCachedBands(t *testing.T) {
	data, err := audiotest.EncodeWAV(8000, 16, 1, 8000, audiotest.Constant(0.5))
	require.NoError(t, err)

	cache := waveform.NewCache(nil)
	cache.SetAsset(media.NewBytesAsset("a", "a.wav", data))

	r, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)

	_, err = r.Render(cache, oneSecond(), 10)
	assert.ErrorIs(t, err, waveform.ErrNotCached)

	require.NoError(t, cache.ReadTimeRange(context.Background(), oneSecond(), 10))
	img, err := r.Render(cache, oneSecond(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		valid  bool
	}{
		{"defaults", func(o *Options) {}, true},
		{"zero height", func(o *Options) { o.Height = 0 }, false},
		{"zero precision", func(o *Options) { o.Precision = 0 }, false},
		{"precision above one", func(o *Options) { o.Precision = 1.5 }, false},
		{"small precision", func(o *Options) { o.Precision = 0.1 }, true},
		{"zero line width", func(o *Options) { o.LineWidthRatio = 0 }, false},
		{"negative padding", func(o *Options) { o.Padding = -1 }, false},
		{"missing color", func(o *Options) { o.Background = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	opts := DefaultOptions()
	opts.Height = 0
	opts.Padding = -1

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "height")
	assert.Contains(t, err.Error(), "padding")

	_, err = NewRenderer(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
		ok   bool
	}{
		{"#ff0000", color.RGBA{255, 0, 0, 255}, true},
		{"00ff00", color.RGBA{0, 255, 0, 255}, true},
		{"#abc", color.RGBA{0xaa, 0xbb, 0xcc, 255}, true},
		{"#11223344", color.RGBA{0x11, 0x22, 0x33, 0x44}, true},
		{"#12345", color.RGBA{}, false},
		{"#gggggg", color.RGBA{}, false},
		{"", color.RGBA{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHexColor(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidColor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodePNG(t *testing.T) {
	r, err := NewRenderer(testOptions(8))
	require.NoError(t, err)
	img, err := r.Render(&fakeBands{peaks: [][]float32{{0.5, 0.5}}}, oneSecond(), 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, img))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestGenerateImage(t *testing.T) {
	data, err := audiotest.EncodeWAV(8000, 16, 1, 8000, audiotest.Constant(0.5))
	require.NoError(t, err)
	asset := media.NewBytesAsset("gen", "gen.wav", data)

	img, err := GenerateImage(context.Background(), asset, nil, 20, 10, red)
	require.NoError(t, err)

	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A, "background is transparent")
	assert.Equal(t, red, img.RGBAAt(0, 5))
	assert.Equal(t, red, img.RGBAAt(19, 5))
}

func TestGenerateImageUnreadable(t *testing.T) {
	asset := media.NewBytesAsset("junk", "junk.bin", []byte("definitely not audio"))

	_, err := GenerateImage(context.Background(), asset, nil, 20, 10, red)
	assert.ErrorIs(t, err, media.ErrUnreadableAsset)
}
