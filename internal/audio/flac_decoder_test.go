package audio

import (
	"bytes"
	"testing"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveform.click/internal/audiotest"
)

// fakeFlac is a beep.StreamSeekCloser over stereo frames
type fakeFlac struct {
	frames [][2]float64
	pos    int
	err    error
	panics bool
	closed bool
}

func (f *fakeFlac) Stream(samples [][2]float64) (int, bool) {
	if f.panics {
		panic("support for 20 bits-per-sample and 1 channels combination not yet implemented")
	}
	if f.err != nil {
		return 0, false
	}
	if f.pos >= len(f.frames) {
		return 0, false
	}
	n := copy(samples, f.frames[f.pos:])
	f.pos += n
	return n, true
}

func (f *fakeFlac) Err() error    { return f.err }
func (f *fakeFlac) Len() int      { return len(f.frames) }
func (f *fakeFlac) Position() int { return f.pos }

func (f *fakeFlac) Seek(p int) error {
	f.pos = p
	return nil
}

func (f *fakeFlac) Close() error {
	f.closed = true
	return nil
}

func TestFlacDecoderInterface(t *testing.T) {
	decoder := NewFlacDecoder()
	var _ Decoder = decoder
	assert.Equal(t, "FLAC", decoder.FormatName())
	assert.True(t, decoder.CanDecode("a.FLAC"))
	assert.False(t, decoder.CanDecode("a.fla"))
}

func TestFlacDecoderInvalidData(t *testing.T) {
	stream, err := NewFlacDecoder().Decode(bytes.NewReader([]byte("fLaC")))
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.Nil(t, stream)
}

func TestFlacStreamMono(t *testing.T) {
	fake := &fakeFlac{frames: [][2]float64{{0.5, 0.5}, {-0.25, -0.25}, {1, 1}}}
	stream, err := newFlacStream(fake, beep.Format{SampleRate: 16000, NumChannels: 1, Precision: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, stream.Channels())
	assert.Equal(t, int64(3), stream.Frames())
	assert.Equal(t, []float32{0.5, -0.25, 1}, readAll(t, stream, 2))

	require.NoError(t, stream.Close())
	assert.True(t, fake.closed)
}

func TestFlacStreamStereoSeek(t *testing.T) {
	frames := make([][2]float64, 10)
	for i := range frames {
		frames[i] = [2]float64{float64(i) / 10, -float64(i) / 10}
	}
	stream, err := newFlacStream(&fakeFlac{frames: frames}, beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2})
	require.NoError(t, err)

	skipped, err := SkipFrames(stream, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), skipped)

	samples := readAll(t, stream, 4)
	require.Len(t, samples, 6)
	assert.InDelta(t, 0.7, samples[0], 1e-6)
	assert.InDelta(t, -0.7, samples[1], 1e-6)
}

func TestFlacStreamCapsChannels(t *testing.T) {
	stream, err := newFlacStream(&fakeFlac{frames: make([][2]float64, 4)}, beep.Format{SampleRate: 48000, NumChannels: 6, Precision: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, stream.Channels())
}

func TestFlacStreamDecodeError(t *testing.T) {
	stream, err := newFlacStream(&fakeFlac{frames: make([][2]float64, 4), err: assert.AnError}, beep.Format{SampleRate: 48000, NumChannels: 2, Precision: 2})
	require.NoError(t, err)

	_, err = stream.ReadSamples(make([]float32, 8))
	assert.ErrorIs(t, err, ErrReadFailure)
}

// flacHeader is the header of a one second mono stream at 8 kHz
func flacHeader(t *testing.T, bitDepth int) []byte {
	t.Helper()
	data, err := audiotest.EncodeFLACHeader(8000, bitDepth, 1, 8000)
	require.NoError(t, err)
	return data
}

// closeTracker records whether the decoder closed the reader it was given
type closeTracker struct {
	*bytes.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestFlacDecoderRejectsUnsupportedBitDepth(t *testing.T) {
	for _, bps := range []int{12, 20, 32} {
		stream, err := NewFlacDecoder().Decode(bytes.NewReader(flacHeader(t, bps)))
		assert.ErrorIs(t, err, ErrUnsupportedFormat, "%d bits", bps)
		assert.Nil(t, stream)
	}
}

func TestFlacDecoderLeavesReaderOpen(t *testing.T) {
	reader := &closeTracker{Reader: bytes.NewReader(flacHeader(t, 16))}

	stream, err := NewFlacDecoder().Decode(reader)
	require.NoError(t, err)
	assert.Equal(t, 1, stream.Channels())
	assert.Equal(t, 8000, stream.SampleRate())
	assert.Equal(t, int64(8000), stream.Frames())

	require.NoError(t, stream.Close())
	assert.False(t, reader.closed)
}

func TestFlacStreamRecoversDecoderPanic(t *testing.T) {
	stream, err := newFlacStream(&fakeFlac{frames: make([][2]float64, 4), panics: true}, beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2})
	require.NoError(t, err)

	var n int
	assert.NotPanics(t, func() {
		n, err = stream.ReadSamples(make([]float32, 4))
	})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrReadFailure)
}
