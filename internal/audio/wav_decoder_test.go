package audio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveform.click/internal/audiotest"
)

func readAll(t *testing.T, stream Stream, chunkFrames int) []float32 {
	t.Helper()

	var out []float32
	buf := make([]float32, chunkFrames*stream.Channels())
	for {
		n, err := stream.ReadSamples(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestWavDecoderInterface(t *testing.T) {
	decoder := NewWavDecoder()
	var _ Decoder = decoder
	assert.Equal(t, "WAV", decoder.FormatName())
}

func TestWavDecoderCanDecode(t *testing.T) {
	decoder := NewWavDecoder()

	testCases := []struct {
		filename string
		expected bool
	}{
		{"audio.wav", true},
		{"sound.WAV", true},
		{"take.wave", true},
		{"audio.mp3", false},
		{"", false},
		{"wav", false},
		{"audio.wav.backup", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, decoder.CanDecode(tc.filename), "CanDecode(%q)", tc.filename)
	}
}

func TestWavDecoderInvalidData(t *testing.T) {
	decoder := NewWavDecoder()

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"not a wav", []byte("definitely not RIFF data at all")},
		{"truncated header", []byte("RIFF\x00\x00")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stream, err := decoder.Decode(bytes.NewReader(tc.data))
			assert.Error(t, err)
			assert.Nil(t, stream)
		})
	}
}

func TestWavDecoderMono16(t *testing.T) {
	wave := audiotest.Sine(100, 0.8, 8000)
	data, err := audiotest.EncodeWAV(8000, 16, 1, 800, wave)
	require.NoError(t, err)

	stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, 8000, stream.SampleRate())
	assert.Equal(t, 1, stream.Channels())
	assert.Equal(t, int64(800), stream.Frames())

	samples := readAll(t, stream, 128)
	require.Len(t, samples, 800)
	for i := 0; i < 800; i += 37 {
		assert.InDelta(t, audiotest.Quantize(wave(i, 0), 16), samples[i], 1e-6, "frame %d", i)
	}
}

func TestWavDecoderStereoInterleaving(t *testing.T) {
	wave := audiotest.PerChannel(audiotest.Constant(0.25), audiotest.Constant(-0.5))
	data, err := audiotest.EncodeWAV(44100, 16, 2, 441, wave)
	require.NoError(t, err)

	stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)

	samples := readAll(t, stream, 100)
	require.Len(t, samples, 882)
	for i := 0; i < len(samples); i += 2 {
		assert.InDelta(t, 0.25, samples[i], 1e-4)
		assert.InDelta(t, -0.5, samples[i+1], 1e-4)
	}
}

func TestWavDecoderMultichannel(t *testing.T) {
	// More channels than go-wav's sample type can carry
	wave := func(frame, channel int) float64 { return float64(channel+1) / 10 }
	data, err := audiotest.EncodeWAV(48000, 24, 6, 300, wave)
	require.NoError(t, err)

	stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 6, stream.Channels())

	samples := readAll(t, stream, 64)
	require.Len(t, samples, 300*6)
	for c := 0; c < 6; c++ {
		assert.InDelta(t, float64(c+1)/10, samples[6*150+c], 1e-5, "channel %d", c)
	}
}

func TestWavDecoderBitDepths(t *testing.T) {
	for _, bits := range []int{16, 24, 32} {
		wave := audiotest.Impulse(audiotest.Constant(-0.3), 5, -1, 0.9)
		data, err := audiotest.EncodeWAV(8000, bits, 1, 10, wave)
		require.NoError(t, err)

		stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
		require.NoError(t, err, "bits=%d", bits)

		samples := readAll(t, stream, 4)
		require.Len(t, samples, 10)
		assert.InDelta(t, audiotest.Quantize(-0.3, bits), samples[0], 1e-6, "bits=%d", bits)
		assert.InDelta(t, audiotest.Quantize(0.9, bits), samples[5], 1e-6, "bits=%d", bits)
	}
}

func TestWavDecoderNonRandomAccessReader(t *testing.T) {
	data, err := audiotest.EncodeWAV(8000, 16, 1, 64, audiotest.Constant(0.5))
	require.NoError(t, err)

	// Only io.ReadSeeker, no io.ReaderAt
	reader := struct{ io.ReadSeeker }{bytes.NewReader(data)}

	stream, err := NewWavDecoder().Decode(reader)
	require.NoError(t, err)
	assert.Len(t, readAll(t, stream, 16), 64)
}

func TestWavDecoderSkipFrames(t *testing.T) {
	wave := func(frame, channel int) float64 { return float64(frame) / 1000 }
	data, err := audiotest.EncodeWAV(1000, 16, 1, 1000, wave)
	require.NoError(t, err)

	stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)

	skipped, err := SkipFrames(stream, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), skipped)

	buf := make([]float32, 1)
	n, err := stream.ReadSamples(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.InDelta(t, audiotest.Quantize(0.5, 16), buf[0], 1e-6)
}

// countingReader counts the bytes served through Read and ReadAt
type countingReader struct {
	*bytes.Reader
	served int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.served += int64(n)
	return n, err
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.Reader.ReadAt(p, off)
	c.served += int64(n)
	return n, err
}

func TestWavDecoderSeekReadsOnlyTheWindow(t *testing.T) {
	const rate = 8000
	late := 59 * rate
	wave := audiotest.Impulse(audiotest.Constant(0.1), late+10, 0, 0.9)
	data, err := audiotest.EncodeWAV(rate, 16, 1, 60*rate, wave)
	require.NoError(t, err)

	reader := &countingReader{Reader: bytes.NewReader(data)}
	stream, err := NewWavDecoder().Decode(reader)
	require.NoError(t, err)
	require.Implements(t, (*FrameSeeker)(nil), stream)

	skipped, err := SkipFrames(stream, int64(late))
	require.NoError(t, err)
	assert.Equal(t, int64(late), skipped)

	samples := readAll(t, stream, 1024)
	require.Len(t, samples, rate)
	assert.InDelta(t, audiotest.Quantize(0.1, 16), samples[0], 1e-6)
	assert.InDelta(t, audiotest.Quantize(0.9, 16), samples[10], 1e-6)

	// The last second is 16,000 bytes of a 960,044 byte file
	assert.Less(t, reader.served, int64(2*rate*2+8192), "served %d bytes", reader.served)
}

func TestWavDecoderSeekClampsToEnd(t *testing.T) {
	data, err := audiotest.EncodeWAV(1000, 16, 1, 100, audiotest.Constant(0.5))
	require.NoError(t, err)

	stream, err := NewWavDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)

	require.NoError(t, stream.(FrameSeeker).SeekFrame(500))
	n, err := stream.ReadSamples(make([]float32, 4))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, stream.(FrameSeeker).SeekFrame(98))
	assert.Len(t, readAll(t, stream, 4), 2)
}

func TestWavDecoderTruncatedChunkList(t *testing.T) {
	data, err := audiotest.EncodeWAV(8000, 16, 1, 64, audiotest.Constant(0.5))
	require.NoError(t, err)

	// Claim a larger RIFF body so the chunk walk runs past the end
	grown := append([]byte(nil), data...)
	grown[4], grown[5], grown[6], grown[7] = 0xff, 0xff, 0x00, 0x00

	var stream Stream
	assert.NotPanics(t, func() {
		stream, err = NewWavDecoder().Decode(bytes.NewReader(grown))
	})
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.Nil(t, stream)
}
