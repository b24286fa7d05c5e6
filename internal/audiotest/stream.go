package audiotest

import (
	"errors"
	"io"
	"sync/atomic"
)

// ErrInjected is returned by a MockStream configured to fail
var ErrInjected = errors.New("injected read failure")

// MockStream generates samples from a Waveform. It satisfies audio.Stream
// without importing the audio package. Wrap it in SeekableStream to also
// satisfy audio.FrameSeeker.
type MockStream struct {
	Rate      int
	Chans     int
	Total     int   // frames actually produced before EOF
	Reported  int64 // frames reported by Frames(); -1 for unknown
	Wave      Waveform
	FailAfter int // fail once this many frames were produced; 0 disables
	Reads     int

	pos    int
	closed atomic.Bool
}

// NewMockStream creates a stream reporting its true length
func NewMockStream(sampleRate, channels, frames int, wave Waveform) *MockStream {
	return &MockStream{
		Rate:     sampleRate,
		Chans:    channels,
		Total:    frames,
		Reported: int64(frames),
		Wave:     wave,
	}
}

func (m *MockStream) SampleRate() int { return m.Rate }
func (m *MockStream) Channels() int   { return m.Chans }
func (m *MockStream) Frames() int64   { return m.Reported }

// Position returns the next frame to be produced
func (m *MockStream) Position() int { return m.pos }

// Closed reports whether Close was called
func (m *MockStream) Closed() bool { return m.closed.Load() }

func (m *MockStream) Close() error {
	m.closed.Store(true)
	return nil
}

// SeekableStream is a MockStream that can jump to a frame
type SeekableStream struct {
	*MockStream
	Seeks int
}

// SeekFrame jumps to frame, clamped to the end of the stream
func (s *SeekableStream) SeekFrame(frame int64) error {
	s.Seeks++
	if frame > int64(s.Total) {
		frame = int64(s.Total)
	}
	s.pos = int(frame)
	return nil
}

func (m *MockStream) ReadSamples(dst []float32) (int, error) {
	m.Reads++
	frames := len(dst) / m.Chans
	n := 0
	for n < frames && m.pos < m.Total {
		if m.FailAfter > 0 && m.pos >= m.FailAfter {
			return n * m.Chans, ErrInjected
		}
		for c := 0; c < m.Chans; c++ {
			dst[n*m.Chans+c] = float32(m.Wave(m.pos, c))
		}
		m.pos++
		n++
	}
	if m.pos >= m.Total {
		return n * m.Chans, io.EOF
	}
	return n * m.Chans, nil
}
