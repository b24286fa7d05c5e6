package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	mewflac "github.com/mewkiz/flac"
)

// FlacDecoder handles FLAC decoding through beep. beep streams at most two
// channels, so files with more channels expose their first two.
type FlacDecoder struct{}

// NewFlacDecoder creates a new FLAC decoder instance
func NewFlacDecoder() *FlacDecoder {
	slog.Debug("creating new FLAC decoder instance")
	return &FlacDecoder{}
}

// Decode opens a FLAC stream
func (d *FlacDecoder) Decode(reader io.ReadSeeker) (Stream, error) {
	slog.Debug("starting FLAC decode operation")

	if err := checkFlacStreamInfo(reader); err != nil {
		return nil, err
	}

	// beep closes any io.Closer it is given; the caller owns reader.
	// Seeking is only enabled when beep receives an io.ReadSeeker.
	streamer, format, err := flac.Decode(struct{ io.ReadSeeker }{reader})
	if err != nil {
		slog.Error("failed to create FLAC decoder", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return newFlacStream(streamer, format)
}

// checkFlacStreamInfo rejects sample sizes beep cannot convert and rewinds reader
func checkFlacStreamInfo(reader io.ReadSeeker) error {
	info, err := mewflac.New(reader)
	if err != nil {
		slog.Error("failed to parse FLAC stream info", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		slog.Error("failed to rewind FLAC reader", "error", err)
		return fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	switch bps := info.Info.BitsPerSample; bps {
	case 8, 16, 24:
		return nil
	default:
		slog.Error("unsupported FLAC bit depth",
			"bits", bps,
			"channels", info.Info.NChannels)
		return fmt.Errorf("%w: %d-bit FLAC", ErrUnsupportedFormat, bps)
	}
}

func newFlacStream(streamer beep.StreamSeekCloser, format beep.Format) (*flacStream, error) {
	channels := format.NumChannels
	if channels > 2 {
		slog.Warn("FLAC stream has more than two channels, exposing the first two",
			"channels", channels)
		channels = 2
	}
	if channels <= 0 || format.SampleRate <= 0 {
		slog.Error("invalid FLAC stream parameters",
			"channels", format.NumChannels,
			"sample_rate", format.SampleRate)
		streamer.Close()
		return nil, ErrInvalidData
	}

	frames := int64(streamer.Len())
	if frames <= 0 {
		frames = -1
	}

	slog.Info("FLAC stream opened",
		"channels", channels,
		"sample_rate", int(format.SampleRate),
		"frames", frames)

	return &flacStream{
		streamer:   streamer,
		sampleRate: int(format.SampleRate),
		channels:   channels,
		frames:     frames,
	}, nil
}

// CanDecode checks if this decoder can handle the given filename
func (d *FlacDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".flac")

	slog.Debug("FLAC decoder file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// FormatName returns the name of the format this decoder handles
func (d *FlacDecoder) FormatName() string {
	return "FLAC"
}

type flacStream struct {
	streamer   beep.StreamSeekCloser
	sampleRate int
	channels   int
	frames     int64
	buf        [][2]float64
}

func (s *flacStream) SampleRate() int { return s.sampleRate }
func (s *flacStream) Channels() int   { return s.channels }
func (s *flacStream) Frames() int64   { return s.frames }

func (s *flacStream) Close() error {
	return s.streamer.Close()
}

// SeekFrame positions the streamer at a frame index
func (s *flacStream) SeekFrame(frame int64) error {
	if s.frames >= 0 && frame >= s.frames {
		frame = s.frames
	}
	return s.streamer.Seek(int(frame))
}

func (s *flacStream) ReadSamples(dst []float32) (n int, err error) {
	frames := len(dst) / s.channels
	if frames == 0 {
		return 0, nil
	}

	// beep panics on frames it cannot convert
	defer func() {
		if r := recover(); r != nil {
			slog.Error("FLAC decoder panicked", "panic", r)
			n, err = 0, fmt.Errorf("%w: %v", ErrReadFailure, r)
		}
	}()

	if cap(s.buf) < frames {
		s.buf = make([][2]float64, frames)
	}
	s.buf = s.buf[:frames]

	read, ok := s.streamer.Stream(s.buf)
	for i := 0; i < read; i++ {
		dst[i*s.channels] = float32(s.buf[i][0])
		if s.channels == 2 {
			dst[i*s.channels+1] = float32(s.buf[i][1])
		}
	}

	if !ok {
		if err := s.streamer.Err(); err != nil {
			slog.Error("failed to decode FLAC frames", "error", err)
			return read * s.channels, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
		return read * s.channels, io.EOF
	}
	return read * s.channels, nil
}
