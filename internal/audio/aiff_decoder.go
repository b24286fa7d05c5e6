package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
)

// aiffReader is the subset of aiff.Decoder used by the stream
type aiffReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// AiffDecoder handles AIFF audio format decoding
type AiffDecoder struct{}

// NewAiffDecoder creates a new AIFF decoder instance
func NewAiffDecoder() *AiffDecoder {
	slog.Debug("creating new AIFF decoder instance")
	return &AiffDecoder{}
}

// FormatName returns the name of the format this decoder handles
func (d *AiffDecoder) FormatName() string {
	return "AIFF"
}

// CanDecode checks if this decoder can handle the given filename
func (d *AiffDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif")

	slog.Debug("AIFF decoder file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// Decode reads the AIFF header and returns a stream over the sound data
func (d *AiffDecoder) Decode(reader io.ReadSeeker) (Stream, error) {
	slog.Debug("starting AIFF decode operation")

	decoder := aiff.NewDecoder(reader)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		slog.Error("invalid AIFF file format")
		return nil, ErrInvalidData
	}

	if decoder.Format() == nil {
		slog.Error("failed to get AIFF format")
		return nil, ErrInvalidData
	}

	sampleRate := decoder.SampleRate
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.SampleBitDepth())

	slog.Debug("AIFF format detected",
		"sample_rate", sampleRate,
		"channels", channels,
		"bits_per_sample", bitDepth)

	if channels == 0 || sampleRate == 0 || bitDepth == 0 {
		slog.Error("invalid AIFF format parameters",
			"channels", channels,
			"sample_rate", sampleRate,
			"bit_depth", bitDepth)
		return nil, ErrInvalidData
	}

	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		slog.Error("unsupported bit depth", "bits", bitDepth)
		return nil, ErrUnsupportedFormat
	}

	frames := int64(decoder.NumSampleFrames)

	slog.Info("AIFF stream opened",
		"channels", channels,
		"sample_rate", sampleRate,
		"bits_per_sample", bitDepth,
		"frames", frames)

	return &aiffStream{
		dec:        decoder,
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   bitDepth,
		frames:     frames,
	}, nil
}

type aiffStream struct {
	dec        aiffReader
	sampleRate int
	channels   int
	bitDepth   int
	frames     int64
	intBuf     *goaudio.IntBuffer
}

func (s *aiffStream) SampleRate() int { return s.sampleRate }
func (s *aiffStream) Channels() int   { return s.channels }
func (s *aiffStream) Frames() int64   { return s.frames }
func (s *aiffStream) Close() error    { return nil }

func (s *aiffStream) ReadSamples(dst []float32) (int, error) {
	want := (len(dst) / s.channels) * s.channels
	if want == 0 {
		return 0, nil
	}

	if s.intBuf == nil || cap(s.intBuf.Data) < want {
		s.intBuf = &goaudio.IntBuffer{
			Data:           make([]int, want),
			Format:         s.dec.Format(),
			SourceBitDepth: s.bitDepth,
		}
	}
	s.intBuf.Data = s.intBuf.Data[:want]

	n, err := s.dec.PCMBuffer(s.intBuf)
	if err != nil && err != io.EOF {
		slog.Error("failed to read AIFF samples", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	n -= n % s.channels
	for i := 0; i < n; i++ {
		dst[i] = normalizeInt(s.intBuf.Data[i], s.bitDepth)
	}

	if err == io.EOF {
		return n, io.EOF
	}
	return n, nil
}
