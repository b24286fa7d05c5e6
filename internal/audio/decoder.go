package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Common decoder errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrSeekUnsupported   = errors.New("stream does not support seeking")
)

// skipChunkFrames bounds memory used when discarding frames from a non-seekable stream
const skipChunkFrames = 4096

// Stream is an incrementally decoded PCM source. Samples are interleaved
// float32 values normalized to [-1, 1].
type Stream interface {
	// SampleRate of the decoded PCM in Hz
	SampleRate() int

	// Channels per frame (1 = mono, 2 = stereo, ...)
	Channels() int

	// Frames is the container-reported number of frames, or -1 when unknown
	Frames() int64

	// ReadSamples fills dst with interleaved samples and returns the number of
	// values written, always a multiple of Channels(). At end of stream it
	// returns io.EOF, possibly together with a final n > 0.
	ReadSamples(dst []float32) (int, error)

	// Close releases decoder resources. It does not close the underlying reader.
	Close() error
}

// FrameSeeker is implemented by streams that can jump to a frame without decoding
type FrameSeeker interface {
	SeekFrame(frame int64) error
}

// Decoder interface for audio format decoding
type Decoder interface {
	// Decode prepares a stream over the encoded data in reader
	Decode(reader io.ReadSeeker) (Stream, error)

	// CanDecode checks if this decoder can handle the given filename
	CanDecode(filename string) bool

	// FormatName returns the name of the format this decoder handles
	FormatName() string
}

// SkipFrames advances stream by n frames. Seekable streams jump directly,
// others are read and discarded in bounded chunks. It returns the number of
// frames skipped, which is less than n only when the stream ended.
func SkipFrames(stream Stream, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	if seeker, ok := stream.(FrameSeeker); ok {
		err := seeker.SeekFrame(n)
		if err == nil {
			slog.Debug("seeked stream", "frames", n)
			return n, nil
		}
		if !errors.Is(err, ErrSeekUnsupported) {
			slog.Error("stream seek failed", "frames", n, "error", err)
			return 0, fmt.Errorf("%w: seek to frame %d: %v", ErrReadFailure, n, err)
		}
		slog.Debug("stream seek unsupported, discarding frames", "frames", n)
	}

	channels := stream.Channels()
	if channels <= 0 {
		return 0, ErrInvalidData
	}

	buf := make([]float32, skipChunkFrames*channels)
	var skipped int64

	for skipped < n {
		want := n - skipped
		if want > skipChunkFrames {
			want = skipChunkFrames
		}

		read, err := stream.ReadSamples(buf[:int(want)*channels])
		skipped += int64(read / channels)

		if err == io.EOF {
			slog.Debug("stream ended while skipping", "requested", n, "skipped", skipped)
			return skipped, io.EOF
		}
		if err != nil {
			return skipped, err
		}
		if read == 0 {
			// Decoder made no progress without reporting EOF
			return skipped, io.EOF
		}
	}

	return skipped, nil
}

// normalizeInt converts a signed integer sample of the given bit depth to [-1, 1]
func normalizeInt(value int, bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return float32(value) / 128.0
	case 16:
		return float32(value) / 32768.0
	case 24:
		return float32(value) / 8388608.0
	case 32:
		return float32(float64(value) / 2147483648.0)
	default:
		return float32(value) / 32768.0
	}
}
