package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16-bit little-endian stereo
const (
	mp3Channels      = 2
	mp3BytesPerFrame = 4
)

// mp3Reader is the subset of mp3.Decoder used by the stream
type mp3Reader interface {
	io.ReadSeeker
	SampleRate() int
	Length() int64
}

// Mp3Decoder handles MP3 audio format decoding
type Mp3Decoder struct{}

// NewMp3Decoder creates a new MP3 decoder instance
func NewMp3Decoder() *Mp3Decoder {
	slog.Debug("creating new MP3 decoder instance")
	return &Mp3Decoder{}
}

// Decode returns a stream decoding MP3 frames on demand
func (d *Mp3Decoder) Decode(reader io.ReadSeeker) (Stream, error) {
	slog.Debug("starting MP3 decode operation")

	decoder, err := mp3.NewDecoder(reader)
	if err != nil {
		slog.Error("failed to create MP3 decoder", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return newMp3Stream(decoder)
}

func newMp3Stream(decoder mp3Reader) (*mp3Stream, error) {
	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		slog.Error("invalid MP3 sample rate", "sample_rate", sampleRate)
		return nil, ErrInvalidData
	}

	frames := int64(-1)
	if length := decoder.Length(); length >= 0 {
		frames = length / mp3BytesPerFrame
	}

	slog.Info("MP3 stream opened",
		"sample_rate", sampleRate,
		"channels", mp3Channels,
		"frames", frames)

	return &mp3Stream{
		dec:        decoder,
		sampleRate: sampleRate,
		frames:     frames,
	}, nil
}

// CanDecode checks if this decoder can handle the given filename
func (d *Mp3Decoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".mpeg")

	slog.Debug("MP3 decoder file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// FormatName returns the name of the format this decoder handles
func (d *Mp3Decoder) FormatName() string {
	return "MP3"
}

type mp3Stream struct {
	dec        mp3Reader
	sampleRate int
	frames     int64
	buf        []byte
}

func (s *mp3Stream) SampleRate() int { return s.sampleRate }
func (s *mp3Stream) Channels() int   { return mp3Channels }
func (s *mp3Stream) Frames() int64   { return s.frames }
func (s *mp3Stream) Close() error    { return nil }

// SeekFrame jumps to a frame using the decoder's PCM byte offset
func (s *mp3Stream) SeekFrame(frame int64) error {
	if s.frames < 0 {
		return ErrSeekUnsupported
	}
	if _, err := s.dec.Seek(frame*mp3BytesPerFrame, io.SeekStart); err != nil {
		return err
	}
	return nil
}

func (s *mp3Stream) ReadSamples(dst []float32) (int, error) {
	frames := len(dst) / mp3Channels
	if frames == 0 {
		return 0, nil
	}

	need := frames * mp3BytesPerFrame
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := io.ReadFull(s.dec, s.buf)
	complete := n / mp3BytesPerFrame
	values := complete * mp3Channels

	for i := 0; i < values; i++ {
		val := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = normalizeInt(int(val), 16)
	}

	switch err {
	case nil:
		return values, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return values, io.EOF
	default:
		slog.Error("failed to read MP3 PCM data", "error", err)
		return values, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
}
