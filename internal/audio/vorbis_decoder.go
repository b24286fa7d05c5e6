package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jfreymuth/oggvorbis"
)

// oggReader is the subset of oggvorbis.Reader used by the stream
type oggReader interface {
	SampleRate() int
	Channels() int
	Length() int64
	SetPosition(pos int64) error
	Read(p []float32) (int, error)
}

// VorbisDecoder handles OGG Vorbis decoding
type VorbisDecoder struct{}

// NewVorbisDecoder creates a new OGG Vorbis decoder instance
func NewVorbisDecoder() *VorbisDecoder {
	slog.Debug("creating new OGG Vorbis decoder instance")
	return &VorbisDecoder{}
}

// Decode reads the Vorbis headers and returns a stream over the audio packets
func (d *VorbisDecoder) Decode(reader io.ReadSeeker) (Stream, error) {
	slog.Debug("starting OGG Vorbis decode operation")

	dec, err := oggvorbis.NewReader(reader)
	if err != nil {
		slog.Error("failed to create OGG Vorbis reader", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return newVorbisStream(dec)
}

func newVorbisStream(dec oggReader) (*vorbisStream, error) {
	if dec.Channels() <= 0 || dec.SampleRate() <= 0 {
		slog.Error("invalid OGG Vorbis stream parameters",
			"channels", dec.Channels(),
			"sample_rate", dec.SampleRate())
		return nil, ErrInvalidData
	}

	// oggvorbis reports zero when the length cannot be determined
	frames := dec.Length()
	if frames <= 0 {
		frames = -1
	}

	slog.Info("OGG Vorbis stream opened",
		"channels", dec.Channels(),
		"sample_rate", dec.SampleRate(),
		"frames", frames)

	return &vorbisStream{dec: dec, frames: frames}, nil
}

// CanDecode checks if this decoder can handle the given filename
func (d *VorbisDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".oga")

	slog.Debug("OGG Vorbis decoder file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// FormatName returns the name of the format this decoder handles
func (d *VorbisDecoder) FormatName() string {
	return "OGG"
}

type vorbisStream struct {
	dec    oggReader
	frames int64
}

func (s *vorbisStream) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisStream) Channels() int   { return s.dec.Channels() }
func (s *vorbisStream) Frames() int64   { return s.frames }
func (s *vorbisStream) Close() error    { return nil }

// SeekFrame positions the decoder at a frame index
func (s *vorbisStream) SeekFrame(frame int64) error {
	if s.frames < 0 {
		return ErrSeekUnsupported
	}
	return s.dec.SetPosition(frame)
}

func (s *vorbisStream) ReadSamples(dst []float32) (int, error) {
	channels := s.dec.Channels()
	want := (len(dst) / channels) * channels
	if want == 0 {
		return 0, nil
	}

	// Read returns the number of values, always a multiple of the channel count
	n, err := s.dec.Read(dst[:want])
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		slog.Error("failed to decode OGG Vorbis packet", "error", err)
		return n, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return n, nil
}
