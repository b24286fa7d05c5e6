package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/youpy/go-riff"
	"github.com/youpy/go-wav"
)

const wavFormatExtensible = 0xFFFE

// WavDecoder handles WAV audio format decoding
type WavDecoder struct{}

// NewWavDecoder creates a new WAV decoder instance
func NewWavDecoder() *WavDecoder {
	slog.Debug("creating new WAV decoder instance")
	return &WavDecoder{}
}

// Decode parses the RIFF header and returns a stream over the data chunk.
// Sample data is read lazily from reader and the stream seeks by offset.
func (d *WavDecoder) Decode(reader io.ReadSeeker) (Stream, error) {
	slog.Debug("starting WAV decode operation")

	source, ok := reader.(riff.RIFFReader)
	if !ok {
		// go-wav needs random access to chunk sections
		data, err := io.ReadAll(reader)
		if err != nil {
			slog.Error("failed to read WAV data", "error", err)
			return nil, ErrReadFailure
		}
		source = bytes.NewReader(data)
	}

	format, err := readWavFormat(source)
	if err != nil {
		slog.Error("failed to read WAV format", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	slog.Debug("WAV format detected",
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"bits_per_sample", format.BitsPerSample,
		"audio_format", format.AudioFormat)

	// Validate format parameters
	if format.NumChannels == 0 || format.SampleRate == 0 || format.BlockAlign == 0 {
		slog.Error("invalid WAV format parameters",
			"channels", format.NumChannels,
			"sample_rate", format.SampleRate,
			"block_align", format.BlockAlign)
		return nil, ErrInvalidData
	}

	isFloat := false
	switch format.AudioFormat {
	case wav.AudioFormatPCM, wavFormatExtensible:
		switch format.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			slog.Error("unsupported bit depth", "bits", format.BitsPerSample)
			return nil, ErrUnsupportedFormat
		}
	case wav.AudioFormatIEEEFloat:
		if format.BitsPerSample != 32 && format.BitsPerSample != 64 {
			slog.Error("unsupported float bit depth", "bits", format.BitsPerSample)
			return nil, ErrUnsupportedFormat
		}
		isFloat = true
	default:
		slog.Error("unsupported WAV encoding", "audio_format", format.AudioFormat)
		return nil, ErrUnsupportedFormat
	}

	bytesPerSample := int(format.BitsPerSample) / 8
	if int(format.BlockAlign) < bytesPerSample*int(format.NumChannels) {
		slog.Error("WAV block alignment smaller than frame size",
			"block_align", format.BlockAlign,
			"frame_bytes", bytesPerSample*int(format.NumChannels))
		return nil, ErrInvalidData
	}

	data, err := findDataChunk(source)
	if err != nil {
		slog.Error("failed to locate WAV data chunk", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	frames := data.Size() / int64(format.BlockAlign)

	slog.Info("WAV stream opened",
		"channels", format.NumChannels,
		"sample_rate", format.SampleRate,
		"bits_per_sample", format.BitsPerSample,
		"frames", frames)

	return &wavStream{
		data:           data,
		reader:         bufio.NewReader(data),
		sampleRate:     int(format.SampleRate),
		channels:       int(format.NumChannels),
		bitsPerSample:  int(format.BitsPerSample),
		bytesPerSample: bytesPerSample,
		blockAlign:     int(format.BlockAlign),
		isFloat:        isFloat,
		frames:         frames,
	}, nil
}

// errTruncatedRIFF replaces go-riff's panic on chunk headers past the end of the data
var errTruncatedRIFF = errors.New("truncated RIFF chunk list")

func readWavFormat(source riff.RIFFReader) (format *wav.WavFormat, err error) {
	defer func() {
		if r := recover(); r != nil {
			format, err = nil, errTruncatedRIFF
		}
	}()
	return wav.NewReader(source).Format()
}

// findDataChunk returns the sample bytes of the "data" chunk. Reads and
// seeks on it touch only that part of source.
func findDataChunk(source riff.RIFFReader) (data *io.SectionReader, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, errTruncatedRIFF
		}
	}()

	chunks, err := riff.NewReader(source).Read()
	if err != nil {
		return nil, err
	}
	for _, chunk := range chunks.Chunks {
		if string(chunk.ChunkID) == "data" {
			return io.NewSectionReader(chunk, 0, int64(chunk.ChunkSize)), nil
		}
	}
	return nil, errors.New("data chunk not found")
}

// CanDecode checks if this decoder can handle the given filename
func (d *WavDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")

	slog.Debug("WAV decoder file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// FormatName returns the name of the format this decoder handles
func (d *WavDecoder) FormatName() string {
	return "WAV"
}

type wavStream struct {
	data           *io.SectionReader
	reader         *bufio.Reader
	sampleRate     int
	channels       int
	bitsPerSample  int
	bytesPerSample int
	blockAlign     int
	isFloat        bool
	frames         int64
	raw            []byte
}

func (s *wavStream) SampleRate() int { return s.sampleRate }
func (s *wavStream) Channels() int   { return s.channels }
func (s *wavStream) Frames() int64   { return s.frames }
func (s *wavStream) Close() error    { return nil }

// SeekFrame moves to a frame by byte offset into the data chunk
func (s *wavStream) SeekFrame(frame int64) error {
	if frame < 0 {
		frame = 0
	}
	if frame > s.frames {
		frame = s.frames
	}
	if _, err := s.data.Seek(frame*int64(s.blockAlign), io.SeekStart); err != nil {
		return err
	}
	s.reader.Reset(s.data)
	return nil
}

func (s *wavStream) ReadSamples(dst []float32) (int, error) {
	frames := len(dst) / s.channels
	if frames == 0 {
		return 0, nil
	}

	need := frames * s.blockAlign
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	s.raw = s.raw[:need]

	n, err := io.ReadFull(s.reader, s.raw)
	complete := n / s.blockAlign

	for f := 0; f < complete; f++ {
		block := s.raw[f*s.blockAlign:]
		for c := 0; c < s.channels; c++ {
			dst[f*s.channels+c] = s.decodeSample(block[c*s.bytesPerSample:])
		}
	}

	values := complete * s.channels
	switch err {
	case nil:
		return values, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return values, io.EOF
	default:
		slog.Error("failed to read WAV samples", "error", err)
		return values, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
}

func (s *wavStream) decodeSample(b []byte) float32 {
	if s.isFloat {
		if s.bitsPerSample == 64 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch s.bitsPerSample {
	case 8:
		// 8-bit WAV is unsigned
		return normalizeInt(int(b[0])-128, 8)
	case 16:
		return normalizeInt(int(int16(binary.LittleEndian.Uint16(b))), 16)
	case 24:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return normalizeInt(int(v), 24)
	default:
		return normalizeInt(int(int32(binary.LittleEndian.Uint32(b))), 32)
	}
}
