package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how much of the header is inspected for magic bytes
const sniffLen = 3072

// DecoderRegistry manages audio format decoders and provides format detection
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders []Decoder
}

// NewDecoderRegistry creates a new empty decoder registry
func NewDecoderRegistry() *DecoderRegistry {
	slog.Debug("creating new decoder registry")
	return &DecoderRegistry{
		decoders: make([]Decoder, 0),
	}
}

// NewDefaultRegistry creates a registry with WAV, MP3, AIFF, OGG Vorbis and FLAC decoders
func NewDefaultRegistry() *DecoderRegistry {
	slog.Debug("creating default decoder registry")

	registry := NewDecoderRegistry()

	registry.Register(NewWavDecoder())
	registry.Register(NewMp3Decoder())
	registry.Register(NewAiffDecoder())
	registry.Register(NewVorbisDecoder())
	registry.Register(NewFlacDecoder())

	slog.Info("default decoder registry initialized",
		"supported_formats", registry.GetSupportedFormats())

	return registry
}

// Register adds a decoder to the registry
func (r *DecoderRegistry) Register(decoder Decoder) {
	if decoder == nil {
		slog.Warn("attempted to register nil decoder")
		return
	}

	formatName := decoder.FormatName()
	slog.Debug("registering decoder", "format", formatName)

	r.mu.Lock()
	r.decoders = append(r.decoders, decoder)
	total := len(r.decoders)
	r.mu.Unlock()

	slog.Debug("decoder registered successfully",
		"format", formatName,
		"total_decoders", total)
}

// GetDecoders returns all registered decoders
func (r *DecoderRegistry) GetDecoders() []Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decoders := make([]Decoder, len(r.decoders))
	copy(decoders, r.decoders)
	return decoders
}

// GetSupportedFormats returns a list of all supported format names
func (r *DecoderRegistry) GetSupportedFormats() []string {
	decoders := r.GetDecoders()
	formats := make([]string, 0, len(decoders))

	for _, decoder := range decoders {
		formats = append(formats, decoder.FormatName())
	}

	return formats
}

// DetectFormat detects the appropriate decoder based on filename extension only
func (r *DecoderRegistry) DetectFormat(filename string) Decoder {
	slog.Debug("detecting format by extension", "filename", filename)

	if filename == "" {
		slog.Debug("empty filename provided")
		return nil
	}

	// First registered decoder has priority
	for _, decoder := range r.GetDecoders() {
		if decoder.CanDecode(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", decoder.FormatName())
			return decoder
		}
	}

	slog.Debug("no decoder found for filename", "filename", filename)
	return nil
}

// DetectFormatWithContent detects format using magic bytes first, falling back
// to the extension. The reader is rewound to its start before returning.
func (r *DecoderRegistry) DetectFormatWithContent(filename string, reader io.ReadSeeker) Decoder {
	slog.Debug("detecting format with content analysis", "filename", filename)

	buffer := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, buffer)
	if _, seekErr := reader.Seek(0, io.SeekStart); seekErr != nil {
		slog.Error("failed to rewind reader after magic detection", "error", seekErr)
		return r.DetectFormat(filename)
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		slog.Error("failed to read header for magic detection", "error", err)
		return r.DetectFormat(filename)
	}

	if n == 0 {
		slog.Debug("empty content, using extension fallback")
		return r.DetectFormat(filename)
	}

	mtype := mimetype.Detect(buffer[:n])
	detectedMime := strings.ToLower(mtype.String())

	slog.Debug("magic byte detection result",
		"filename", filename,
		"detected_mime", detectedMime,
		"bytes_analyzed", n)

	var formatDecoder Decoder
	switch {
	case strings.Contains(detectedMime, "wav") || detectedMime == "audio/vnd.wave":
		formatDecoder = r.findDecoderByFormat("WAV")

	case strings.Contains(detectedMime, "mpeg") || strings.Contains(detectedMime, "mp3"):
		formatDecoder = r.findDecoderByFormat("MP3")

	case strings.Contains(detectedMime, "aiff") || strings.Contains(detectedMime, "audio-interchange-file-format"):
		formatDecoder = r.findDecoderByFormat("AIFF")

	case strings.Contains(detectedMime, "flac"):
		formatDecoder = r.findDecoderByFormat("FLAC")

	case strings.Contains(detectedMime, "ogg"):
		formatDecoder = r.findDecoderByFormat("OGG")

	default:
		slog.Debug("unsupported or unrecognized magic bytes", "mime_type", detectedMime)
	}

	if formatDecoder != nil {
		slog.Debug("format detected by magic bytes",
			"filename", filename,
			"detected_format", formatDecoder.FormatName(),
			"mime_type", detectedMime)
		return formatDecoder
	}

	slog.Debug("magic detection failed, falling back to extension", "filename", filename)
	extensionDecoder := r.DetectFormat(filename)
	if extensionDecoder == nil {
		slog.Warn("no format detection method succeeded", "filename", filename)
	}

	return extensionDecoder
}

// findDecoderByFormat finds a decoder by its format name
func (r *DecoderRegistry) findDecoderByFormat(formatName string) Decoder {
	for _, decoder := range r.GetDecoders() {
		if strings.EqualFold(decoder.FormatName(), formatName) {
			return decoder
		}
	}
	return nil
}

// Open selects a decoder for the content and returns a stream over it.
// The caller closes both the stream and the reader.
func (r *DecoderRegistry) Open(filename string, reader io.ReadSeeker) (Stream, string, error) {
	slog.Debug("opening audio stream", "filename", filename)

	decoder := r.DetectFormatWithContent(filename, reader)
	if decoder == nil {
		err := fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
		slog.Error("no suitable decoder found", "filename", filename, "error", err)
		return nil, "", err
	}

	stream, err := decoder.Decode(reader)
	if err != nil {
		slog.Error("decode operation failed",
			"filename", filename,
			"decoder_format", decoder.FormatName(),
			"error", err)
		return nil, "", err
	}

	slog.Debug("audio stream opened",
		"filename", filename,
		"decoder_format", decoder.FormatName(),
		"channels", stream.Channels(),
		"sample_rate", stream.SampleRate(),
		"frames", stream.Frames())

	return stream, decoder.FormatName(), nil
}
