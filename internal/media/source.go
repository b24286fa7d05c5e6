package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"waveform.click/internal/audio"
	"waveform.click/internal/mediatime"
)

// readChunkFrames is the number of frames decoded between cancellation checks
const readChunkFrames = 4096

var zeroRange = mediatime.TimeRange{}

// Sample is one decoded value for one channel
type Sample struct {
	Channel int
	Pixel   int
	Value   float32
	Time    mediatime.Time
}

// SampleSource decodes an asset on demand. It keeps no sample data between
// calls; every ReadRange decodes again from the asset.
type SampleSource struct {
	asset    Asset
	registry *audio.DecoderRegistry

	format     string
	channels   int
	sampleRate int
	nominal    int64 // container-reported frames, -1 when unknown

	mu     sync.RWMutex
	actual int64 // frames discovered at end of stream, -1 until then

	passes atomic.Int64
}

// Open probes asset with the registry's decoders. The probe is closed
// before returning; nothing stays open between reads.
func Open(asset Asset, registry *audio.DecoderRegistry) (*SampleSource, error) {
	if asset == nil {
		return nil, fmt.Errorf("%w: no asset", ErrUnreadableAsset)
	}

	slog.Debug("opening sample source", "asset_id", asset.ID(), "name", asset.Name())

	if registry == nil {
		registry = audio.NewDefaultRegistry()
	}

	src := &SampleSource{
		asset:    asset,
		registry: registry,
		actual:   -1,
	}

	stream, format, closeFn, err := src.openStream(zeroRange)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	src.format = format
	src.channels = stream.Channels()
	src.sampleRate = stream.SampleRate()
	src.nominal = stream.Frames()

	if src.channels <= 0 || src.sampleRate <= 0 {
		slog.Error("asset has no decodable audio",
			"asset_id", asset.ID(),
			"channels", src.channels,
			"sample_rate", src.sampleRate)
		return nil, fmt.Errorf("%w: %s has no audio channels", ErrUnreadableAsset, asset.ID())
	}

	slog.Info("sample source opened",
		"asset_id", asset.ID(),
		"format", src.format,
		"channels", src.channels,
		"sample_rate", src.sampleRate,
		"nominal_frames", src.nominal)

	return src, nil
}

// openStream opens the asset and a decoder over it. closeFn releases both.
func (s *SampleSource) openStream(r mediatime.TimeRange) (audio.Stream, string, func(), error) {
	reader, err := s.asset.Open()
	if err != nil {
		slog.Error("failed to open asset", "asset_id", s.asset.ID(), "error", err)
		return nil, "", nil, NewAssetIOError(s.asset.ID(), r, err)
	}

	stream, format, err := s.registry.Open(s.asset.Name(), reader)
	if err != nil {
		reader.Close()
		if errors.Is(err, audio.ErrUnsupportedFormat) || errors.Is(err, audio.ErrInvalidData) {
			return nil, "", nil, fmt.Errorf("%w: %s: %w", ErrUnreadableAsset, s.asset.ID(), err)
		}
		return nil, "", nil, NewAssetIOError(s.asset.ID(), r, err)
	}

	closeFn := func() {
		if err := stream.Close(); err != nil {
			slog.Warn("failed to close decoder", "asset_id", s.asset.ID(), "error", err)
		}
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close asset reader", "asset_id", s.asset.ID(), "error", err)
		}
	}
	return stream, format, closeFn, nil
}

// Asset returns the asset this source decodes
func (s *SampleSource) Asset() Asset { return s.asset }

// Format is the name of the decoder format, e.g. "WAV"
func (s *SampleSource) Format() string { return s.format }

// Channels is the number of channels in the asset
func (s *SampleSource) Channels() int { return s.channels }

// SampleRate of the decoded audio in Hz
func (s *SampleSource) SampleRate() int { return s.sampleRate }

// DecodePasses counts ReadRange calls that decoded audio
func (s *SampleSource) DecodePasses() int64 { return s.passes.Load() }

// NominalDuration is the container-reported duration, zero when unknown
func (s *SampleSource) NominalDuration() mediatime.Time {
	if s.nominal < 0 {
		return mediatime.Zero
	}
	return mediatime.FromFrames(s.nominal, s.sampleRate)
}

// ActualDuration equals NominalDuration until a read reaches the end of the
// stream, then it is the discovered length
func (s *SampleSource) ActualDuration() mediatime.Time {
	frames := s.knownFrames()
	if frames < 0 {
		return mediatime.Zero
	}
	return mediatime.FromFrames(frames, s.sampleRate)
}

// DurationKnown reports whether either the container or a completed read
// established the length
func (s *SampleSource) DurationKnown() bool {
	return s.knownFrames() >= 0
}

func (s *SampleSource) knownFrames() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.actual >= 0 {
		return s.actual
	}
	return s.nominal
}

func (s *SampleSource) recordEnd(frames int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actual != frames {
		slog.Debug("discovered actual asset length",
			"asset_id", s.asset.ID(),
			"nominal_frames", s.nominal,
			"actual_frames", frames)
	}
	s.actual = frames
}

// ClampRange clamps r to the asset's known duration
func (s *SampleSource) ClampRange(r mediatime.TimeRange) mediatime.TimeRange {
	if !s.DurationKnown() {
		return r.ClampStart()
	}
	return r.Clamp(s.ActualDuration())
}

// ReadRange decodes the frames of r, clamped to the asset, and calls yield
// once per selected channel per frame in non-decreasing timestamp order.
// Each sample carries the pixel column it falls into when the clamped range
// is divided into width columns. A yield error stops the read and is
// returned unchanged.
func (s *SampleSource) ReadRange(ctx context.Context, r mediatime.TimeRange, width int, sel ChannelSelector, yield func(Sample) error) error {
	return s.ReadClampedRange(ctx, s.ClampRange(r), width, sel, yield)
}

// ReadClampedRange is ReadRange for a range the caller already clamped with
// ClampRange. Pixel columns divide clamped as given, even if a concurrent
// read has since changed the known length.
func (s *SampleSource) ReadClampedRange(ctx context.Context, clamped mediatime.TimeRange, width int, sel ChannelSelector, yield func(Sample) error) error {
	if width < 1 {
		width = 1
	}
	channels := sel.Resolve(s.channels)

	slog.Debug("reading sample range",
		"asset_id", s.asset.ID(),
		"range", clamped.String(),
		"width", width,
		"channels", channels.String())

	bounds := mediatime.FrameBoundaries(clamped, s.sampleRate, width)
	first, end := bounds[0], bounds[width]
	if first >= end {
		slog.Debug("empty range, nothing to decode", "asset_id", s.asset.ID())
		return nil
	}

	if err := ctx.Err(); err != nil {
		return cancelled(ctx)
	}

	s.passes.Add(1)

	stream, _, closeFn, err := s.openStream(clamped)
	if err != nil {
		return err
	}
	defer closeFn()

	// Reads that reach the end of the known length continue to EOF so the
	// real length is discovered
	known := s.knownFrames()
	drain := known < 0 || end >= known

	skipped, err := audio.SkipFrames(stream, first)
	if err == io.EOF {
		s.recordEnd(skipped)
		return nil
	}
	if err != nil {
		slog.Error("failed to reach range start", "asset_id", s.asset.ID(), "frame", first, "error", err)
		return NewAssetIOError(s.asset.ID(), clamped, err)
	}

	streamChannels := stream.Channels()
	buf := make([]float32, readChunkFrames*streamChannels)
	pos := first
	pixel := 0

	for pos < end || drain {
		if ctx.Err() != nil {
			slog.Debug("sample read cancelled", "asset_id", s.asset.ID(), "frame", pos)
			return cancelled(ctx)
		}

		n, readErr := stream.ReadSamples(buf)
		frames := n / streamChannels

		for i := 0; i < frames; i++ {
			frame := pos + int64(i)
			if frame >= end {
				break
			}
			for pixel+1 < width && frame >= bounds[pixel+1] {
				pixel++
			}
			ts := mediatime.FromFrames(frame, s.sampleRate)
			base := i * streamChannels
			for c := channels.First; c <= channels.Last && c < streamChannels; c++ {
				if err := yield(Sample{Channel: c, Pixel: pixel, Value: buf[base+c], Time: ts}); err != nil {
					return err
				}
			}
		}
		pos += int64(frames)

		if readErr == io.EOF {
			s.recordEnd(pos)
			break
		}
		if readErr != nil {
			slog.Error("failed to decode samples", "asset_id", s.asset.ID(), "frame", pos, "error", readErr)
			return NewAssetIOError(s.asset.ID(), clamped, readErr)
		}
		if n == 0 {
			// Decoder made no progress without reporting EOF
			break
		}
	}

	slog.Debug("sample range read", "asset_id", s.asset.ID(), "end_frame", pos)
	return nil
}
