// Package audiotest builds synthetic PCM fixtures for tests.
package audiotest

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"
	"github.com/spf13/afero"
)

// Waveform produces the sample value in [-1, 1] for a frame and channel
type Waveform func(frame, channel int) float64

// Silence is all zeros
func Silence() Waveform {
	return func(frame, channel int) float64 { return 0 }
}

// Constant returns value for every frame and channel
func Constant(value float64) Waveform {
	return func(frame, channel int) float64 { return value }
}

// Sine is a sine wave of the given frequency and amplitude on every channel
func Sine(frequency, amplitude float64, sampleRate int) Waveform {
	return func(frame, channel int) float64 {
		t := float64(frame) / float64(sampleRate)
		return amplitude * math.Sin(2*math.Pi*frequency*t)
	}
}

// Impulse places a single sample of amplitude on top of base at frame on
// channel. A negative channel applies it to every channel.
func Impulse(base Waveform, frame, channel int, amplitude float64) Waveform {
	return func(f, c int) float64 {
		if f == frame && (channel < 0 || c == channel) {
			return amplitude
		}
		return base(f, c)
	}
}

// PerChannel uses a different waveform for each channel, silence past the list
func PerChannel(waves ...Waveform) Waveform {
	return func(frame, channel int) float64 {
		if channel < len(waves) {
			return waves[channel](frame, channel)
		}
		return 0
	}
}

// Quantize returns the value a decoder reads back after encoding v at bitDepth
func Quantize(v float64, bitDepth int) float32 {
	full := math.Ldexp(1, bitDepth-1)
	return float32(float64(toInt(v, bitDepth)) / full)
}

func toInt(v float64, bitDepth int) int {
	full := math.Ldexp(1, bitDepth-1)
	scaled := math.Round(v * full)
	if scaled > full-1 {
		scaled = full - 1
	}
	if scaled < -full {
		scaled = -full
	}
	return int(scaled)
}

// WriteWAV encodes frames of wave as PCM WAV at path on fs.
// Supported bit depths are 8, 16, 24 and 32.
func WriteWAV(fs afero.Fs, path string, sampleRate, bitDepth, channels, frames int, wave Waveform) error {
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported fixture bit depth %d", bitDepth)
	}
	if channels <= 0 || sampleRate <= 0 || frames < 0 {
		return fmt.Errorf("invalid fixture shape: rate=%d channels=%d frames=%d", sampleRate, channels, frames)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data := make([]int, frames*channels)
	for frame := 0; frame < frames; frame++ {
		for c := 0; c < channels; c++ {
			v := toInt(wave(frame, c), bitDepth)
			if bitDepth == 8 {
				// 8-bit WAV is stored unsigned
				v += 128
			}
			data[frame*channels+c] = v
		}
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write fixture samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize fixture: %w", err)
	}
	return nil
}

// EncodeWAV returns the bytes of a PCM WAV file. See WriteWAV.
func EncodeWAV(sampleRate, bitDepth, channels, frames int, wave Waveform) ([]byte, error) {
	fs := afero.NewMemMapFs()
	const path = "/fixture.wav"
	if err := WriteWAV(fs, path, sampleRate, bitDepth, channels, frames, wave); err != nil {
		return nil, err
	}
	return afero.ReadFile(fs, path)
}

// EncodeFLACHeader returns a FLAC signature and STREAMINFO block with no
// audio frames. Decoders read the stream parameters from it.
func EncodeFLACHeader(sampleRate, bitDepth, channels, frames int) ([]byte, error) {
	var buf bytes.Buffer
	_, err := flac.NewEncoder(&buf, &meta.StreamInfo{
		BlockSizeMin:  4096,
		BlockSizeMax:  4096,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: uint8(bitDepth),
		NSamples:      uint64(frames),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode FLAC header: %w", err)
	}
	return buf.Bytes(), nil
}
