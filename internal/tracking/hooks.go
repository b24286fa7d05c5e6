package tracking

import (
	"log/slog"

	"waveform.click/internal/waveform"
)

// SlogHook logs every extraction outcome for debugging
type SlogHook struct {
	logger *slog.Logger
}

// NewSlogHook creates a new SlogHook with the given logger
// If logger is nil, uses the default logger
func NewSlogHook(logger *slog.Logger) *SlogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHook{
		logger: logger,
	}
}

// GetHook returns the ExtractionHook that writes to the logger
func (s *SlogHook) GetHook() waveform.ExtractionHook {
	return func(event waveform.ExtractionEvent) {
		attrs := []any{
			"asset_id", event.AssetID,
			"range", event.Range.String(),
			"width", event.Width,
			"channels", event.Channels,
			"status", string(event.Status),
			"elapsed", event.Elapsed,
		}
		if event.Err != nil {
			attrs = append(attrs, "error", event.Err)
		}
		s.logger.Debug("waveform extraction", attrs...)
	}
}

// NopHook provides a no-operation hook for disabled modes
type NopHook struct{}

// NewNopHook creates a new NopHook that does nothing
func NewNopHook() *NopHook {
	return &NopHook{}
}

// GetHook returns an ExtractionHook that does nothing
func (n *NopHook) GetHook() waveform.ExtractionHook {
	return func(waveform.ExtractionEvent) {}
}
