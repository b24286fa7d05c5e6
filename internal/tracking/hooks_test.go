package tracking

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"waveform.click/internal/mediatime"
	"waveform.click/internal/waveform"
)

func sampleEvent(status waveform.Status) waveform.ExtractionEvent {
	return waveform.ExtractionEvent{
		AssetID:   "asset-1",
		AssetName: "drums.wav",
		Range:     mediatime.RangeFromSeconds(2, 2, 1000),
		Width:     50,
		Channels:  "0-1",
		Status:    status,
		Elapsed:   1500 * time.Microsecond,
	}
}

func TestSlogHookLogsEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hook := NewSlogHook(logger).GetHook()
	event := sampleEvent(waveform.StatusFailed)
	event.Err = errors.New("disk on fire")
	hook(event)

	out := buf.String()
	assert.Contains(t, out, "waveform extraction")
	assert.Contains(t, out, "asset_id=asset-1")
	assert.Contains(t, out, "status=failed")
	assert.Contains(t, out, "width=50")
	assert.Contains(t, out, "disk on fire")
}

func TestSlogHookDefaultLogger(t *testing.T) {
	hook := NewSlogHook(nil)
	assert.NotNil(t, hook.logger)
	assert.NotPanics(t, func() { hook.GetHook()(sampleEvent(waveform.StatusHit)) })
}

func TestNopHook(t *testing.T) {
	assert.NotPanics(t, func() { NewNopHook().GetHook()(sampleEvent(waveform.StatusCompleted)) })
}

func TestCacheOptionsSkipsNil(t *testing.T) {
	opts := CacheOptions(NewNopHook(), nil, NewSlogHook(nil))
	assert.Len(t, opts, 2)
}
