package waveform

import (
	"time"

	"waveform.click/internal/mediatime"
)

// Status is the outcome of a ReadTimeRange call
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusHit       Status = "hit"
	StatusCoalesced Status = "coalesced"
)

// ExtractionEvent describes one ReadTimeRange outcome
type ExtractionEvent struct {
	AssetID   string
	AssetName string
	Range     mediatime.TimeRange
	Width     int
	Channels  string
	Status    Status
	Elapsed   time.Duration
	Err       error
}

// ExtractionHook is called synchronously for every ReadTimeRange outcome.
// Hooks must not call back into the cache.
type ExtractionHook func(event ExtractionEvent)
