package media

import (
	"context"
	"errors"
	"fmt"

	"waveform.click/internal/mediatime"
)

// Extraction errors
var (
	// ErrUnreadableAsset means the asset has no decodable audio. It is terminal
	// for that asset.
	ErrUnreadableAsset = errors.New("unreadable asset")

	// ErrCancelledExtraction is returned when an extraction is abandoned by
	// cancellation or invalidation. It is not an application failure.
	ErrCancelledExtraction = errors.New("extraction cancelled")

	// ErrAssetIO matches every *AssetIOError
	ErrAssetIO = errors.New("asset I/O error")
)

// AssetIOError reports a decode or container read failure together with the
// asset and range that were being read
type AssetIOError struct {
	AssetID string
	Range   mediatime.TimeRange
	Err     error
}

// NewAssetIOError wraps err with asset context
func NewAssetIOError(assetID string, r mediatime.TimeRange, err error) *AssetIOError {
	return &AssetIOError{AssetID: assetID, Range: r, Err: err}
}

func (e *AssetIOError) Error() string {
	return fmt.Sprintf("asset %s: read %s: %v", e.AssetID, e.Range, e.Err)
}

func (e *AssetIOError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAssetIO) hold for any AssetIOError
func (e *AssetIOError) Is(target error) bool {
	return target == ErrAssetIO
}

// IsCancelled reports whether err is a cancellation rather than a failure
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelledExtraction) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelledExtraction, context.Cause(ctx))
}
