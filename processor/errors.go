package processor

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDataset = errors.New("invalid dataset")
	ErrSizeMismatch   = errors.New("band size mismatch")
	ErrUnknownSeries  = errors.New("unknown series")
	ErrBandIndex      = errors.New("band index out of range")

	// ErrEmptyWindow marks a pixel window with a zero or negative size.
	// ResolveWindow clamps every request up to 1x1 so it never produces one;
	// DecodeBand reports it only for windows built by hand.
	ErrEmptyWindow = errors.New("empty pixel window")
)

// BandError reports which band of a read failed. Bands decoded before the
// failure are still returned with the partial result.
type BandError struct {
	Band int
	Err  error
}

func (e *BandError) Error() string {
	return fmt.Sprintf("band %d: %v", e.Band, e.Err)
}

func (e *BandError) Unwrap() error {
	return e.Err
}
