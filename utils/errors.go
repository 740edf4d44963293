package utils

import (
	"github.com/pkg/errors"
)

var (
	// ErrInsufficientData is returned when there is not enough data for an estimate.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInconsistentDimensions is returned when related inputs disagree in length.
	ErrInconsistentDimensions = errors.New("inconsistent dimensions")
	// ErrIndexOutOfRange is returned for an invalid camera or element index.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// NewInsufficientDataError wraps ErrInsufficientData with a description of what was short.
func NewInsufficientDataError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInsufficientData, format, args...)
}

// NewInconsistentDimensionsError is used when two lengths that must match do not.
func NewInconsistentDimensionsError(what string, expected, actual int) error {
	return errors.Wrapf(ErrInconsistentDimensions, "%s: expected %d but got %d", what, expected, actual)
}

// NewIndexOutOfRangeError is used when an index is outside [0, size).
func NewIndexOutOfRangeError(what string, index, size int) error {
	return errors.Wrapf(ErrIndexOutOfRange, "%s %d not in [0, %d)", what, index, size)
}
