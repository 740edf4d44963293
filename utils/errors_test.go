package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestErrors(t *testing.T) {
	err := NewIndexOutOfRangeError("camera", 5, 3)
	test.That(t, errors.Is(err, ErrIndexOutOfRange), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera 5 not in [0, 3)")

	err = NewInconsistentDimensionsError("poses", 3, 2)
	test.That(t, errors.Is(err, ErrInconsistentDimensions), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 3 but got 2")

	err = NewInsufficientDataError("%d boards", 1)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
}
