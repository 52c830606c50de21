package sampling

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped in a ValidationError) by Validate.
var (
	ErrBytesPerLine = errors.New("sampling: invalid bytes per line")
	ErrSamplingRate = errors.New("sampling: invalid sampling rate")
	ErrNoLines      = errors.New("sampling: no lines to capture")
	ErrScanning     = errors.New("sampling: ambiguous video standard")
	ErrLineRange    = errors.New("sampling: line range outside the video standard")
	ErrInterlace    = errors.New("sampling: interlaced fields need equal non-zero line counts")
	ErrFormat       = errors.New("sampling: unsupported pixel format")
)

// ValidationError reports which capture parameter failed validation,
// with a human readable detail for logs.
type ValidationError struct {
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Field)
	}
	return fmt.Sprintf("%v (%s): %s", e.Err, e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
