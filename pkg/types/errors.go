package types

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBaseURL is returned when a connection has no base URL.
	ErrMissingBaseURL = errors.New("connection base URL is required")

	// ErrMissingCredentials is returned when the configured auth mode has no credentials.
	ErrMissingCredentials = errors.New("connection credentials are required for the configured auth mode")

	// ErrUnknownAuthMode is returned for auth modes other than basic and pat.
	ErrUnknownAuthMode = errors.New("unknown auth mode")
)

// RowWidthError reports a row whose value count differs from the column count.
type RowWidthError struct {
	Row      int
	Got      int
	Expected int
}

func (e *RowWidthError) Error() string {
	return fmt.Sprintf("row %d has %d values, expected %d (one per column)", e.Row, e.Got, e.Expected)
}
