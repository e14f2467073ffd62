package designcheck

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFingerprint is returned when a stored fingerprint string is
	// longer than FingerprintBits allows or contains non-hex/non-binary runes.
	ErrMalformedFingerprint = errors.New("designcheck: malformed fingerprint")

	// ErrAlgorithmMismatch is returned when two fingerprints produced by
	// different hashing algorithms are compared.
	ErrAlgorithmMismatch = errors.New("designcheck: fingerprint algorithms differ")

	// ErrInvalidThreshold is returned for negative thresholds.
	ErrInvalidThreshold = errors.New("designcheck: threshold must be >= 0")

	// ErrUnsupportedFormat marks a deliberate scope boundary (CDR and any
	// other opaque proprietary format). It is reported as "skipped".
	ErrUnsupportedFormat = errors.New("designcheck: unsupported format")

	// ErrUnknownFormat is returned by ParseFormat for tags outside the closed set.
	ErrUnknownFormat = errors.New("designcheck: unknown format tag")

	// ErrRendererUnavailable is returned when no PDF renderer is configured
	// and none of the known commands is on PATH.
	ErrRendererUnavailable = errors.New("designcheck: no pdf renderer available")

	// ErrNoPreviewRead is recorded when none of the preview images could be read.
	ErrNoPreviewRead = errors.New("designcheck: no preview image could be read")
)

// DecodeError reports bytes that cannot be interpreted as the declared type.
// Callers must treat it as "cannot hash", never as "not a duplicate".
type DecodeError struct {
	Subject string // what was being decoded: "image", "svg", "eps", "pdf"
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("designcheck: decode %s: %v", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err carries a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
