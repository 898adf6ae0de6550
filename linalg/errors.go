package linalg

import "errors"

// Sentinel errors for structural misuse. Call sites wrap these with
// fmt.Errorf("%w: ...") so callers can match with errors.Is.
var (
	// ErrConfiguration marks malformed construction parameters, such as a
	// non-positive global size or a missing communicator.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotBuilt marks an operation invoked on an object whose storage
	// has not been built (or has been cleared).
	ErrNotBuilt = errors.New("not built")

	// ErrRange marks local element access outside the owning rank's range.
	ErrRange = errors.New("index out of local range")

	// ErrDistributionMismatch marks operands combined without matching
	// partitions or communicators.
	ErrDistributionMismatch = errors.New("distribution mismatch")
)
