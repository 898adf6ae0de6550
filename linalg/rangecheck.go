//go:build !norangecheck

package linalg

// Local element access is bounds checked unless the norangecheck build tag
// compiles the checks out for release performance.
const rangeChecking = true
