//go:build norangecheck

package linalg

const rangeChecking = false
