package models

import (
	"context"
	"errors"
)

// ErrorKind enumerates the reasons a check-in or authorization attempt can fail.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindDeviceUnavailable  ErrorKind = "device_unavailable"
	ErrorKindNoFaceDetected     ErrorKind = "no_face_detected"
	ErrorKindEncodingFailed     ErrorKind = "encoding_failed"
	ErrorKindEmptyEnrollmentSet ErrorKind = "empty_enrollment_set"
	ErrorKindDimensionMismatch  ErrorKind = "dimension_mismatch"
	ErrorKindUnknownIdentity    ErrorKind = "unknown_identity"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindInternal           ErrorKind = "internal"
)

var (
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrNoFaceDetected     = errors.New("no face detected")
	ErrEncodingFailed     = errors.New("face encoding failed")
	ErrEmptyEnrollmentSet = errors.New("no enrolled identities")
	ErrDimensionMismatch  = errors.New("encoding dimension mismatch")
	ErrUnknownIdentity    = errors.New("unknown identity")
	ErrCancelled          = errors.New("session cancelled")
	ErrTimeout            = errors.New("session timed out")
)

// Transient reports whether the loop should absorb err and keep scanning.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindNoFaceDetected || k == ErrorKindEncodingFailed
}

// KindOf maps a (possibly wrapped) error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorKindDeviceUnavailable
	case errors.Is(err, ErrNoFaceDetected):
		return ErrorKindNoFaceDetected
	case errors.Is(err, ErrEncodingFailed):
		return ErrorKindEncodingFailed
	case errors.Is(err, ErrEmptyEnrollmentSet):
		return ErrorKindEmptyEnrollmentSet
	case errors.Is(err, ErrDimensionMismatch):
		return ErrorKindDimensionMismatch
	case errors.Is(err, ErrUnknownIdentity):
		return ErrorKindUnknownIdentity
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	default:
		return ErrorKindInternal
	}
}
