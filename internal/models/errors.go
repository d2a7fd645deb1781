package models

import (
	"errors"
	"fmt"
)

// ErrorKind is a coarse-grained categorization of converter failures.
type ErrorKind string

const (
	KindBadArguments             ErrorKind = "bad_arguments"
	KindMissingFixedFoR          ErrorKind = "missing_fixed_for"
	KindParseFailure             ErrorKind = "parse_failure"
	KindFrameNotFound            ErrorKind = "frame_not_found"
	KindUnexpectedTransformShape ErrorKind = "unexpected_transform_shape"
	KindNotInvertible            ErrorKind = "not_invertible"
	KindWriteFailure             ErrorKind = "write_failure"
	KindConfigFailure            ErrorKind = "config_failure"
)

// Error wraps an underlying error with the operation, its kind and, where
// known, the Frame of Reference UID and file involved.
type Error struct {
	Op   string
	Kind ErrorKind
	FoR  string // Optional: offending Frame of Reference UID
	Path string // Optional: relevant file path
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.FoR != "" {
		base += fmt.Sprintf(" (frame=%s)", e.FoR)
	}
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError is a shorthand for building an *Error without frame or path.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
