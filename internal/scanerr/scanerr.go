// Package scanerr provides the structured error type shared by the camera,
// decoder and scanner packages
package scanerr

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure
type Code uint8

const (
	CodeUnknown Code = iota

	// CodePermissionDenied is for refused media access (enumeration or acquisition)
	CodePermissionDenied

	// CodeEnumerationUnsupported is for platforms without device inspection
	CodeEnumerationUnsupported

	// CodeDeviceNotFound is for constraints matching no device
	CodeDeviceNotFound

	// CodeDeviceBusy is for a device already held by another session
	CodeDeviceBusy

	// CodeConstraintUnsatisfiable is for constraints no device can meet
	CodeConstraintUnsatisfiable

	// CodeUnsupportedCapability is for torch/zoom requests the device cannot serve
	CodeUnsupportedCapability

	// CodeInvalidStateTransition is for operations not allowed in the current state
	CodeInvalidStateTransition

	// CodeDecodeFailure is for a single failed decode (transient)
	CodeDecodeFailure

	// CodeSessionFault is for a fatal hardware fault mid-stream
	CodeSessionFault

	// CodeEndOfStream is for frame reads after the session closed
	CodeEndOfStream
)

var codeNames = map[Code]string{
	CodeUnknown:                 "Unknown",
	CodePermissionDenied:        "PermissionDenied",
	CodeEnumerationUnsupported:  "EnumerationUnsupported",
	CodeDeviceNotFound:          "DeviceNotFound",
	CodeDeviceBusy:              "DeviceBusy",
	CodeConstraintUnsatisfiable: "ConstraintUnsatisfiable",
	CodeUnsupportedCapability:   "UnsupportedCapability",
	CodeInvalidStateTransition:  "InvalidStateTransition",
	CodeDecodeFailure:           "DecodeFailure",
	CodeSessionFault:            "SessionFault",
	CodeEndOfStream:             "EndOfStream",
}

// String returns the taxonomy name of the code
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// MarshalText encodes the code by name
func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// HTTPStatusCode turns a Code into an http status code
func HTTPStatusCode(c Code) int {
	switch c {
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeDeviceNotFound:
		return http.StatusNotFound
	case CodeDeviceBusy, CodeInvalidStateTransition:
		return http.StatusConflict
	case CodeConstraintUnsatisfiable, CodeUnsupportedCapability:
		return http.StatusUnprocessableEntity
	case CodeEnumerationUnsupported:
		return http.StatusNotImplemented
	case CodeSessionFault, CodeEndOfStream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is. Matching is by code, so a wrapped or annotated
// error of the same code matches its sentinel.
var (
	ErrPermissionDenied        = New(CodePermissionDenied, "permission denied")
	ErrEnumerationUnsupported  = New(CodeEnumerationUnsupported, "device enumeration unsupported")
	ErrDeviceNotFound          = New(CodeDeviceNotFound, "device not found")
	ErrDeviceBusy              = New(CodeDeviceBusy, "device busy")
	ErrConstraintUnsatisfiable = New(CodeConstraintUnsatisfiable, "constraints unsatisfiable")
	ErrUnsupportedCapability   = New(CodeUnsupportedCapability, "unsupported capability")
	ErrInvalidStateTransition  = New(CodeInvalidStateTransition, "invalid state transition")
	ErrDecodeFailure           = New(CodeDecodeFailure, "decode failed")
	ErrSessionFault            = New(CodeSessionFault, "session fault")
	ErrEndOfStream             = New(CodeEndOfStream, "end of stream")
)

// Error is the structured error type with wrapping and metadata
type Error struct {
	orig error
	msg  string
	code Code
	op   string
}

// Wire is the JSON form returned by the monitor API
type Wire struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.msg
	if e.op != "" {
		msg = e.op + ": " + msg
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", msg, e.orig)
	}
	return msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// Code returns the error code
func (e *Error) Code() Code { return e.code }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// ToWire converts an *Error to a Wire payload
func (e *Error) ToWire() Wire { return Wire{Code: e.code, Message: e.Error(), Op: e.op} }

// WireFrom converts any error into a Wire payload
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		w := e.ToWire()
		w.Message = err.Error()
		return w
	}
	return Wire{Code: CodeUnknown, Message: err.Error()}
}

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf extracts a Code from any error, defaulting to Unknown
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.code
	}
	return CodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code Code) bool { return err != nil && CodeOf(err) == code }

// HTTPStatus returns the mapped HTTP status for any error
func HTTPStatus(err error) int { return HTTPStatusCode(CodeOf(err)) }

// Transient reports whether the loop may continue after err
func Transient(err error) bool { return IsCode(err, CodeDecodeFailure) }

// WithOp attaches an operation label (copy-on-write). Foreign errors are returned unchanged.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// New returns a new *Error with the given code and message
func New(code Code, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code Code, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code Code, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code Code, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// Sugar

// Busyf returns a device busy error
func Busyf(format string, a ...any) error { return Newf(CodeDeviceBusy, format, a...) }

// NotFoundf returns a device not found error
func NotFoundf(format string, a ...any) error { return Newf(CodeDeviceNotFound, format, a...) }

// InvalidTransitionf returns an invalid state transition error
func InvalidTransitionf(format string, a ...any) error {
	return Newf(CodeInvalidStateTransition, format, a...)
}

// Unsupportedf returns an unsupported capability error
func Unsupportedf(format string, a ...any) error {
	return Newf(CodeUnsupportedCapability, format, a...)
}
