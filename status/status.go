// Package status defines the outcome of an RPC: a numeric Code carried on the wire,
// the *Error type that wraps a non-OK code, and the two failure kinds callers branch on.
//
// Codes share their numeric values with gRPC status codes so the framed transport and the
// gRPC transport report failures identically.
//
//	ErrEncoding  - text could not be converted to or from bytes
//	ErrTransport - dial failure, broken connection, closed channel, or any non-OK remote status
package status

import (
	"errors"
	"fmt"
)

// Code is the status code of a completed call.
type Code uint8

const (
	CodeOK                Code = 0
	CodeCanceled          Code = 1
	CodeUnknown           Code = 2
	CodeInvalidArgument   Code = 3
	CodeDeadlineExceeded  Code = 4
	CodeResourceExhausted Code = 8
	CodeUnimplemented     Code = 12
	CodeInternal          Code = 13
	CodeUnavailable       Code = 14
)

var codeNames = map[Code]string{
	CodeOK:                "OK",
	CodeCanceled:          "Canceled",
	CodeUnknown:           "Unknown",
	CodeInvalidArgument:   "InvalidArgument",
	CodeDeadlineExceeded:  "DeadlineExceeded",
	CodeResourceExhausted: "ResourceExhausted",
	CodeUnimplemented:     "Unimplemented",
	CodeInternal:          "Internal",
	CodeUnavailable:       "Unavailable",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

var (
	// ErrEncoding matches every text <-> bytes conversion failure.
	ErrEncoding = errors.New("status: encoding error")
	// ErrTransport matches every failure to obtain an OK response from the remote side.
	ErrTransport = errors.New("status: transport error")
)

// Error is a non-OK status. It always matches ErrTransport: from the caller's point of
// view a non-OK status is a failed exchange, whatever the server's reason was.
type Error struct {
	Code    Code
	Message string
}

// New returns an *Error with the given code. New(CodeOK, ...) returns nil.
func New(code Code, msg string) error {
	if code == CodeOK {
		return nil
	}
	return &Error{Code: code, Message: msg}
}

// Errorf is New with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrTransport
}

// CodeOf extracts the code from err. nil is CodeOK, errors without a status are CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// MessageOf returns the status message of err, or err.Error() if it carries no status.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
