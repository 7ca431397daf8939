package lmfit

import (
	"context"
	"errors"

	"github.com/samcharles93/lmfit/internal/device"
)

var (
	ErrConfiguration     = errors.New("lmfit: invalid configuration")
	ErrDeviceUnavailable = errors.New("lmfit: device unavailable")
	ErrOutOfMemory       = errors.New("lmfit: insufficient device memory")
	ErrDeviceExecution   = errors.New("lmfit: device execution failed")
	ErrCanceled          = errors.New("lmfit: canceled")
	ErrBusy              = errors.New("lmfit: fits in flight")

	errUnclassified = errors.New("lmfit: error")
)

// Class groups whole-run failures. Per-fit outcomes are reported through
// Results.States and never as errors.
type Class int

const (
	ClassConfiguration Class = iota + 1
	ClassDeviceUnavailable
	ClassOutOfMemory
	ClassDeviceExecution
	ClassCanceled
	ClassBusy
)

func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassDeviceUnavailable:
		return "device_unavailable"
	case ClassOutOfMemory:
		return "out_of_memory"
	case ClassDeviceExecution:
		return "device_execution"
	case ClassCanceled:
		return "canceled"
	case ClassBusy:
		return "busy"
	default:
		return "unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassConfiguration:
		return ErrConfiguration
	case ClassDeviceUnavailable:
		return ErrDeviceUnavailable
	case ClassOutOfMemory:
		return ErrOutOfMemory
	case ClassDeviceExecution:
		return ErrDeviceExecution
	case ClassCanceled:
		return ErrCanceled
	case ClassBusy:
		return ErrBusy
	default:
		return errUnclassified
	}
}

// Error is a classified whole-run failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Class.sentinel().Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the class sentinels. An out of memory error also matches
// ErrConfiguration since no chunk size can satisfy the device.
func (e *Error) Is(target error) bool {
	if target == e.Class.sentinel() {
		return true
	}
	return e.Class == ClassOutOfMemory && target == ErrConfiguration
}

func newError(class Class, op string, err error) error {
	return &Error{Class: class, Op: op, Err: err}
}

func configError(op string, err error) error {
	return newError(ClassConfiguration, op, err)
}

// deviceError classifies a failure reported by the device layer.
func deviceError(op string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ClassCanceled, op, err)
	case errors.Is(err, device.ErrOutOfMemory):
		return newError(ClassOutOfMemory, op, err)
	case errors.Is(err, device.ErrUnavailable):
		return newError(ClassDeviceUnavailable, op, err)
	case errors.Is(err, device.ErrBusy):
		return newError(ClassBusy, op, err)
	default:
		return newError(ClassDeviceExecution, op, err)
	}
}

// Status maps err to the numeric status codes of the native interface:
// 0 success, 1 configuration, 2 device unavailable, 3 out of memory,
// 4 device execution, 5 canceled. Busy contexts report 1.
func Status(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrOutOfMemory):
		return 3
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrBusy):
		return 1
	case errors.Is(err, ErrDeviceUnavailable):
		return 2
	case errors.Is(err, ErrCanceled):
		return 5
	default:
		return 4
	}
}

// ClassOf returns the class of err, or 0 for nil and unclassified errors.
func ClassOf(err error) Class {
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	return 0
}
