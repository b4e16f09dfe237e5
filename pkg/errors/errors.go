package errors

import (
	stderrors "errors"
	"fmt"
	pkgerrors "github.com/pkg/errors"
	"runtime"
	"strings"
)

// New returns an error with the supplied message and the caller stack.
func New(message string) error {
	return pkgerrors.New(message)
}

// NewWithReport is New, and the error is reported to every registered reporter.
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// Wrap annotates err with message and the caller stack. A nil err returns nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrapf(err, format, args...)
	report(wrapped)
	return wrapped
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithStack(err)
	report(wrapped)
	return wrapped
}

func WithMessage(err error, message string) error {
	return pkgerrors.WithMessage(err, message)
}

func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithMessage(err, message)
	report(wrapped)
	return wrapped
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func Cause(err error) error {
	return pkgerrors.Cause(err)
}

type stack []uintptr

// callers skips runtime.Callers, callers itself and the reporter frame.
func callers() stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// fullStack renders "function file:line" per frame. Index 2 is the frame that created the
// reported error, reporters rate limit on it.
func (s stack) fullStack() []string {
	frames := runtime.CallersFrames(s)
	out := make([]string, 0, len(s))
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	for len(out) < 3 {
		out = append(out, "unknown")
	}
	return out
}
