// Package errors classifies model and tool failures.
//
// Every failure falls into one Class. Transient failures are retried by the
// model adapters, recoverable ones are reported back to the model so it can
// correct its next call, and fatal ones end the attempt.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Class says how a caller should react to a failure.
type Class uint8

const (
	// Fatal failures do not improve on retry. Unclassified errors are fatal.
	Fatal Class = iota
	// Transient failures (rate limits, overloaded providers, timeouts) may
	// succeed when retried after a pause.
	Transient
	// Recoverable failures stem from what the model asked for, such as a
	// malformed argument object or an unknown tool. The model can fix them.
	Recoverable
)

var classNames = [...]string{
	Fatal:       "fatal",
	Transient:   "transient",
	Recoverable: "recoverable",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass is the inverse of String.
func ParseClass(s string) (Class, error) {
	for c, name := range classNames {
		if name == s {
			return Class(c), nil
		}
	}
	return Fatal, fmt.Errorf("unknown error class %q", s)
}

// classifier is implemented by errors that know their own class.
type classifier interface {
	Class() Class
}

// ClassOf returns the class of the first error in err's chain that carries
// one. A deadline counts as transient; everything else defaults to Fatal.
func ClassOf(err error) Class {
	if err == nil {
		return Fatal
	}
	var c classifier
	if errors.As(err, &c) {
		return c.Class()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Fatal
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return ClassOf(err) == Transient }

// IsRecoverable reports whether the model may fix err when shown it.
func IsRecoverable(err error) bool { return ClassOf(err) == Recoverable }

// Mark attaches class to err, overriding whatever err would classify as.
func Mark(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, class: class}
}

type marked struct {
	err   error
	class Class
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }
func (m *marked) Class() Class  { return m.class }
