package event

import (
	"fmt"
)

// DeliveryError describes a subscriber that failed to handle an event.
type DeliveryError struct {
	Event      Event
	Subscriber string
	Panicked   bool
	Err        error
}

// Error implements error interface.
func (e *DeliveryError) Error() string {
	verb := "failed"
	if e.Panicked {
		verb = "panicked"
	}
	return fmt.Sprintf("subscriber %s %s on %s: %v", e.Subscriber, verb, e.Event.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
