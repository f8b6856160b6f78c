package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownTool is matched by every *UnknownToolError.
var ErrUnknownTool = errors.New("unknown tool")

// ProviderError is a failed request to a model provider.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Class maps the HTTP status: throttling, timeouts and 5xx are transient,
// rejected request bodies are recoverable, the rest fatal.
func (e *ProviderError) Class() Class {
	switch {
	case e.Status == http.StatusTooManyRequests,
		e.Status == http.StatusRequestTimeout,
		e.Status >= http.StatusInternalServerError:
		return Transient
	case e.Status == http.StatusBadRequest,
		e.Status == http.StatusUnprocessableEntity:
		return Recoverable
	default:
		return Fatal
	}
}

// ArgumentError reports tool arguments that could not be decoded, even
// after repair.
type ArgumentError struct {
	Raw    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return "invalid tool arguments: " + e.Reason
}

func (e *ArgumentError) Class() Class { return Recoverable }

// UnknownToolError reports a call naming a tool the agent cannot see.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownTool, e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

func (e *UnknownToolError) Class() Class { return Recoverable }
