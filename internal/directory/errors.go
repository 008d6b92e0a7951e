package directory

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed directory request. Every failure surfaced by
// Client carries exactly one Kind.
type Kind string

const (
	// KindNoResponse means no complete response came back: the transport
	// failed, the body was cut off, or the breaker refused the request.
	KindNoResponse Kind = "no-response"

	// KindServerError means the directory answered with a non-2xx status.
	KindServerError Kind = "server-error"

	// KindClientError means the request could not be built, or a 2xx
	// body could not be decoded.
	KindClientError Kind = "client-error"
)

const (
	NoResponseMessage     = "No response from server"
	FallbackServerMessage = "An error occurred"
)

// Error is the single error shape produced by Client.
type Error struct {
	Kind    Kind
	Status  int // set for KindServerError only
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindServerError {
		return fmt.Sprintf("directory %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("directory %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err did not come from Client.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by a server-error, else 0.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return 0
}

// MessageOf returns the human-readable message to show for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindServerError && de.Status == http.StatusNotFound
}
