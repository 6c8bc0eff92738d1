package ollama

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest is returned before any network activity when a request
// fails its preconditions.
var ErrInvalidRequest = errors.New("invalid request")

// ErrStreamUnavailable is returned when a successful response carries no
// readable body.
var ErrStreamUnavailable = errors.New("response body is not readable as a stream")

// EndpointError is a non-success HTTP status returned before streaming began.
type EndpointError struct {
	StatusCode int
	Status     string
	// Message is the "error" field of the response body, if there was one.
	Message string
}

func (e *EndpointError) Error() string {
	if e.Message == "" {
		return "ollama returned " + e.Status
	}
	return fmt.Sprintf("ollama returned %s: %s", e.Status, e.Message)
}

// IncompleteStreamError is returned when the stream ends before a record
// with done=true was observed. Partial holds the text accumulated so far.
type IncompleteStreamError struct {
	Partial string
	Records int
}

func (e *IncompleteStreamError) Error() string {
	return fmt.Sprintf("stream closed after %d records without a final record", e.Records)
}

// StreamError is an {"error": ...} line received after streaming began.
// Partial holds the text accumulated before it.
type StreamError struct {
	Message string
	Partial string
	Records int
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("ollama stream error after %d records: %s", e.Records, e.Message)
}

// TransportError is a connection-level fault while the request was in
// flight, e.g. a reset connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is returned when no bytes arrived for longer than the
// configured idle timeout.
type TimeoutError struct {
	Idle time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no data received for %s", e.Idle)
}

// Timeout reports true so TimeoutError satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }
