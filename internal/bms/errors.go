package dalybms

import (
	"errors"
	"fmt"

	"github.com/jonamat/go-daly-bms/internal/protocol"
)

var (
	// ErrTimeout is returned for an attempt that didn't assemble every
	// expected frame within the timeout.
	ErrTimeout            = errors.New("timeout waiting for response")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrTransportFailure   = errors.New("transport failure")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

// UnexpectedResponseError reports a well formed reply to another command,
// usually stale bytes from a previous exchange.
type UnexpectedResponseError struct {
	Want protocol.Command
	Got  protocol.Command
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response: want %s (0x%02X), got %s (0x%02X)",
		e.Want, byte(e.Want), e.Got, byte(e.Got))
}

func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// TransportError is fatal for the call that produced it and never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

type RetriesExhaustedError struct {
	Command  protocol.Command
	Attempts int
	// Last is the failure of the final attempt.
	Last error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Command, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}
