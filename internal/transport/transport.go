// Package transport provides the raw byte primitive consumed by the
// transaction engine, with a blocking and a non-blocking serial backend.
package transport

import (
	"context"
	"errors"
	"time"
)

const (
	// Baud is fixed by the protocol (9600 8N1).
	Baud = 9600

	// VTIMEUnit is the resolution of a tty read timeout (VTIME counts
	// deciseconds).
	VTIMEUnit = 100 * time.Millisecond

	defaultReadTimeout = VTIMEUnit
)

var ErrClosed = errors.New("transport closed")

// Transport is the byte level contract shared by every backend.
//
// ReadAvailable returns whatever arrived within maxWait. It may return fewer
// bytes than a frame, or none at all when the wait elapsed; that is not an
// error. A Write error is fatal for the exchange that issued it.
type Transport interface {
	Write(ctx context.Context, b []byte) error
	ReadAvailable(ctx context.Context, maxWait time.Duration) ([]byte, error)
}

// Drainer is implemented by transports able to discard stale input.
type Drainer interface {
	Drain() error
}

// Config describes the serial device to open.
type Config struct {
	Device string
	// ReadTimeout bounds a single driver read, i.e. the poll granularity of
	// the blocking backend and the pump of the async one. It is rounded up
	// to a multiple of VTIMEUnit.
	ReadTimeout time.Duration
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return (c.ReadTimeout + VTIMEUnit - 1) / VTIMEUnit * VTIMEUnit
}

// Granular is implemented by transports whose reads can't be interrupted
// faster than a fixed granularity. ReadAvailable may then return up to one
// granularity after maxWait or after ctx is done.
type Granular interface {
	PollGranularity() time.Duration
}

type OpenErr struct {
	Dev string
	Err error
}

func (e OpenErr) Error() string {
	return e.Err.Error() + " while opening " + e.Dev
}

func (e OpenErr) Unwrap() error {
	return e.Err
}
