package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the subset of *serial.Port used by the blocking backend.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Serial is the blocking backend: every call occupies the calling goroutine
// until it completes or its wait bound elapses.
//
// A driver read can't be interrupted, so ReadAvailable and context
// cancellation overshoot by at most PollGranularity, the driver read
// timeout (100ms unless configured).
type Serial struct {
	port        Port
	buf         []byte
	granularity time.Duration
}

// OpenSerial opens the serial port. Eg "/dev/ttyUSB0"
func OpenSerial(cfg Config) (*Serial, error) {
	portConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        Baud,
		ReadTimeout: cfg.readTimeout(),
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}

	openedPort, err := serial.OpenPort(portConfig)
	if err != nil {
		return nil, OpenErr{cfg.Device, err}
	}
	return newSerial(openedPort, portConfig.ReadTimeout), nil
}

// NewSerial wraps a port opened with the default read timeout.
func NewSerial(port Port) *Serial {
	return newSerial(port, defaultReadTimeout)
}

func newSerial(port Port, granularity time.Duration) *Serial {
	return &Serial{port: port, buf: make([]byte, 64), granularity: granularity}
}

func (s *Serial) PollGranularity() time.Duration {
	return s.granularity
}

func (s *Serial) Write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.port.Write(b)
	if err != nil {
		return fmt.Errorf("write serial port: %w", err)
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadAvailable polls the port until some bytes arrive or maxWait elapsed.
// The driver reports a read timeout as io.EOF with no data. Each poll may
// block for one PollGranularity.
func (s *Serial) ReadAvailable(ctx context.Context, maxWait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(maxWait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.port.Read(s.buf)
		if n > 0 {
			return append([]byte(nil), s.buf[:n]...), nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read serial port: %w", err)
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
	}
}

// Drain discards anything left in the driver buffers so it doesn't mix with
// the next response.
func (s *Serial) Drain() error {
	return s.port.Flush()
}

func (s *Serial) Close() error {
	return s.port.Close()
}
