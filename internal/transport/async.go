package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/albenik/go-serial/v2"
)

const rxQueue = 64

// Async is the non-blocking backend. A reader goroutine pumps incoming
// chunks into a channel; callers park in ReadAvailable until a chunk, the
// wait bound or the context fires.
type Async struct {
	rwc io.ReadWriteCloser

	rx   chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func OpenAsync(cfg Config) (*Async, error) {
	ms := int(cfg.readTimeout().Milliseconds())
	port, err := serial.Open(cfg.Device,
		serial.WithBaudrate(Baud),
		serial.WithParity(serial.NoParity),
		serial.WithReadTimeout(ms),
		serial.WithWriteTimeout(ms))
	if err != nil {
		return nil, OpenErr{cfg.Device, err}
	}
	return NewAsync(port), nil
}

// NewAsync starts pumping rwc. A zero length read is treated as an idle
// poll; any read error stops the pump and is reported by ReadAvailable.
func NewAsync(rwc io.ReadWriteCloser) *Async {
	a := &Async{
		rwc:  rwc,
		rx:   make(chan []byte, rxQueue),
		done: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.pump()
	return a
}

func (a *Async) pump() {
	defer a.wg.Done()
	defer close(a.rx)

	buf := make([]byte, 256)
	for {
		n, err := a.rwc.Read(buf)
		if n > 0 {
			select {
			case a.rx <- append([]byte(nil), buf[:n]...):
			case <-a.done:
				return
			}
		}
		if err != nil {
			select {
			case <-a.done:
			default:
				a.setErr(fmt.Errorf("read serial port: %w", err))
			}
			return
		}
		select {
		case <-a.done:
			return
		default:
		}
	}
}

func (a *Async) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *Async) readErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	return ErrClosed
}

func (a *Async) Write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	n, err := a.rwc.Write(b)
	if err != nil {
		return fmt.Errorf("write serial port: %w", err)
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

func (a *Async) ReadAvailable(ctx context.Context, maxWait time.Duration) ([]byte, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case chunk, ok := <-a.rx:
		if !ok {
			return nil, a.readErr()
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inputResetter is implemented by *serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// Drain drops every chunk already queued by the pump and, when the port
// supports it, the bytes still held by the driver.
func (a *Async) Drain() error {
	a.dropQueued()
	r, ok := a.rwc.(inputResetter)
	if !ok {
		return nil
	}
	if err := r.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	// the pump may have queued a chunk read just before the reset
	a.dropQueued()
	return nil
}

func (a *Async) dropQueued() {
	for {
		select {
		case _, ok := <-a.rx:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (a *Async) Close() error {
	err := ErrClosed
	a.once.Do(func() {
		close(a.done)
		err = a.rwc.Close()
		a.wg.Wait()
	})
	return err
}
