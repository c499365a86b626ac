package dalybms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonamat/go-daly-bms/internal/protocol"
	"github.com/jonamat/go-daly-bms/internal/transport"
)

// Request is one command plus its outgoing payload (nil for reads).
type Request struct {
	Command protocol.Command
	Payload []byte
}

// Attempt describes a finished attempt of an exchange. Err is nil on success.
type Attempt struct {
	Command protocol.Command
	Number  int
	Err     error
	Elapsed time.Duration
}

// Observer receives every attempt made by Execute.
type Observer func(Attempt)

type Policy struct {
	// Timeout bounds the read phase of a single attempt.
	Timeout time.Duration
	// Delay is waited before every attempt, the first one included.
	Delay time.Duration
	// Retries is the total number of attempts. Values below 1 mean 1.
	Retries  int
	Observer Observer
}

// Execute performs one request/reply exchange over tr, retrying failed
// attempts according to policy.
//
// Count dependent commands fail with protocol.ErrInsufficientContext before
// any I/O when counts are unknown. Transport failures and context
// cancellation end the call immediately; timeouts, invalid frames and
// unexpected responses are retried and reported as *RetriesExhaustedError
// once the bound is reached.
func Execute(ctx context.Context, tr transport.Transport, addr protocol.Address, req Request, counts protocol.Counts, policy Policy) (protocol.Result, error) {
	entry, ok := protocol.Catalog[req.Command]
	if !ok {
		return nil, fmt.Errorf("unsupported command %s", req.Command)
	}
	frames, err := entry.Frames(counts, addr)
	if err != nil {
		return nil, err
	}

	attempts := policy.Retries
	if attempts < 1 {
		attempts = 1
	}
	x := exchange{
		tr:      tr,
		request: protocol.Encode(addr, req.Command, req.Payload),
		command: req.Command,
		size:    frames * protocol.FrameSize,
		decode:  entry.Decode,
		counts:  counts,
		policy:  policy,
	}

	var last error
	for n := 1; n <= attempts; n++ {
		start := time.Now()
		res, err := x.attempt(ctx)
		if policy.Observer != nil {
			policy.Observer(Attempt{Command: req.Command, Number: n, Err: err, Elapsed: time.Since(start)})
		}
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		last = err
	}
	return nil, &RetriesExhaustedError{Command: req.Command, Attempts: attempts, Last: last}
}

type exchange struct {
	tr      transport.Transport
	request []byte
	command protocol.Command
	size    int
	decode  func([]protocol.Frame, protocol.Counts) (protocol.Result, error)
	counts  protocol.Counts
	policy  Policy
}

// attempt runs one write/read cycle. Bytes read are never carried over to
// the next attempt.
func (x *exchange) attempt(ctx context.Context) (protocol.Result, error) {
	if err := sleep(ctx, x.policy.Delay); err != nil {
		return nil, err
	}

	if d, ok := x.tr.(transport.Drainer); ok {
		if err := d.Drain(); err != nil {
			return nil, &TransportError{Op: "drain", Err: err}
		}
	}

	if err := x.tr.Write(ctx, x.request); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "write", Err: err}
	}

	buf := make([]byte, 0, x.size)
	deadline := time.Now().Add(x.policy.Timeout)
	for len(buf) < x.size {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %d of %d bytes", ErrTimeout, len(buf), x.size)
		}
		chunk, err := x.tr.ReadAvailable(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransportError{Op: "read", Err: err}
		}
		buf = append(buf, chunk...)
	}

	frames, err := protocol.DecodeAll(buf[:x.size])
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		if f.Command != x.command {
			return nil, &UnexpectedResponseError{Want: x.command, Got: f.Command}
		}
	}
	return x.decode(frames, x.counts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
