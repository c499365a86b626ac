package dalybms

import (
	"errors"
	"io"
	"time"

	"github.com/jonamat/go-daly-bms/internal/protocol"
	"github.com/jonamat/go-daly-bms/internal/transport"
)

const (
	// MinimumDelay is the shortest command spacing the BMS tolerates.
	MinimumDelay = 4 * time.Millisecond

	DefaultTimeout = 500 * time.Millisecond
	DefaultRetries = 3
)

var ErrNotConnected = errors.New("bms not connected")

// DalyBMS is a client for one BMS. It is not safe for concurrent use: the
// link is half duplex and overlapping exchanges would mix up replies.
type DalyBMS struct {
	transport transport.Transport
	address   protocol.Address
	policy    Policy
	counts    protocol.Counts // cached from GetStatus()

	portReadTimeout time.Duration
}

type Option func(*DalyBMS)

// WithTimeout sets the read timeout of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(bms *DalyBMS) {
		bms.policy.Timeout = d
	}
}

// WithDelay sets the spacing waited before every command. Values below
// MinimumDelay are raised to it.
func WithDelay(d time.Duration) Option {
	return func(bms *DalyBMS) {
		if d < MinimumDelay {
			d = MinimumDelay
		}
		bms.policy.Delay = d
	}
}

func WithRetries(n int) Option {
	return func(bms *DalyBMS) {
		bms.policy.Retries = n
	}
}

// WithAddress selects the host address, protocol.HostRS485 by default.
func WithAddress(addr protocol.Address) Option {
	return func(bms *DalyBMS) {
		bms.address = addr
	}
}

// WithPortReadTimeout sets the driver read timeout used by Connect and
// ConnectAsync. For the blocking backend it is the poll granularity: a
// read may overshoot its wait bound by up to this much.
func WithPortReadTimeout(d time.Duration) Option {
	return func(bms *DalyBMS) {
		bms.portReadTimeout = d
	}
}

func WithObserver(o Observer) Option {
	return func(bms *DalyBMS) {
		bms.policy.Observer = o
	}
}

// New builds a client on top of an already opened transport. When tr
// reads with a fixed granularity the attempt timeout is raised to at least
// one granularity.
func New(tr transport.Transport, opts ...Option) *DalyBMS {
	bms := newClient(opts)
	bms.attach(tr)
	return bms
}

func newClient(opts []Option) *DalyBMS {
	bms := &DalyBMS{
		address: protocol.HostRS485,
		policy: Policy{
			Timeout: DefaultTimeout,
			Delay:   MinimumDelay,
			Retries: DefaultRetries,
		},
	}
	for _, opt := range opts {
		opt(bms)
	}
	return bms
}

func (bms *DalyBMS) attach(tr transport.Transport) {
	bms.transport = tr
	if g, ok := tr.(transport.Granular); ok && bms.policy.Timeout < g.PollGranularity() {
		bms.policy.Timeout = g.PollGranularity()
	}
}

// Connect opens the serial port with the blocking backend. Eg "/dev/ttyUSB0"
func Connect(device string, opts ...Option) (*DalyBMS, error) {
	bms := newClient(opts)
	port, err := transport.OpenSerial(transport.Config{Device: device, ReadTimeout: bms.portReadTimeout})
	if err != nil {
		return nil, err
	}
	bms.attach(port)
	return bms, nil
}

// ConnectAsync opens the serial port with the non-blocking backend.
func ConnectAsync(device string, opts ...Option) (*DalyBMS, error) {
	bms := newClient(opts)
	port, err := transport.OpenAsync(transport.Config{Device: device, ReadTimeout: bms.portReadTimeout})
	if err != nil {
		return nil, err
	}
	bms.attach(port)
	return bms, nil
}

// Disconnect closes the transport if it can be closed. The client is
// unusable afterwards.
func (bms *DalyBMS) Disconnect() error {
	if bms.transport == nil {
		return nil
	}
	var err error
	if c, ok := bms.transport.(io.Closer); ok {
		err = c.Close()
	}
	bms.transport = nil
	return err
}

// Counts returns the cell and sensor counts of the last status read.
func (bms *DalyBMS) Counts() protocol.Counts {
	return bms.counts
}

func (bms *DalyBMS) Address() protocol.Address {
	return bms.address
}
