package dalybms_test

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
	"github.com/jonamat/go-daly-bms/internal/transport"
)

// device answers a request frame with the bytes the BMS would send back,
// or nil to stay silent.
type device func(req []byte) []byte

// pack16 is a 16 cell, 2 sensor pack.
func pack16(req []byte) []byte {
	switch protocol.Command(req[2]) {
	case protocol.ReadStatus:
		return reply(protocol.ReadStatus, statusPayload)
	case protocol.ReadCellVoltages:
		return reply(protocol.ReadCellVoltages, cellFrames(16, 6)...)
	}
	return nil
}

func silent([]byte) []byte { return nil }

// split cuts b into n byte pieces, the way a slow UART hands them out.
func split(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > n {
		out = append(out, b[:n])
		b = b[n:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}

// simPort is a transport.Port backed by a device. Idle reads wait a bit and
// report io.EOF like a tty with VTIME set.
type simPort struct {
	dev device

	mu      sync.Mutex
	pending [][]byte
	writes  int32
}

func (p *simPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	p.pending = append(p.pending, split(p.dev(b), 5)...)
	return len(b), nil
}

func (p *simPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, io.EOF
	}
	defer p.mu.Unlock()
	n := copy(b, p.pending[0])
	if n < len(p.pending[0]) {
		p.pending[0] = p.pending[0][n:]
	} else {
		p.pending = p.pending[1:]
	}
	return n, nil
}

func (p *simPort) Flush() error {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return nil
}

func (p *simPort) Close() error { return nil }

func (p *simPort) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.writes)
}

// backend wires dev to a real transport and reports how many requests
// reached the device.
type backend func(dev device) (transport.Transport, func() int)

func blockingBackend(dev device) (transport.Transport, func() int) {
	port := &simPort{dev: dev}
	return transport.NewSerial(port), port.Writes
}

func asyncBackend(dev device) (transport.Transport, func() int) {
	host, end := net.Pipe()
	var writes atomic.Int32
	go func() {
		defer end.Close()
		req := make([]byte, protocol.FrameSize)
		for {
			if _, err := io.ReadFull(end, req); err != nil {
				return
			}
			writes.Add(1)
			for _, c := range split(dev(req), 5) {
				if _, err := end.Write(c); err != nil {
					return
				}
			}
		}
	}()
	return transport.NewAsync(host), func() int { return int(writes.Load()) }
}

var _ = Describe("DalyBMS over real backends", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	DescribeTable("status then cell voltages",
		func(newBackend backend) {
			tr, writes := newBackend(pack16)
			bms := New(tr, WithTimeout(500*time.Millisecond), WithDelay(0))
			DeferCleanup(bms.Disconnect)

			status, err := bms.GetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Cells).To(Equal(16))
			Expect(status.TemperatureSensors).To(Equal(2))

			voltages, err := bms.GetCellVoltages(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(voltages).To(HaveLen(16))
			Expect(voltages[0]).To(Equal(uint16(3300)))
			Expect(voltages[15]).To(Equal(uint16(3315)))
			Expect(writes()).To(Equal(2))
		},
		Entry("blocking serial", backend(blockingBackend)),
		Entry("async pipe", backend(asyncBackend)),
	)

	DescribeTable("silent device",
		func(newBackend backend) {
			tr, writes := newBackend(silent)
			bms := New(tr, WithTimeout(20*time.Millisecond), WithDelay(0), WithRetries(2))
			DeferCleanup(bms.Disconnect)

			_, err := bms.GetSOC(ctx)
			Expect(err).To(MatchError(ErrRetriesExhausted))
			Expect(err).To(MatchError(ErrTimeout))
			Expect(err.Error()).To(ContainSubstring("0 of 13 bytes"))
			Eventually(writes).Should(Equal(2))
		},
		Entry("blocking serial", backend(blockingBackend)),
		Entry("async pipe", backend(asyncBackend)),
	)

	It("raises a timeout below the blocking poll granularity", func() {
		tr, _ := blockingBackend(silent)
		bms := New(tr, WithTimeout(20*time.Millisecond), WithDelay(0), WithRetries(1))

		start := time.Now()
		_, err := bms.GetSOC(ctx)
		Expect(err).To(MatchError(ErrTimeout))
		Expect(time.Since(start)).To(BeNumerically(">=", transport.VTIMEUnit))
	})
})
