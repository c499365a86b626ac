package dalybms_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
)

var _ = Describe("Execute", func() {
	var (
		tr       *MockTransport
		attempts []Attempt
		policy   Policy
		ctx      context.Context
	)

	BeforeEach(func() {
		tr = &MockTransport{}
		attempts = nil
		policy = Policy{
			Timeout: 30 * time.Millisecond,
			Retries: 3,
			Observer: func(a Attempt) {
				attempts = append(attempts, a)
			},
		}
		ctx = context.Background()
	})

	execute := func(cmd protocol.Command, counts protocol.Counts) (protocol.Result, error) {
		return Execute(ctx, tr, protocol.HostRS485, Request{Command: cmd}, counts, policy)
	}

	Context("single frame reply", func() {
		It("runs just fine", func() {
			tr.Replies = [][][]byte{chunks(reply(protocol.ReadSOC, socPayload))}

			res, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(protocol.SOC{TotalVoltage: 53.6, Current: 0, SOCPercent: 87.5}))
			Expect(tr.Calls).To(Equal([]string{
				"DRAIN",
				"WRITE [A5 40 90 08 00 00 00 00 00 00 00 00 7D]",
				"READ",
			}))
			Expect(attempts).To(HaveLen(1))
			Expect(attempts[0].Command).To(Equal(protocol.ReadSOC))
			Expect(attempts[0].Number).To(Equal(1))
			Expect(attempts[0].Err).NotTo(HaveOccurred())
		})

		It("accumulates partial reads", func() {
			b := reply(protocol.ReadStatus, statusPayload)
			tr.Replies = [][][]byte{chunks(b[:1], b[1:5], b[5:12], b[12:])}

			res, err := execute(protocol.ReadStatus, protocol.Counts{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.(protocol.Status).Cells).To(Equal(16))
			Expect(tr.Calls).To(HaveLen(6))
		})
	})

	Context("device never answers", func() {
		It("makes exactly Retries attempts then gives up", func() {
			_, err := execute(protocol.ReadSOC, protocol.Counts{})

			Expect(tr.WriteCount()).To(Equal(3))
			Expect(err).To(MatchError(ErrRetriesExhausted))
			Expect(err).To(MatchError(ErrTimeout))

			var re *RetriesExhaustedError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Attempts).To(Equal(3))
			Expect(re.Command).To(Equal(protocol.ReadSOC))

			Expect(attempts).To(HaveLen(3))
			for i, a := range attempts {
				Expect(a.Number).To(Equal(i + 1))
				Expect(a.Err).To(MatchError(ErrTimeout))
				Expect(a.Elapsed).To(BeNumerically(">=", policy.Timeout))
			}
		})

		It("times out on a partial frame", func() {
			b := reply(protocol.ReadSOC, socPayload)
			policy.Retries = 1
			tr.Replies = [][][]byte{chunks(b[:7])}

			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).To(MatchError(ErrTimeout))
			Expect(err.Error()).To(ContainSubstring("7 of 13 bytes"))
		})

		It("treats zero retries as one attempt", func() {
			policy.Retries = 0
			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).To(MatchError(ErrRetriesExhausted))
			Expect(tr.WriteCount()).To(Equal(1))
		})
	})

	Context("stale reply to another command", func() {
		It("reports it and succeeds on the next attempt", func() {
			tr.Replies = [][][]byte{
				nil,
				chunks(reply(protocol.ReadSOC, socPayload)),
				chunks(reply(protocol.ReadStatus, statusPayload)),
			}

			res, err := execute(protocol.ReadStatus, protocol.Counts{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.(protocol.Status).TemperatureSensors).To(Equal(2))

			Expect(attempts).To(HaveLen(3))
			Expect(attempts[0].Err).To(MatchError(ErrTimeout))
			Expect(attempts[1].Err).To(MatchError(ErrUnexpectedResponse))
			var ue *UnexpectedResponseError
			Expect(errors.As(attempts[1].Err, &ue)).To(BeTrue())
			Expect(ue.Want).To(Equal(protocol.ReadStatus))
			Expect(ue.Got).To(Equal(protocol.ReadSOC))
			Expect(attempts[2].Err).NotTo(HaveOccurred())
		})

		It("surfaces it once retries are used up", func() {
			policy.Retries = 2
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadSOC, socPayload)),
				chunks(reply(protocol.ReadSOC, socPayload)),
			}

			_, err := execute(protocol.ReadStatus, protocol.Counts{})
			Expect(err).To(MatchError(ErrRetriesExhausted))
			Expect(err).To(MatchError(ErrUnexpectedResponse))
		})
	})

	Context("corrupted reply", func() {
		It("retries after a checksum mismatch", func() {
			bad := reply(protocol.ReadSOC, socPayload)
			bad[7] ^= 0x10
			tr.Replies = [][][]byte{
				chunks(bad),
				chunks(reply(protocol.ReadSOC, socPayload)),
			}

			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(HaveLen(2))
			Expect(attempts[0].Err).To(MatchError(protocol.ErrFrameInvalid))
			Expect(attempts[0].Err).To(MatchError(protocol.ErrChecksum))
		})

		It("retries frames delivered out of order", func() {
			counts := protocol.Counts{Cells: 4, TemperatureSensors: 1, Known: true}
			frames := cellFrames(4, 2)
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadCellVoltages, frames[1], frames[0])),
				chunks(reply(protocol.ReadCellVoltages, frames...)),
			}

			res, err := execute(protocol.ReadCellVoltages, counts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(protocol.CellVoltages{3300, 3301, 3302, 3303}))
			Expect(attempts[0].Err).To(MatchError(protocol.ErrFrameInvalid))
		})
	})

	Context("unknown counts", func() {
		DescribeTable("fails without I/O",
			func(cmd protocol.Command) {
				_, err := execute(cmd, protocol.Counts{})
				Expect(err).To(MatchError(protocol.ErrInsufficientContext))
				Expect(err).NotTo(MatchError(ErrRetriesExhausted))
				Expect(tr.Calls).To(BeEmpty())
				Expect(attempts).To(BeEmpty())
			},
			Entry("cell voltages", protocol.ReadCellVoltages),
			Entry("cell temperatures", protocol.ReadCellTemperatures),
			Entry("balancing", protocol.ReadBalancingStatus),
		)
	})

	Context("error on write", func() {
		It("returns it without retrying", func() {
			boom := errors.New("device unplugged")
			tr.Writes = []WriteScript{{boom}}

			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).To(MatchError(ErrTransportFailure))
			Expect(err).To(MatchError(boom))
			Expect(err).NotTo(MatchError(ErrRetriesExhausted))
			Expect(tr.WriteCount()).To(Equal(1))
			Expect(attempts).To(HaveLen(1))
		})
	})

	Context("canceled context", func() {
		It("stops before touching the wire", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			cancel()

			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).To(MatchError(context.Canceled))
			Expect(tr.Calls).To(BeEmpty())
		})

		It("aborts a pending read", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			policy.Timeout = time.Minute
			time.AfterFunc(20*time.Millisecond, cancel)

			start := time.Now()
			_, err := execute(protocol.ReadSOC, protocol.Counts{})
			Expect(err).To(MatchError(context.Canceled))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
			Expect(tr.WriteCount()).To(Equal(1))
		})
	})

	It("waits the delay before every attempt", func() {
		policy.Delay = 25 * time.Millisecond
		policy.Timeout = time.Millisecond
		policy.Retries = 2

		start := time.Now()
		_, err := execute(protocol.ReadSOC, protocol.Counts{})
		Expect(err).To(MatchError(ErrTimeout))
		Expect(time.Since(start)).To(BeNumerically(">=", 2*policy.Delay))
	})
})
