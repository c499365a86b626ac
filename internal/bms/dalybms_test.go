package dalybms_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
)

var _ = Describe("DalyBMS", func() {
	var (
		tr  *MockTransport
		bms *DalyBMS
		ctx context.Context
	)

	BeforeEach(func() {
		tr = &MockTransport{}
		bms = New(tr, WithTimeout(30*time.Millisecond), WithDelay(0), WithRetries(3))
		ctx = context.Background()
	})

	Context("status then cell voltages", func() {
		It("decodes exactly as many cells as the status reported", func() {
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadStatus, statusPayload)),
				chunks(reply(protocol.ReadCellVoltages, cellFrames(16, 6)...)),
			}

			status, err := bms.GetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Cells).To(Equal(16))
			Expect(status.TemperatureSensors).To(Equal(2))
			Expect(bms.Counts()).To(Equal(protocol.Counts{Cells: 16, TemperatureSensors: 2, Known: true}))

			voltages, err := bms.GetCellVoltages(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(voltages).To(HaveLen(16))
			Expect(voltages[0]).To(Equal(uint16(3300)))
			Expect(voltages[15]).To(Equal(uint16(3315)))
		})

		It("reads every frame over bluetooth", func() {
			bms = New(tr, WithAddress(protocol.HostBluetooth), WithTimeout(30*time.Millisecond))
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadStatus, statusPayload)),
				chunks(reply(protocol.ReadCellVoltages, cellFrames(16, 16)...)),
			}

			_, err := bms.GetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			voltages, err := bms.GetCellVoltages(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(voltages).To(HaveLen(16))
			Expect(tr.Calls[1]).To(Equal("WRITE [A5 80 94 08 00 00 00 00 00 00 00 00 C1]"))
		})
	})

	Context("fresh client", func() {
		It("refuses count dependent reads", func() {
			_, err := bms.GetCellVoltages(ctx)
			Expect(err).To(MatchError(protocol.ErrInsufficientContext))
			_, err = bms.GetCellTemperatures(ctx)
			Expect(err).To(MatchError(protocol.ErrInsufficientContext))
			_, err = bms.GetBalancingStatus(ctx)
			Expect(err).To(MatchError(protocol.ErrInsufficientContext))
			Expect(tr.Calls).To(BeEmpty())
		})

		It("leaves counts unknown when the status read fails", func() {
			_, err := bms.GetStatus(ctx)
			Expect(err).To(MatchError(ErrRetriesExhausted))
			Expect(bms.Counts().Known).To(BeFalse())
		})
	})

	Context("single frame reads", func() {
		It("decodes each reply type", func() {
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadSOC, socPayload)),
				chunks(reply(protocol.ReadCellVoltageRange, []byte{0x0C, 0xCF, 3, 0x0C, 0xB7, 1})),
				chunks(reply(protocol.ReadTemperatureRange, []byte{53, 1, 53, 1})),
				chunks(reply(protocol.ReadMosfet, []byte{0, 1, 1, 7, 0x00, 0x02, 0x3F, 0x9E})),
				chunks(reply(protocol.ReadErrors, []byte{0x01})),
			}

			soc, err := bms.GetSOC(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*soc).To(Equal(protocol.SOC{TotalVoltage: 53.6, Current: 0, SOCPercent: 87.5}))

			vr, err := bms.GetCellVoltageRange(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(vr.HighestCell).To(Equal(3))
			Expect(vr.LowestVoltage).To(BeNumerically("~", 3.255, 1e-9))

			tempRange, err := bms.GetTemperatureRange(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tempRange.HighestTemperature).To(Equal(13))

			m, err := bms.GetMosfetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Mode).To(Equal(protocol.Stationary))
			Expect(m.BMSCycles).To(Equal(7))

			faults, err := bms.GetErrors(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(faults).To(Equal(protocol.Faults{protocol.CellVoltHighLevel1}))
		})
	})

	Context("write commands", func() {
		It("sends the encoded argument and accepts the echo", func() {
			tr.Replies = [][][]byte{
				chunks(reply(protocol.WriteSOC)),
				chunks(reply(protocol.WriteChargeMosfet)),
				chunks(reply(protocol.WriteDischargeMosfet)),
				chunks(reply(protocol.Reset)),
			}

			Expect(bms.SetSOC(ctx, 87.5)).To(Succeed())
			Expect(bms.SetChargeMosfet(ctx, true)).To(Succeed())
			Expect(bms.SetDischargeMosfet(ctx, false)).To(Succeed())
			Expect(bms.Reset(ctx)).To(Succeed())

			var writes []string
			for _, c := range tr.Calls {
				if len(c) > 5 && c[:5] == "WRITE" {
					writes = append(writes, c)
				}
			}
			Expect(writes).To(Equal([]string{
				"WRITE [A5 40 21 08 00 00 00 00 00 00 03 6B 7C]",
				"WRITE [A5 40 DA 08 01 00 00 00 00 00 00 00 C8]",
				"WRITE [A5 40 D9 08 00 00 00 00 00 00 00 00 C6]",
				"WRITE [A5 40 00 08 00 00 00 00 00 00 00 00 ED]",
			}))
		})

		It("fails when the device never acknowledges", func() {
			Expect(bms.Reset(ctx)).To(MatchError(ErrRetriesExhausted))
			Expect(tr.WriteCount()).To(Equal(3))
		})
	})

	Context("FetchAllData", func() {
		It("reads status first and everything else after", func() {
			tr.Replies = [][][]byte{
				chunks(reply(protocol.ReadStatus, statusPayload)),
				chunks(reply(protocol.ReadSOC, socPayload)),
				chunks(reply(protocol.ReadCellVoltageRange, []byte{0x0C, 0xCF, 3, 0x0C, 0xB7, 1})),
				chunks(reply(protocol.ReadTemperatureRange, []byte{53, 1, 53, 1})),
				chunks(reply(protocol.ReadMosfet, []byte{0, 1, 1, 7, 0x00, 0x02, 0x3F, 0x9E})),
				chunks(reply(protocol.ReadCellVoltages, cellFrames(16, 6)...)),
				chunks(reply(protocol.ReadCellTemperatures, []byte{1, 60, 61})),
				chunks(reply(protocol.ReadBalancingStatus, []byte{0x01})),
				chunks(reply(protocol.ReadErrors)),
			}

			data, err := bms.FetchAllData(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Status.Cells).To(Equal(16))
			Expect(data.SOC.SOCPercent).To(Equal(87.5))
			Expect(data.CellVoltages).To(HaveLen(16))
			Expect(data.CellTemperatures).To(Equal(protocol.CellTemperatures{20, 21}))
			Expect(data.BalancingStatus).To(HaveLen(16))
			Expect(data.BalancingStatus[0]).To(BeTrue())
			Expect(data.Errors).To(BeEmpty())
			Expect(tr.WriteCount()).To(Equal(9))
		})

		It("stops at the first failure", func() {
			tr.Replies = [][][]byte{chunks(reply(protocol.ReadStatus, statusPayload))}

			_, err := bms.FetchAllData(ctx)
			Expect(err).To(MatchError(ErrTimeout))
			Expect(tr.WriteCount()).To(Equal(4))
		})
	})

	Context("Disconnect", func() {
		It("closes the transport once", func() {
			Expect(bms.Disconnect()).To(Succeed())
			Expect(bms.Disconnect()).To(Succeed())
			Expect(tr.Calls).To(Equal([]string{"CLOSE"}))

			_, err := bms.GetSOC(ctx)
			Expect(err).To(MatchError(ErrNotConnected))
		})
	})
})
