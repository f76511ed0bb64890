package ackhandler

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/internal/wire"
	"github.com/privateoctopus/picogo/logging"
)

func TestAckhandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ackhandler suite")
}

var _ = Describe("sentPacketHandler", func() {
	var (
		ctrl    *gomock.Controller
		tracer  *MockConnectionTracer
		handler *sentPacketHandler
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		tracer = NewMockConnectionTracer(ctrl)
		handler = newSentPacketHandler(
			0,
			protocol.EnforcedInitialMTU,
			utils.NewRTTStats(),
			DisableECN,
			protocol.PerspectiveClient,
			nil,
			tracer,
			utils.NopLogger,
		)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("reports updated metrics to the tracer for every ack-eliciting packet it sends", func() {
		tracer.EXPECT().UpdatedMetrics(handler.rttStats, gomock.Any(), gomock.Any(), gomock.Any()).Times(1)
		tracer.EXPECT().SetLossTimer(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

		now := time.Unix(1700000000, 0)
		handler.SentPacket(&Packet{
			PacketNumber:    0,
			Length:          100,
			EncryptionLevel: protocol.Encryption1RTT,
			Frames:          []Frame{{Frame: struct{}{}}},
			SendTime:        now,
		})
	})

	It("notifies the tracer when the PTO fires for an unacknowledged 1-RTT packet", func() {
		tracer.EXPECT().SetLossTimer(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
		tracer.EXPECT().UpdatedMetrics(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
		tracer.EXPECT().LossTimerExpired(logging.TimerTypePTO, protocol.Encryption1RTT).Times(1)
		tracer.EXPECT().UpdatedPTOCount(gomock.Any()).AnyTimes()
		tracer.EXPECT().LostPacket(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

		// Application-data PTOs are only armed once the handshake is
		// confirmed; before that, 1-RTT probes would race the handshake
		// keys.
		handler.SetHandshakeConfirmed()

		now := time.Unix(1700000000, 0)
		handler.SentPacket(&Packet{
			PacketNumber:    0,
			Length:          100,
			EncryptionLevel: protocol.Encryption1RTT,
			Frames:          []Frame{{Frame: struct{}{}}},
			SendTime:        now,
		})

		Expect(handler.OnLossDetectionTimeout()).To(Succeed())
	})

	It("removes newly acknowledged bytes from bytes in flight", func() {
		tracer.EXPECT().SetLossTimer(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
		tracer.EXPECT().UpdatedMetrics(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
		tracer.EXPECT().AcknowledgedPacket(protocol.Encryption1RTT, protocol.PacketNumber(0)).Times(1)
		tracer.EXPECT().LossTimerCanceled().AnyTimes()

		base := time.Unix(1700000000, 0)
		handler.SentPacket(&Packet{
			PacketNumber:    0,
			Length:          1000,
			EncryptionLevel: protocol.Encryption1RTT,
			Frames:          []Frame{{Frame: struct{}{}}},
			SendTime:        base,
		})

		inFlightBefore := handler.bytesInFlight
		ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 0, Largest: 0}}}
		contained1RTT, err := handler.ReceivedAck(ack, protocol.Encryption1RTT, base.Add(10*time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(contained1RTT).To(BeTrue())
		Expect(handler.bytesInFlight).To(BeNumerically("<", inFlightBefore))
	})

	It("mirrors its PTO duration out to a wired retransmit-timer sink", func() {
		sink := &fakeRetransmitTimerSink{}
		tracer.EXPECT().SetLossTimer(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
		tracer.EXPECT().UpdatedMetrics(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

		handler = newSentPacketHandler(
			0,
			protocol.EnforcedInitialMTU,
			utils.NewRTTStats(),
			DisableECN,
			protocol.PerspectiveClient,
			sink,
			tracer,
			utils.NopLogger,
		)

		now := time.Unix(1700000000, 0)
		handler.SentPacket(&Packet{
			PacketNumber:    0,
			Length:          100,
			EncryptionLevel: protocol.EncryptionInitial,
			Frames:          []Frame{{Frame: struct{}{}}},
			SendTime:        now,
		})

		Expect(sink.last).To(BeNumerically(">", 0))
	})
})

type fakeRetransmitTimerSink struct {
	last time.Duration
}

func (s *fakeRetransmitTimerSink) SetRetransmitTimer(d time.Duration) {
	s.last = d
}
