package qlog

import (
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/logging"
)

var _ = Describe("Tracer", func() {
	var (
		buf  *bytes.Buffer
		ref  time.Time
		trcr logging.ConnectionTracer
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		ref = time.Unix(1700000000, 0)
		trcr = NewTracer(buf, protocol.ConnectionID{}, ref)
	})

	It("emits one JSON line per metrics update carrying the metrics it was given", func() {
		rtt := utils.NewRTTStats()
		rtt.UpdateRTT(20*time.Millisecond, 0, ref)

		trcr.UpdatedMetrics(rtt, 12000, 4000, 3)

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		Expect(lines).To(HaveLen(1))
		Expect(lines[0]).To(ContainSubstring(`"name":"recovery:metrics_updated"`))
		Expect(lines[0]).To(ContainSubstring(`"congestion_window":12000`))
		Expect(lines[0]).To(ContainSubstring(`"bytes_in_flight":4000`))
		Expect(lines[0]).To(ContainSubstring(`"packets_in_flight":3`))
	})

	It("labels loss events with the packet number space and trigger", func() {
		trcr.LostPacket(protocol.EncryptionHandshake, 42, logging.PacketLossReorderingThreshold)

		out := buf.String()
		Expect(out).To(ContainSubstring(`"name":"recovery:packet_lost"`))
		Expect(out).To(ContainSubstring(`"packet_number_space":"handshake"`))
		Expect(out).To(ContainSubstring(`"packet_number":42`))
		Expect(out).To(ContainSubstring(`"trigger":"reordering_threshold"`))
	})

	It("writes one line per call across multiple events, in call order", func() {
		trcr.UpdatedPTOCount(2)
		trcr.LossTimerCanceled()

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(ContainSubstring(`"pto_count":2`))
		Expect(lines[1]).To(ContainSubstring(`"name":"recovery:loss_timer_updated"`))
	})
})
