package congestion

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

var _ = Describe("CubicSender transitions", func() {
	const mtu = protocol.EnforcedInitialMTU

	It("exits slow start into congestion avoidance once an ack pushes cwnd past ssthresh, with K derived from the pre-transition window", func() {
		now := time.Unix(1700000000, 0)
		rtt := utils.NewRTTStats()
		rtt.UpdateRTT(50*time.Millisecond, 0, now) // below TargetRenoRTT, so acks add in full
		sender := NewCubicSender(fakeClock{now: now}, rtt, mtu)

		sender.ssthresh = uint64(20 * mtu)
		sender.cwnd = 20*mtu - 1 // scenario: cwin = ssthresh - 1
		sender.wMax = float64(sender.cwnd) / float64(mtu)
		wantK := cubeRoot(sender.wMax * (1.0 - sender.beta) / sender.c)

		sender.OnPacketAcked(1, 2*mtu, 0, now)

		Expect(sender.state).To(Equal(stateCongestionAvoidance))
		Expect(sender.k).To(BeNumerically("~", wantK, 1e-9))
	})

	It("restores W_max from W_last_max and returns to congestion avoidance on a spurious repeat during recovery", func() {
		t0 := time.Unix(1700000000, 0)
		rtt := utils.NewRTTStats()
		sender := NewCubicSender(fakeClock{now: t0}, rtt, mtu)

		const wLastMax = 15.0 // window, in MTU multiples, before the recovery event
		wantK := cubeRoot(wLastMax * (1.0 - sender.beta) / sender.c)
		// Pick "now" exactly K seconds past previous_start_of_epoch so
		// W_cubic(now) == W_max (the (t-K)^3 term vanishes), landing the
		// restored window at precisely W_last_max * MTU, the scenario's
		// "half an RTT into recovery" case.
		now := t0.Add(time.Duration(wantK * float64(time.Second)))

		sender.state = stateRecovery
		sender.wLastMax = wLastMax
		sender.previousStartOfEpoch = t0

		sender.OnPacketSpuriousRetransmission(now)

		Expect(sender.state).To(Equal(stateCongestionAvoidance))
		Expect(sender.wMax).To(Equal(wLastMax))
		Expect(float64(sender.cwnd)).To(BeNumerically("~", wLastMax*float64(mtu), 1))
	})

	It("never lets cwin fall below W_reno (kept in bytes) on a congestion-avoidance ack", func() {
		now := time.Unix(1700000000, 0)
		rtt := utils.NewRTTStats()
		sender := NewCubicSender(fakeClock{now: now}, rtt, mtu)

		sender.state = stateCongestionAvoidance
		sender.startOfEpoch = now.Add(-time.Second)
		sender.wMax = 10.0
		sender.wReno = float64(8 * mtu)
		sender.cwnd = 8 * mtu

		sender.OnPacketAcked(1, mtu, 0, now)

		Expect(float64(sender.cwnd)).To(BeNumerically(">=", sender.wReno))
	})
})
