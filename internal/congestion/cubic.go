package congestion

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// notification is the event vocabulary picoquic_cubic_notify dispatches on:
// acknowledgement, repeat (3x-reordering loss), ecnEC, timeout (PTO fired),
// spuriousRepeat (a declared-lost packet turned out to have arrived), and
// rttMeasurement (every ack carries a fresh RTT sample, independent of
// whether it acknowledged new data).
type notification uint8

const (
	notifyAck notification = iota
	notifyRepeat
	notifyTimeout
	notifyECN
	notifySpuriousRepeat
	notifyRTTMeasurement
)

type algState uint8

const (
	stateSlowStart algState = iota
	stateRecovery
	stateCongestionAvoidance
)

// CubicSender is a direct translation of picoquic_cubic_state_t / cubic.c:
// a Reno floor (W_reno) running alongside the CUBIC curve (W_max, K, C,
// beta), with HyStart driving the slow-start exit and fast convergence
// shrinking W_max when the network's available capacity has genuinely
// dropped since the last congestion event.
type CubicSender struct {
	clock Clock
	rtt   *utils.RTTStats

	state             algState
	recoverySequence  protocol.PacketNumber
	largestAcked      protocol.PacketNumber
	startOfEpoch      time.Time
	previousStartOfEpoch time.Time
	k                 float64
	wMax              float64
	wLastMax          float64
	c                 float64
	beta              float64
	wReno             float64
	ssthresh          uint64
	hystart           utils.MinMaxRTT

	maxDatagramSize protocol.ByteCount
	cwnd            protocol.ByteCount

	lastSentPacketNumber protocol.PacketNumber
}

const noSSThresh = ^uint64(0)

// NewCubicSender constructs a CubicSender at picoquic_cubic_init's initial
// state: slow start, ssthresh unset (noSSThresh), beta 7/8, C 0.4.
func NewCubicSender(clock Clock, rtt *utils.RTTStats, initialMaxDatagramSize protocol.ByteCount) *CubicSender {
	c := &CubicSender{
		clock:           clock,
		rtt:             rtt,
		state:           stateSlowStart,
		c:               0.4,
		beta:            7.0 / 8.0,
		ssthresh:        noSSThresh,
		maxDatagramSize: initialMaxDatagramSize,
		cwnd:            protocol.CwinInitial,
	}
	c.wReno = float64(protocol.CwinInitial)
	c.wLastMax = float64(noSSThresh) / float64(initialMaxDatagramSize)
	c.wMax = c.wLastMax
	return c
}

func (c *CubicSender) GetCongestionWindow() protocol.ByteCount { return c.cwnd }

func (c *CubicSender) InSlowStart() bool { return c.state == stateSlowStart }

func (c *CubicSender) InRecovery() bool { return c.state == stateRecovery }

func (c *CubicSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < c.cwnd
}

func (c *CubicSender) MaybeExitSlowStart() {
	if c.state == stateSlowStart && c.ssthresh != noSSThresh && c.cwnd >= protocol.ByteCount(c.ssthresh) {
		c.wReno = float64(c.cwnd) / 2.0
		c.enterAvoidance(c.clock.Now())
	}
}

func (c *CubicSender) OnPacketSent(sentTime time.Time, _ protocol.ByteCount, packetNumber protocol.PacketNumber, bytes protocol.ByteCount, isRetransmittable bool) {
	if !isRetransmittable {
		return
	}
	c.lastSentPacketNumber = packetNumber
}

func (c *CubicSender) SetMaxDatagramSize(s protocol.ByteCount) { c.maxDatagramSize = s }

func (c *CubicSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	if !packetsRetransmitted {
		return
	}
	c.notify(notifyTimeout, 0, 0, c.clock.Now())
}

func (c *CubicSender) OnPacketAcked(number protocol.PacketNumber, ackedBytes protocol.ByteCount, _ protocol.ByteCount, eventTime time.Time) {
	if number > c.largestAcked {
		c.largestAcked = number
	}
	c.notify(notifyAck, uint64(ackedBytes), 0, eventTime)
}

func (c *CubicSender) OnPacketLost(number protocol.PacketNumber, _ protocol.ByteCount, _ protocol.ByteCount) {
	c.notify(notifyRepeat, 0, uint64(number), c.clock.Now())
}

// OnPacketSpuriousRetransmission is called when a packet declared lost is
// later shown to have arrived after all (an ack for it turns up): picoquic's
// picoquic_congestion_notification_spurious_repeat.
func (c *CubicSender) OnPacketSpuriousRetransmission(now time.Time) {
	c.notify(notifySpuriousRepeat, 0, 0, now)
}

// OnECNCongestionEvent is picoquic's picoquic_congestion_notification_ecn_ec:
// an ECN-CE mark observed on the path, handled identically to a packet loss.
func (c *CubicSender) OnECNCongestionEvent(now time.Time) {
	c.notify(notifyECN, 0, 0, now)
}

// RTTSample feeds a fresh RTT measurement to HyStart independent of any ack
// having completed; picoquic calls this on every ReceivedAck, not only when
// new data is acknowledged.
func (c *CubicSender) RTTSample(rtt time.Duration, now time.Time) {
	if c.ssthresh == noSSThresh && c.hystart.HyStartTest(rtt, now) {
		c.ssthresh = uint64(c.cwnd)
		c.wMax = float64(c.cwnd) / float64(c.maxDatagramSize)
		c.wLastMax = c.wMax
		c.wReno = float64(c.cwnd)
		c.enterAvoidance(now)
		kMicro := time.Duration(c.k * float64(time.Second))
		if kMicro > now.Sub(time.Time{}) {
			c.k = float64(now.Sub(time.Time{})) / float64(time.Second)
			c.startOfEpoch = time.Time{}
		} else {
			c.startOfEpoch = now.Add(-kMicro)
		}
	}
}

func (c *CubicSender) TimeUntilSend(bytesInFlight protocol.ByteCount) time.Time {
	if c.CanSend(bytesInFlight) {
		return time.Time{}
	}
	return c.clock.Now().Add(c.rtt.SmoothedRTT() / 4)
}

func (c *CubicSender) HasPacingBudget() bool { return c.CanSend(0) }

// wCubic computes W_cubic(t) = C*(t-K)^3 + W_max, picoquic_cubic_W_cubic.
func (c *CubicSender) wCubic(now time.Time) float64 {
	deltaT := now.Sub(c.startOfEpoch).Seconds() - c.k
	return c.c*(deltaT*deltaT*deltaT) + c.wMax
}

// enterAvoidance recomputes K for the current W_max, picoquic_cubic_enter_avoidance.
func (c *CubicSender) enterAvoidance(now time.Time) {
	c.k = cubeRoot(c.wMax * (1.0 - c.beta) / c.c)
	c.state = stateCongestionAvoidance
	c.startOfEpoch = now
	c.previousStartOfEpoch = c.startOfEpoch
}

// enterRecovery is picoquic_cubic_enter_recovery: applies fast convergence,
// recomputes ssthresh, and collapses to slow start if that ssthresh would
// fall below CwinMinimum.
func (c *CubicSender) enterRecovery(n notification, now time.Time) {
	c.recoverySequence = c.largestAcked
	c.wMax = float64(c.cwnd) / float64(c.maxDatagramSize)
	if c.wMax < c.wLastMax {
		c.wLastMax = c.wMax
		c.wMax *= c.beta
	} else {
		c.wLastMax = c.wMax
	}
	c.ssthresh = uint64(c.wMax * c.beta * float64(c.maxDatagramSize))
	if c.ssthresh < uint64(protocol.CwinMinimum) {
		c.ssthresh = noSSThresh
		c.state = stateSlowStart
		c.previousStartOfEpoch = c.startOfEpoch
		c.startOfEpoch = now
		c.wReno = float64(protocol.CwinMinimum)
		c.cwnd = protocol.CwinMinimum
		return
	}
	if n == notifyTimeout {
		c.cwnd = protocol.CwinMinimum
		c.previousStartOfEpoch = c.startOfEpoch
		c.startOfEpoch = now
		c.state = stateSlowStart
		return
	}
	c.enterAvoidance(now)
	winCubic := protocol.ByteCount(c.wCubic(now) * float64(c.maxDatagramSize))
	c.wReno = float64(c.cwnd) / 2.0
	if winCubic > protocol.ByteCount(c.wReno) {
		c.cwnd = winCubic
	} else {
		c.cwnd = protocol.ByteCount(c.wReno)
	}
}

// correctSpurious is picoquic_cubic_correct_spurious: rolls back to the
// window in effect before a recovery event that turned out to be spurious.
func (c *CubicSender) correctSpurious(now time.Time) {
	c.wMax = c.wLastMax
	c.enterAvoidance(c.previousStartOfEpoch)
	wCubic := c.wCubic(now)
	c.wReno = wCubic * float64(c.maxDatagramSize)
	c.ssthresh = uint64(c.wMax * c.beta * float64(c.maxDatagramSize))
	c.cwnd = protocol.ByteCount(c.wReno)
}

// notify is picoquic_cubic_notify: the single state-dispatch entry point
// every congestion signal passes through.
func (c *CubicSender) notify(n notification, ackedBytes uint64, _ uint64, now time.Time) {
	switch c.state {
	case stateSlowStart:
		switch n {
		case notifyAck:
			if c.rtt.SmoothedRTT() <= protocol.TargetRenoRTT {
				c.cwnd += protocol.ByteCount(ackedBytes)
			} else {
				delta := float64(c.rtt.SmoothedRTT()) / float64(protocol.TargetRenoRTT)
				delta *= float64(ackedBytes)
				c.cwnd += protocol.ByteCount(delta)
			}
			if c.ssthresh != noSSThresh && c.cwnd >= protocol.ByteCount(c.ssthresh) {
				c.wReno = float64(c.cwnd) / 2.0
				c.enterAvoidance(now)
			}
		case notifyECN, notifyRepeat, notifyTimeout:
			if now.Sub(c.startOfEpoch) > c.rtt.SmoothedRTT() || c.recoverySequence <= c.largestAcked {
				c.enterRecovery(n, now)
			}
		case notifySpuriousRepeat:
			c.correctSpurious(now)
		case notifyRTTMeasurement:
			// handled via RTTSample, which already gates on ssthresh==noSSThresh
		}
	case stateRecovery:
		if n == notifySpuriousRepeat {
			c.correctSpurious(now)
			return
		}
		switch n {
		case notifyAck:
			c.state = stateSlowStart
			c.cwnd += protocol.ByteCount(ackedBytes)
			if c.ssthresh != noSSThresh && c.cwnd >= protocol.ByteCount(c.ssthresh) {
				c.state = stateCongestionAvoidance
			}
		case notifyECN, notifyRepeat, notifyTimeout:
			if now.Sub(c.startOfEpoch) > c.rtt.SmoothedRTT() || c.recoverySequence <= c.largestAcked {
				c.enterRecovery(n, now)
			}
		}
	case stateCongestionAvoidance:
		switch n {
		case notifyAck:
			winCubic := protocol.ByteCount(c.wCubic(now) * float64(c.maxDatagramSize))
			c.wReno += float64(ackedBytes) * float64(c.maxDatagramSize) / c.wReno
			if winCubic > protocol.ByteCount(c.wReno) {
				c.cwnd = winCubic
			} else {
				c.cwnd = protocol.ByteCount(c.wReno)
			}
		case notifyECN, notifyRepeat, notifyTimeout:
			if now.Sub(c.startOfEpoch) > c.rtt.SmoothedRTT() || c.recoverySequence <= c.largestAcked {
				c.enterRecovery(n, now)
			}
		case notifySpuriousRepeat:
			c.correctSpurious(now)
		}
	}
}

// cubeRoot is picoquic_cubic_root: an 8x/÷8 bracketing step followed by
// three Newton iterations, avoiding a dependency on cmath's cbrt so the
// result matches picoquic's reference arithmetic bit for bit.
func cubeRoot(x float64) float64 {
	if x <= 0 {
		return 0
	}
	v := 1.0
	y := 1.0
	for v > x*8 {
		v /= 8
		y /= 2
	}
	for v < x {
		v *= 8
		y *= 2
	}
	for i := 0; i < 3; i++ {
		y2 := y * y
		y3 := y2 * y
		y += (x - y3) / (3.0 * y2)
	}
	return y
}
