package utils

import "time"

const (
	rttAlpha     = 0.125
	oneMinusAlpha = 1 - rttAlpha
	rttBeta      = 0.25
	oneMinusBeta = 1 - rttBeta
	initialRTTus = 333 * time.Millisecond
)

// RTTStats tracks the exponentially-weighted moving average RTT and its
// mean deviation, the same smoothing picoquic's path_x->smoothed_rtt update
// and quic-go's rttStats perform. The congestion controller and the loss
// detector both read off SmoothedRTT/LatestRTT; only the sent packet
// handler writes (on ACKs and on a Retry).
type RTTStats struct {
	minRTT      time.Duration
	latestRTT   time.Duration
	smoothedRTT time.Duration
	meanDeviation time.Duration
	maxAckDelay time.Duration
}

func NewRTTStats() *RTTStats {
	return &RTTStats{maxAckDelay: 25 * time.Millisecond}
}

func (r *RTTStats) MinRTT() time.Duration      { return r.minRTT }
func (r *RTTStats) LatestRTT() time.Duration   { return r.latestRTT }
func (r *RTTStats) SmoothedRTT() time.Duration { return r.smoothedRTT }
func (r *RTTStats) MeanDeviation() time.Duration { return r.meanDeviation }
func (r *RTTStats) MaxAckDelay() time.Duration { return r.maxAckDelay }

// SetMaxAckDelay records the peer's advertised max_ack_delay transport parameter.
func (r *RTTStats) SetMaxAckDelay(d time.Duration) { r.maxAckDelay = d }

// UpdateRTT folds a new sample into the smoothed RTT estimate, following
// RFC 9002 section 5.3. ackDelay is subtracted from the sample first, but
// never past minRTT, so a peer reporting a bogus (too-large) ack delay
// can't make the sample implausibly small.
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration, now time.Time) {
	if sendDelta <= 0 {
		return
	}
	if r.minRTT == 0 || sendDelta < r.minRTT {
		r.minRTT = sendDelta
	}
	sample := sendDelta
	if sample-r.minRTT >= ackDelay {
		sample -= ackDelay
	}
	r.latestRTT = sample
	if r.smoothedRTT == 0 {
		r.smoothedRTT = sample
		r.meanDeviation = sample / 2
		return
	}
	r.meanDeviation = time.Duration(oneMinusBeta*float64(r.meanDeviation) + rttBeta*float64(abs(r.smoothedRTT-sample)))
	r.smoothedRTT = time.Duration(oneMinusAlpha*float64(r.smoothedRTT) + rttAlpha*float64(sample))
}

// PTO returns the probe-timeout duration for the given packet-number space:
// smoothed RTT plus four mean deviations, plus the peer's max ack delay for
// the application data space (handshakeConfirmed == true).
func (r *RTTStats) PTO(handshakeConfirmed bool) time.Duration {
	if r.smoothedRTT == 0 {
		return 2 * initialRTTus
	}
	pto := r.smoothedRTT + MaxDuration(4*r.meanDeviation, TimerGranularityFloor)
	if handshakeConfirmed {
		pto += r.maxAckDelay
	}
	return pto
}

// TimerGranularityFloor is the minimum granularity assumed for the local timer.
const TimerGranularityFloor = time.Millisecond

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
