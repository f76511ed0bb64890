package utils

import "time"

// MinMaxRTTScope is the ring buffer length used by HyStart's slope test,
// picoquic's PICOQUIC_MIN_MAX_RTT_SCOPE.
const MinMaxRTTScope = 8

// MinMaxRTT is the small fixed-size ring buffer HyStart uses to decide
// whether the RTT has started climbing too fast to still be in slow start.
// Grounded on picoquic_min_max_rtt_t / picoquic_filter_rtt_min_max in
// cc_common.c: no allocation, sample once per millisecond, track a filtered
// minimum across completed windows.
type MinMaxRTT struct {
	samples           [MinMaxRTTScope]time.Duration
	sampleCurrent     int
	isInit            bool
	sampleMin         time.Duration
	sampleMax         time.Duration
	filteredMin       time.Duration
	nbRTTExcess       int
	lastSampleTime    time.Time
}

// filter folds a new RTT sample into the ring and recomputes sampleMin/sampleMax
// over whatever part of the ring has been filled so far.
func (m *MinMaxRTT) filter(rtt time.Duration) {
	x := m.sampleCurrent
	m.samples[x] = rtt
	m.sampleCurrent = x + 1
	if m.sampleCurrent >= MinMaxRTTScope {
		m.isInit = true
		m.sampleCurrent = 0
	}
	xMax := m.sampleCurrent
	if m.isInit {
		xMax = MinMaxRTTScope
	} else {
		xMax = x + 1
	}
	m.sampleMin = m.samples[0]
	m.sampleMax = m.samples[0]
	for i := 1; i < xMax; i++ {
		if m.samples[i] < m.sampleMin {
			m.sampleMin = m.samples[i]
		} else if m.samples[i] > m.sampleMax {
			m.sampleMax = m.samples[i]
		}
	}
}

// HyStartTest samples rtt (at most once per millisecond) and reports whether
// the slope test has tripped: SCOPE consecutive samples each landing more
// than 25% above the filtered minimum.
func (m *MinMaxRTT) HyStartTest(rtt time.Duration, now time.Time) bool {
	if !m.lastSampleTime.IsZero() && now.Sub(m.lastSampleTime) <= time.Millisecond {
		return false
	}
	m.filter(rtt)
	m.lastSampleTime = now
	if !m.isInit {
		return false
	}
	if m.filteredMin == 0 || m.filteredMin > m.sampleMax {
		m.filteredMin = m.sampleMax
	}
	if m.sampleMin <= m.filteredMin {
		m.nbRTTExcess = 0
		return false
	}
	delta := m.sampleMin - m.filteredMin
	if delta*4 > m.filteredMin {
		m.nbRTTExcess++
		return m.nbRTTExcess >= MinMaxRTTScope
	}
	m.nbRTTExcess = 0
	return false
}

// FilteredMin returns the current filtered-minimum RTT, used by callers that
// need to read HyStart's idea of the baseline RTT without sampling.
func (m *MinMaxRTT) FilteredMin() time.Duration { return m.filteredMin }
