// Package qlog turns a ConnectionTracer's callbacks into the newline-delimited
// JSON event stream qlog consumers (qvis and friends) expect, one object per
// line: {"time": <ms since the tracer was created>, "name": "<category>:<event>", "data": {...}}.
package qlog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/logging"
)

type tracer struct {
	mu  sync.Mutex
	w   io.Writer
	ref time.Time
}

// NewTracer wires a logging.ConnectionTracer that serializes every event to
// w as it happens, using gojay to avoid reflection on the hot path. odcid
// is accepted but not used: nothing in the output identifies the
// connection.
func NewTracer(w io.Writer, odcid protocol.ConnectionID, now time.Time) logging.ConnectionTracer {
	return &tracer{w: w, ref: now}
}

func (t *tracer) millisSince(now time.Time) float64 {
	return float64(now.Sub(t.ref)) / float64(time.Millisecond)
}

func (t *tracer) write(name string, now time.Time, data gojay.MarshalerJSONObject) {
	t.mu.Lock()
	defer t.mu.Unlock()
	enc := gojay.NewEncoder(t.w)
	if err := enc.Encode(&logEntry{time: t.millisSince(now), name: name, data: data}); err != nil {
		return
	}
	io.WriteString(t.w, "\n")
}

type logEntry struct {
	time float64
	name string
	data gojay.MarshalerJSONObject
}

func (e *logEntry) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddFloat64Key("time", e.time)
	enc.AddStringKey("name", e.name)
	enc.AddObjectKey("data", e.data)
}

func (e *logEntry) IsNil() bool { return e == nil }

func packetNumberSpace(encLevel protocol.EncryptionLevel) string {
	switch encLevel {
	case protocol.EncryptionInitial:
		return "initial"
	case protocol.EncryptionHandshake:
		return "handshake"
	case protocol.Encryption0RTT:
		return "0RTT"
	default:
		return "application_data"
	}
}

func timerType(t logging.TimerType) string {
	if t == logging.TimerTypePTO {
		return "pto"
	}
	return "ack"
}

func lossReason(r logging.PacketLossReason) string {
	if r == logging.PacketLossReorderingThreshold {
		return "reordering_threshold"
	}
	return "time_threshold"
}

type metricsUpdatedEvent struct {
	minRTT, smoothedRTT, latestRTT  float64
	congestionWindow, bytesInFlight protocol.ByteCount
	packetsInFlight                 int
}

func (e *metricsUpdatedEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddFloat64Key("min_rtt", e.minRTT)
	enc.AddFloat64Key("smoothed_rtt", e.smoothedRTT)
	enc.AddFloat64Key("latest_rtt", e.latestRTT)
	enc.AddIntKey("congestion_window", int(e.congestionWindow))
	enc.AddIntKey("bytes_in_flight", int(e.bytesInFlight))
	enc.AddIntKey("packets_in_flight", e.packetsInFlight)
}

func (e *metricsUpdatedEvent) IsNil() bool { return e == nil }

func (t *tracer) UpdatedMetrics(rttStats *utils.RTTStats, cwnd, bytesInFlight protocol.ByteCount, packetsInFlight int) {
	now := time.Now()
	t.write("recovery:metrics_updated", now, &metricsUpdatedEvent{
		minRTT:           float64(rttStats.MinRTT()) / float64(time.Millisecond),
		smoothedRTT:      float64(rttStats.SmoothedRTT()) / float64(time.Millisecond),
		latestRTT:        float64(rttStats.LatestRTT()) / float64(time.Millisecond),
		congestionWindow: cwnd,
		bytesInFlight:    bytesInFlight,
		packetsInFlight:  packetsInFlight,
	})
}

type packetEvent struct {
	space string
	pn    protocol.PacketNumber
	field string
	value string
}

func (e *packetEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("packet_number_space", e.space)
	enc.AddInt64Key("packet_number", int64(e.pn))
	if e.field != "" {
		enc.AddStringKey(e.field, e.value)
	}
}

func (e *packetEvent) IsNil() bool { return e == nil }

func (t *tracer) AcknowledgedPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber) {
	t.write("recovery:packet_acknowledged", time.Now(), &packetEvent{space: packetNumberSpace(encLevel), pn: pn})
}

func (t *tracer) LostPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason logging.PacketLossReason) {
	t.write("recovery:packet_lost", time.Now(), &packetEvent{
		space: packetNumberSpace(encLevel),
		pn:    pn,
		field: "trigger",
		value: lossReason(reason),
	})
}

type ptoCountUpdatedEvent struct{ value uint32 }

func (e *ptoCountUpdatedEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddIntKey("pto_count", int(e.value))
}
func (e *ptoCountUpdatedEvent) IsNil() bool { return e == nil }

func (t *tracer) UpdatedPTOCount(value uint32) {
	t.write("recovery:metrics_updated", time.Now(), &ptoCountUpdatedEvent{value: value})
}

type lossTimerSetEvent struct {
	timer, space string
	deadline     float64
}

func (e *lossTimerSetEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("timer_type", e.timer)
	enc.AddStringKey("packet_number_space", e.space)
	enc.AddFloat64Key("delta", e.deadline)
}

func (e *lossTimerSetEvent) IsNil() bool { return e == nil }

func (t *tracer) SetLossTimer(timer logging.TimerType, encLevel protocol.EncryptionLevel, deadline time.Time) {
	now := time.Now()
	t.write("recovery:loss_timer_updated", now, &lossTimerSetEvent{
		timer:    timerType(timer),
		space:    packetNumberSpace(encLevel),
		deadline: t.millisSince(deadline),
	})
}

type timerEvent struct{ timer, space string }

func (e *timerEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("timer_type", e.timer)
	enc.AddStringKey("packet_number_space", e.space)
}

func (e *timerEvent) IsNil() bool { return e == nil }

func (t *tracer) LossTimerExpired(timer logging.TimerType, encLevel protocol.EncryptionLevel) {
	t.write("recovery:loss_timer_updated", time.Now(), &timerEvent{timer: timerType(timer), space: packetNumberSpace(encLevel)})
}

type emptyEvent struct{}

func (emptyEvent) MarshalJSONObject(enc *gojay.Encoder) {}
func (emptyEvent) IsNil() bool                          { return false }

func (t *tracer) LossTimerCanceled() {
	t.write("recovery:loss_timer_updated", time.Now(), emptyEvent{})
}

type stringFieldEvent struct{ field, value string }

func (e *stringFieldEvent) MarshalJSONObject(enc *gojay.Encoder) { enc.AddStringKey(e.field, e.value) }
func (e *stringFieldEvent) IsNil() bool                          { return e == nil }

func (t *tracer) ValidatedECN(result logging.ECNValidationResult) {
	t.write("recovery:ecn_state_updated", time.Now(), &stringFieldEvent{field: "result", value: result.String()})
}

func congestionStateLabel(s logging.CongestionState) string {
	switch s {
	case logging.CongestionStateSlowStart:
		return "slow_start"
	case logging.CongestionStateCongestionAvoidance:
		return "congestion_avoidance"
	case logging.CongestionStateRecovery:
		return "recovery"
	default:
		return "application_limited"
	}
}

func (t *tracer) UpdatedCongestionState(state logging.CongestionState) {
	t.write("recovery:congestion_state_updated", time.Now(), &stringFieldEvent{field: "new", value: congestionStateLabel(state)})
}

func (t *tracer) ClosedConnection(reason error) {
	msg := "unknown"
	if reason != nil {
		msg = fmt.Sprintf("%v", reason)
	}
	t.write("connectivity:connection_closed", time.Now(), &stringFieldEvent{field: "reason", value: msg})
}

var _ logging.ConnectionTracer = &tracer{}
