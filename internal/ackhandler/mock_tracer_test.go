// Code in this file is hand-written in the shape mockgen would produce for
// `mockgen -package ackhandler -destination mock_tracer_test.go
// github.com/privateoctopus/picogo/logging ConnectionTracer`; it is kept
// by hand because the module never invokes code generation.

package ackhandler

import (
	"reflect"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/logging"
)

// MockConnectionTracer is a mock of the logging.ConnectionTracer interface.
type MockConnectionTracer struct {
	ctrl     *gomock.Controller
	recorder *MockConnectionTracerMockRecorder
}

// MockConnectionTracerMockRecorder is the mock recorder for MockConnectionTracer.
type MockConnectionTracerMockRecorder struct {
	mock *MockConnectionTracer
}

// NewMockConnectionTracer creates a new mock instance.
func NewMockConnectionTracer(ctrl *gomock.Controller) *MockConnectionTracer {
	mock := &MockConnectionTracer{ctrl: ctrl}
	mock.recorder = &MockConnectionTracerMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockConnectionTracer) EXPECT() *MockConnectionTracerMockRecorder {
	return m.recorder
}

func (m *MockConnectionTracer) UpdatedMetrics(rttStats *utils.RTTStats, cwnd, bytesInFlight protocol.ByteCount, packetsInFlight int) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "UpdatedMetrics", rttStats, cwnd, bytesInFlight, packetsInFlight)
}

func (mr *MockConnectionTracerMockRecorder) UpdatedMetrics(rttStats, cwnd, bytesInFlight, packetsInFlight interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdatedMetrics", reflect.TypeOf((*MockConnectionTracer)(nil).UpdatedMetrics), rttStats, cwnd, bytesInFlight, packetsInFlight)
}

func (m *MockConnectionTracer) AcknowledgedPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "AcknowledgedPacket", encLevel, pn)
}

func (mr *MockConnectionTracerMockRecorder) AcknowledgedPacket(encLevel, pn interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AcknowledgedPacket", reflect.TypeOf((*MockConnectionTracer)(nil).AcknowledgedPacket), encLevel, pn)
}

func (m *MockConnectionTracer) LostPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason logging.PacketLossReason) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "LostPacket", encLevel, pn, reason)
}

func (mr *MockConnectionTracerMockRecorder) LostPacket(encLevel, pn, reason interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LostPacket", reflect.TypeOf((*MockConnectionTracer)(nil).LostPacket), encLevel, pn, reason)
}

func (m *MockConnectionTracer) UpdatedPTOCount(value uint32) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "UpdatedPTOCount", value)
}

func (mr *MockConnectionTracerMockRecorder) UpdatedPTOCount(value interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdatedPTOCount", reflect.TypeOf((*MockConnectionTracer)(nil).UpdatedPTOCount), value)
}

func (m *MockConnectionTracer) SetLossTimer(t logging.TimerType, encLevel protocol.EncryptionLevel, deadline time.Time) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "SetLossTimer", t, encLevel, deadline)
}

func (mr *MockConnectionTracerMockRecorder) SetLossTimer(t, encLevel, deadline interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SetLossTimer", reflect.TypeOf((*MockConnectionTracer)(nil).SetLossTimer), t, encLevel, deadline)
}

func (m *MockConnectionTracer) LossTimerExpired(t logging.TimerType, encLevel protocol.EncryptionLevel) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "LossTimerExpired", t, encLevel)
}

func (mr *MockConnectionTracerMockRecorder) LossTimerExpired(t, encLevel interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LossTimerExpired", reflect.TypeOf((*MockConnectionTracer)(nil).LossTimerExpired), t, encLevel)
}

func (m *MockConnectionTracer) LossTimerCanceled() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "LossTimerCanceled")
}

func (mr *MockConnectionTracerMockRecorder) LossTimerCanceled() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LossTimerCanceled", reflect.TypeOf((*MockConnectionTracer)(nil).LossTimerCanceled))
}

func (m *MockConnectionTracer) ValidatedECN(result logging.ECNValidationResult) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "ValidatedECN", result)
}

func (mr *MockConnectionTracerMockRecorder) ValidatedECN(result interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ValidatedECN", reflect.TypeOf((*MockConnectionTracer)(nil).ValidatedECN), result)
}

func (m *MockConnectionTracer) UpdatedCongestionState(state logging.CongestionState) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "UpdatedCongestionState", state)
}

func (mr *MockConnectionTracerMockRecorder) UpdatedCongestionState(state interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdatedCongestionState", reflect.TypeOf((*MockConnectionTracer)(nil).UpdatedCongestionState), state)
}

func (m *MockConnectionTracer) ClosedConnection(reason error) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "ClosedConnection", reason)
}

func (mr *MockConnectionTracerMockRecorder) ClosedConnection(reason interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ClosedConnection", reflect.TypeOf((*MockConnectionTracer)(nil).ClosedConnection), reason)
}

var _ logging.ConnectionTracer = &MockConnectionTracer{}
