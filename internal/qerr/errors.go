// Package qerr defines the QUIC transport error code space and the
// TransportError value the connection state machine raises internally when
// a dispatcher decides the peer has violated the protocol.
package qerr

import "fmt"

// ErrorCode is a QUIC transport error code (RFC 9000 section 20.1).
type ErrorCode uint64

const (
	NoError                ErrorCode = 0x0
	InternalError          ErrorCode = 0x1
	ConnectionRefused      ErrorCode = 0x2
	FlowControlError       ErrorCode = 0x3
	StreamLimitError       ErrorCode = 0x4
	StreamStateError       ErrorCode = 0x5
	FinalSizeError         ErrorCode = 0x6
	FrameEncodingError     ErrorCode = 0x7
	TransportParameterError ErrorCode = 0x8
	ConnectionIDLimitError ErrorCode = 0x9
	ProtocolViolation      ErrorCode = 0xa
	InvalidToken           ErrorCode = 0xb
	ApplicationError       ErrorCode = 0xc
	CryptoBufferExceeded   ErrorCode = 0xd
	KeyUpdateError         ErrorCode = 0xe
	AEADLimitReached       ErrorCode = 0xf
	ServerBusy             ErrorCode = 0x10
)

// TransportError is raised by a dispatcher to tear a connection down to
// HandshakeFailure/Closing with a specific reason, mirroring
// quic-go/internal/qerr.TransportError.
type TransportError struct {
	ErrorCode    ErrorCode
	ErrorMessage string
	FrameType    uint64
}

func (e *TransportError) Error() string {
	if e.ErrorMessage == "" {
		return fmt.Sprintf("transport error: %s", e.ErrorCode)
	}
	return fmt.Sprintf("transport error: %s (%s)", e.ErrorCode, e.ErrorMessage)
}

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case ServerBusy:
		return "SERVER_BUSY"
	default:
		return fmt.Sprintf("0x%x", uint64(c))
	}
}
